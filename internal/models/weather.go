package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	snapshotVersion     = 1
	snapshotFieldsCount = 9
	snapshotSeparator   = "||"
)

// Sentinel values. Negative condition codes below ConditionInvalid describe
// why no real reading is available and map to dedicated display strings.
const (
	InvalidTemperature  = math.MinInt32
	ConditionInvalid    = -1
	ConditionNoLocation = -10000
	ConditionNoNetwork  = -10001
	ConditionNoData     = -10002
)

// WeatherSnapshot is one point-in-time weather reading as shown on a widget.
type WeatherSnapshot struct {
	Location                   string `json:"location"`
	ConditionCode              int    `json:"conditionCode"`
	ConditionText              string `json:"conditionText"`
	ForecastText               string `json:"forecastText"`
	TodayForecastConditionCode int    `json:"todayForecastConditionCode"`
	Temperature                int    `json:"temperature"`
	Low                        int    `json:"low"`
	High                       int    `json:"high"`
}

// NewSentinelSnapshot returns a snapshot with every field unknown and the given condition code.
func NewSentinelSnapshot(code int) WeatherSnapshot {
	return WeatherSnapshot{
		ConditionCode:              code,
		TodayForecastConditionCode: ConditionInvalid,
		Temperature:                InvalidTemperature,
		Low:                        InvalidTemperature,
		High:                       InvalidTemperature,
	}
}

// IsSentinel reports whether the snapshot carries an error condition instead of a reading.
func (s WeatherSnapshot) IsSentinel() bool {
	return s.ConditionCode <= ConditionNoLocation
}

func (s WeatherSnapshot) String() string {
	return fmt.Sprintf("WeatherSnapshot{%s - %s (%d) - %d (min %d, max %d) - forecast: %s (%d)}",
		s.Location, s.ConditionText, s.ConditionCode, s.Temperature, s.Low, s.High,
		s.ForecastText, s.TodayForecastConditionCode)
}

// Serialize encodes the snapshot as a version-prefixed, "||"-delimited string.
func (s WeatherSnapshot) Serialize() string {
	fields := []string{
		strconv.Itoa(snapshotVersion),
		s.Location,
		s.ConditionText,
		strconv.Itoa(s.ConditionCode),
		strconv.Itoa(s.Temperature),
		strconv.Itoa(s.Low),
		strconv.Itoa(s.High),
		s.ForecastText,
		strconv.Itoa(s.TodayForecastConditionCode),
	}
	return strings.Join(fields, snapshotSeparator)
}

// DeserializeSnapshot parses a string produced by Serialize. It returns false when
// the field count or the version tag does not match. A numeric field that fails
// to parse keeps its sentinel value; the rest of the record is still used.
func DeserializeSnapshot(serialized string) (WeatherSnapshot, bool) {
	if serialized == "" {
		return WeatherSnapshot{}, false
	}
	tokens := strings.Split(serialized, snapshotSeparator)
	if len(tokens) != snapshotFieldsCount {
		return WeatherSnapshot{}, false
	}
	version, err := strconv.Atoi(tokens[0])
	if err != nil || version != snapshotVersion {
		return WeatherSnapshot{}, false
	}

	s := NewSentinelSnapshot(ConditionInvalid)
	s.Location = tokens[1]
	s.ConditionText = tokens[2]
	parseInto(&s.ConditionCode, tokens[3])
	parseInto(&s.Temperature, tokens[4])
	parseInto(&s.Low, tokens[5])
	parseInto(&s.High, tokens[6])
	s.ForecastText = tokens[7]
	parseInto(&s.TodayForecastConditionCode, tokens[8])
	return s, true
}

func parseInto(dst *int, token string) {
	if v, err := strconv.Atoi(token); err == nil {
		*dst = v
	}
}
