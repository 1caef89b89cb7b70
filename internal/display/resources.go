// Package display turns weather snapshots into widget views: catalog texts,
// icons, colors and share strings.
package display

import (
	"strconv"

	"github.com/kjstillabower/fweather/internal/models"
)

// ShareVia is appended to every shared text.
const ShareVia = "#FWeather"

// Resource prefixes.
const (
	PrefixMainText = "weather_code"
	PrefixTempText = "weather_temp"
	PrefixImage    = "weather_image"
)

// Upper bounds of the temperature buckets, in ascending order. The first three are
// the sentinel codes so error snapshots land in their own bucket.
var temperatureBounds = []int{
	models.ConditionNoData,
	models.ConditionNoNetwork,
	models.ConditionNoLocation,
	-1,
	15,
	28,
	1000,
}

// ResourceName builds "prefix_value", or "prefix_m_value" for negative values.
func ResourceName(prefix string, value int) string {
	if value < 0 {
		return prefix + "_m_" + strconv.FormatInt(-int64(value), 10)
	}
	return prefix + "_" + strconv.Itoa(value)
}

// TemperatureRange returns the bucket bound for the snapshot temperature. Location and
// network sentinels map to their own code. ok is false above the last bound.
func TemperatureRange(s models.WeatherSnapshot) (bound int, ok bool) {
	temp := s.Temperature
	switch s.ConditionCode {
	case models.ConditionNoLocation, models.ConditionNoNetwork:
		temp = s.ConditionCode
	}
	for _, b := range temperatureBounds {
		if temp <= b {
			return b, true
		}
	}
	return 0, false
}

var backgroundColors = []string{"#00000000", "#40000000", "#80000000", "#BF000000", "#FF000000"}
var backgroundColorsDark = []string{"#00FFFFFF", "#40FFFFFF", "#80FFFFFF", "#BFFFFFFF", "#FFFFFFFF"}

const (
	opacityStep    = 25
	transparent    = "#00000000"
	textColorLight = "#FFFFFF"
	textColorDark  = "#222222"
	unknownImage   = "err_wtf"
	darkSuffix     = "_dark"
)

// BackgroundColor returns the ARGB widget background for an opacity percentage.
// Values off the 25-step grid are rounded down; out of range values are transparent.
func BackgroundColor(opacity int, dark bool) string {
	colors := backgroundColors
	if dark {
		colors = backgroundColorsDark
	}
	if opacity < 0 {
		return transparent
	}
	idx := (opacity - opacity%opacityStep) / opacityStep
	if idx >= len(colors) {
		return transparent
	}
	return colors[idx]
}

// TextColor is the main widget text color for the mode.
func TextColor(dark bool) string {
	if dark {
		return textColorDark
	}
	return textColorLight
}
