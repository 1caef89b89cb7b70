package models

import (
	"fmt"
	"math"
	"time"
)

// Conditions holds the full current-conditions reading returned by the weather API.
// Only a subset ends up in the WeatherSnapshot shown on widgets.
type Conditions struct {
	City      string    `json:"city"`
	Country   string    `json:"country"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Sunrise   time.Time `json:"sunrise"`
	Sunset    time.Time `json:"sunset"`

	WeatherID   int    `json:"weatherId"`
	Main        string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon"`

	Temperature float64 `json:"temperature"`
	TempMin     float64 `json:"tempMin"`
	TempMax     float64 `json:"tempMax"`
	Humidity    float64 `json:"humidity"`
	Pressure    float64 `json:"pressure"`
	WindSpeed   float64 `json:"windSpeed"`
	WindDeg     float64 `json:"windDeg"`
	Clouds      int     `json:"clouds"`
}

// Snapshot derives the widget snapshot. Temperatures are rounded to the nearest degree.
// When the API did not name the place, the coordinates are used instead.
func (c Conditions) Snapshot() WeatherSnapshot {
	location := c.City
	if location == "" {
		location = fmt.Sprintf("%.2f,%.2f", c.Latitude, c.Longitude)
	}
	return WeatherSnapshot{
		Location:                   location,
		ConditionCode:              c.WeatherID,
		ConditionText:              c.Description,
		ForecastText:               c.Main,
		TodayForecastConditionCode: c.WeatherID,
		Temperature:                roundTemp(c.Temperature),
		Low:                        roundTemp(c.TempMin),
		High:                       roundTemp(c.TempMax),
	}
}

func roundTemp(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return InvalidTemperature
	}
	return int(math.Round(v))
}
