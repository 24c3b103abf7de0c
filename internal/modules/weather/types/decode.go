package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// wireReading accepts both the flat Reading layout and the nested producer
// layout (cityName/weather/main/wind/clouds/timestamp).
type wireReading struct {
	LocationName string      `json:"locationName"`
	CityName     string      `json:"cityName"`
	Coordinates  Coordinates `json:"coordinates"`

	Condition string `json:"condition"`
	Icon      string `json:"icon"`
	Weather   *struct {
		Condition string `json:"condition"`
		Icon      string `json:"icon"`
	} `json:"weather"`

	Temperature *float64 `json:"temperature"`
	FeelsLike   *float64 `json:"feelsLike"`
	Humidity    *float64 `json:"humidity"`
	Pressure    *float64 `json:"pressure"`
	Main        *struct {
		Temperature *float64 `json:"temperature"`
		FeelsLike   *float64 `json:"feelsLike"`
		Humidity    *float64 `json:"humidity"`
		Pressure    *float64 `json:"pressure"`
	} `json:"main"`

	WindSpeed     *float64 `json:"windSpeed"`
	WindDirection *float64 `json:"windDirection"`
	Wind          *struct {
		Speed     *float64 `json:"speed"`
		Direction *float64 `json:"direction"`
	} `json:"wind"`

	CloudCover *float64 `json:"cloudCover"`
	Clouds     *float64 `json:"clouds"`
	Visibility *float64 `json:"visibility"`

	ObservedAt *time.Time `json:"observedAt"`
	Timestamp  *time.Time `json:"timestamp"`
}

// DecodeExternal parses one external event body into a Reading. The result is
// never synthetic; a missing timestamp defaults to receivedAt, humidity is
// clamped and the location name is trimmed.
func DecodeExternal(body []byte, receivedAt time.Time) (Reading, error) {
	var w wireReading
	if err := json.Unmarshal(body, &w); err != nil {
		return Reading{}, fmt.Errorf("decode reading: %w", err)
	}

	r := Reading{
		LocationName: firstString(strings.TrimSpace(w.LocationName), strings.TrimSpace(w.CityName)),
		Coordinates:  w.Coordinates,
		Condition:    w.Condition,
		Icon:         w.Icon,
	}
	if w.Weather != nil {
		r.Condition = firstString(r.Condition, w.Weather.Condition)
		r.Icon = firstString(r.Icon, w.Weather.Icon)
	}

	temperature, feelsLike, humidity, pressure := w.Temperature, w.FeelsLike, w.Humidity, w.Pressure
	if w.Main != nil {
		temperature = firstFloat(temperature, w.Main.Temperature)
		feelsLike = firstFloat(feelsLike, w.Main.FeelsLike)
		humidity = firstFloat(humidity, w.Main.Humidity)
		pressure = firstFloat(pressure, w.Main.Pressure)
	}
	windSpeed, windDirection := w.WindSpeed, w.WindDirection
	if w.Wind != nil {
		windSpeed = firstFloat(windSpeed, w.Wind.Speed)
		windDirection = firstFloat(windDirection, w.Wind.Direction)
	}

	r.Temperature = deref(temperature)
	r.FeelsLike = deref(feelsLike)
	r.Humidity = ClampHumidity(deref(humidity))
	r.Pressure = deref(pressure)
	r.WindSpeed = deref(windSpeed)
	r.WindDirection = deref(windDirection)
	r.CloudCover = deref(firstFloat(w.CloudCover, w.Clouds))
	r.Visibility = deref(w.Visibility)

	switch {
	case w.ObservedAt != nil && !w.ObservedAt.IsZero():
		r.ObservedAt = *w.ObservedAt
	case w.Timestamp != nil && !w.Timestamp.IsZero():
		r.ObservedAt = *w.Timestamp
	default:
		r.ObservedAt = receivedAt
	}
	r.Synthetic = false

	if err := r.Validate(); err != nil {
		return Reading{}, err
	}
	return r, nil
}

func firstString(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func firstFloat(a, b *float64) *float64 {
	if a != nil {
		return a
	}
	return b
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
