package types

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
)

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Reading is a single weather observation for one location. It is passed by
// value and never modified after construction.
type Reading struct {
	LocationName  string      `json:"locationName" validate:"required"`
	Coordinates   Coordinates `json:"coordinates"`
	Condition     string      `json:"condition"`
	Icon          string      `json:"icon"`
	Temperature   float64     `json:"temperature"`
	FeelsLike     float64     `json:"feelsLike"`
	Humidity      float64     `json:"humidity" validate:"gte=0,lte=100"`
	Pressure      float64     `json:"pressure"`
	WindSpeed     float64     `json:"windSpeed"`
	WindDirection float64     `json:"windDirection"`
	CloudCover    float64     `json:"cloudCover"`
	Visibility    float64     `json:"visibility"`
	ObservedAt    time.Time   `json:"observedAt"`
	Synthetic     bool        `json:"synthetic"`
}

// Statistic aggregates stored readings for one location.
type Statistic struct {
	LocationName string  `json:"locationName"`
	AvgTemp      float64 `json:"avgTemp"`
	MaxTemp      float64 `json:"maxTemp"`
	MinTemp      float64 `json:"minTemp"`
	AvgHumidity  float64 `json:"avgHumidity"`
	Count        int     `json:"count"`
}

var ErrMissingLocation = errors.New("locationName is required")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the invariants every accepted reading must hold.
func (r Reading) Validate() error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("validate reading: %w", err)
	}
	fe := fieldErrs[0]
	switch fe.Field() {
	case "LocationName":
		return ErrMissingLocation
	case "Humidity":
		return errors.New("humidity out of range (must be 0-100)")
	default:
		return fmt.Errorf("invalid %s (%s)", fe.Field(), fe.Tag())
	}
}

// ClampHumidity bounds h to [0,100].
func ClampHumidity(h float64) float64 {
	return math.Max(0, math.Min(100, h))
}

// Round1 rounds v to one decimal place.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}
