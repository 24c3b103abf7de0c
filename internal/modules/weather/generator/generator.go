// Package generator produces plausible synthetic weather readings by
// perturbing a small fixed reference set of locations.
package generator

import (
	"math/rand/v2"
	"time"

	"weatherlive/internal/modules/weather/types"
)

const (
	// TemperatureSpread is the half-width of the temperature perturbation.
	TemperatureSpread = 2.0
	// HumiditySpread is the half-width of the humidity perturbation.
	HumiditySpread = 5.0
)

var referenceSet = []types.Reading{
	{
		LocationName: "İstanbul",
		Coordinates:  types.Coordinates{Lat: 41.0082, Lon: 28.9784},
		Condition:    "Açık", Icon: "01d",
		Temperature: 18, FeelsLike: 20, Humidity: 65, Pressure: 1013,
		WindSpeed: 3.5, WindDirection: 180,
		CloudCover: 20, Visibility: 10000,
	},
	{
		LocationName: "Ankara",
		Coordinates:  types.Coordinates{Lat: 39.9334, Lon: 32.8597},
		Condition:    "Parçalı Bulutlu", Icon: "02d",
		Temperature: 15, FeelsLike: 17, Humidity: 55, Pressure: 1015,
		WindSpeed: 2.8, WindDirection: 270,
		CloudCover: 40, Visibility: 8000,
	},
	{
		LocationName: "İzmir",
		Coordinates:  types.Coordinates{Lat: 38.4192, Lon: 27.1287},
		Condition:    "Güneşli", Icon: "01d",
		Temperature: 22, FeelsLike: 24, Humidity: 70, Pressure: 1012,
		WindSpeed: 4.2, WindDirection: 225,
		CloudCover: 10, Visibility: 12000,
	},
	{
		LocationName: "Bursa",
		Coordinates:  types.Coordinates{Lat: 40.1826, Lon: 29.0669},
		Condition:    "Hafif Bulutlu", Icon: "02d",
		Temperature: 16, FeelsLike: 18, Humidity: 60, Pressure: 1014,
		WindSpeed: 3.1, WindDirection: 135,
		CloudCover: 25, Visibility: 9000,
	},
	{
		LocationName: "Antalya",
		Coordinates:  types.Coordinates{Lat: 36.8841, Lon: 30.7056},
		Condition:    "Sıcak", Icon: "01d",
		Temperature: 25, FeelsLike: 27, Humidity: 45, Pressure: 1010,
		WindSpeed: 2.5, WindDirection: 90,
		CloudCover: 15, Visibility: 15000,
	},
}

// ReferenceSet returns a copy of the base readings, unstamped.
func ReferenceSet() []types.Reading {
	out := make([]types.Reading, len(referenceSet))
	copy(out, referenceSet)
	return out
}

// Lookup returns the reference entry for name.
func Lookup(name string) (types.Reading, bool) {
	for _, r := range referenceSet {
		if r.LocationName == name {
			return r, true
		}
	}
	return types.Reading{}, false
}

// Snapshot returns the unperturbed reference set stamped at now. It involves
// no randomness so repeated calls agree on every field except the timestamp.
func Snapshot(now time.Time) []types.Reading {
	out := ReferenceSet()
	for i := range out {
		out[i].ObservedAt = now
		out[i].Synthetic = true
	}
	return out
}

// Generator is not safe for concurrent use; the relay calls it from its
// event loop only.
type Generator struct {
	rng *rand.Rand
	now func() time.Time

	tempSpread     float64
	humiditySpread float64
}

// New returns a Generator. A nil rng seeds one from the runtime; a nil now
// uses time.Now.
func New(rng *rand.Rand, now func() time.Time) *Generator {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if now == nil {
		now = time.Now
	}
	return &Generator{
		rng:            rng,
		now:            now,
		tempSpread:     TemperatureSpread,
		humiditySpread: HumiditySpread,
	}
}

// Tick picks one reference location uniformly and perturbs it.
func (g *Generator) Tick() types.Reading {
	base := referenceSet[g.rng.IntN(len(referenceSet))]

	tempDelta := (g.rng.Float64() - 0.5) * 2 * g.tempSpread
	humidityDelta := (g.rng.Float64() - 0.5) * 2 * g.humiditySpread

	r := base
	r.Temperature = types.Round1(base.Temperature + tempDelta)
	r.FeelsLike = types.Round1(base.FeelsLike + tempDelta)
	r.Humidity = types.ClampHumidity(types.Round1(base.Humidity + humidityDelta))
	r.ObservedAt = g.now()
	r.Synthetic = true
	return r
}
