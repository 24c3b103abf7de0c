package generator

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func isOneDecimal(v float64) bool {
	return math.Abs(v*10-math.Round(v*10)) < 1e-9
}

func TestTick_StaysWithinBounds(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	g := New(rand.New(rand.NewPCG(1, 2)), fixedClock(now))

	for i := 0; i < 5000; i++ {
		r := g.Tick()

		base, ok := Lookup(r.LocationName)
		if !ok {
			t.Fatalf("tick %d: location %q not in reference set", i, r.LocationName)
		}
		if !r.Synthetic {
			t.Fatalf("tick %d: Synthetic = false", i)
		}
		if !r.ObservedAt.Equal(now) {
			t.Fatalf("tick %d: ObservedAt = %v, want %v", i, r.ObservedAt, now)
		}

		tempDelta := r.Temperature - base.Temperature
		if math.Abs(tempDelta) > TemperatureSpread+0.05 {
			t.Fatalf("tick %d: temperature delta %v exceeds ±%v", i, tempDelta, TemperatureSpread)
		}
		feelsDelta := r.FeelsLike - base.FeelsLike
		if math.Abs(feelsDelta-tempDelta) > 0.1+1e-9 {
			t.Fatalf("tick %d: feelsLike delta %v differs from temperature delta %v", i, feelsDelta, tempDelta)
		}
		if math.Abs(r.Humidity-base.Humidity) > HumiditySpread+0.05 {
			t.Fatalf("tick %d: humidity %v too far from base %v", i, r.Humidity, base.Humidity)
		}
		if !isOneDecimal(r.Temperature) || !isOneDecimal(r.FeelsLike) {
			t.Fatalf("tick %d: not rounded to one decimal: %v / %v", i, r.Temperature, r.FeelsLike)
		}

		// Untouched fields come straight from the reference entry.
		if r.Pressure != base.Pressure || r.Coordinates != base.Coordinates || r.Condition != base.Condition {
			t.Fatalf("tick %d: unperturbed fields changed: %+v", i, r)
		}
	}
}

func TestTick_HumidityAlwaysClamped(t *testing.T) {
	g := New(rand.New(rand.NewPCG(7, 7)), nil)
	g.humiditySpread = 500

	sawLow, sawHigh := false, false
	for i := 0; i < 2000; i++ {
		h := g.Tick().Humidity
		if h < 0 || h > 100 {
			t.Fatalf("humidity %v outside [0,100]", h)
		}
		sawLow = sawLow || h == 0
		sawHigh = sawHigh || h == 100
	}
	if !sawLow || !sawHigh {
		t.Errorf("expected clamping at both ends with a wide spread (low=%v high=%v)", sawLow, sawHigh)
	}
}

func TestTick_SelectsEveryLocation(t *testing.T) {
	g := New(rand.New(rand.NewPCG(3, 4)), nil)

	seen := map[string]int{}
	for i := 0; i < 1000; i++ {
		seen[g.Tick().LocationName]++
	}
	if len(seen) != len(ReferenceSet()) {
		t.Fatalf("saw %d locations, want %d: %v", len(seen), len(ReferenceSet()), seen)
	}
	for name, n := range seen {
		if n < 100 {
			t.Errorf("location %q picked %d/1000 times; selection looks skewed", name, n)
		}
	}
}

func TestSnapshot_IsDeterministic(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	a := Snapshot(now)
	b := Snapshot(now)

	if len(a) != 5 {
		t.Fatalf("Snapshot returned %d readings, want 5", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("snapshot[%d] differs between calls: %+v vs %+v", i, a[i], b[i])
		}
		if !a[i].Synthetic || !a[i].ObservedAt.Equal(now) {
			t.Errorf("snapshot[%d] not stamped: %+v", i, a[i])
		}
	}
}

func TestReferenceSet_ReturnsCopy(t *testing.T) {
	ref := ReferenceSet()
	ref[0].LocationName = "mutated"

	if _, ok := Lookup("mutated"); ok {
		t.Fatal("mutating ReferenceSet() result changed the package reference set")
	}
	if _, ok := Lookup("İstanbul"); !ok {
		t.Fatal("Lookup(İstanbul) = false")
	}
}
