package simulator

import (
	"math"
	"math/rand/v2"
)

// Bounds the simulated readings stay within.
const (
	ambientTemperature = 22.0
	minHumidity        = 30.0
	maxHumidity        = 80.0
	maxLevel           = 100.0
)

// State is the simulated device's own view of its properties.
type State struct {
	Temperature       float64
	Humidity          float64
	FoodAmount        float64
	WaterAmount       float64
	Ventilation       bool
	Disinfection      bool
	Heating           bool
	TargetTemperature float64
}

// DefaultState is a freshly filled, idle habitat.
func DefaultState() State {
	return State{
		Temperature:       24.0,
		Humidity:          55.0,
		FoodAmount:        80.0,
		WaterAmount:       90.0,
		TargetTemperature: 26.0,
	}
}

// wireProperties renders s with the device's property names.
func (s State) wireProperties() map[string]any {
	return map[string]any{
		"temperature":         round1(s.Temperature),
		"humidity":            round1(s.Humidity),
		"food_amount":         round1(s.FoodAmount),
		"water_amount":        round1(s.WaterAmount),
		"ventilation_status":  s.Ventilation,
		"disinfection_status": s.Disinfection,
		"heating_status":      s.Heating,
		"target_temperature":  round1(s.TargetTemperature),
	}
}

// drift advances the simulation by one report interval.
//
// Heating pulls the temperature toward the target, otherwise it relaxes
// toward ambient. Ventilation dries the air. Food and water are consumed
// slowly.
func (s *State) drift(rng *rand.Rand) {
	goal := ambientTemperature
	if s.Heating {
		goal = s.TargetTemperature
	}
	s.Temperature += (goal-s.Temperature)*0.1 + noise(rng, 0.2)

	humidity := s.Humidity + noise(rng, 1.0)
	if s.Ventilation {
		humidity -= 0.5
	}
	s.Humidity = clamp(humidity, minHumidity, maxHumidity)

	s.FoodAmount = clamp(s.FoodAmount-rng.Float64()*0.5, 0, maxLevel)
	s.WaterAmount = clamp(s.WaterAmount-rng.Float64()*0.5, 0, maxLevel)
}

// noise returns a uniform value in [-amplitude, amplitude).
func noise(rng *rand.Rand, amplitude float64) float64 {
	return (rng.Float64()*2 - 1) * amplitude
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
