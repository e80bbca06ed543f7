package gateway

import (
	"fmt"
	"time"
)

// ConnectionState is the gateway's session lifecycle state.
// Only the gateway mutates it; collaborators observe it.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	ConnectionLost
	ConnectFailed
)

// String returns the snake_case name used in logs and the API.
func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case ConnectionLost:
		return "connection_lost"
	case ConnectFailed:
		return "connect_failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ConnectionState) UnmarshalText(text []byte) error {
	for c := Disconnected; c <= ConnectFailed; c++ {
		if c.String() == string(text) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("%w: unknown connection state %q", ErrDecode, text)
}

// Properties is the canonical, typed device state.
type Properties struct {
	Temperature       float64   `json:"temperature"`
	Humidity          float64   `json:"humidity"`
	FoodAmount        float64   `json:"food_amount"`
	WaterAmount       float64   `json:"water_amount"`
	Ventilation       bool      `json:"ventilation"`
	Disinfection      bool      `json:"disinfection"`
	Heating           bool      `json:"heating"`
	TargetTemperature float64   `json:"target_temperature"`
	LastUpdated       time.Time `json:"last_updated"`
}

// PropertyPatch carries the subset of fields one decode produced.
// A nil field means "not present"; it never clears the stored value.
type PropertyPatch struct {
	Temperature       *float64
	Humidity          *float64
	FoodAmount        *float64
	WaterAmount       *float64
	Ventilation       *bool
	Disinfection      *bool
	Heating           *bool
	TargetTemperature *float64
}

// Empty reports whether the patch carries no fields.
func (p PropertyPatch) Empty() bool {
	return len(p.Fields()) == 0
}

// Fields lists the wire names of the fields present, in canonical order.
func (p PropertyPatch) Fields() []string {
	var fields []string
	if p.Temperature != nil {
		fields = append(fields, keyTemperature)
	}
	if p.Humidity != nil {
		fields = append(fields, keyHumidity)
	}
	if p.FoodAmount != nil {
		fields = append(fields, keyFoodAmount)
	}
	if p.WaterAmount != nil {
		fields = append(fields, keyWaterAmount)
	}
	if p.Ventilation != nil {
		fields = append(fields, keyVentilation)
	}
	if p.Disinfection != nil {
		fields = append(fields, keyDisinfection)
	}
	if p.Heating != nil {
		fields = append(fields, keyHeating)
	}
	if p.TargetTemperature != nil {
		fields = append(fields, keyTargetTemperature)
	}
	return fields
}

// Apply returns p with every present patch field overwritten.
func (p Properties) Apply(patch PropertyPatch, at time.Time) Properties {
	if patch.Empty() {
		return p
	}
	if patch.Temperature != nil {
		p.Temperature = *patch.Temperature
	}
	if patch.Humidity != nil {
		p.Humidity = *patch.Humidity
	}
	if patch.FoodAmount != nil {
		p.FoodAmount = *patch.FoodAmount
	}
	if patch.WaterAmount != nil {
		p.WaterAmount = *patch.WaterAmount
	}
	if patch.Ventilation != nil {
		p.Ventilation = *patch.Ventilation
	}
	if patch.Disinfection != nil {
		p.Disinfection = *patch.Disinfection
	}
	if patch.Heating != nil {
		p.Heating = *patch.Heating
	}
	if patch.TargetTemperature != nil {
		p.TargetTemperature = *patch.TargetTemperature
	}
	p.LastUpdated = at
	return p
}
