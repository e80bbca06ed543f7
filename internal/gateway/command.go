package gateway

import (
	"fmt"
	"strings"
)

// BatchCommand is one control request. Nil fields are not sent.
type BatchCommand struct {
	Ventilation       *bool    `json:"ventilation,omitempty"`
	Disinfection      *bool    `json:"disinfection,omitempty"`
	Heating           *bool    `json:"heating,omitempty"`
	TargetTemperature *float64 `json:"target_temperature,omitempty"`
}

// Empty reports whether no field is set.
func (c BatchCommand) Empty() bool {
	return c.Ventilation == nil && c.Disinfection == nil && c.Heating == nil && c.TargetTemperature == nil
}

// String renders the explicit fields for logs.
func (c BatchCommand) String() string {
	var parts []string
	if c.Ventilation != nil {
		parts = append(parts, fmt.Sprintf("ventilation=%t", *c.Ventilation))
	}
	if c.Disinfection != nil {
		parts = append(parts, fmt.Sprintf("disinfection=%t", *c.Disinfection))
	}
	if c.Heating != nil {
		parts = append(parts, fmt.Sprintf("heating=%t", *c.Heating))
	}
	if c.TargetTemperature != nil {
		parts = append(parts, fmt.Sprintf("target_temperature=%g", *c.TargetTemperature))
	}
	return strings.Join(parts, " ")
}

// Effective resolves each switch to the explicit value, else the stored one.
func (c BatchCommand) Effective(current Properties) (ventilation, disinfection, heating bool) {
	ventilation, disinfection, heating = current.Ventilation, current.Disinfection, current.Heating
	if c.Ventilation != nil {
		ventilation = *c.Ventilation
	}
	if c.Disinfection != nil {
		disinfection = *c.Disinfection
	}
	if c.Heating != nil {
		heating = *c.Heating
	}
	return ventilation, disinfection, heating
}

// maxEnabledSwitches is the most switches allowed on at once.
const maxEnabledSwitches = 2

// CheckConflict rejects more than two switches on, or ventilation with
// heating (ventilation undermines heating).
func CheckConflict(ventilation, disinfection, heating bool) error {
	enabled := 0
	for _, on := range []bool{ventilation, disinfection, heating} {
		if on {
			enabled++
		}
	}
	if enabled > maxEnabledSwitches {
		return fmt.Errorf("%w: %d switches enabled, at most %d allowed", ErrStateConflict, enabled, maxEnabledSwitches)
	}
	if ventilation && heating {
		return fmt.Errorf("%w: ventilation and heating cannot both be on", ErrStateConflict)
	}
	return nil
}

// commandDocument is the wire body of a control command.
type commandDocument struct {
	ObjectDeviceID string       `json:"object_device_id"`
	ServiceID      string       `json:"service_id"`
	Paras          commandParas `json:"paras"`
}

// commandParas encodes switches as 1/0.
type commandParas struct {
	Ventilation       *int     `json:"ventilation,omitempty"`
	Disinfection      *int     `json:"disinfection,omitempty"`
	Heating           *int     `json:"heating,omitempty"`
	TargetTemperature *float64 `json:"target_temperature,omitempty"`
}

func switchValue(b *bool) *int {
	if b == nil {
		return nil
	}
	v := 0
	if *b {
		v = 1
	}
	return &v
}

func newCommandDocument(deviceID, serviceID string, cmd BatchCommand) commandDocument {
	return commandDocument{
		ObjectDeviceID: deviceID,
		ServiceID:      serviceID,
		Paras: commandParas{
			Ventilation:       switchValue(cmd.Ventilation),
			Disinfection:      switchValue(cmd.Disinfection),
			Heating:           switchValue(cmd.Heating),
			TargetTemperature: cmd.TargetTemperature,
		},
	}
}

// shadowRequest is the wire body of a shadow query.
type shadowRequest struct {
	ObjectDeviceID string `json:"object_device_id"`
	ServiceID      string `json:"service_id"`
}

// statusReport is the services envelope published to messages/up.
type statusReport struct {
	Services []statusService `json:"services"`
}

type statusService struct {
	ServiceID  string           `json:"service_id"`
	Properties statusProperties `json:"properties"`
	EventTime  string           `json:"eventTime"`
}

type statusProperties struct {
	Temperature       float64 `json:"temperature"`
	Humidity          float64 `json:"humidity"`
	FoodAmount        float64 `json:"food_amount"`
	WaterAmount       float64 `json:"water_amount"`
	Ventilation       bool    `json:"ventilation_status"`
	Disinfection      bool    `json:"disinfection_status"`
	Heating           bool    `json:"heating_status"`
	TargetTemperature float64 `json:"target_temperature"`
}

// eventTimeLayout is yyyyMMdd'T'HHmmss'Z'.
const eventTimeLayout = "20060102T150405Z"
