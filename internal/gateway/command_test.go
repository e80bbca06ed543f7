package gateway

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestCheckConflict(t *testing.T) {
	tests := []struct {
		name                            string
		ventilation, disinfection, heat bool
		wantErr                         bool
	}{
		{"all off", false, false, false, false},
		{"ventilation and disinfection", true, true, false, false},
		{"disinfection and heating", false, true, true, false},
		{"ventilation and heating", true, false, true, true},
		{"all three", true, true, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckConflict(tt.ventilation, tt.disinfection, tt.heat)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckConflict() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrStateConflict) {
				t.Errorf("error = %v, want ErrStateConflict", err)
			}
		})
	}
}

func TestBatchCommandEffective(t *testing.T) {
	current := Properties{Ventilation: true, Heating: false, Disinfection: true}
	cmd := BatchCommand{Ventilation: boolPtr(false), Heating: boolPtr(true)}

	v, d, h := cmd.Effective(current)
	if v || !d || !h {
		t.Errorf("Effective() = %v %v %v, want false true true", v, d, h)
	}
}

func TestCommandDocumentOnlyExplicitFields(t *testing.T) {
	doc := newCommandDocument("habitat-01", "ControlService", BatchCommand{
		Ventilation:  boolPtr(true),
		Disinfection: boolPtr(false),
	})

	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"object_device_id":"habitat-01","service_id":"ControlService","paras":{"ventilation":1,"disinfection":0}}`
	if string(data) != want {
		t.Errorf("document = %s, want %s", data, want)
	}
}

func TestBatchCommandString(t *testing.T) {
	cmd := BatchCommand{Heating: boolPtr(true), TargetTemperature: floatPtr(27.5)}
	if got := cmd.String(); got != "heating=true target_temperature=27.5" {
		t.Errorf("String() = %q", got)
	}
	if !(BatchCommand{}).Empty() {
		t.Error("zero BatchCommand is not Empty")
	}
}
