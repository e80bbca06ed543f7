package gateway

import (
	"errors"
	"testing"
	"time"
)

// TestDecodePayloadShapes verifies every supported payload shape yields
// the same canonical state.
func TestDecodePayloadShapes(t *testing.T) {
	const fields = `"temperature":24.5,"humidity":"61","food_amount":80,"water_amount":55.5,` +
		`"ventilation_status":"on","disinfection_status":0,"heating_status":true,"target_temperature":"26"`

	tests := []struct {
		name     string
		payload  string
		strategy string
	}{
		{
			name:     "array wrapped shadow",
			payload:  `{"object_device_id":"habitat-01","shadow":[{"service_id":"dataText","reported":{"properties":{` + fields + `}}}]}`,
			strategy: "shadow[0].reported.properties",
		},
		{
			name:     "nested reported array",
			payload:  `{"shadow":{"reported":[{"properties":{` + fields + `}}]}}`,
			strategy: "shadow.reported[0].properties",
		},
		{
			name:     "flat properties",
			payload:  `{"service_id":"dataText","properties":{` + fields + `}}`,
			strategy: "properties",
		},
		{
			name:     "raw root",
			payload:  `{` + fields + `}`,
			strategy: "root",
		},
	}

	at := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	want := Properties{
		Temperature:       24.5,
		Humidity:          61,
		FoodAmount:        80,
		WaterAmount:       55.5,
		Ventilation:       true,
		Disinfection:      false,
		Heating:           true,
		TargetTemperature: 26,
		LastUpdated:       at,
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := DecodePayload([]byte(tt.payload))
			if err != nil {
				t.Fatalf("DecodePayload() error = %v", err)
			}
			if res.Strategy != tt.strategy {
				t.Errorf("Strategy = %q, want %q", res.Strategy, tt.strategy)
			}
			if len(res.FieldErrors) != 0 {
				t.Errorf("FieldErrors = %v, want none", res.FieldErrors)
			}
			got := Properties{}.Apply(res.Patch, at)
			if got != want {
				t.Errorf("decoded = %+v, want %+v", got, want)
			}
		})
	}
}

// TestDecodePayloadExample decodes a partial shadow over existing state.
func TestDecodePayloadExample(t *testing.T) {
	prior := Properties{
		Temperature: 20,
		Humidity:    40,
		FoodAmount:  75,
		Heating:     true,
	}

	res, err := DecodePayload([]byte(`{"shadow":[{"reported":{"properties":{"temperature":"26.5","humidity":70}}}]}`))
	if err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	got := prior.Apply(res.Patch, time.Now())

	if got.Temperature != 26.5 {
		t.Errorf("Temperature = %v, want 26.5", got.Temperature)
	}
	if got.Humidity != 70.0 {
		t.Errorf("Humidity = %v, want 70", got.Humidity)
	}
	if got.FoodAmount != 75 || !got.Heating {
		t.Errorf("untouched fields changed: %+v", got)
	}
}

func TestDecodePayloadFieldIsolation(t *testing.T) {
	res, err := DecodePayload([]byte(`{"properties":{"temperature":"warm","humidity":65,"heating_status":{"on":true},"ventilation_status":1}}`))
	if err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}

	if res.Patch.Temperature != nil {
		t.Errorf("Temperature = %v, want nil", *res.Patch.Temperature)
	}
	if res.Patch.Humidity == nil || *res.Patch.Humidity != 65 {
		t.Errorf("Humidity = %v, want 65", res.Patch.Humidity)
	}
	if res.Patch.Heating == nil || *res.Patch.Heating {
		t.Errorf("Heating = %v, want false for an object value", res.Patch.Heating)
	}
	if res.Patch.Ventilation == nil || !*res.Patch.Ventilation {
		t.Errorf("Ventilation = %v, want true", res.Patch.Ventilation)
	}
	if len(res.FieldErrors) != 1 {
		t.Fatalf("FieldErrors = %v, want 1 (temperature)", res.FieldErrors)
	}
	for _, ferr := range res.FieldErrors {
		if !errors.Is(ferr, ErrDecode) {
			t.Errorf("field error %v is not ErrDecode", ferr)
		}
	}
}

func TestDecodePayloadFallsThroughEmptyBags(t *testing.T) {
	// An empty shadow array and empty properties fall through to root.
	res, err := DecodePayload([]byte(`{"shadow":[],"properties":{},"temperature":19}`))
	if err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	if res.Strategy != "root" {
		t.Errorf("Strategy = %q, want root", res.Strategy)
	}
	if res.Patch.Temperature == nil || *res.Patch.Temperature != 19 {
		t.Errorf("Temperature = %v, want 19", res.Patch.Temperature)
	}
}

func TestDecodePayloadMiss(t *testing.T) {
	res, err := DecodePayload([]byte(`{"status":"ok","services":[]}`))
	if err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	if !res.Patch.Empty() {
		t.Errorf("Patch fields = %v, want none", res.Patch.Fields())
	}
}

func TestDecodePayloadRejectsNonObject(t *testing.T) {
	for _, payload := range []string{`[1,2]`, `"text"`, `null`, `{broken`, ``} {
		if _, err := DecodePayload([]byte(payload)); !errors.Is(err, ErrDecode) {
			t.Errorf("DecodePayload(%q) error = %v, want ErrDecode", payload, err)
		}
	}
}

func TestCoerceBool(t *testing.T) {
	tests := []struct {
		raw  any
		want bool
	}{
		{true, true},
		{false, false},
		{float64(1), true},
		{float64(0), false},
		{float64(2), false},
		{"true", true},
		{"TRUE", true},
		{" On ", true},
		{"1", true},
		{"off", false},
		{"yes", false},
		{"", false},
		{nil, false},
		{[]any{true}, false},
		{map[string]any{"on": true}, false},
	}

	for _, tt := range tests {
		if got := coerceBool(tt.raw); got != tt.want {
			t.Errorf("coerceBool(%#v) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestDecodePayloadNullSwitchTurnsOff(t *testing.T) {
	res, err := DecodePayload([]byte(`{"properties":{"ventilation_status":null,"heating_status":[1]}}`))
	if err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	if res.Patch.Ventilation == nil || *res.Patch.Ventilation {
		t.Errorf("Ventilation = %v, want false", res.Patch.Ventilation)
	}
	if res.Patch.Heating == nil || *res.Patch.Heating {
		t.Errorf("Heating = %v, want false", res.Patch.Heating)
	}
	if len(res.FieldErrors) != 0 {
		t.Errorf("FieldErrors = %v, want none", res.FieldErrors)
	}
}

func TestCoerceNumber(t *testing.T) {
	tests := []struct {
		raw     any
		want    float64
		wantErr bool
	}{
		{float64(21.5), 21.5, false},
		{"21.5", 21.5, false},
		{" 7 ", 7, false},
		{"-3e1", -30, false},
		{"NaN", 0, true},
		{"Inf", 0, true},
		{"abc", 0, true},
		{true, 0, true},
		{nil, 0, true},
	}

	for _, tt := range tests {
		got, err := coerceNumber(tt.raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("coerceNumber(%#v) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("coerceNumber(%#v) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}
