package gateway

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Wire names of the device properties.
const (
	keyTemperature       = "temperature"
	keyHumidity          = "humidity"
	keyFoodAmount        = "food_amount"
	keyWaterAmount       = "water_amount"
	keyVentilation       = "ventilation_status"
	keyDisinfection      = "disinfection_status"
	keyHeating           = "heating_status"
	keyTargetTemperature = "target_temperature"
)

// extractionStrategy locates the property bag inside one payload shape.
type extractionStrategy struct {
	name    string
	extract func(root map[string]any) map[string]any
}

// extractionStrategies are tried in order; the first non-empty bag wins.
var extractionStrategies = []extractionStrategy{
	{
		name: "shadow[0].reported.properties",
		extract: func(root map[string]any) map[string]any {
			shadows, _ := root["shadow"].([]any)
			if len(shadows) == 0 {
				return nil
			}
			shadow, _ := shadows[0].(map[string]any)
			reported, _ := shadow["reported"].(map[string]any)
			props, _ := reported["properties"].(map[string]any)
			return props
		},
	},
	{
		name: "shadow.reported[0].properties",
		extract: func(root map[string]any) map[string]any {
			shadow, _ := root["shadow"].(map[string]any)
			reported, _ := shadow["reported"].([]any)
			if len(reported) == 0 {
				return nil
			}
			first, _ := reported[0].(map[string]any)
			props, _ := first["properties"].(map[string]any)
			return props
		},
	},
	{
		name: "properties",
		extract: func(root map[string]any) map[string]any {
			props, _ := root["properties"].(map[string]any)
			return props
		},
	},
	{
		name: "root",
		extract: func(root map[string]any) map[string]any {
			return root
		},
	},
}

// ResolveProperties returns the property bag of a decoded payload and the
// name of the strategy that found it, or nil and "" when none did.
func ResolveProperties(root map[string]any) (map[string]any, string) {
	for _, s := range extractionStrategies {
		if bag := s.extract(root); len(bag) > 0 {
			return bag, s.name
		}
	}
	return nil, ""
}

type numericField struct {
	key string
	set func(*PropertyPatch, float64)
}

type boolField struct {
	key string
	set func(*PropertyPatch, bool)
}

var numericFields = []numericField{
	{keyTemperature, func(p *PropertyPatch, v float64) { p.Temperature = &v }},
	{keyHumidity, func(p *PropertyPatch, v float64) { p.Humidity = &v }},
	{keyFoodAmount, func(p *PropertyPatch, v float64) { p.FoodAmount = &v }},
	{keyWaterAmount, func(p *PropertyPatch, v float64) { p.WaterAmount = &v }},
	{keyTargetTemperature, func(p *PropertyPatch, v float64) { p.TargetTemperature = &v }},
}

var boolFields = []boolField{
	{keyVentilation, func(p *PropertyPatch, v bool) { p.Ventilation = &v }},
	{keyDisinfection, func(p *PropertyPatch, v bool) { p.Disinfection = &v }},
	{keyHeating, func(p *PropertyPatch, v bool) { p.Heating = &v }},
}

// DecodeResult is the outcome of decoding one telemetry payload.
type DecodeResult struct {
	Patch    PropertyPatch
	Strategy string

	// FieldErrors holds one ErrDecode per numeric field that was present
	// but could not be coerced. Other fields are unaffected. Switch fields
	// never fail: unreadable values decode as off.
	FieldErrors []error
}

// DecodePayload parses a telemetry payload into a property patch.
//
// It returns ErrDecode only when the payload is not a JSON object at all.
// A payload whose bag holds none of the known keys yields an empty patch.
func DecodePayload(payload []byte) (DecodeResult, error) {
	var root map[string]any
	if err := json.Unmarshal(payload, &root); err != nil {
		return DecodeResult{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if root == nil {
		return DecodeResult{}, fmt.Errorf("%w: payload is null", ErrDecode)
	}

	bag, strategy := ResolveProperties(root)
	res := DecodeResult{Strategy: strategy}
	if bag == nil {
		return res, nil
	}

	for _, f := range numericFields {
		raw, ok := bag[f.key]
		if !ok {
			continue
		}
		v, err := coerceNumber(raw)
		if err != nil {
			res.FieldErrors = append(res.FieldErrors, fmt.Errorf("%w: %s: %w", ErrDecode, f.key, err))
			continue
		}
		f.set(&res.Patch, v)
	}

	for _, f := range boolFields {
		if raw, ok := bag[f.key]; ok {
			f.set(&res.Patch, coerceBool(raw))
		}
	}

	return res, nil
}

// coerceNumber accepts a JSON number or a numeric string.
func coerceNumber(raw any) (float64, error) {
	var v float64
	switch x := raw.(type) {
	case float64:
		v = x
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("not numeric: %q", x)
		}
		v = parsed
	default:
		return 0, fmt.Errorf("expected number, got %s", jsonKind(raw))
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite value %v", v)
	}
	return v, nil
}

// coerceBool reads a switch. A JSON boolean is taken as is, a number is
// on only when it is 1, and a string is on when it is "true", "1" or "on"
// in any case. Anything else, null and nested values included, is off.
func coerceBool(raw any) bool {
	switch x := raw.(type) {
	case bool:
		return x
	case float64:
		return x == 1
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "1", "on":
			return true
		}
	}
	return false
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return fmt.Sprintf("%T", v)
	}
}
