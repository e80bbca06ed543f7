package history

import (
	"context"
	"time"

	"github.com/petnestiq/habitat-gateway/internal/gateway"
)

// Entry is one recorded snapshot of the device properties.
type Entry struct {
	ID         int64              `json:"id"`
	DeviceID   string             `json:"device_id"`
	RecordedAt time.Time          `json:"recorded_at"`
	Properties gateway.Properties `json:"properties"`
}

// Repository stores and retrieves property history.
//
// Implementations must be safe for concurrent use and store UTC timestamps.
type Repository interface {
	// Record appends a snapshot taken at props.LastUpdated.
	Record(ctx context.Context, deviceID string, props gateway.Properties) error

	// List returns entries recorded at or after since, newest first.
	// A zero since means no lower bound. limit is clamped to [1, 1000].
	List(ctx context.Context, since time.Time, limit int) ([]Entry, error)

	// Prune deletes entries older than olderThan and reports how many.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// TelemetrySink receives numeric readings for export.
// influxdb.Client satisfies it.
type TelemetrySink interface {
	WriteHabitatSample(deviceID string, fields map[string]any, at time.Time)
}

// Fields returns the numeric readings of props keyed by wire name.
// Switches are exported as 0/1 so they can be graphed alongside.
func Fields(props gateway.Properties) map[string]any {
	return map[string]any{
		"temperature":         props.Temperature,
		"humidity":            props.Humidity,
		"food_amount":         props.FoodAmount,
		"water_amount":        props.WaterAmount,
		"ventilation_status":  boolToInt(props.Ventilation),
		"disinfection_status": boolToInt(props.Disinfection),
		"heating_status":      boolToInt(props.Heating),
		"target_temperature":  props.TargetTemperature,
	}
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
