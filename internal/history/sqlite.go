package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/petnestiq/habitat-gateway/internal/gateway"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000

	// Fixed width so that text comparison in SQL orders chronologically.
	timestampLayout = "2006-01-02T15:04:05.000000Z"
)

// SQLiteRepository implements Repository on the property_history table.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a repository over an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// Record inserts one snapshot. A zero LastUpdated is stamped with now.
func (r *SQLiteRepository) Record(ctx context.Context, deviceID string, props gateway.Properties) error {
	if deviceID == "" {
		return fmt.Errorf("device id is required")
	}
	at := props.LastUpdated
	if at.IsZero() {
		at = r.now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO property_history (
			device_id, recorded_at, temperature, humidity, food_amount, water_amount,
			ventilation, disinfection, heating, target_temperature
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		deviceID,
		formatTimestamp(at),
		props.Temperature,
		props.Humidity,
		props.FoodAmount,
		props.WaterAmount,
		boolToInt(props.Ventilation),
		boolToInt(props.Disinfection),
		boolToInt(props.Heating),
		props.TargetTemperature,
	)
	if err != nil {
		return fmt.Errorf("inserting property history: %w", err)
	}
	return nil
}

// List returns entries recorded at or after since, newest first.
func (r *SQLiteRepository) List(ctx context.Context, since time.Time, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_id, recorded_at, temperature, humidity, food_amount, water_amount,
			ventilation, disinfection, heating, target_temperature
		 FROM property_history
		 WHERE recorded_at >= ?
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT ?`,
		formatTimestamp(since),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying property history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e                                Entry
			recordedAt                       string
			ventilation, disinfection, heats int64
		)
		p := &e.Properties
		if err := rows.Scan(&e.ID, &e.DeviceID, &recordedAt,
			&p.Temperature, &p.Humidity, &p.FoodAmount, &p.WaterAmount,
			&ventilation, &disinfection, &heats, &p.TargetTemperature); err != nil {
			return nil, fmt.Errorf("scanning property history: %w", err)
		}
		at, err := time.Parse(timestampLayout, recordedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing recorded_at %q: %w", recordedAt, err)
		}
		e.RecordedAt = at
		p.LastUpdated = at
		p.Ventilation = ventilation == 1
		p.Disinfection = disinfection == 1
		p.Heating = heats == 1
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating property history: %w", err)
	}
	return entries, nil
}

// Prune deletes entries recorded before now minus olderThan.
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	result, err := r.db.ExecContext(ctx,
		"DELETE FROM property_history WHERE recorded_at < ?",
		formatTimestamp(r.now().Add(-olderThan)),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting property history: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}
