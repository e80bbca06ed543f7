package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/petnestiq/habitat-gateway/internal/gateway"
	"github.com/petnestiq/habitat-gateway/internal/infrastructure/config"
	"github.com/petnestiq/habitat-gateway/internal/infrastructure/database"
	"github.com/petnestiq/habitat-gateway/migrations"
)

var baseTime = time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Path: database.MemoryPath, BusyTimeout: 1})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	repo := NewSQLiteRepository(db.DB)
	repo.now = func() time.Time { return baseTime }
	return repo
}

func sample(at time.Time, temp float64) gateway.Properties {
	return gateway.Properties{
		Temperature:       temp,
		Humidity:          55,
		FoodAmount:        80,
		WaterAmount:       70,
		Ventilation:       true,
		Heating:           true,
		TargetTemperature: 27.5,
		LastUpdated:       at,
	}
}

func TestRecordAndList(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for i := range 3 {
		at := baseTime.Add(time.Duration(i) * time.Minute)
		if err := repo.Record(ctx, "habitat-01", sample(at, 20+float64(i))); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	entries, err := repo.List(ctx, time.Time{}, 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("List() len = %d, want 3", len(entries))
	}
	if entries[0].Properties.Temperature != 22 {
		t.Errorf("newest temperature = %v, want 22", entries[0].Properties.Temperature)
	}

	got := entries[2]
	want := sample(baseTime, 20)
	if !got.Properties.LastUpdated.Equal(want.LastUpdated) {
		t.Errorf("oldest LastUpdated = %v, want %v", got.Properties.LastUpdated, want.LastUpdated)
	}
	got.Properties.LastUpdated, want.LastUpdated = time.Time{}, time.Time{}
	if got.Properties != want {
		t.Errorf("oldest = %+v, want %+v", got.Properties, want)
	}
	if got.DeviceID != "habitat-01" || !got.RecordedAt.Equal(baseTime) {
		t.Errorf("oldest entry = %s at %v", got.DeviceID, got.RecordedAt)
	}

	since, err := repo.List(ctx, baseTime.Add(time.Minute), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(since) != 2 {
		t.Errorf("List(since) len = %d, want 2", len(since))
	}

	limited, err := repo.List(ctx, time.Time{}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Errorf("List(limit 1) len = %d, want 1", len(limited))
	}
}

func TestRecordValidation(t *testing.T) {
	repo := newTestRepo(t)
	if err := repo.Record(context.Background(), "", sample(baseTime, 20)); err == nil {
		t.Error("Record() without device id succeeded")
	}

	// A zero timestamp is stamped with now.
	if err := repo.Record(context.Background(), "habitat-01", gateway.Properties{}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	entries, err := repo.List(context.Background(), time.Time{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || !entries[0].RecordedAt.Equal(baseTime) {
		t.Errorf("entries = %+v, want one stamped %v", entries, baseTime)
	}
}

func TestPrune(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for _, age := range []time.Duration{48 * time.Hour, 25 * time.Hour, time.Hour} {
		if err := repo.Record(ctx, "habitat-01", sample(baseTime.Add(-age), 20)); err != nil {
			t.Fatal(err)
		}
	}

	n, err := repo.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Prune() deleted %d, want 2", n)
	}
	if _, err := repo.Prune(ctx, 0); err == nil {
		t.Error("Prune(0) succeeded")
	}
}

// stepClock advances one second on every Now call.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *stepClock) AfterFunc(d time.Duration, f func()) gateway.Timer {
	return time.AfterFunc(d, f)
}

type sinkRecorder struct {
	mu      sync.Mutex
	samples []map[string]any
}

func (s *sinkRecorder) WriteHabitatSample(deviceID string, fields map[string]any, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, fields)
}

func (s *sinkRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

type failingRepo struct{ Repository }

func (failingRepo) Record(context.Context, string, gateway.Properties) error {
	return errors.New("disk full")
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRecorderRecordsChanges(t *testing.T) {
	repo := newTestRepo(t)
	store := gateway.NewStateStore(&stepClock{now: baseTime})
	sink := &sinkRecorder{}

	ctx, cancel := context.WithCancel(context.Background())
	rec := NewRecorder(store, repo, RecorderOptions{
		DeviceID:  func() string { return "habitat-01" },
		Sink:      sink,
		Retention: 24 * time.Hour,
	})
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	temp := 26.5
	store.Merge(gateway.PropertyPatch{Temperature: &temp})
	waitFor(t, "first row", func() bool {
		entries, _ := repo.List(context.Background(), time.Time{}, 10) //nolint:errcheck // polled
		return len(entries) == 1
	})

	heating := true
	store.Merge(gateway.PropertyPatch{Heating: &heating})
	waitFor(t, "second row", func() bool {
		entries, _ := repo.List(context.Background(), time.Time{}, 10) //nolint:errcheck // polled
		return len(entries) == 2
	})

	entries, err := repo.List(context.Background(), time.Time{}, 10)
	if err != nil {
		t.Fatal(err)
	}
	latest := entries[0].Properties
	if latest.Temperature != 26.5 || !latest.Heating {
		t.Errorf("latest row = %+v, want temperature 26.5 and heating on", latest)
	}
	if sink.count() != 2 {
		t.Errorf("sink samples = %d, want 2", sink.count())
	}
	if got := sink.samples[1]["heating_status"]; got != int64(1) {
		t.Errorf("heating_status = %v, want 1", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestRecorderRecordsEveryChangeInBurst(t *testing.T) {
	repo := newTestRepo(t)
	store := gateway.NewStateStore(&stepClock{now: baseTime})
	sink := &sinkRecorder{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := NewRecorder(store, repo, RecorderOptions{
		DeviceID: func() string { return "habitat-01" },
		Sink:     sink,
	})
	go rec.Run(ctx) //nolint:errcheck // stopped by cancel

	first := 20.0
	store.Merge(gateway.PropertyPatch{Temperature: &first})
	waitFor(t, "recorder running", func() bool { return sink.count() == 1 })

	// Back to back, so most merges land while a row is being written.
	const burst = 20
	for i := range burst {
		v := float64(40 + i)
		store.Merge(gateway.PropertyPatch{Humidity: &v})
	}

	waitFor(t, "one row per merge", func() bool {
		entries, _ := repo.List(context.Background(), time.Time{}, 100) //nolint:errcheck // polled
		return len(entries) == burst+1
	})
	entries, err := repo.List(context.Background(), time.Time{}, 100)
	if err != nil {
		t.Fatal(err)
	}
	// Newest first: entries[0] holds the last humidity of the burst.
	for i, e := range entries[:burst] {
		if want := float64(40 + burst - 1 - i); e.Properties.Humidity != want {
			t.Errorf("row %d humidity = %v, want %v", i, e.Properties.Humidity, want)
		}
	}
	if sink.count() != burst+1 {
		t.Errorf("sink samples = %d, want %d", sink.count(), burst+1)
	}
}

func TestRecorderRecordsStateMergedBeforeRun(t *testing.T) {
	repo := newTestRepo(t)
	store := gateway.NewStateStore(&stepClock{now: baseTime})
	temp := 25.0
	store.Merge(gateway.PropertyPatch{Temperature: &temp})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := NewRecorder(store, repo, RecorderOptions{DeviceID: func() string { return "habitat-01" }})
	go rec.Run(ctx) //nolint:errcheck // stopped by cancel

	waitFor(t, "catch-up row", func() bool {
		entries, _ := repo.List(context.Background(), time.Time{}, 10) //nolint:errcheck // polled
		return len(entries) == 1 && entries[0].Properties.Temperature == 25
	})
}

func TestRecorderSurvivesRepositoryErrors(t *testing.T) {
	store := gateway.NewStateStore(&stepClock{now: baseTime})
	sink := &sinkRecorder{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := NewRecorder(store, failingRepo{}, RecorderOptions{
		DeviceID: func() string { return "habitat-01" },
		Sink:     sink,
	})
	go rec.Run(ctx) //nolint:errcheck // stopped by cancel

	for i := range 3 {
		v := float64(i)
		store.Merge(gateway.PropertyPatch{Humidity: &v})
		waitFor(t, "sample", func() bool { return sink.count() == i+1 })
	}
}

func TestFields(t *testing.T) {
	f := Fields(sample(baseTime, 21))
	if len(f) != 8 {
		t.Errorf("Fields() has %d keys, want 8", len(f))
	}
	if f["disinfection_status"] != int64(0) || f["ventilation_status"] != int64(1) {
		t.Errorf("switch fields = %v / %v", f["disinfection_status"], f["ventilation_status"])
	}
}
