package history

import (
	"context"
	"time"

	"github.com/petnestiq/habitat-gateway/internal/gateway"
)

// DefaultPruneInterval is how often old rows are deleted when retention is set.
const DefaultPruneInterval = time.Hour

const recordTimeout = 5 * time.Second

// RecorderOptions configures a Recorder.
type RecorderOptions struct {
	// DeviceID names the device rows are attributed to. Called per change
	// so a reconnect with a different device is picked up.
	DeviceID func() string

	// Sink optionally exports readings. Nil disables export.
	Sink TelemetrySink

	// Retention deletes rows older than this. Zero keeps everything.
	Retention time.Duration

	// PruneInterval defaults to DefaultPruneInterval.
	PruneInterval time.Duration

	Logger gateway.Logger
}

// Recorder appends a history row for every merge into a state store,
// including merges that land while an earlier row is still being written.
type Recorder struct {
	store *gateway.StateStore
	repo  Repository
	opts  RecorderOptions
}

// NewRecorder creates a Recorder. Call Run to start it.
func NewRecorder(store *gateway.StateStore, repo Repository, opts RecorderOptions) *Recorder {
	if opts.DeviceID == nil {
		opts.DeviceID = func() string { return "" }
	}
	if opts.PruneInterval <= 0 {
		opts.PruneInterval = DefaultPruneInterval
	}
	if opts.Logger == nil {
		opts.Logger = discardLogger{}
	}
	return &Recorder{store: store, repo: repo, opts: opts}
}

// Run records changes until ctx is cancelled. It prunes once on start
// and then every PruneInterval when Retention is set.
func (r *Recorder) Run(ctx context.Context) error {
	current, changes, cancel := r.store.Changes()
	defer cancel()

	// State merged before Run started is recorded once as it stands now.
	if !current.LastUpdated.IsZero() {
		r.record(ctx, current)
	}

	var prune <-chan time.Time
	if r.opts.Retention > 0 {
		ticker := time.NewTicker(r.opts.PruneInterval)
		defer ticker.Stop()
		prune = ticker.C
		r.prune(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case props, ok := <-changes:
			if !ok {
				return nil
			}
			r.record(ctx, props)
		case <-prune:
			r.prune(ctx)
		}
	}
}

func (r *Recorder) record(ctx context.Context, props gateway.Properties) {
	deviceID := r.opts.DeviceID()
	if deviceID == "" {
		r.opts.Logger.Debug("history: no device id, change not recorded")
		return
	}

	if r.opts.Sink != nil {
		r.opts.Sink.WriteHabitatSample(deviceID, Fields(props), props.LastUpdated)
	}

	recordCtx, cancel := context.WithTimeout(ctx, recordTimeout)
	defer cancel()
	if err := r.repo.Record(recordCtx, deviceID, props); err != nil {
		r.opts.Logger.Error("history: recording properties failed", "device_id", deviceID, "error", err)
	}
}

func (r *Recorder) prune(ctx context.Context) {
	n, err := r.repo.Prune(ctx, r.opts.Retention)
	if err != nil {
		r.opts.Logger.Error("history: pruning failed", "error", err)
		return
	}
	if n > 0 {
		r.opts.Logger.Info("history: pruned old entries", "deleted", n, "retention", r.opts.Retention)
	}
}

type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Info(string, ...any)  {}
func (discardLogger) Warn(string, ...any)  {}
func (discardLogger) Error(string, ...any) {}
