package gateway

import (
	"sync"
	"time"
)

// Default polling cadence.
const (
	DefaultPollInterval = 10 * time.Second
	DefaultPollBackoff  = 5 * time.Second
)

// PollingScheduler runs a shadow refresh immediately on Start and then
// every interval. A failed poll is logged and the next one is scheduled
// after the shorter backoff instead. It never touches connection state.
type PollingScheduler struct {
	clock    Clock
	interval time.Duration
	backoff  time.Duration
	poll     func() error
	logger   Logger
	metrics  *Metrics

	mu         sync.Mutex
	running    bool
	generation uint64
	timer      Timer
	inflight   sync.WaitGroup
}

// NewPollingScheduler creates a stopped scheduler around poll.
func NewPollingScheduler(interval, backoff time.Duration, poll func() error, clock Clock, logger Logger, metrics *Metrics) *PollingScheduler {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if backoff <= 0 {
		backoff = DefaultPollBackoff
	}
	if clock == nil {
		clock = realClock{}
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &PollingScheduler{
		clock:    clock,
		interval: interval,
		backoff:  backoff,
		poll:     poll,
		logger:   logger,
		metrics:  metrics,
	}
}

// Start begins polling. Calling Start on a running scheduler does nothing.
func (p *PollingScheduler) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.generation++
	gen := p.generation
	p.timer = p.clock.AfterFunc(0, func() { p.tick(gen) })
}

// Stop cancels the next poll and waits for one in progress to finish.
// Safe to call more than once.
func (p *PollingScheduler) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.mu.Unlock()

	p.inflight.Wait()
}

// Running reports whether the scheduler is started.
func (p *PollingScheduler) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *PollingScheduler) tick(gen uint64) {
	p.mu.Lock()
	if !p.running || gen != p.generation {
		p.mu.Unlock()
		return
	}
	p.inflight.Add(1)
	p.mu.Unlock()

	err := p.poll()
	p.inflight.Done()

	next := p.interval
	if err != nil {
		next = p.backoff
		p.logger.Error("shadow poll failed", "error", err, "retry_in", next)
		p.metrics.poll("error")
	} else {
		p.metrics.poll("ok")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running && gen == p.generation {
		p.timer = p.clock.AfterFunc(next, func() { p.tick(gen) })
	}
}
