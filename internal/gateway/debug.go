package gateway

import (
	"sync"
	"time"
)

// DefaultDebugCapacity is the trace ring size used when none is configured.
const DefaultDebugCapacity = 50

// DebugEntry is one timestamped trace line.
type DebugEntry struct {
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

// RawMessage is the last raw payload seen in one direction.
type RawMessage struct {
	Time    time.Time `json:"time"`
	Topic   string    `json:"topic"`
	Payload string    `json:"payload"`
}

// DebugRecorder keeps a bounded newest-first trace plus the last raw
// payloads received and sent.
type DebugRecorder struct {
	clock    Clock
	capacity int

	mu           sync.Mutex
	ring         []DebugEntry // ring[head] is the newest entry
	head         int
	size         int
	lastReceived *RawMessage
	lastSent     *RawMessage

	entries  *Observable[[]DebugEntry]
	appended *Feed[DebugEntry]
}

// NewDebugRecorder creates a recorder holding at most capacity entries.
func NewDebugRecorder(capacity int, clock Clock) *DebugRecorder {
	if capacity < 1 {
		capacity = DefaultDebugCapacity
	}
	if clock == nil {
		clock = realClock{}
	}
	return &DebugRecorder{
		clock:    clock,
		capacity: capacity,
		ring:     make([]DebugEntry, capacity),
		entries:  NewObservable[[]DebugEntry](nil),
		appended: NewFeed[DebugEntry](),
	}
}

// Append inserts text at the head. On a full ring the oldest entry is evicted.
func (d *DebugRecorder) Append(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.appendLocked(text)
	d.entries.Set(d.snapshotLocked())
}

// RecordReceived stores an inbound payload and traces it.
func (d *DebugRecorder) RecordReceived(topic string, payload []byte) {
	d.record(&d.lastReceived, "received", topic, payload)
}

// RecordSent stores an outbound payload and traces it.
func (d *DebugRecorder) RecordSent(topic string, payload []byte) {
	d.record(&d.lastSent, "sent", topic, payload)
}

func (d *DebugRecorder) record(slot **RawMessage, verb, topic string, payload []byte) {
	now := d.clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()
	*slot = &RawMessage{Time: now, Topic: topic, Payload: string(payload)}
	d.appendLocked(verb + " " + topic + ": " + string(payload))
	d.entries.Set(d.snapshotLocked())
}

func (d *DebugRecorder) appendLocked(text string) {
	d.head = (d.head - 1 + d.capacity) % d.capacity
	entry := DebugEntry{Time: d.clock.Now(), Text: text}
	d.ring[d.head] = entry
	if d.size < d.capacity {
		d.size++
	}
	d.appended.Publish(entry)
}

func (d *DebugRecorder) snapshotLocked() []DebugEntry {
	out := make([]DebugEntry, d.size)
	for i := range d.size {
		out[i] = d.ring[(d.head+i)%d.capacity]
	}
	return out
}

// Entries returns the trace, newest first.
func (d *DebugRecorder) Entries() []DebugEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotLocked()
}

// LastReceived returns the last inbound payload, or nil.
func (d *DebugRecorder) LastReceived() *RawMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastReceived == nil {
		return nil
	}
	m := *d.lastReceived
	return &m
}

// LastSent returns the last outbound payload, or nil.
func (d *DebugRecorder) LastSent() *RawMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastSent == nil {
		return nil
	}
	m := *d.lastSent
	return &m
}

// Clear empties the trace. Last payload snapshots are kept.
func (d *DebugRecorder) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.head, d.size = 0, 0
	clear(d.ring)
	d.entries.Set(nil)
}

// Subscribe observes the whole trace, latest snapshot only. See
// Observable.Subscribe.
func (d *DebugRecorder) Subscribe() (<-chan []DebugEntry, func()) {
	return d.entries.Subscribe()
}

// Appended delivers every entry added from now on, oldest first.
func (d *DebugRecorder) Appended() (<-chan DebugEntry, func()) {
	return d.appended.Subscribe()
}
