package gateway

import "sync"

// Observable holds a single value and fans changes out to subscribers.
//
// Subscribers receive the current value on subscription and then the
// latest value after each change. A slow subscriber only ever misses
// intermediate values, never the most recent one, and never blocks the
// writer.
type Observable[T any] struct {
	mu     sync.RWMutex
	value  T
	subs   map[int]chan T
	nextID int
}

// NewObservable returns an Observable holding initial.
func NewObservable[T any](initial T) *Observable[T] {
	return &Observable[T]{
		value: initial,
		subs:  make(map[int]chan T),
	}
}

// Get returns the current value.
func (o *Observable[T]) Get() T {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.value
}

// Set replaces the value and notifies subscribers.
func (o *Observable[T]) Set(v T) {
	o.Update(func(T) T { return v })
}

// Update applies fn to the current value under the write lock, stores
// the result, notifies subscribers and returns it. Concurrent updates
// are serialised.
func (o *Observable[T]) Update(fn func(T) T) T {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.value = fn(o.value)
	for _, ch := range o.subs {
		offerLatest(ch, o.value)
	}
	return o.value
}

// Subscribe returns a channel primed with the current value and a
// cancel function that closes it. Cancel is safe to call more than once.
func (o *Observable[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, 1)

	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.subs[id] = ch
	ch <- o.value
	o.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.subs, id)
			o.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// offerLatest replaces any unread value in ch with v.
// Callers hold the write lock, so they are the only sender.
func offerLatest[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- v
}
