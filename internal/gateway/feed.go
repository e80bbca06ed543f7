package gateway

import "sync"

// MaxFeedBacklog bounds how many undelivered values a single Feed
// subscriber may hold. Past it the oldest queued value is dropped.
const MaxFeedBacklog = 4096

// Feed delivers every published value to each subscriber, in publish
// order. Unlike Observable it keeps intermediate values: a subscriber
// that falls behind receives them late, not never. Publish never blocks
// on a subscriber.
type Feed[T any] struct {
	mu     sync.Mutex
	subs   map[int]*feedSub[T]
	nextID int
}

type feedSub[T any] struct {
	mu    sync.Mutex
	queue []T

	wake chan struct{}
	done chan struct{}
	out  chan T
}

// NewFeed returns a Feed with no subscribers.
func NewFeed[T any]() *Feed[T] {
	return &Feed[T]{subs: make(map[int]*feedSub[T])}
}

// Publish queues v for every current subscriber.
func (f *Feed[T]) Publish(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		s.push(v)
	}
}

// Subscribe returns a channel of values published from now on and a
// cancel function that stops delivery and closes the channel. Cancel is
// safe to call more than once.
func (f *Feed[T]) Subscribe() (<-chan T, func()) {
	s := &feedSub[T]{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		out:  make(chan T),
	}

	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = s
	f.mu.Unlock()

	go s.pump()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
			close(s.done)
		})
	}
	return s.out, cancel
}

// Subscribers reports how many subscriptions are live.
func (f *Feed[T]) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (s *feedSub[T]) push(v T) {
	s.mu.Lock()
	if len(s.queue) >= MaxFeedBacklog {
		s.queue = s.queue[1:]
	}
	s.queue = append(s.queue, v)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pump hands queued values to out until done is closed.
func (s *feedSub[T]) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, v := range batch {
			select {
			case s.out <- v:
			case <-s.done:
				return
			}
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-s.wake:
		case <-s.done:
			return
		}
	}
}
