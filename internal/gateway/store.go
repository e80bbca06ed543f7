package gateway

import "sync"

// StateStore holds the last known canonical device properties.
//
// Merges are serialised so concurrent partial updates compose in
// whatever order they arrive without losing fields.
type StateStore struct {
	// mu orders merges against Changes so a new feed subscriber sees
	// each merge exactly once: in its snapshot or on its channel.
	mu      sync.Mutex
	props   *Observable[Properties]
	changes *Feed[Properties]
	clock   Clock
}

// NewStateStore creates an empty store. A nil clock uses wall time.
func NewStateStore(clock Clock) *StateStore {
	if clock == nil {
		clock = realClock{}
	}
	return &StateStore{
		props:   NewObservable(Properties{}),
		changes: NewFeed[Properties](),
		clock:   clock,
	}
}

// Merge applies the fields present in patch and returns the new state.
// An empty patch leaves the store untouched and reports false.
func (s *StateStore) Merge(patch PropertyPatch) (Properties, bool) {
	if patch.Empty() {
		return s.props.Get(), false
	}
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.props.Update(func(cur Properties) Properties {
		return cur.Apply(patch, now)
	})
	s.changes.Publish(next)
	return next, true
}

// Snapshot returns the current properties.
func (s *StateStore) Snapshot() Properties {
	return s.props.Get()
}

// Subscribe observes the latest properties. Intermediate states may be
// skipped; see Observable.Subscribe.
func (s *StateStore) Subscribe() (<-chan Properties, func()) {
	return s.props.Subscribe()
}

// Changes returns the current properties together with a channel that
// then delivers the result of every later merge, in merge order. Use it
// when each change matters, as history does.
func (s *StateStore) Changes() (Properties, <-chan Properties, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, cancel := s.changes.Subscribe()
	return s.props.Get(), ch, cancel
}
