package tracer

import (
	"sort"
	"sync"
	"sync/atomic"

	"tokenTracer/internal/model"
)

// EventSet is an immutable, canonically ordered set of decoded events.
type EventSet struct {
	events []model.DecodedEvent
	keys   map[model.EventKey]struct{}
}

// NewEventSet returns an empty set.
func NewEventSet() *EventSet {
	return &EventSet{keys: make(map[model.EventKey]struct{})}
}

// Len returns the number of events.
func (s *EventSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.events)
}

// Contains reports whether an event with key is present.
func (s *EventSet) Contains(key model.EventKey) bool {
	if s == nil {
		return false
	}
	_, ok := s.keys[key]
	return ok
}

// Events returns a copy in canonical order (block number, then log index, ascending).
func (s *EventSet) Events() []model.DecodedEvent {
	if s == nil {
		return nil
	}
	out := make([]model.DecodedEvent, len(s.events))
	copy(out, s.events)
	return out
}

// Recent returns a copy in display order, most recent first.
func (s *EventSet) Recent() []model.DecodedEvent {
	if s == nil {
		return nil
	}
	out := make([]model.DecodedEvent, len(s.events))
	for i, e := range s.events {
		out[len(s.events)-1-i] = e
	}
	return out
}

// Merge returns a new set holding set ∪ events and the events that were actually added.
// Events whose key is already present are dropped, never overwritten; set is left untouched.
func Merge(set *EventSet, events []model.DecodedEvent) (*EventSet, []model.DecodedEvent) {
	if set == nil {
		set = NewEventSet()
	}

	added := make([]model.DecodedEvent, 0, len(events))
	pending := make(map[model.EventKey]struct{}, len(events))
	for _, e := range events {
		key := e.Key()
		if set.Contains(key) {
			continue
		}
		if _, dup := pending[key]; dup {
			continue
		}
		pending[key] = struct{}{}
		added = append(added, e)
	}
	if len(added) == 0 {
		return set, added
	}

	merged := &EventSet{
		events: make([]model.DecodedEvent, 0, len(set.events)+len(added)),
		keys:   make(map[model.EventKey]struct{}, len(set.keys)+len(added)),
	}
	merged.events = append(merged.events, set.events...)
	merged.events = append(merged.events, added...)
	for k := range set.keys {
		merged.keys[k] = struct{}{}
	}
	for k := range pending {
		merged.keys[k] = struct{}{}
	}
	sort.SliceStable(merged.events, func(i, j int) bool {
		return merged.events[i].Less(merged.events[j])
	})

	sort.SliceStable(added, func(i, j int) bool {
		return added[i].Less(added[j])
	})
	return merged, added
}

// EventStore publishes merges as atomic snapshot swaps so readers never observe a partial merge.
type EventStore struct {
	mu      sync.Mutex
	current atomic.Pointer[EventSet]
}

// NewEventStore returns an empty store.
func NewEventStore() *EventStore {
	s := &EventStore{}
	s.current.Store(NewEventSet())
	return s
}

// Snapshot returns the current immutable set.
func (s *EventStore) Snapshot() *EventSet {
	return s.current.Load()
}

// Merge folds events into the store and returns those that were new.
func (s *EventStore) Merge(events []model.DecodedEvent) []model.DecodedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mergeLocked(events)
}

func (s *EventStore) mergeLocked(events []model.DecodedEvent) []model.DecodedEvent {
	next, added := Merge(s.current.Load(), events)
	if len(added) > 0 {
		s.current.Store(next)
	}
	return added
}

// Reset drops every accumulated event.
func (s *EventStore) Reset() {
	s.mu.Lock()
	s.current.Store(NewEventSet())
	s.mu.Unlock()
}
