package attendance

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a concurrency-safe in-memory Store for development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	events []Event
	byID   map[uuid.UUID]struct{}
	fail   error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[uuid.UUID]struct{})}
}

// FailWith makes every subsequent call fail with err wrapped as a
// transmission failure. A nil err restores normal operation.
func (s *MemoryStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *MemoryStore) Append(_ context.Context, e Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return fmt.Errorf("%w: %w", ErrTransmission, s.fail)
	}
	if _, exists := s.byID[e.ID]; exists {
		return ErrDuplicateEvent
	}
	e.SyncStatus = SyncSynced
	s.byID[e.ID] = struct{}{}
	s.events = append(s.events, e)
	return nil
}

func (s *MemoryStore) LastAction(_ context.Context, f Filter) (Action, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.fail != nil {
		return "", false, fmt.Errorf("%w: %w", ErrTransmission, s.fail)
	}
	var (
		last  Event
		found bool
	)
	for _, e := range s.events {
		if e.EntityID != f.EntityID || e.StationKind != f.StationKind {
			continue
		}
		if e.OccurredAt.Before(f.From) || !e.OccurredAt.Before(f.To) {
			continue
		}
		if !found || !e.OccurredAt.Before(last.OccurredAt) {
			last, found = e, true
		}
	}
	return last.Action, found, nil
}

func (s *MemoryStore) ListByStation(_ context.Context, stationID string, from, to time.Time) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.fail != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransmission, s.fail)
	}
	var out []Event
	for _, e := range s.events {
		if e.StationID == stationID && !e.OccurredAt.Before(from) && e.OccurredAt.Before(to) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

// Len returns the number of stored events.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Events returns a copy of every stored event in append order.
func (s *MemoryStore) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event(nil), s.events...)
}
