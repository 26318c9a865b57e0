package queue

import (
	"context"
	"sync"
	"time"

	"github.com/schoolgate/schoolgate/internal/attendance"
)

// MemoryQueue is a non-durable Queue used in development and tests.
type MemoryQueue struct {
	mu      sync.Mutex
	entries []Entry
	parked  []attendance.Event
	nextSeq int64
	now     func() time.Time
}

// NewMemory creates an empty in-memory queue.
func NewMemory() *MemoryQueue {
	return &MemoryQueue{now: time.Now}
}

func (q *MemoryQueue) Enqueue(_ context.Context, e attendance.Event) (Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, existing := range q.entries {
		if existing.Event.ID == e.ID {
			return existing, nil
		}
	}
	q.nextSeq++
	e.SyncStatus = attendance.SyncPending
	entry := Entry{Seq: q.nextSeq, Event: e, EnqueuedAt: q.now()}
	q.entries = append(q.entries, entry)
	return entry, nil
}

func (q *MemoryQueue) Peek(_ context.Context, limit int) ([]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if limit <= 0 || limit > len(q.entries) {
		limit = len(q.entries)
	}
	return append([]Entry(nil), q.entries[:limit]...), nil
}

func (q *MemoryQueue) Ack(_ context.Context, seq int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, entry := range q.entries {
		if entry.Seq == seq {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (q *MemoryQueue) Retry(_ context.Context, seq int64, _ error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.entries {
		if q.entries[i].Seq == seq {
			q.entries[i].Attempts++
			return nil
		}
	}
	return ErrNotFound
}

func (q *MemoryQueue) Park(_ context.Context, seq int64, _ error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, entry := range q.entries {
		if entry.Seq == seq {
			q.parked = append(q.parked, entry.Event)
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// Rejected returns the parked events, oldest first.
func (q *MemoryQueue) Rejected(context.Context) ([]attendance.Event, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]attendance.Event(nil), q.parked...), nil
}

func (q *MemoryQueue) Len(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries), nil
}
