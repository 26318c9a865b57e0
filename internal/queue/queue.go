// Package queue holds attendance events that could not be transmitted. Each
// station owns its own FIFO; entries leave the queue when acknowledged or
// parked as rejected. The same SQLite file also keeps the kiosk's offline
// directory snapshot.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/schoolgate/schoolgate/internal/attendance"
)

// ErrNotFound is returned when acknowledging an entry that is not queued.
var ErrNotFound = errors.New("queue entry not found")

// Entry is one queued event.
type Entry struct {
	Seq        int64
	Event      attendance.Event
	EnqueuedAt time.Time
	Attempts   int
}

// Queue is a durable FIFO of events for one station.
type Queue interface {
	// Enqueue appends e. Enqueueing an event id that is already queued
	// returns the existing entry.
	Enqueue(ctx context.Context, e attendance.Event) (Entry, error)
	// Peek returns up to limit entries, oldest first.
	Peek(ctx context.Context, limit int) ([]Entry, error)
	// Ack removes the entry after a successful transmission.
	Ack(ctx context.Context, seq int64) error
	// Retry records a failed transmission attempt.
	Retry(ctx context.Context, seq int64, cause error) error
	// Park moves an entry the server will never accept out of the queue so
	// later entries can drain. Parked events are kept for inspection.
	Park(ctx context.Context, seq int64, cause error) error
	Len(ctx context.Context) (int, error)
}
