package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/schoolgate/schoolgate/internal/attendance"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:test_%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)",
		strings.ReplaceAll(t.Name(), "/", "_"),
	)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("openTestDB: sql.Open: %v", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	db, err := NewDB(context.Background(), conn)
	if err != nil {
		conn.Close()
		t.Fatalf("openTestDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testEvent(entity string, at time.Time) attendance.Event {
	return attendance.Event{
		ID:          uuid.New(),
		EntityID:    entity,
		EntityKind:  "student",
		EntityName:  "Amal Said",
		NFCID:       "12AB34CD",
		Action:      attendance.ActionBoard,
		Location:    "Bus 4",
		StationID:   "bus-4",
		StationKind: attendance.StationBus,
		OccurredAt:  at,
	}
}

func queues(t *testing.T) map[string]Queue {
	return map[string]Queue{
		"memory": NewMemory(),
		"sqlite": openTestDB(t).Station("bus-4"),
	}
}

func TestQueuePreservesFIFOAndAck(t *testing.T) {
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2024, 3, 4, 7, 0, 0, 0, time.UTC)
			var ids []uuid.UUID
			for i := 0; i < 3; i++ {
				e := testEvent(fmt.Sprintf("s-%d", i), base.Add(time.Duration(i)*time.Minute))
				ids = append(ids, e.ID)
				if _, err := q.Enqueue(ctx, e); err != nil {
					t.Fatalf("enqueue %d: %v", i, err)
				}
			}

			entries, err := q.Peek(ctx, 0)
			if err != nil {
				t.Fatalf("peek: %v", err)
			}
			if len(entries) != 3 {
				t.Fatalf("expected 3 entries, got %d", len(entries))
			}
			for i, entry := range entries {
				if entry.Event.ID != ids[i] {
					t.Fatalf("entry %d out of order", i)
				}
				if entry.Event.SyncStatus != attendance.SyncPending {
					t.Fatalf("queued event should be pending, got %s", entry.Event.SyncStatus)
				}
			}
			if !entries[0].Event.OccurredAt.Equal(base) || entries[0].Event.Location != "Bus 4" {
				t.Fatalf("event fields not preserved: %+v", entries[0].Event)
			}

			if err := q.Ack(ctx, entries[0].Seq); err != nil {
				t.Fatalf("ack: %v", err)
			}
			if err := q.Ack(ctx, entries[0].Seq); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound on second ack, got %v", err)
			}
			head, _ := q.Peek(ctx, 1)
			if len(head) != 1 || head[0].Event.ID != ids[1] {
				t.Fatalf("unexpected head after ack: %+v", head)
			}
			if n, _ := q.Len(ctx); n != 2 {
				t.Fatalf("expected len 2, got %d", n)
			}
		})
	}
}

func TestQueueEnqueueIsIdempotent(t *testing.T) {
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			e := testEvent("s-1", time.Now())
			first, err := q.Enqueue(ctx, e)
			if err != nil {
				t.Fatalf("enqueue: %v", err)
			}
			second, err := q.Enqueue(ctx, e)
			if err != nil {
				t.Fatalf("enqueue again: %v", err)
			}
			if first.Seq != second.Seq {
				t.Fatalf("expected same entry, got seq %d and %d", first.Seq, second.Seq)
			}
			if n, _ := q.Len(ctx); n != 1 {
				t.Fatalf("expected len 1, got %d", n)
			}
		})
	}
}

func TestQueueRetryCountsAttempts(t *testing.T) {
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			entry, err := q.Enqueue(ctx, testEvent("s-1", time.Now()))
			if err != nil {
				t.Fatalf("enqueue: %v", err)
			}
			for i := 0; i < 2; i++ {
				if err := q.Retry(ctx, entry.Seq, attendance.ErrUnreachable); err != nil {
					t.Fatalf("retry: %v", err)
				}
			}
			head, _ := q.Peek(ctx, 1)
			if head[0].Attempts != 2 {
				t.Fatalf("expected 2 attempts, got %d", head[0].Attempts)
			}
		})
	}
}

func TestSQLiteQueuesArePerStation(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	bus := db.Station("bus-4")
	gate := db.Station("gate-1")

	if _, err := bus.Enqueue(ctx, testEvent("s-1", time.Now())); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if n, _ := gate.Len(ctx); n != 0 {
		t.Fatalf("gate queue sees bus entries: %d", n)
	}
	head, _ := bus.Peek(ctx, 1)
	if err := gate.Ack(ctx, head[0].Seq); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected cross-station ack to fail, got %v", err)
	}
}

func TestSQLiteQueueSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue", "station.db")

	db, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	e := testEvent("s-1", time.Now())
	if _, err := db.Station("bus-4").Enqueue(ctx, e); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	head, err := db.Station("bus-4").Peek(ctx, 1)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if len(head) != 1 || head[0].Event.ID != e.ID {
		t.Fatalf("queued event lost across reopen: %+v", head)
	}
}

func TestQueueParkMovesEntryAside(t *testing.T) {
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2024, 3, 4, 7, 0, 0, 0, time.UTC)
			bad := testEvent("s-1", base)
			good := testEvent("s-2", base.Add(time.Minute))
			first, err := q.Enqueue(ctx, bad)
			if err != nil {
				t.Fatalf("enqueue: %v", err)
			}
			if _, err := q.Enqueue(ctx, good); err != nil {
				t.Fatalf("enqueue: %v", err)
			}

			if err := q.Park(ctx, first.Seq, attendance.ErrInvalidEvent); err != nil {
				t.Fatalf("park: %v", err)
			}
			if err := q.Park(ctx, first.Seq, attendance.ErrInvalidEvent); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound parking twice, got %v", err)
			}
			head, _ := q.Peek(ctx, 1)
			if len(head) != 1 || head[0].Event.ID != good.ID {
				t.Fatalf("parked entry still blocks the head: %+v", head)
			}

			rejected, err := q.(interface {
				Rejected(context.Context) ([]attendance.Event, error)
			}).Rejected(ctx)
			if err != nil {
				t.Fatalf("rejected: %v", err)
			}
			if len(rejected) != 1 || rejected[0].ID != bad.ID {
				t.Fatalf("expected parked event kept, got %+v", rejected)
			}
		})
	}
}

func TestSQLiteWritesAfterCloseFail(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, filepath.Join(t.TempDir(), "station.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	q := db.Station("gate-1")
	entry, err := q.Enqueue(ctx, testEvent("s-1", time.Now()))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	db.Close()

	if _, err := q.Enqueue(ctx, testEvent("s-2", time.Now())); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from enqueue, got %v", err)
	}
	if err := q.Ack(ctx, entry.Seq); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from ack, got %v", err)
	}
}

func TestWriterSerializesConcurrentWritesUntilStopped(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	q := db.Station("gate-1")

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := q.Enqueue(ctx, testEvent(fmt.Sprintf("s-%d", i), time.Now()))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent enqueue: %v", err)
		}
	}
	if n, _ := q.Len(ctx); n != 20 {
		t.Fatalf("expected 20 entries, got %d", n)
	}

	db.writes.close()
	if err := db.writes.do(ctx, func(context.Context, *sql.Tx) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after writer stop, got %v", err)
	}
}
