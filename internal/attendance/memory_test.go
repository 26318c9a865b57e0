package attendance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newEvent(entity string, action Action, at time.Time) Event {
	return Event{
		ID:          uuid.New(),
		EntityID:    entity,
		EntityKind:  "student",
		Action:      action,
		StationID:   "gate-1",
		StationKind: StationEntrance,
		OccurredAt:  at,
		SyncStatus:  SyncPending,
	}
}

func TestMemoryStore_AppendIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	e := newEvent("s-1", ActionCheckIn, time.Now())

	if err := s.Append(ctx, e); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(ctx, e); !errors.Is(err, ErrDuplicateEvent) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 event, got %d", s.Len())
	}
	if got := s.Events()[0].SyncStatus; got != SyncSynced {
		t.Fatalf("expected stored event to be synced, got %s", got)
	}
}

func TestMemoryStore_RejectsInvalidEvents(t *testing.T) {
	s := NewMemoryStore()
	e := newEvent("", ActionCheckIn, time.Now())
	if err := s.Append(context.Background(), e); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected invalid event, got %v", err)
	}
}

func TestMemoryStore_FailureIsTransmissionError(t *testing.T) {
	s := NewMemoryStore()
	s.FailWith(ErrUnreachable)
	err := s.Append(context.Background(), newEvent("s-1", ActionCheckIn, time.Now()))
	if !errors.Is(err, ErrTransmission) || !errors.Is(err, ErrUnreachable) {
		t.Fatalf("expected wrapped transmission error, got %v", err)
	}
	s.FailWith(nil)
	if err := s.Append(context.Background(), newEvent("s-1", ActionCheckIn, time.Now())); err != nil {
		t.Fatalf("append after recovery: %v", err)
	}
}

func TestHasOpenRecordFollowsToday(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	morning := time.Date(2024, 3, 4, 7, 30, 0, 0, time.Local)

	open, err := HasOpenRecord(ctx, s, "s-1", StationEntrance, morning)
	if err != nil || open {
		t.Fatalf("expected no open record, got %v %v", open, err)
	}

	if err := s.Append(ctx, newEvent("s-1", ActionCheckIn, morning)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if open, _ := HasOpenRecord(ctx, s, "s-1", StationEntrance, morning.Add(time.Hour)); !open {
		t.Fatal("expected open record after check in")
	}
	if open, _ := HasOpenRecord(ctx, s, "s-1", StationBus, morning.Add(time.Hour)); open {
		t.Fatal("open record leaked across station kinds")
	}

	if err := s.Append(ctx, newEvent("s-1", ActionCheckOut, morning.Add(8*time.Hour))); err != nil {
		t.Fatalf("append: %v", err)
	}
	if open, _ := HasOpenRecord(ctx, s, "s-1", StationEntrance, morning.Add(9*time.Hour)); open {
		t.Fatal("expected record closed after check out")
	}

	if err := s.Append(ctx, newEvent("s-2", ActionCheckIn, morning)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if open, _ := HasOpenRecord(ctx, s, "s-2", StationEntrance, morning.AddDate(0, 0, 1)); open {
		t.Fatal("yesterday's open record should not carry over")
	}
}

func TestStationKindActions(t *testing.T) {
	if o, c := StationBus.Actions(); o != ActionBoard || c != ActionExit {
		t.Fatalf("bus actions = %s/%s", o, c)
	}
	for _, k := range []StationKind{StationEntrance, StationCafeteria, StationClassroom} {
		if o, c := k.Actions(); o != ActionCheckIn || c != ActionCheckOut {
			t.Fatalf("%s actions = %s/%s", k, o, c)
		}
	}
	if StationKind("library").Valid() {
		t.Fatal("unknown station kind reported valid")
	}
}

func TestMemoryStore_ConcurrentAppends(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	e := newEvent("s-1", ActionCheckIn, time.Now())

	const workers = 10
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		oks int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Append(ctx, e); err == nil {
				mu.Lock()
				oks++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if oks != 1 || s.Len() != 1 {
		t.Fatalf("expected exactly one stored append, got %d successes and %d events", oks, s.Len())
	}
}

func TestListByStationOrdersOldestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	later := newEvent("s-1", ActionCheckOut, base.Add(time.Hour))
	earlier := newEvent("s-2", ActionCheckIn, base)
	_ = s.Append(ctx, later)
	_ = s.Append(ctx, earlier)

	from, to := Day(base)
	got, err := s.ListByStation(ctx, "gate-1", from, to)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].ID != earlier.ID {
		t.Fatalf("unexpected order: %+v", got)
	}
}
