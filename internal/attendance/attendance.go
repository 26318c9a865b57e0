package attendance

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrTransmission wraps any failure to write an event to storage. Callers
	// queue the event and retry later.
	ErrTransmission = errors.New("attendance transmission failed")

	// ErrUnreachable marks transmission failures caused by lost connectivity.
	ErrUnreachable = errors.New("attendance storage unreachable")

	// ErrDuplicateEvent is returned when an event id has already been stored.
	// The write is idempotent, so callers treat it as success.
	ErrDuplicateEvent = errors.New("duplicate attendance event")

	ErrInvalidEvent = errors.New("invalid attendance event")

	// ErrRejected marks events the storage refused for their content.
	// Retrying the same event cannot succeed.
	ErrRejected = errors.New("attendance event rejected")
)

// IsPermanent reports whether err means the event can never be stored as is.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrInvalidEvent) || errors.Is(err, ErrRejected)
}

// Action is the kind of movement an event records.
type Action string

const (
	ActionCheckIn  Action = "check_in"
	ActionCheckOut Action = "check_out"
	ActionBoard    Action = "board"
	ActionExit     Action = "exit"
)

// Opening reports whether a opens a record that a later closing action ends.
func (a Action) Opening() bool {
	return a == ActionCheckIn || a == ActionBoard
}

// StationKind groups stations that share a check-in/out cycle.
type StationKind string

const (
	StationEntrance  StationKind = "entrance"
	StationBus       StationKind = "bus"
	StationCafeteria StationKind = "cafeteria"
	StationClassroom StationKind = "classroom"
)

// Valid reports whether k is a known station kind.
func (k StationKind) Valid() bool {
	switch k {
	case StationEntrance, StationBus, StationCafeteria, StationClassroom:
		return true
	}
	return false
}

// Actions returns the opening and closing action for stations of kind k.
func (k StationKind) Actions() (opening, closing Action) {
	if k == StationBus {
		return ActionBoard, ActionExit
	}
	return ActionCheckIn, ActionCheckOut
}

// SyncStatus tracks whether an event reached storage.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
)

// Event is a single recorded tap. ID is generated on the station so that
// retried writes are deduplicated by storage.
type Event struct {
	ID          uuid.UUID   `json:"id" cbor:"1,keyasint"`
	EntityID    string      `json:"entityId" cbor:"2,keyasint"`
	EntityKind  string      `json:"entityKind" cbor:"3,keyasint"`
	EntityName  string      `json:"entityName" cbor:"4,keyasint"`
	NFCID       string      `json:"nfcId" cbor:"5,keyasint"`
	Action      Action      `json:"action" cbor:"6,keyasint"`
	Location    string      `json:"location" cbor:"7,keyasint"`
	StationID   string      `json:"stationId" cbor:"8,keyasint"`
	StationKind StationKind `json:"stationKind" cbor:"9,keyasint"`
	OccurredAt  time.Time   `json:"occurredAt" cbor:"10,keyasint"`
	SyncStatus  SyncStatus  `json:"syncStatus" cbor:"11,keyasint"`
}

// Validate checks the fields storage requires.
func (e Event) Validate() error {
	switch {
	case e.ID == uuid.Nil:
		return errors.Join(ErrInvalidEvent, errors.New("event id is required"))
	case e.EntityID == "":
		return errors.Join(ErrInvalidEvent, errors.New("entity id is required"))
	case e.StationID == "":
		return errors.Join(ErrInvalidEvent, errors.New("station id is required"))
	case e.OccurredAt.IsZero():
		return errors.Join(ErrInvalidEvent, errors.New("timestamp is required"))
	}
	switch e.Action {
	case ActionCheckIn, ActionCheckOut, ActionBoard, ActionExit:
		return nil
	}
	return errors.Join(ErrInvalidEvent, errors.New("unknown action "+string(e.Action)))
}

// Filter selects events for an entity at one kind of station within a time range.
type Filter struct {
	EntityID    string
	StationKind StationKind
	From        time.Time
	To          time.Time
}

// Store persists attendance events.
type Store interface {
	// Append writes e. Appending an id that already exists returns
	// ErrDuplicateEvent and leaves storage unchanged.
	Append(ctx context.Context, e Event) error
	// LastAction returns the most recent action matching f, and false when
	// there is none.
	LastAction(ctx context.Context, f Filter) (Action, bool, error)
	// ListByStation returns events recorded by a station in [from, to), oldest first.
	ListByStation(ctx context.Context, stationID string, from, to time.Time) ([]Event, error)
}

// Day returns the local calendar day containing t as a half-open range.
func Day(t time.Time) (time.Time, time.Time) {
	y, m, d := t.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 1)
}

// HasOpenRecord reports whether the entity has an opening action without a
// matching closing action on the day containing at.
func HasOpenRecord(ctx context.Context, s Store, entityID string, kind StationKind, at time.Time) (bool, error) {
	from, to := Day(at)
	last, ok, err := s.LastAction(ctx, Filter{EntityID: entityID, StationKind: kind, From: from, To: to})
	if err != nil || !ok {
		return false, err
	}
	return last.Opening(), nil
}
