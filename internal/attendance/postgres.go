package attendance

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed sql/attendance_events.sql
var schemaSQL string

// PostgresStore persists attendance events in PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed attendance store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the attendance table and indexes when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure attendance schema: %w", err)
	}
	return nil
}

// Append inserts e keyed by its id. A second append of the same id is a no-op
// reported as ErrDuplicateEvent.
func (s *PostgresStore) Append(ctx context.Context, e Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	const query = `INSERT INTO attendance_events
        (id, entity_id, entity_kind, entity_name, nfc_id, action, location, station_id, station_kind, occurred_at, sync_status)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (id) DO NOTHING`
	cmd, err := s.db.Exec(ctx, query,
		e.ID, e.EntityID, e.EntityKind, e.EntityName, e.NFCID, string(e.Action),
		e.Location, e.StationID, string(e.StationKind), e.OccurredAt.UTC(), string(SyncSynced))
	if err != nil {
		return transmissionError(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrDuplicateEvent
	}
	return nil
}

// LastAction returns the latest action for the entity at the station kind in the filter range.
func (s *PostgresStore) LastAction(ctx context.Context, f Filter) (Action, bool, error) {
	const query = `SELECT action FROM attendance_events
        WHERE entity_id = $1 AND station_kind = $2 AND occurred_at >= $3 AND occurred_at < $4
        ORDER BY occurred_at DESC, recorded_at DESC
        LIMIT 1`
	var action string
	err := s.db.QueryRow(ctx, query, f.EntityID, string(f.StationKind), f.From.UTC(), f.To.UTC()).Scan(&action)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, transmissionError(err)
	}
	return Action(action), true, nil
}

// ListByStation returns the station's events in [from, to), oldest first.
func (s *PostgresStore) ListByStation(ctx context.Context, stationID string, from, to time.Time) ([]Event, error) {
	const query = `SELECT id, entity_id, entity_kind, entity_name, nfc_id, action, location, station_id, station_kind, occurred_at
        FROM attendance_events
        WHERE station_id = $1 AND occurred_at >= $2 AND occurred_at < $3
        ORDER BY occurred_at, recorded_at`
	rows, err := s.db.Query(ctx, query, stationID, from.UTC(), to.UTC())
	if err != nil {
		return nil, transmissionError(err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e           Event
			action      string
			stationKind string
		)
		if err := rows.Scan(&e.ID, &e.EntityID, &e.EntityKind, &e.EntityName, &e.NFCID, &action, &e.Location, &e.StationID, &stationKind, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.Action = Action(action)
		e.StationKind = StationKind(stationKind)
		e.SyncStatus = SyncSynced
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, transmissionError(err)
	}
	return events, nil
}

func transmissionError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && isDataClass(pgErr.Code) {
		return fmt.Errorf("%w: %w: %w", ErrTransmission, ErrRejected, err)
	}
	if isUnreachable(err) {
		return fmt.Errorf("%w: %w: %w", ErrTransmission, ErrUnreachable, err)
	}
	return fmt.Errorf("%w: %w", ErrTransmission, err)
}

func isUnreachable(err error) bool {
	var (
		connectErr *pgconn.ConnectError
		netErr     net.Error
	)
	switch {
	case errors.As(err, &connectErr), errors.As(err, &netErr):
		return true
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, net.ErrClosed):
		return true
	}
	return pgconn.SafeToRetry(err)
}

// isDataClass matches SQLSTATE classes 22 (data exception) and 23
// (integrity constraint violation).
func isDataClass(code string) bool {
	return strings.HasPrefix(code, "22") || strings.HasPrefix(code, "23")
}
