package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/schoolgate/schoolgate/internal/attendance"
)

// SQLiteQueue is the durable queue of one station.
type SQLiteQueue struct {
	db        *DB
	stationID string
	now       func() time.Time
}

func (q *SQLiteQueue) Enqueue(ctx context.Context, e attendance.Event) (Entry, error) {
	e.SyncStatus = attendance.SyncPending
	payload, err := encodeEvent(e)
	if err != nil {
		return Entry{}, fmt.Errorf("encode event: %w", err)
	}
	enqueuedAt := q.now().UTC()

	var entry Entry
	err = q.db.writes.do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO offline_queue (station_id, event_id, payload, enqueued_at_ms)
VALUES (?, ?, ?, ?)
ON CONFLICT (event_id) DO NOTHING;`,
			q.stationID, e.ID.String(), payload, enqueuedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("insert queue entry: %w", err)
		}
		row := tx.QueryRowContext(ctx, `
SELECT seq, payload, enqueued_at_ms, attempts FROM offline_queue WHERE event_id = ?;`, e.ID.String())
		entry, err = scanEntry(row)
		return err
	})
	return entry, err
}

func (q *SQLiteQueue) Peek(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := q.db.conn.QueryContext(ctx, `
SELECT seq, payload, enqueued_at_ms, attempts FROM offline_queue
WHERE station_id = ? ORDER BY seq LIMIT ?;`, q.stationID, limit)
	if err != nil {
		return nil, fmt.Errorf("peek queue: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (q *SQLiteQueue) Ack(ctx context.Context, seq int64) error {
	return q.db.writes.do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM offline_queue WHERE seq = ? AND station_id = ?;`, seq, q.stationID)
		if err != nil {
			return fmt.Errorf("ack queue entry: %w", err)
		}
		return requireRow(res)
	})
}

func (q *SQLiteQueue) Retry(ctx context.Context, seq int64, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return q.db.writes.do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE offline_queue SET attempts = attempts + 1, last_error = ?
WHERE seq = ? AND station_id = ?;`, msg, seq, q.stationID)
		if err != nil {
			return fmt.Errorf("record queue attempt: %w", err)
		}
		return requireRow(res)
	})
}

func (q *SQLiteQueue) Park(ctx context.Context, seq int64, cause error) error {
	reason := "rejected"
	if cause != nil {
		reason = cause.Error()
	}
	parkedAt := q.now().UTC().UnixMilli()
	return q.db.writes.do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
INSERT INTO offline_queue_rejected (event_id, station_id, payload, enqueued_at_ms, attempts, reason, parked_at_ms)
SELECT event_id, station_id, payload, enqueued_at_ms, attempts, ?, ?
FROM offline_queue WHERE seq = ? AND station_id = ?
ON CONFLICT (event_id) DO UPDATE SET reason = excluded.reason, parked_at_ms = excluded.parked_at_ms;`,
			reason, parkedAt, seq, q.stationID)
		if err != nil {
			return fmt.Errorf("park queue entry: %w", err)
		}
		if err := requireRow(res); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM offline_queue WHERE seq = ? AND station_id = ?;`, seq, q.stationID); err != nil {
			return fmt.Errorf("remove parked entry: %w", err)
		}
		return nil
	})
}

// Rejected returns the events parked for this station, oldest first.
func (q *SQLiteQueue) Rejected(ctx context.Context) ([]attendance.Event, error) {
	rows, err := q.db.conn.QueryContext(ctx, `
SELECT payload FROM offline_queue_rejected WHERE station_id = ? ORDER BY parked_at_ms, event_id;`, q.stationID)
	if err != nil {
		return nil, fmt.Errorf("list rejected events: %w", err)
	}
	defer rows.Close()

	var events []attendance.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan rejected event: %w", err)
		}
		e, err := decodeEvent(payload)
		if err != nil {
			return nil, fmt.Errorf("decode rejected event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (q *SQLiteQueue) Len(ctx context.Context) (int, error) {
	var n int
	err := q.db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM offline_queue WHERE station_id = ?;`, q.stationID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count queue: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		entry      Entry
		payload    []byte
		enqueuedMS int64
	)
	if err := row.Scan(&entry.Seq, &payload, &enqueuedMS, &entry.Attempts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("scan queue entry: %w", err)
	}
	event, err := decodeEvent(payload)
	if err != nil {
		return Entry{}, fmt.Errorf("decode queued event %d: %w", entry.Seq, err)
	}
	entry.Event = event
	entry.EnqueuedAt = time.UnixMilli(enqueuedMS).UTC()
	return entry, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
