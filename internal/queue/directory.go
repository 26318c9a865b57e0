package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/schoolgate/schoolgate/internal/identity"
)

// Directory is the kiosk's offline copy of badge holders, stored next to the
// queues. It implements identity.Snapshot.
type Directory struct {
	db  *DB
	now func() time.Time
}

// Directory returns the snapshot stored in db.
func (db *DB) Directory() *Directory {
	return &Directory{db: db, now: time.Now}
}

// Replace swaps every record of kind for records, keeping their order.
func (d *Directory) Replace(ctx context.Context, kind identity.Kind, records []identity.Identity) error {
	refreshedAt := d.now().UTC().UnixMilli()
	return d.db.writes.do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM directory_snapshot WHERE kind = ?;`, string(kind)); err != nil {
			return fmt.Errorf("clear directory snapshot: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO directory_snapshot (kind, rank, id, display_name, email, role, nfc_id, parent_id, refreshed_at_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);`)
		if err != nil {
			return fmt.Errorf("prepare directory snapshot: %w", err)
		}
		defer stmt.Close()
		for i, r := range records {
			if r.NFCID == "" {
				continue
			}
			if _, err := stmt.ExecContext(ctx, string(kind), i, r.ID, r.DisplayName, r.Email, r.Role, r.NFCID, r.ParentID, refreshedAt); err != nil {
				return fmt.Errorf("store snapshot record %s: %w", r.ID, err)
			}
		}
		return nil
	})
}

// FindByCandidates returns the first record of kind matching a candidate,
// preferring earlier candidates.
func (d *Directory) FindByCandidates(ctx context.Context, kind identity.Kind, candidates []string) (identity.Identity, error) {
	for _, c := range candidates {
		if c == "" {
			continue
		}
		ident := identity.Identity{Kind: kind}
		err := d.db.conn.QueryRowContext(ctx, `
SELECT id, display_name, email, role, nfc_id, parent_id FROM directory_snapshot
WHERE kind = ? AND nfc_id = ? ORDER BY rank LIMIT 1;`, string(kind), c).
			Scan(&ident.ID, &ident.DisplayName, &ident.Email, &ident.Role, &ident.NFCID, &ident.ParentID)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return identity.Identity{}, fmt.Errorf("lookup directory snapshot: %w", err)
		}
		return ident, nil
	}
	return identity.Identity{}, identity.ErrNotFound
}

// Count returns how many records of kind the snapshot holds.
func (d *Directory) Count(ctx context.Context, kind identity.Kind) (int, error) {
	var n int
	err := d.db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM directory_snapshot WHERE kind = ?;`, string(kind)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count directory snapshot: %w", err)
	}
	return n, nil
}
