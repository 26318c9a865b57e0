package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads badge holders from the school directory.
type Repository interface {
	// FindByCandidates returns the first record of kind whose stored NFC id
	// equals one of candidates, preferring earlier candidates.
	FindByCandidates(ctx context.Context, kind Kind, candidates []string) (Identity, error)
	FindByID(ctx context.Context, id string) (Identity, error)
	FindByEmail(ctx context.Context, email string) (Identity, error)
	UpdatePINHash(ctx context.Context, id, hash string) error
}

// PostgresRepository implements Repository against the school database.
// Staff badges live on employees and teachers; both point at profiles.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed directory.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const profileColumns = `p.id, COALESCE(p.email, ''), COALESCE(p.full_name, ''), p.role, COALESCE(p.nfc_pin_hash, '')`

// FindByCandidates resolves a badge. Staff are looked up in employees first,
// then teachers.
func (r *PostgresRepository) FindByCandidates(ctx context.Context, kind Kind, candidates []string) (Identity, error) {
	if len(candidates) == 0 || (len(candidates) == 1 && candidates[0] == "") {
		return Identity{}, ErrNotFound
	}
	switch kind {
	case KindStudent:
		return r.findStudent(ctx, candidates)
	case KindStaff:
		for _, table := range []string{"employees", "teachers"} {
			ident, err := r.findStaff(ctx, table, candidates)
			if err == nil {
				return ident, nil
			}
			if !errors.Is(err, ErrNotFound) {
				return Identity{}, err
			}
		}
		return Identity{}, ErrNotFound
	default:
		return Identity{}, fmt.Errorf("unknown identity kind %q", kind)
	}
}

func (r *PostgresRepository) findStaff(ctx context.Context, table string, candidates []string) (Identity, error) {
	query := `SELECT ` + profileColumns + `, s.nfc_id
        FROM ` + table + ` s
        INNER JOIN profiles p ON p.id = s.profile_id
        WHERE s.nfc_id = ANY($1)
        ORDER BY array_position($1, s.nfc_id)
        LIMIT 1`
	var (
		id    uuid.UUID
		ident Identity
	)
	err := r.db.QueryRow(ctx, query, candidates).Scan(&id, &ident.Email, &ident.DisplayName, &ident.Role, &ident.PINHash, &ident.NFCID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Identity{}, ErrNotFound
		}
		return Identity{}, fmt.Errorf("lookup %s by nfc id: %w", table, err)
	}
	ident.ID = id.String()
	ident.Kind = KindStaff
	return ident, nil
}

func (r *PostgresRepository) findStudent(ctx context.Context, candidates []string) (Identity, error) {
	const query = `SELECT id, first_name || ' ' || last_name, COALESCE(parent_id::text, ''), nfc_id
        FROM students
        WHERE nfc_id = ANY($1)
        ORDER BY array_position($1, nfc_id)
        LIMIT 1`
	var (
		id    uuid.UUID
		ident Identity
	)
	err := r.db.QueryRow(ctx, query, candidates).Scan(&id, &ident.DisplayName, &ident.ParentID, &ident.NFCID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Identity{}, ErrNotFound
		}
		return Identity{}, fmt.Errorf("lookup student by nfc id: %w", err)
	}
	ident.ID = id.String()
	ident.Kind = KindStudent
	ident.Role = "student"
	return ident, nil
}

// FindByID fetches a staff profile by its identifier.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (Identity, error) {
	profileID, err := uuid.Parse(id)
	if err != nil {
		return Identity{}, ErrNotFound
	}
	return r.findProfile(ctx, `p.id = $1`, profileID)
}

// FindByEmail fetches a staff profile by email address.
func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (Identity, error) {
	return r.findProfile(ctx, `lower(p.email) = lower($1)`, email)
}

func (r *PostgresRepository) findProfile(ctx context.Context, where string, arg any) (Identity, error) {
	query := `SELECT ` + profileColumns + `,
            COALESCE((SELECT e.nfc_id FROM employees e WHERE e.profile_id = p.id LIMIT 1),
                     (SELECT t.nfc_id FROM teachers t WHERE t.profile_id = p.id LIMIT 1), '')
        FROM profiles p WHERE ` + where
	var (
		id    uuid.UUID
		ident Identity
	)
	err := r.db.QueryRow(ctx, query, arg).Scan(&id, &ident.Email, &ident.DisplayName, &ident.Role, &ident.PINHash, &ident.NFCID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Identity{}, ErrNotFound
		}
		return Identity{}, fmt.Errorf("lookup profile: %w", err)
	}
	ident.ID = id.String()
	ident.Kind = KindStaff
	return ident, nil
}

// UpdatePINHash stores a new kiosk PIN hash on the profile.
func (r *PostgresRepository) UpdatePINHash(ctx context.Context, id, hash string) error {
	profileID, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	cmd, err := r.db.Exec(ctx, `UPDATE profiles SET nfc_pin_hash = $1 WHERE id = $2`, hash, profileID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListBadges returns every badge holder of kind. Staff badges from employees
// come before those from teachers, matching FindByCandidates.
func (r *PostgresRepository) ListBadges(ctx context.Context, kind Kind) ([]Identity, error) {
	switch kind {
	case KindStudent:
		const query = `SELECT id, first_name || ' ' || last_name, COALESCE(parent_id::text, ''), nfc_id
        FROM students
        WHERE nfc_id IS NOT NULL AND nfc_id <> ''
        ORDER BY id`
		rows, err := r.db.Query(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("list students: %w", err)
		}
		defer rows.Close()
		var out []Identity
		for rows.Next() {
			var (
				id    uuid.UUID
				ident Identity
			)
			if err := rows.Scan(&id, &ident.DisplayName, &ident.ParentID, &ident.NFCID); err != nil {
				return nil, fmt.Errorf("scan student: %w", err)
			}
			ident.ID = id.String()
			ident.Kind = KindStudent
			ident.Role = "student"
			out = append(out, ident)
		}
		return out, rows.Err()
	case KindStaff:
		var out []Identity
		for _, table := range []string{"employees", "teachers"} {
			query := `SELECT p.id, COALESCE(p.email, ''), COALESCE(p.full_name, ''), p.role, s.nfc_id
        FROM ` + table + ` s
        INNER JOIN profiles p ON p.id = s.profile_id
        WHERE s.nfc_id IS NOT NULL AND s.nfc_id <> ''
        ORDER BY p.id`
			rows, err := r.db.Query(ctx, query)
			if err != nil {
				return nil, fmt.Errorf("list %s: %w", table, err)
			}
			for rows.Next() {
				var (
					id    uuid.UUID
					ident Identity
				)
				if err := rows.Scan(&id, &ident.Email, &ident.DisplayName, &ident.Role, &ident.NFCID); err != nil {
					rows.Close()
					return nil, fmt.Errorf("scan %s: %w", table, err)
				}
				ident.ID = id.String()
				ident.Kind = KindStaff
				out = append(out, ident)
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return nil, fmt.Errorf("list %s: %w", table, err)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown identity kind %q", kind)
	}
}
