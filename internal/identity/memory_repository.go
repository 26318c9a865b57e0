package identity

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// MemoryRepository is a concurrency-safe in-memory Repository.
type MemoryRepository struct {
	mu      sync.RWMutex
	records []Identity
}

// NewMemoryRepository builds an in-memory directory for development and tests.
func NewMemoryRepository(seed ...Identity) *MemoryRepository {
	r := &MemoryRepository{}
	r.records = append(r.records, seed...)
	return r
}

// Add stores a record. Records are matched in insertion order.
func (r *MemoryRepository) Add(ident Identity) error {
	if ident.ID == "" {
		return errors.New("identity id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.records {
		if existing.ID == ident.ID {
			return errors.New("identity exists")
		}
	}
	r.records = append(r.records, ident)
	return nil
}

func (r *MemoryRepository) FindByCandidates(_ context.Context, kind Kind, candidates []string) (Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range candidates {
		if c == "" {
			continue
		}
		for _, rec := range r.records {
			if rec.Kind == kind && rec.NFCID == c {
				return rec, nil
			}
		}
	}
	return Identity{}, ErrNotFound
}

func (r *MemoryRepository) FindByID(_ context.Context, id string) (Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return Identity{}, ErrNotFound
}

func (r *MemoryRepository) FindByEmail(_ context.Context, email string) (Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.records {
		if rec.Email != "" && strings.EqualFold(rec.Email, email) {
			return rec, nil
		}
	}
	return Identity{}, ErrNotFound
}

func (r *MemoryRepository) UpdatePINHash(_ context.Context, id, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.records {
		if r.records[i].ID == id {
			r.records[i].PINHash = hash
			return nil
		}
	}
	return ErrNotFound
}

// ListBadges returns every record of kind that has an NFC id.
func (r *MemoryRepository) ListBadges(_ context.Context, kind Kind) ([]Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Identity
	for _, rec := range r.records {
		if rec.Kind == kind && rec.NFCID != "" {
			out = append(out, rec)
		}
	}
	return out, nil
}
