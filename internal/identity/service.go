package identity

import (
	"context"
	"strings"

	"github.com/schoolgate/schoolgate/internal/nfc"
)

// Service resolves badges and emails to directory records.
type Service struct {
	repo Repository
}

// NewService creates a new directory service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Resolve normalizes raw, expands it into candidate spellings and looks the
// badge up among identities of kind. An empty canonical id never reaches the
// repository.
func (s *Service) Resolve(ctx context.Context, kind Kind, raw nfc.RawTag) (Identity, nfc.CanonicalID, error) {
	id := nfc.Normalize(raw)
	ident, err := s.ResolveCanonical(ctx, kind, id)
	return ident, id, err
}

// ResolveCanonical looks up an already normalized badge id.
func (s *Service) ResolveCanonical(ctx context.Context, kind Kind, id nfc.CanonicalID) (Identity, error) {
	if id.Empty() {
		return Identity{}, ErrNotFound
	}
	return s.repo.FindByCandidates(ctx, kind, nfc.Candidates(id))
}

// ByEmail looks up a staff profile by email.
func (s *Service) ByEmail(ctx context.Context, email string) (Identity, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return Identity{}, ErrNotFound
	}
	return s.repo.FindByEmail(ctx, email)
}

// ByID looks up a staff profile by id.
func (s *Service) ByID(ctx context.Context, id string) (Identity, error) {
	if strings.TrimSpace(id) == "" {
		return Identity{}, ErrNotFound
	}
	return s.repo.FindByID(ctx, id)
}

// SetPINHash stores a new PIN hash for a staff profile.
func (s *Service) SetPINHash(ctx context.Context, id, hash string) error {
	return s.repo.UpdatePINHash(ctx, id, hash)
}
