package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/schoolgate/schoolgate/internal/identity"
	"github.com/schoolgate/schoolgate/internal/nfc"
	"github.com/schoolgate/schoolgate/internal/pin"
	"github.com/schoolgate/schoolgate/internal/session"
)

var (
	// ErrLookupRequired is returned when neither a badge nor an email was given.
	ErrLookupRequired = errors.New("either nfcId or email is required")
	// ErrForbidden is returned when a caller manages another profile's PIN
	// without the admin role.
	ErrForbidden = errors.New("not allowed to manage this profile")
)

// Directory is the staff directory the service authenticates against.
type Directory interface {
	Resolve(ctx context.Context, kind identity.Kind, raw nfc.RawTag) (identity.Identity, nfc.CanonicalID, error)
	ByEmail(ctx context.Context, email string) (identity.Identity, error)
	ByID(ctx context.Context, id string) (identity.Identity, error)
	SetPINHash(ctx context.Context, id, hash string) error
}

// Credentials is a badge login attempt. When Email is set the profile is
// looked up by email instead of by badge.
type Credentials struct {
	NFCID string
	PIN   string
	Email string
}

// Service runs badge and PIN authentication.
type Service struct {
	dir    Directory
	issuer *Issuer
	roles  RoleSet
	logger *slog.Logger
}

// NewService creates an auth service.
func NewService(dir Directory, issuer *Issuer, roles RoleSet, logger *slog.Logger) *Service {
	return &Service{dir: dir, issuer: issuer, roles: roles, logger: logger}
}

// Verify checks a login attempt. The PIN shape is checked before any lookup.
// Domain outcomes are returned as a VerificationResult; the error is reserved
// for malformed input, a missing profile on the email path, and directory
// failures.
func (s *Service) Verify(ctx context.Context, c Credentials) (VerificationResult, error) {
	if err := pin.ValidateFormat(c.PIN); err != nil {
		return nil, err
	}

	profile, err := s.lookup(ctx, c.NFCID, c.Email)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			if c.Email != "" {
				return nil, ErrProfileNotFound
			}
			return NotRecognized{}, nil
		}
		return nil, err
	}

	if !s.roles.Allows(profile.Role) {
		return RoleNotAuthorized{IdentityID: profile.ID, Role: profile.Role}, nil
	}
	if !profile.HasPIN() {
		return PinNotConfigured{IdentityID: profile.ID, Email: profile.Email}, nil
	}
	if !pin.Verify(c.PIN, profile.PINHash) {
		return PinRejected{IdentityID: profile.ID}, nil
	}
	return Verified{IdentityID: profile.ID, Email: profile.Email, Role: profile.Role}, nil
}

// Login verifies c and, when verified, issues a session. The returned error
// is a *session.IssuanceError when issuance fails.
func (s *Service) Login(ctx context.Context, c Credentials) (VerificationResult, session.Session, error) {
	result, err := s.Verify(ctx, c)
	if err != nil {
		return nil, session.Session{}, err
	}
	s.logAttempt(c, result)

	verified, ok := result.(Verified)
	if !ok {
		return result, session.Session{}, nil
	}
	sess, err := s.issuer.Issue(ctx, verified)
	if err != nil {
		return result, session.Session{}, err
	}
	return result, sess, nil
}

// PinStatus describes whether a badge holder can use PIN login.
type PinStatus struct {
	Found     bool
	IsStaff   bool
	HasPinSet bool
	ProfileID string
	Email     string
	Name      string
	Role      string
}

// Status reports the PIN state of the profile behind a badge or email. The
// badge is used only when no email is given.
func (s *Service) Status(ctx context.Context, nfcID, email string) (PinStatus, error) {
	email = strings.TrimSpace(email)
	if strings.TrimSpace(nfcID) == "" && email == "" {
		return PinStatus{}, ErrLookupRequired
	}
	profile, err := s.lookup(ctx, nfcID, email)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			if email != "" {
				return PinStatus{}, ErrProfileNotFound
			}
			return PinStatus{}, nil
		}
		return PinStatus{}, err
	}
	status := PinStatus{
		Found:     true,
		IsStaff:   s.roles.Allows(profile.Role),
		ProfileID: profile.ID,
		Email:     profile.Email,
		Name:      profile.DisplayName,
		Role:      profile.Role,
	}
	if status.IsStaff {
		status.HasPinSet = profile.HasPIN()
	}
	return status, nil
}

// Actor is the authenticated caller of a protected operation.
type Actor struct {
	ID   string
	Role string
}

// PinChange selects the profile whose PIN is set. ProfileID takes precedence
// over Email, which takes precedence over NFCID.
type PinChange struct {
	PIN       string
	ProfileID string
	Email     string
	NFCID     string
}

// SetPIN stores a new salted PIN hash. Callers may change their own PIN;
// admins may change anyone's.
func (s *Service) SetPIN(ctx context.Context, actor Actor, req PinChange) (identity.Identity, error) {
	if err := pin.ValidateFormat(req.PIN); err != nil {
		return identity.Identity{}, err
	}

	var (
		profile identity.Identity
		err     error
	)
	switch {
	case strings.TrimSpace(req.ProfileID) != "":
		profile, err = s.dir.ByID(ctx, req.ProfileID)
	case strings.TrimSpace(req.Email) != "":
		profile, err = s.dir.ByEmail(ctx, req.Email)
	case strings.TrimSpace(req.NFCID) != "":
		profile, _, err = s.dir.Resolve(ctx, identity.KindStaff, nfc.RawTag(req.NFCID))
		if errors.Is(err, identity.ErrNotFound) {
			return identity.Identity{}, ErrNotRecognized
		}
	default:
		return identity.Identity{}, ErrLookupRequired
	}
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return identity.Identity{}, ErrProfileNotFound
		}
		return identity.Identity{}, err
	}

	if !s.roles.Allows(profile.Role) {
		return identity.Identity{}, ErrRoleNotAuthorized
	}
	if actor.ID != profile.ID && actor.Role != "admin" {
		return identity.Identity{}, ErrForbidden
	}

	hash, err := pin.HashNew(req.PIN)
	if err != nil {
		return identity.Identity{}, err
	}
	if err := s.dir.SetPINHash(ctx, profile.ID, hash); err != nil {
		return identity.Identity{}, fmt.Errorf("store pin hash: %w", err)
	}
	s.logger.Info("nfc pin set", slog.String("profile_id", profile.ID), slog.String("actor_id", actor.ID))
	profile.PINHash = hash
	return profile, nil
}

func (s *Service) lookup(ctx context.Context, nfcID, email string) (identity.Identity, error) {
	if email = strings.TrimSpace(email); email != "" {
		return s.dir.ByEmail(ctx, email)
	}
	profile, _, err := s.dir.Resolve(ctx, identity.KindStaff, nfc.RawTag(nfcID))
	return profile, err
}

func (s *Service) logAttempt(c Credentials, result VerificationResult) {
	attrs := []any{slog.String("card", nfc.Fingerprint(nfc.Normalize(nfc.RawTag(c.NFCID))))}
	switch r := result.(type) {
	case Verified:
		s.logger.Info("nfc login verified", append(attrs, slog.String("profile_id", r.IdentityID))...)
	case NotRecognized:
		s.logger.Info("nfc login card not recognized", attrs...)
	case RoleNotAuthorized:
		s.logger.Warn("nfc login role not authorized", append(attrs, slog.String("profile_id", r.IdentityID), slog.String("role", r.Role))...)
	case PinNotConfigured:
		s.logger.Info("nfc login pin not configured", append(attrs, slog.String("profile_id", r.IdentityID))...)
	case PinRejected:
		s.logger.Warn("nfc login pin rejected", append(attrs, slog.String("profile_id", r.IdentityID))...)
	}
}
