// Package session mints authenticated sessions for staff who proved
// possession of a badge and PIN. Sessions are created through a one-time
// link token that is generated and redeemed on the server, so no password
// grant is ever involved.
package session

import (
	"context"
	"errors"
	"fmt"
)

// Issuance phases reported by IssuanceError.
const (
	PhaseLinkGeneration  = "link_generation"
	PhaseTokenRedemption = "token_redemption"
)

var (
	ErrTokenInvalid  = errors.New("token is invalid")
	ErrTokenExpired  = errors.New("token has expired")
	ErrTokenRevoked  = errors.New("token has been revoked")
	ErrTokenNotFound = errors.New("token not found")
)

// IssuanceError reports which phase of session creation failed.
type IssuanceError struct {
	Phase string
	Err   error
}

func (e *IssuanceError) Error() string {
	return fmt.Sprintf("session issuance failed during %s: %v", e.Phase, e.Err)
}

func (e *IssuanceError) Unwrap() error { return e.Err }

// User is the authenticated principal embedded in a session.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
	Name  string `json:"name,omitempty"`
}

// Session is a live authenticated session.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         User   `json:"user"`
}

// LinkToken is a one-time login token. It never leaves the server.
type LinkToken string

// Bridge is the identity collaborator that turns an email into a session
// without a password.
type Bridge interface {
	GenerateLink(ctx context.Context, email string) (LinkToken, error)
	Redeem(ctx context.Context, token LinkToken) (Session, error)
}
