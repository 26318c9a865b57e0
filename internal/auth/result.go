package auth

import "errors"

var (
	ErrNotRecognized     = errors.New("NFC card not recognized")
	ErrPinNotConfigured  = errors.New("PIN not set")
	ErrPinRejected       = errors.New("incorrect PIN")
	ErrRoleNotAuthorized = errors.New("NFC login is only available for staff accounts")
	ErrProfileNotFound   = errors.New("profile not found")
)

// VerificationResult is the outcome of checking a badge and PIN. It is one of
// NotRecognized, PinNotConfigured, PinRejected, RoleNotAuthorized or Verified.
type VerificationResult interface {
	// Err returns the sentinel error for failed outcomes and nil for Verified.
	Err() error
	verificationResult()
}

// NotRecognized means no staff record matched the badge.
type NotRecognized struct{}

// PinNotConfigured means the staff member has never set a kiosk PIN.
type PinNotConfigured struct {
	IdentityID string
	Email      string
}

// PinRejected means the PIN did not match.
type PinRejected struct {
	IdentityID string
}

// RoleNotAuthorized means the profile's role may not use badge login.
type RoleNotAuthorized struct {
	IdentityID string
	Role       string
}

// Verified is the only result a session can be issued for.
type Verified struct {
	IdentityID string
	Email      string
	Role       string
}

func (NotRecognized) Err() error     { return ErrNotRecognized }
func (PinNotConfigured) Err() error  { return ErrPinNotConfigured }
func (PinRejected) Err() error       { return ErrPinRejected }
func (RoleNotAuthorized) Err() error { return ErrRoleNotAuthorized }
func (Verified) Err() error          { return nil }

func (NotRecognized) verificationResult()     {}
func (PinNotConfigured) verificationResult()  {}
func (PinRejected) verificationResult()       {}
func (RoleNotAuthorized) verificationResult() {}
func (Verified) verificationResult()          {}
