package identity

import "errors"

// Kind separates the two populations that carry badges.
type Kind string

const (
	KindStudent Kind = "student"
	KindStaff   Kind = "staff"
)

// ErrNotFound is returned when no directory record matches.
var ErrNotFound = errors.New("identity not found")

// Identity is a directory record resolved from a badge or an email.
// For staff, ID is the profile id and PINHash holds the stored
// "salt:hash" value (empty when no PIN was ever set).
type Identity struct {
	ID          string
	Kind        Kind
	DisplayName string
	Email       string
	Role        string
	NFCID       string
	PINHash     string
	ParentID    string
}

// HasPIN reports whether a kiosk PIN was configured for the identity.
func (i Identity) HasPIN() bool {
	return i.PINHash != ""
}

// Valid reports whether k names a known population.
func (k Kind) Valid() bool {
	return k == KindStudent || k == KindStaff
}
