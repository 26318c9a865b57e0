package pin

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// Length is the number of digits in a kiosk PIN.
	Length = 4

	saltBytes = 16
)

// ErrMalformedInput is returned for any PIN that is not exactly four ASCII digits.
var ErrMalformedInput = errors.New("PIN must be exactly 4 digits")

// ValidateFormat rejects anything other than exactly four ASCII digits.
func ValidateFormat(pin string) error {
	if len(pin) != Length {
		return ErrMalformedInput
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return ErrMalformedInput
		}
	}
	return nil
}

// Verify reports whether pin matches the stored "salt:hex(sha256(salt+pin))"
// value. Malformed stored values verify as false. Values in bcrypt form, as
// written by the older PIN setup flow, are checked with bcrypt.
func Verify(pin, stored string) bool {
	if ValidateFormat(pin) != nil {
		return false
	}
	if isBcrypt(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(pin)) == nil
	}

	salt, want, ok := strings.Cut(stored, ":")
	if !ok || salt == "" || want == "" {
		return false
	}
	got := digest(salt, pin)
	return subtle.ConstantTimeCompare([]byte(got), []byte(strings.ToLower(want))) == 1
}

// Hash builds the stored form for pin under salt.
func Hash(salt, pin string) (string, error) {
	if err := ValidateFormat(pin); err != nil {
		return "", err
	}
	if salt == "" {
		return "", errors.New("salt is required")
	}
	return salt + ":" + digest(salt, pin), nil
}

// NewSalt returns a random hex salt.
func NewSalt() (string, error) {
	b := make([]byte, saltBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashNew salts and hashes pin with a fresh salt.
func HashNew(pin string) (string, error) {
	salt, err := NewSalt()
	if err != nil {
		return "", err
	}
	return Hash(salt, pin)
}

func digest(salt, pin string) string {
	sum := sha256.Sum256([]byte(salt + pin))
	return hex.EncodeToString(sum[:])
}

func isBcrypt(stored string) bool {
	return strings.HasPrefix(stored, "$2a$") ||
		strings.HasPrefix(stored, "$2b$") ||
		strings.HasPrefix(stored, "$2y$")
}
