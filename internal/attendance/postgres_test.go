package attendance

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestTransmissionErrorClassifiesCauses(t *testing.T) {
	cases := []struct {
		name        string
		err         error
		unreachable bool
		permanent   bool
	}{
		{name: "not null violation", err: &pgconn.PgError{Code: "23502"}, permanent: true},
		{name: "bad datetime", err: &pgconn.PgError{Code: "22008"}, permanent: true},
		{name: "deadline", err: fmt.Errorf("exec: %w", context.DeadlineExceeded), unreachable: true},
		{name: "serialization failure", err: &pgconn.PgError{Code: "40001"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := transmissionError(tc.err)
			if !errors.Is(err, ErrTransmission) {
				t.Fatalf("expected transmission error, got %v", err)
			}
			if got := errors.Is(err, ErrUnreachable); got != tc.unreachable {
				t.Fatalf("unreachable = %v, want %v", got, tc.unreachable)
			}
			if got := IsPermanent(err); got != tc.permanent {
				t.Fatalf("permanent = %v, want %v", got, tc.permanent)
			}
		})
	}
}

func TestIsPermanentCoversValidation(t *testing.T) {
	err := newEvent("", ActionCheckIn, time.Date(2024, 3, 4, 7, 0, 0, 0, time.UTC)).Validate()
	if !IsPermanent(err) {
		t.Fatalf("validation failure should be permanent: %v", err)
	}
	if IsPermanent(fmt.Errorf("%w: %w", ErrTransmission, ErrUnreachable)) {
		t.Fatal("connectivity failure should not be permanent")
	}
}
