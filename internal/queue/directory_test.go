package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/schoolgate/schoolgate/internal/identity"
)

func TestDirectorySnapshotReplaceAndLookup(t *testing.T) {
	db := openTestDB(t)
	dir := db.Directory()
	ctx := context.Background()

	err := dir.Replace(ctx, identity.KindStaff, []identity.Identity{
		{ID: "emp-1", Kind: identity.KindStaff, DisplayName: "Employee", Role: "driver", NFCID: "TCH-243848647"},
		{ID: "tch-1", Kind: identity.KindStaff, DisplayName: "Teacher", Role: "teacher", NFCID: "TCH-243848647"},
		{ID: "tch-2", Kind: identity.KindStaff, DisplayName: "Other", Role: "teacher", NFCID: "FC243848647"},
		{ID: "no-card", Kind: identity.KindStaff},
	})
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if n, _ := dir.Count(ctx, identity.KindStaff); n != 3 {
		t.Fatalf("expected 3 carded records, got %d", n)
	}
	if n, _ := dir.Count(ctx, identity.KindStudent); n != 0 {
		t.Fatalf("kinds must be kept apart, got %d students", n)
	}

	got, err := dir.FindByCandidates(ctx, identity.KindStaff, []string{"", "TCH-243848647", "FC243848647"})
	if err != nil {
		t.Fatalf("FindByCandidates: %v", err)
	}
	if got.ID != "emp-1" || got.Role != "driver" || got.Kind != identity.KindStaff {
		t.Fatalf("expected first listed record for the first candidate, got %+v", got)
	}
	if _, err := dir.FindByCandidates(ctx, identity.KindStudent, []string{"TCH-243848647"}); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for another kind, got %v", err)
	}

	if err := dir.Replace(ctx, identity.KindStaff, []identity.Identity{{ID: "tch-2", NFCID: "FC243848647"}}); err != nil {
		t.Fatalf("Replace again: %v", err)
	}
	if _, err := dir.FindByCandidates(ctx, identity.KindStaff, []string{"TCH-243848647"}); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected old records replaced, got %v", err)
	}
}

func TestDirectorySnapshotBacksOfflineResolve(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	online := identity.NewMemoryRepository(
		identity.Identity{ID: "stu-1", Kind: identity.KindStudent, DisplayName: "Amal Said", NFCID: "12AB34CD", ParentID: "par-1"},
	)
	repo := identity.NewOfflineRepository(unreachableRepo{online}, online, db.Directory(), nil)
	if err := repo.Refresh(ctx, identity.KindStudent); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	got, _, err := identity.NewService(repo).Resolve(ctx, identity.KindStudent, "12:ab:34:cd")
	if err != nil || got.ID != "stu-1" || got.ParentID != "par-1" {
		t.Fatalf("offline resolve = %+v, %v", got, err)
	}
}

type unreachableRepo struct {
	identity.Repository
}

func (unreachableRepo) FindByCandidates(context.Context, identity.Kind, []string) (identity.Identity, error) {
	return identity.Identity{}, errors.New("dial tcp: i/o timeout")
}
