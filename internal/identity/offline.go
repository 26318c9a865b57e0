package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultRetryPrimaryAfter is how long OfflineRepository answers from its
// snapshot after the directory failed before asking the directory again.
const DefaultRetryPrimaryAfter = 30 * time.Second

// Lister enumerates every badge holder of a kind.
type Lister interface {
	ListBadges(ctx context.Context, kind Kind) ([]Identity, error)
}

// Snapshot is a local copy of badge holders. Records never carry PIN hashes.
type Snapshot interface {
	FindByCandidates(ctx context.Context, kind Kind, candidates []string) (Identity, error)
	Replace(ctx context.Context, kind Kind, records []Identity) error
	Count(ctx context.Context, kind Kind) (int, error)
}

// OfflineRepository resolves badges against the directory and falls back to
// a snapshot while the directory cannot be reached. Lookups other than badge
// resolution always go to the directory.
type OfflineRepository struct {
	Repository
	lister   Lister
	snapshot Snapshot
	logger   *slog.Logger
	now      func() time.Time
	backoff  time.Duration

	mu        sync.Mutex
	downUntil time.Time
}

// NewOfflineRepository wraps primary. lister feeds Refresh and is usually
// the same directory as primary.
func NewOfflineRepository(primary Repository, lister Lister, snapshot Snapshot, logger *slog.Logger) *OfflineRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &OfflineRepository{
		Repository: primary,
		lister:     lister,
		snapshot:   snapshot,
		logger:     logger,
		now:        time.Now,
		backoff:    DefaultRetryPrimaryAfter,
	}
}

func (r *OfflineRepository) FindByCandidates(ctx context.Context, kind Kind, candidates []string) (Identity, error) {
	if !r.primaryDown() {
		ident, err := r.Repository.FindByCandidates(ctx, kind, candidates)
		if err == nil || errors.Is(err, ErrNotFound) {
			return ident, err
		}
		r.markDown()
		r.logger.Warn("directory lookup failed, using offline snapshot", slog.String("kind", string(kind)), slog.Any("error", err))
		ident, serr := r.fromSnapshot(ctx, kind, candidates)
		if serr != nil && !errors.Is(serr, ErrNotFound) {
			return Identity{}, errors.Join(err, serr)
		}
		return ident, serr
	}
	return r.fromSnapshot(ctx, kind, candidates)
}

func (r *OfflineRepository) fromSnapshot(ctx context.Context, kind Kind, candidates []string) (Identity, error) {
	n, err := r.snapshot.Count(ctx, kind)
	if err != nil {
		return Identity{}, fmt.Errorf("offline snapshot: %w", err)
	}
	if n == 0 {
		return Identity{}, fmt.Errorf("offline snapshot has no %s records", kind)
	}
	return r.snapshot.FindByCandidates(ctx, kind, candidates)
}

func (r *OfflineRepository) primaryDown() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.now().Before(r.downUntil)
}

func (r *OfflineRepository) markDown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.downUntil = r.now().Add(r.backoff)
}

// Refresh replaces the snapshot of each kind with the directory's current
// badge holders. A kind whose listing fails keeps its previous snapshot.
func (r *OfflineRepository) Refresh(ctx context.Context, kinds ...Kind) error {
	var errs []error
	for _, kind := range kinds {
		records, err := r.lister.ListBadges(ctx, kind)
		if err != nil {
			errs = append(errs, fmt.Errorf("list %s badges: %w", kind, err))
			continue
		}
		for i := range records {
			records[i].PINHash = ""
		}
		if err := r.snapshot.Replace(ctx, kind, records); err != nil {
			errs = append(errs, fmt.Errorf("store %s snapshot: %w", kind, err))
			continue
		}
		r.mu.Lock()
		r.downUntil = time.Time{}
		r.mu.Unlock()
		r.logger.Info("offline snapshot refreshed", slog.String("kind", string(kind)), slog.Int("records", len(records)))
	}
	return errors.Join(errs...)
}

// RunRefresher refreshes the snapshot immediately and then every interval
// until ctx is done.
func (r *OfflineRepository) RunRefresher(ctx context.Context, interval time.Duration, kinds ...Kind) {
	refresh := func() {
		if err := r.Refresh(ctx, kinds...); err != nil && ctx.Err() == nil {
			r.logger.Warn("offline snapshot refresh failed", slog.Any("error", err))
		}
	}
	refresh()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}
