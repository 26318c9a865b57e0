package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/schoolgate/schoolgate/internal/identity"
)

func testConfig() Config {
	return Config{
		Issuer:        "schoolgate-test",
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    24 * time.Hour,
		LinkTTL:       time.Minute,
	}
}

func newTestBridge(t *testing.T, store TokenStore) (*JWTBridge, identity.Identity) {
	t.Helper()
	staff := identity.Identity{ID: uuid.NewString(), Kind: identity.KindStaff, Email: "driver@school.test", Role: "driver", DisplayName: "Musa Driver"}
	dir := identity.NewService(identity.NewMemoryRepository(staff))
	b, err := NewJWTBridge(testConfig(), dir, store)
	if err != nil {
		t.Fatalf("new bridge: %v", err)
	}
	return b, staff
}

func redisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, "session:")
}

func TestBridgeLinkIsSingleUse(t *testing.T) {
	stores := map[string]TokenStore{"memory": NewMemoryStore(), "redis": redisStore(t)}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			b, staff := newTestBridge(t, store)
			ctx := context.Background()

			link, err := b.GenerateLink(ctx, staff.Email)
			if err != nil {
				t.Fatalf("generate link: %v", err)
			}
			sess, err := b.Redeem(ctx, link)
			if err != nil {
				t.Fatalf("redeem: %v", err)
			}
			if sess.AccessToken == "" || sess.RefreshToken == "" {
				t.Fatal("expected non-empty tokens")
			}
			if sess.User.ID != staff.ID || sess.User.Role != "driver" {
				t.Fatalf("unexpected user %+v", sess.User)
			}
			if sess.ExpiresIn != int64((15 * time.Minute).Seconds()) {
				t.Fatalf("unexpected expires_in %d", sess.ExpiresIn)
			}
			if _, err := b.Redeem(ctx, link); !errors.Is(err, ErrTokenNotFound) {
				t.Fatalf("expected second redeem to fail, got %v", err)
			}
		})
	}
}

func TestBridgeAccessTokenClaims(t *testing.T) {
	b, staff := newTestBridge(t, NewMemoryStore())
	ctx := context.Background()
	link, _ := b.GenerateLink(ctx, staff.Email)
	sess, err := b.Redeem(ctx, link)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	claims, err := b.ParseAccess(sess.AccessToken)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if claims.Subject != staff.ID || claims.Email != staff.Email {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if _, err := b.ParseAccess(sess.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("refresh token accepted as access token: %v", err)
	}
}

func TestBridgeAccessTokenExpires(t *testing.T) {
	b, staff := newTestBridge(t, NewMemoryStore())
	ctx := context.Background()
	link, _ := b.GenerateLink(ctx, staff.Email)
	sess, _ := b.Redeem(ctx, link)

	b.now = func() time.Time { return time.Now().Add(time.Hour) }
	if _, err := b.ParseAccess(sess.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestBridgeRefreshRotates(t *testing.T) {
	b, staff := newTestBridge(t, redisStore(t))
	ctx := context.Background()
	link, _ := b.GenerateLink(ctx, staff.Email)
	first, err := b.Redeem(ctx, link)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}

	second, err := b.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}
	if _, err := b.Refresh(ctx, first.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected reused refresh token to be revoked, got %v", err)
	}

	if err := b.Revoke(ctx, second.RefreshToken); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := b.Refresh(ctx, second.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected revoked token to fail, got %v", err)
	}
}

func TestBridgeRedeemUnknownEmail(t *testing.T) {
	b, _ := newTestBridge(t, NewMemoryStore())
	ctx := context.Background()
	link, err := b.GenerateLink(ctx, "nobody@school.test")
	if err != nil {
		t.Fatalf("generate link: %v", err)
	}
	if _, err := b.Redeem(ctx, link); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected identity.ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	s := NewMemoryStore()
	base := time.Now()
	s.now = func() time.Time { return base }
	ctx := context.Background()
	if err := s.Put(ctx, "k", "v", time.Second); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(ctx, "k", "v2", time.Second); err == nil {
		t.Fatal("expected duplicate put to fail")
	}
	s.now = func() time.Time { return base.Add(2 * time.Second) }
	if _, err := s.Take(ctx, "k"); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected expired token, got %v", err)
	}
}
