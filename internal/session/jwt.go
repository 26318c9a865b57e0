package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/schoolgate/schoolgate/internal/identity"
)

const (
	linkPrefix    = "link:"
	refreshPrefix = "refresh:"
	linkTokenSize = 32
)

// Claims are carried by access tokens.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// RefreshClaims are carried by refresh tokens. TokenID is single use.
type RefreshClaims struct {
	TokenID string `json:"token_id"`
	jwt.RegisteredClaims
}

// Directory loads the profile a session is issued for.
type Directory interface {
	ByEmail(ctx context.Context, email string) (identity.Identity, error)
	ByID(ctx context.Context, id string) (identity.Identity, error)
}

// Config configures a JWTBridge.
type Config struct {
	Issuer        string
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	LinkTTL       time.Duration
}

// JWTBridge is the built-in Bridge. Link tokens and refresh token ids live in
// a TokenStore; sessions are HS256 JWT pairs.
type JWTBridge struct {
	cfg   Config
	dir   Directory
	store TokenStore
	now   func() time.Time
}

// NewJWTBridge creates a bridge.
func NewJWTBridge(cfg Config, dir Directory, store TokenStore) (*JWTBridge, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("access and refresh secrets are required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 || cfg.LinkTTL <= 0 {
		return nil, errors.New("token ttls must be positive")
	}
	return &JWTBridge{cfg: cfg, dir: dir, store: store, now: time.Now}, nil
}

// GenerateLink creates a one-time token bound to email.
func (b *JWTBridge) GenerateLink(ctx context.Context, email string) (LinkToken, error) {
	if email == "" {
		return "", errors.New("email is required")
	}
	raw := make([]byte, linkTokenSize)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate link token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)
	if err := b.store.Put(ctx, linkPrefix+token, email, b.cfg.LinkTTL); err != nil {
		return "", err
	}
	return LinkToken(token), nil
}

// Redeem consumes a link token and returns a session for its email.
func (b *JWTBridge) Redeem(ctx context.Context, token LinkToken) (Session, error) {
	if token == "" {
		return Session{}, ErrTokenInvalid
	}
	email, err := b.store.Take(ctx, linkPrefix+string(token))
	if err != nil {
		return Session{}, err
	}
	profile, err := b.dir.ByEmail(ctx, email)
	if err != nil {
		return Session{}, fmt.Errorf("load profile: %w", err)
	}
	return b.mint(ctx, profile)
}

// Refresh exchanges a refresh token for a new session. Each refresh token
// can be used once.
func (b *JWTBridge) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	claims, err := b.parseRefresh(refreshToken)
	if err != nil {
		return Session{}, err
	}
	userID, err := b.store.Take(ctx, refreshPrefix+claims.TokenID)
	if errors.Is(err, ErrTokenNotFound) {
		return Session{}, ErrTokenRevoked
	}
	if err != nil {
		return Session{}, err
	}
	if userID != claims.Subject {
		return Session{}, ErrTokenInvalid
	}
	profile, err := b.dir.ByID(ctx, userID)
	if err != nil {
		return Session{}, fmt.Errorf("load profile: %w", err)
	}
	return b.mint(ctx, profile)
}

// Revoke invalidates a refresh token. Revoking an already used token is not
// an error.
func (b *JWTBridge) Revoke(ctx context.Context, refreshToken string) error {
	claims, err := b.parseRefresh(refreshToken)
	if err != nil {
		return err
	}
	if _, err := b.store.Take(ctx, refreshPrefix+claims.TokenID); err != nil && !errors.Is(err, ErrTokenNotFound) {
		return err
	}
	return nil
}

// ParseAccess validates an access token and returns its claims.
func (b *JWTBridge) ParseAccess(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if err := b.parse(tokenString, claims, b.cfg.AccessSecret); err != nil {
		return nil, err
	}
	return claims, nil
}

func (b *JWTBridge) parseRefresh(tokenString string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := b.parse(tokenString, claims, b.cfg.RefreshSecret); err != nil {
		return nil, err
	}
	if claims.TokenID == "" || claims.Subject == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func (b *JWTBridge) parse(tokenString string, claims jwt.Claims, secret string) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return []byte(secret), nil
	}, jwt.WithTimeFunc(b.now), jwt.WithIssuer(b.cfg.Issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return ErrTokenInvalid
	}
	if !token.Valid {
		return ErrTokenInvalid
	}
	return nil
}

func (b *JWTBridge) mint(ctx context.Context, profile identity.Identity) (Session, error) {
	now := b.now()
	accessExp := now.Add(b.cfg.AccessTTL)

	access := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Email: profile.Email,
		Role:  profile.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    b.cfg.Issuer,
			Subject:   profile.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(accessExp),
		},
	})
	accessToken, err := access.SignedString([]byte(b.cfg.AccessSecret))
	if err != nil {
		return Session{}, fmt.Errorf("sign access token: %w", err)
	}

	tokenID := uuid.NewString()
	refresh := jwt.NewWithClaims(jwt.SigningMethodHS256, RefreshClaims{
		TokenID: tokenID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    b.cfg.Issuer,
			Subject:   profile.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(b.cfg.RefreshTTL)),
		},
	})
	refreshToken, err := refresh.SignedString([]byte(b.cfg.RefreshSecret))
	if err != nil {
		return Session{}, fmt.Errorf("sign refresh token: %w", err)
	}
	if err := b.store.Put(ctx, refreshPrefix+tokenID, profile.ID, b.cfg.RefreshTTL); err != nil {
		return Session{}, err
	}

	return Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(b.cfg.AccessTTL.Seconds()),
		ExpiresAt:    accessExp.Unix(),
		User: User{
			ID:    profile.ID,
			Email: profile.Email,
			Role:  profile.Role,
			Name:  profile.DisplayName,
		},
	}, nil
}
