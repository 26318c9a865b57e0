package auth

import (
	"context"
	"log/slog"

	"github.com/schoolgate/schoolgate/internal/session"
)

// Issuer turns a Verified result into a session through the bridge's two
// server-side steps. The link token never leaves this function.
type Issuer struct {
	bridge session.Bridge
	logger *slog.Logger
}

// NewIssuer creates an issuer.
func NewIssuer(bridge session.Bridge, logger *slog.Logger) *Issuer {
	return &Issuer{bridge: bridge, logger: logger}
}

// Issue creates a session for v. Failures are *session.IssuanceError.
func (i *Issuer) Issue(ctx context.Context, v Verified) (session.Session, error) {
	link, err := i.bridge.GenerateLink(ctx, v.Email)
	if err != nil {
		i.logger.Error("session link generation failed", slog.String("profile_id", v.IdentityID), slog.Any("error", err))
		return session.Session{}, &session.IssuanceError{Phase: session.PhaseLinkGeneration, Err: err}
	}
	sess, err := i.bridge.Redeem(ctx, link)
	if err != nil {
		i.logger.Error("session token redemption failed", slog.String("profile_id", v.IdentityID), slog.Any("error", err))
		return session.Session{}, &session.IssuanceError{Phase: session.PhaseTokenRedemption, Err: err}
	}
	i.logger.Info("session created", slog.String("profile_id", v.IdentityID), slog.String("role", v.Role))
	return sess, nil
}
