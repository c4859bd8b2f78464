package engine

import (
	"context"
	"log/slog"
	"time"

	"vanish.share/internal/crypto"
	"vanish.share/internal/models"
	"vanish.share/internal/policy"
	"vanish.share/internal/store"
)

// ViewAttempt carries the credentials a caller presents with a view request.
type ViewAttempt struct {
	Password string
	RemoteIP string
}

// AccessGate evaluates whether an attempt is admissible. Checks short-circuit
// in a fixed order; the first failure wins. Deny paths have no side effects
// except the eager delete of an already-expired secret, which is idempotent
// against the sweeper.
type AccessGate struct {
	store  store.Store
	policy *policy.Cache
	logger *slog.Logger
	now    func() time.Time
}

func NewAccessGate(st store.Store, cache *policy.Cache, logger *slog.Logger) *AccessGate {
	return &AccessGate{
		store:  st,
		policy: cache,
		logger: logger.With(slog.String("component", "access_gate")),
		now:    time.Now,
	}
}

// EvaluateView runs the read-path checks: expiry, exhaustion, password,
// IP allowlist. Returns nil when the attempt is admissible.
func (g *AccessGate) EvaluateView(ctx context.Context, secret *models.Secret, attempt ViewAttempt) *Denial {
	if secret.Expired(g.now()) {
		// Eager delete; the sweeper will also get here eventually.
		if _, err := g.store.DeleteIfExists(ctx, secret.ID); err != nil {
			g.logger.Warn("eager delete of expired secret failed",
				slog.String("id", secret.ID),
				slog.String("error", err.Error()))
		}
		return deny(ReasonExpired, "secret has expired")
	}

	if secret.Exhausted() {
		return deny(ReasonExhausted, "secret has no views remaining")
	}

	if len(secret.PasswordHash) > 0 {
		if attempt.Password == "" || !crypto.VerifyPassword(secret.PasswordHash, attempt.Password) {
			return deny(ReasonUnauthorized, "invalid password")
		}
	}

	settings := g.policy.Current()
	if secret.AllowedIP != "" && !settings.HideAllowedIPInput {
		if attempt.RemoteIP != secret.AllowedIP {
			return deny(ReasonForbidden, "access not permitted from this address")
		}
	}

	return nil
}

// EvaluateCreate runs the creation-path policy gates. readOnly blocks
// creation for non-privileged roles; file-bearing creations additionally
// honor disableFileUpload.
func (g *AccessGate) EvaluateCreate(hasFile, privileged bool) *Denial {
	settings := g.policy.Current()

	if settings.ReadOnly && !privileged {
		return deny(ReasonPolicyDenied, "instance is in read-only mode")
	}
	if hasFile && settings.DisableFileUpload {
		return deny(ReasonPolicyDenied, "file uploads are disabled")
	}
	return nil
}

// EvaluateSignup runs the account-creation admission checks. Session
// issuance lives outside this engine; the outer auth layer calls this as a
// pre-check before creating an account.
func (g *AccessGate) EvaluateSignup(email string) *Denial {
	settings := g.policy.Current()

	if settings.DisableUsers {
		return deny(ReasonPolicyDenied, "user accounts are disabled")
	}
	if settings.DisableUserAccountCreation {
		return deny(ReasonPolicyDenied, "account creation is disabled")
	}
	if !settings.EmailAllowed(email) {
		return deny(ReasonPolicyDenied, "email domain not permitted")
	}
	return nil
}
