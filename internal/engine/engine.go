// Package engine implements the secret lifecycle core: admission checks,
// atomic view consumption with burn semantics, and the background expiry
// sweep. The store's conditional update is the serialization point for
// concurrent views; the engine never holds cross-request locks.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"vanish.share/internal/analytics"
	"vanish.share/internal/crypto"
	"vanish.share/internal/models"
	"vanish.share/internal/store"
)

// ErrInvalidTTL is returned when the requested lifetime is not one of the
// configured valid durations. It is a request-shape problem, not a denial.
var ErrInvalidTTL = errors.New("requested ttl is not an allowed duration")

// Limits holds the instance-wide creation bounds.
type Limits struct {
	// TTLOptions enumerates the valid secret lifetimes.
	TTLOptions []time.Duration
	// DefaultTTL applies when a request leaves the lifetime unset.
	DefaultTTL time.Duration
	// MaxViewsLimit caps the requested view budget.
	MaxViewsLimit int
	// EnableBurnAfterTime gates exhaustion-burn globally. When false,
	// secrets survive view exhaustion and wait for the TTL sweep.
	EnableBurnAfterTime bool
	// StoreTimeout bounds every store call the engine issues.
	StoreTimeout time.Duration
}

// CreateRequest is a creation attempt after outer-layer validation.
type CreateRequest struct {
	Ciphertext     []byte
	EncryptedTitle []byte
	MaxViews       int
	TTL            time.Duration
	Password       string
	AllowedIP      string
	PreventBurn    bool
	HasFile        bool
	CreatorIP      string
	OwnerID        string
	Privileged     bool
}

type CreateResult struct {
	ID        string
	ExpiresAt time.Time
	MaxViews  int
}

type ViewResult struct {
	Ciphertext     []byte
	EncryptedTitle []byte
	ViewsRemaining int
}

// Status describes a secret without consuming a view.
type Status struct {
	ID             string
	Exists         bool
	Expired        bool
	ViewsRemaining int
	ExpiresAt      time.Time
}

type Engine struct {
	store     store.Store
	gate      *AccessGate
	limits    Limits
	analytics *analytics.Recorder
	logger    *slog.Logger
	now       func() time.Time
}

func New(st store.Store, gate *AccessGate, limits Limits, recorder *analytics.Recorder, logger *slog.Logger) *Engine {
	return &Engine{
		store:     st,
		gate:      gate,
		limits:    limits,
		analytics: recorder,
		logger:    logger.With(slog.String("component", "engine")),
		now:       time.Now,
	}
}

// CreateSecret admits and persists a new secret. The view budget is clamped
// to the instance limit; the lifetime must come from the allowed set. When
// burn-after-time is disabled instance-wide, PreventBurn is coerced true so
// exhausted secrets are retained until the TTL sweep.
func (e *Engine) CreateSecret(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if d := e.gate.EvaluateCreate(req.HasFile, req.Privileged); d != nil {
		return nil, d
	}

	ttl := req.TTL
	if ttl == 0 {
		ttl = e.limits.DefaultTTL
	}
	if !e.ttlAllowed(ttl) {
		return nil, ErrInvalidTTL
	}

	maxViews := clampViews(req.MaxViews, e.limits.MaxViewsLimit)

	preventBurn := req.PreventBurn
	if !e.limits.EnableBurnAfterTime {
		preventBurn = true
	}

	var passwordHash []byte
	if req.Password != "" {
		hash, err := crypto.HashPassword(req.Password)
		if err != nil {
			return nil, deny(ReasonStoreUnavailable, "could not process request")
		}
		passwordHash = hash
	}

	now := e.now()
	secret := &models.Secret{
		ID:             crypto.GenerateID(),
		Ciphertext:     req.Ciphertext,
		EncryptedTitle: req.EncryptedTitle,
		MaxViews:       maxViews,
		RemainingViews: maxViews,
		PreventBurn:    preventBurn,
		PasswordHash:   passwordHash,
		AllowedIP:      req.AllowedIP,
		CreatorIP:      req.CreatorIP,
		OwnerID:        req.OwnerID,
		ExpiresAt:      now.Add(ttl),
		CreatedAt:      now,
	}

	storeCtx, cancel := e.storeContext(ctx)
	defer cancel()
	if err := e.store.CreateSecret(storeCtx, secret); err != nil {
		e.logger.Error("secret creation failed", slog.String("error", err.Error()))
		return nil, deny(ReasonStoreUnavailable, "temporarily unable to store secret")
	}

	return &CreateResult{ID: secret.ID, ExpiresAt: secret.ExpiresAt, MaxViews: maxViews}, nil
}

// ViewSecret runs the admission checks and, when admissible, consumes one
// view atomically. Under concurrent callers on the same id, at most
// maxViews calls ever receive a payload; the rest observe a denial.
func (e *Engine) ViewSecret(ctx context.Context, id string, attempt ViewAttempt) (*ViewResult, error) {
	storeCtx, cancel := e.storeContext(ctx)
	defer cancel()

	secret, err := e.store.GetSecret(storeCtx, id)
	if err != nil {
		return nil, e.mapStoreError(err)
	}

	if d := e.gate.EvaluateView(storeCtx, secret, attempt); d != nil {
		return nil, d
	}

	consumed, err := e.store.ConsumeView(storeCtx, id)
	if err != nil {
		return nil, e.mapStoreError(err)
	}

	if consumed.RemainingViews < 0 {
		// The store broke its atomicity contract; do not serve.
		e.logger.Error("INVARIANT VIOLATION: negative remaining views",
			slog.String("id", id),
			slog.Int("remaining_views", consumed.RemainingViews))
		return nil, deny(ReasonStoreUnavailable, "internal error")
	}

	if e.analytics != nil {
		// Fire and forget: analytics are advisory, never authorizing.
		go e.analytics.Record("/s/"+id, attempt.RemoteIP, e.now())
	}

	return &ViewResult{
		Ciphertext:     consumed.Ciphertext,
		EncryptedTitle: consumed.EncryptedTitle,
		ViewsRemaining: consumed.RemainingViews,
	}, nil
}

// SecretStatus reports existence and expiry metadata without consuming a
// view and without requiring credentials.
func (e *Engine) SecretStatus(ctx context.Context, id string) (*Status, error) {
	storeCtx, cancel := e.storeContext(ctx)
	defer cancel()

	secret, err := e.store.GetSecret(storeCtx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &Status{ID: id}, nil
		}
		return nil, e.mapStoreError(err)
	}

	if secret.Expired(e.now()) {
		return &Status{ID: id, Expired: true}, nil
	}

	return &Status{
		ID:             id,
		Exists:         true,
		ViewsRemaining: secret.RemainingViews,
		ExpiresAt:      secret.ExpiresAt,
	}, nil
}

// CheckSignup is the account-creation admission pre-check for the outer
// auth layer.
func (e *Engine) CheckSignup(email string) error {
	if d := e.gate.EvaluateSignup(email); d != nil {
		return d
	}
	return nil
}

func (e *Engine) ttlAllowed(ttl time.Duration) bool {
	for _, opt := range e.limits.TTLOptions {
		if ttl == opt {
			return true
		}
	}
	return false
}

func (e *Engine) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.limits.StoreTimeout)
}

func (e *Engine) mapStoreError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return deny(ReasonNotFound, "secret not found")
	case errors.Is(err, store.ErrExpired):
		return deny(ReasonExpired, "secret has expired")
	case errors.Is(err, store.ErrExhausted):
		return deny(ReasonExhausted, "secret has no views remaining")
	default:
		e.logger.Error("store call failed", slog.String("error", err.Error()))
		return deny(ReasonStoreUnavailable, "temporarily unavailable")
	}
}

func clampViews(val, maxVal int) int {
	if val <= 0 {
		return 1
	}
	if val > maxVal {
		return maxVal
	}
	return val
}
