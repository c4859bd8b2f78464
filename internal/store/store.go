package store

import (
	"context"
	"errors"
	"time"

	"vanish.share/internal/models"
)

var (
	ErrNotFound       = errors.New("secret not found")
	ErrExpired        = errors.New("secret has expired")
	ErrExhausted      = errors.New("secret has no views remaining")
	ErrPolicyNotFound = errors.New("policy settings not found")
)

// Store is the persistence contract the engine runs on. ConsumeView is the
// serialization point for concurrent views of one secret: the decrement and
// the remaining-views check happen in a single atomic step, and the record
// is deleted in the same step when the budget hits zero and PreventBurn is
// false. Implementations must never read-then-write the counter.
type Store interface {
	CreateSecret(ctx context.Context, secret *models.Secret) error
	GetSecret(ctx context.Context, id string) (*models.Secret, error)
	// ConsumeView atomically decrements the view budget and returns the
	// record with the post-decrement count. Exhausted records with
	// PreventBurn set are retained and keep returning ErrExhausted.
	ConsumeView(ctx context.Context, id string) (*models.Secret, error)
	// DeleteIfExists removes a secret; a missing row is not an error.
	DeleteIfExists(ctx context.Context, id string) (bool, error)
	// DeleteExpired removes every secret with expiresAt <= now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)

	UpsertPolicy(ctx context.Context, policy *models.PolicySettings) error
	GetPolicy(ctx context.Context) (*models.PolicySettings, error)

	RecordVisit(ctx context.Context, sample *models.VisitorSample) error
	IsDuplicateVisit(ctx context.Context, hash, path, bucket string) (bool, error)

	Close() error
}
