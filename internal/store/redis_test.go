package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"vanish.share/internal/models"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	store, err := NewRedisStore(&redis.Options{
		Addr:     "localhost:6379",
		Password: "",
		DB:       0,
	})
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}
	return store
}

func TestRedisStoreConsumeLifecycle(t *testing.T) {
	store := newTestRedisStore(t)
	defer store.Close()
	ctx := context.Background()

	now := time.Now()
	secret := &models.Secret{
		ID:             "redis-test-" + now.Format("150405.000000000"),
		Ciphertext:     []byte("opaque"),
		MaxViews:       2,
		RemainingViews: 2,
		ExpiresAt:      now.Add(time.Hour),
		CreatedAt:      now,
	}
	if err := store.CreateSecret(ctx, secret); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	defer store.DeleteIfExists(ctx, secret.ID)

	got, err := store.GetSecret(ctx, secret.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(got.Ciphertext) != "opaque" {
		t.Fatalf("ciphertext mismatch: got %q", got.Ciphertext)
	}

	consumed, err := store.ConsumeView(ctx, secret.ID)
	if err != nil {
		t.Fatalf("first consume failed: %v", err)
	}
	if consumed.RemainingViews != 1 {
		t.Fatalf("remaining = %d, want 1", consumed.RemainingViews)
	}

	consumed, err = store.ConsumeView(ctx, secret.ID)
	if err != nil {
		t.Fatalf("second consume failed: %v", err)
	}
	if consumed.RemainingViews != 0 {
		t.Fatalf("remaining = %d, want 0", consumed.RemainingViews)
	}

	// Burned at zero: the key is gone.
	if _, err := store.ConsumeView(ctx, secret.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("consume after burn = %v, want ErrNotFound", err)
	}
}

func TestRedisStoreRejectsExpiredCreate(t *testing.T) {
	store := newTestRedisStore(t)
	defer store.Close()
	ctx := context.Background()

	secret := &models.Secret{
		ID:             "redis-dead",
		Ciphertext:     []byte("x"),
		MaxViews:       1,
		RemainingViews: 1,
		ExpiresAt:      time.Now().Add(-time.Hour),
		CreatedAt:      time.Now(),
	}
	if err := store.CreateSecret(ctx, secret); !errors.Is(err, ErrExpired) {
		t.Fatalf("create expired = %v, want ErrExpired", err)
	}
}

func TestRedisStorePolicyRoundTrip(t *testing.T) {
	store := newTestRedisStore(t)
	defer store.Close()
	ctx := context.Background()

	if err := store.UpsertPolicy(ctx, &models.PolicySettings{DisableFileUpload: true}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	p, err := store.GetPolicy(ctx)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !p.DisableFileUpload {
		t.Fatal("disable_file_upload not persisted")
	}
}
