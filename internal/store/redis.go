package store

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"vanish.share/internal/models"
)

var _ Store = (*RedisStore)(nil)

// RedisStore keeps each secret as a gob blob keyed by id, with the redis TTL
// mirroring expiresAt so expired rows age out without a sweep. ConsumeView
// uses an optimistic WATCH transaction: a concurrent write to the same key
// aborts the transaction and the decrement is retried.
type RedisStore struct {
	client *redis.Client
}

const (
	policyKey       = "policy:settings"
	consumeAttempts = 3
)

func NewRedisStore(options *redis.Options) (*RedisStore, error) {
	client := redis.NewClient(options)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

func (r *RedisStore) CreateSecret(ctx context.Context, secret *models.Secret) error {
	data, err := encodeSecret(secret)
	if err != nil {
		return err
	}

	ttl := time.Until(secret.ExpiresAt)
	if ttl <= 0 {
		return ErrExpired
	}

	return r.client.Set(ctx, secretKey(secret.ID), data, ttl).Err()
}

func (r *RedisStore) GetSecret(ctx context.Context, id string) (*models.Secret, error) {
	data, err := r.client.Get(ctx, secretKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeSecret(data)
}

func (r *RedisStore) ConsumeView(ctx context.Context, id string) (*models.Secret, error) {
	key := secretKey(id)
	var consumed *models.Secret

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return err
		}

		secret, err := decodeSecret(data)
		if err != nil {
			return err
		}

		if time.Now().After(secret.ExpiresAt) {
			return ErrExpired
		}

		if secret.RemainingViews <= 0 {
			return ErrExhausted
		}

		secret.RemainingViews--
		consumed = secret

		newData, err := encodeSecret(secret)
		if err != nil {
			return err
		}

		ttl := tx.TTL(ctx, key).Val()
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if secret.RemainingViews == 0 && !secret.PreventBurn {
				pipe.Del(ctx, key)
			} else if ttl > 0 {
				pipe.Set(ctx, key, newData, ttl)
			}
			return nil
		})
		return err
	}

	for i := 0; i < consumeAttempts; i++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return consumed, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, ErrExpired) {
			_, _ = r.DeleteIfExists(ctx, id)
			return nil, ErrExpired
		}
		return nil, err
	}

	return nil, redis.TxFailedErr
}

func (r *RedisStore) DeleteIfExists(ctx context.Context, id string) (bool, error) {
	n, err := r.client.Del(ctx, secretKey(id)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteExpired is a no-op for redis: the key TTL set at creation already
// removes rows at expiry. Kept so the sweeper runs identically everywhere.
func (r *RedisStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (r *RedisStore) UpsertPolicy(ctx context.Context, policy *models.PolicySettings) error {
	cp := *policy
	cp.UpdatedAt = time.Now()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&cp); err != nil {
		return err
	}
	return r.client.Set(ctx, policyKey, buf.Bytes(), 0).Err()
}

func (r *RedisStore) GetPolicy(ctx context.Context) (*models.PolicySettings, error) {
	data, err := r.client.Get(ctx, policyKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrPolicyNotFound
		}
		return nil, err
	}

	var policy models.PolicySettings
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&policy); err != nil {
		return nil, err
	}
	return &policy, nil
}

func (r *RedisStore) RecordVisit(ctx context.Context, sample *models.VisitorSample) error {
	// Dedupe key doubles as the sample record; kept for two bucket lengths
	// so the current bucket never loses its dedupe set mid-month.
	key := visitRedisKey(sample.VisitorHash, sample.Path, sample.Bucket)
	return r.client.SetNX(ctx, key, sample.RecordedAt.Unix(), 62*24*time.Hour).Err()
}

func (r *RedisStore) IsDuplicateVisit(ctx context.Context, hash, path, bucket string) (bool, error) {
	n, err := r.client.Exists(ctx, visitRedisKey(hash, path, bucket)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

// Helpers

func secretKey(id string) string {
	return "secret:" + id
}

func visitRedisKey(hash, path, bucket string) string {
	return "visit:" + bucket + ":" + path + ":" + hash
}

func encodeSecret(secret *models.Secret) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(secret); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeSecret(data []byte) (*models.Secret, error) {
	var secret models.Secret
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&secret); err != nil {
		return nil, err
	}
	return &secret, nil
}
