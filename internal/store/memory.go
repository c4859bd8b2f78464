package store

import (
	"context"
	"sync"
	"time"

	"vanish.share/internal/models"
)

// Compile-time interface check
var _ Store = (*MemoryStore)(nil)

// MemoryStore is the single-process reference backend. The mutex stands in
// for the atomic conditional update a shared store provides.
type MemoryStore struct {
	mu      sync.RWMutex
	secrets map[string]*models.Secret
	policy  *models.PolicySettings
	visits  map[string]struct{}
	samples []models.VisitorSample
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		secrets: make(map[string]*models.Secret),
		visits:  make(map[string]struct{}),
	}
}

func (s *MemoryStore) CreateSecret(ctx context.Context, secret *models.Secret) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *secret
	s.secrets[secret.ID] = &cp
	return nil
}

func (s *MemoryStore) GetSecret(ctx context.Context, id string) (*models.Secret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	secret, ok := s.secrets[id]
	if !ok {
		return nil, ErrNotFound
	}

	cp := *secret
	return &cp, nil
}

func (s *MemoryStore) ConsumeView(ctx context.Context, id string) (*models.Secret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	secret, ok := s.secrets[id]
	if !ok {
		return nil, ErrNotFound
	}

	if time.Now().After(secret.ExpiresAt) {
		delete(s.secrets, id)
		return nil, ErrExpired
	}

	if secret.RemainingViews <= 0 {
		return nil, ErrExhausted
	}

	secret.RemainingViews--

	cp := *secret
	if secret.RemainingViews == 0 && !secret.PreventBurn {
		delete(s.secrets, id)
	}
	return &cp, nil
}

func (s *MemoryStore) DeleteIfExists(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.secrets[id]
	delete(s.secrets, id)
	return ok, nil
}

func (s *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, secret := range s.secrets {
		if !now.Before(secret.ExpiresAt) {
			delete(s.secrets, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryStore) UpsertPolicy(ctx context.Context, policy *models.PolicySettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *policy
	cp.UpdatedAt = time.Now()
	s.policy = &cp
	return nil
}

func (s *MemoryStore) GetPolicy(ctx context.Context) (*models.PolicySettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.policy == nil {
		return nil, ErrPolicyNotFound
	}
	cp := *s.policy
	return &cp, nil
}

func (s *MemoryStore) RecordVisit(ctx context.Context, sample *models.VisitorSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.visits[visitKey(sample.VisitorHash, sample.Path, sample.Bucket)] = struct{}{}
	s.samples = append(s.samples, *sample)
	return nil
}

func (s *MemoryStore) IsDuplicateVisit(ctx context.Context, hash, path, bucket string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.visits[visitKey(hash, path, bucket)]
	return ok, nil
}

// Samples returns recorded visitor samples, for tests.
func (s *MemoryStore) Samples() []models.VisitorSample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.VisitorSample, len(s.samples))
	copy(out, s.samples)
	return out
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.secrets = nil
	s.visits = nil
	return nil
}

func visitKey(hash, path, bucket string) string {
	return bucket + "|" + path + "|" + hash
}
