// Package policy holds the process-local mirror of the instance-wide
// settings singleton. Reads never block on the store; cross-process
// staleness is bounded by the refresh interval.
package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"vanish.share/internal/models"
	"vanish.share/internal/store"
)

type Cache struct {
	store    store.Store
	defaults models.PolicySettings
	interval time.Duration
	logger   *slog.Logger

	mu      sync.RWMutex
	current models.PolicySettings
	loaded  bool
}

func NewCache(st store.Store, defaults models.PolicySettings, interval time.Duration, logger *slog.Logger) *Cache {
	return &Cache{
		store:    st,
		defaults: defaults,
		interval: interval,
		logger:   logger.With(slog.String("component", "policy_cache")),
	}
}

// Bootstrap merges configured defaults with any persisted overrides and
// writes the result back, so every instance converges on one logical row.
func (c *Cache) Bootstrap(ctx context.Context) error {
	persisted, err := c.store.GetPolicy(ctx)
	switch {
	case err == nil:
		c.apply(*persisted)
		return nil
	case errors.Is(err, store.ErrPolicyNotFound):
		if err := c.store.UpsertPolicy(ctx, &c.defaults); err != nil {
			return fmt.Errorf("seeding policy settings: %w", err)
		}
		c.apply(c.defaults)
		return nil
	default:
		return fmt.Errorf("loading policy settings: %w", err)
	}
}

// Current returns the cached settings without touching the store. Until the
// first successful load it fails closed: readOnly reads as true so a cold
// instance never admits writes on an unverified policy.
func (c *Cache) Current() models.PolicySettings {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.loaded {
		p := c.defaults
		p.ReadOnly = true
		return p
	}
	return c.current
}

// Update writes the store first, then the local cache, so this process
// observes its own writes immediately. Other instances converge on their
// next refresh.
func (c *Cache) Update(ctx context.Context, settings models.PolicySettings) error {
	if err := c.store.UpsertPolicy(ctx, &settings); err != nil {
		return fmt.Errorf("persisting policy settings: %w", err)
	}
	c.apply(settings)
	return nil
}

// Refresh reloads from the store. On failure the last-known-good value is
// retained.
func (c *Cache) Refresh(ctx context.Context) error {
	persisted, err := c.store.GetPolicy(ctx)
	if err != nil {
		return fmt.Errorf("refreshing policy settings: %w", err)
	}
	c.apply(*persisted)
	return nil
}

// Run refreshes periodically until the context is cancelled.
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				c.logger.Error("policy refresh failed, keeping last known value",
					slog.String("error", err.Error()))
			}
		}
	}
}

func (c *Cache) apply(settings models.PolicySettings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = settings
	c.loaded = true
}
