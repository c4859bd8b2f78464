package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"vanish.share/internal/store"
)

var (
	sweepDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vanish_sweep_deleted_total",
		Help: "Expired secrets removed by the background sweeper",
	})
	sweepFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vanish_sweep_failures_total",
		Help: "Sweep ticks that failed with a store error",
	})
)

// ExpirySweeper deletes secrets past their expiry instant on a fixed
// interval. It is independent of the request path: a failed tick is logged
// and retried on the next one, and expired-but-unswept secrets are still
// unservable because the gate checks expiry at read time.
type ExpirySweeper struct {
	store    store.Store
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func NewExpirySweeper(st store.Store, interval, timeout time.Duration, logger *slog.Logger) *ExpirySweeper {
	return &ExpirySweeper{
		store:    st,
		interval: interval,
		timeout:  timeout,
		logger:   logger.With(slog.String("component", "expiry_sweeper")),
		now:      time.Now,
	}
}

// Run sweeps until the context is cancelled. Request-layer cancellation
// never reaches this loop; each tick carries its own timeout.
func (s *ExpirySweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs a single batch delete. Safe to run concurrently with view
// consumption: both sides use delete-if-exists semantics.
func (s *ExpirySweeper) Sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	deleted, err := s.store.DeleteExpired(sweepCtx, s.now())
	if err != nil {
		sweepFailuresTotal.Inc()
		s.logger.Error("expiry sweep failed", slog.String("error", err.Error()))
		return
	}

	if deleted > 0 {
		sweepDeletedTotal.Add(float64(deleted))
		s.logger.Info("expiry sweep removed secrets", slog.Int64("deleted", deleted))
	}
}
