// Package analytics counts unique visitors per calendar month without ever
// persisting raw identity. Counting is at-least-once: two concurrent records
// for the same visitor may both pass the dedupe check, and the slight
// overcount is acceptable because analytics never authorize anything.
package analytics

import (
	"context"
	"log/slog"
	"time"

	"vanish.share/internal/crypto"
	"vanish.share/internal/models"
	"vanish.share/internal/store"
)

type Recorder struct {
	store   store.Store
	salt    string
	timeout time.Duration
	logger  *slog.Logger
}

func NewRecorder(st store.Store, salt string, timeout time.Duration, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:   st,
		salt:    salt,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "analytics")),
	}
}

// Record stores one deduplicated visit. It is called detached from the
// request path and carries its own timeout; failures are logged and dropped.
func (r *Recorder) Record(path, visitorIdentity string, at time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	hash := crypto.VisitorHash(r.salt, visitorIdentity)
	bucket := BucketFor(at)

	dup, err := r.store.IsDuplicateVisit(ctx, hash, path, bucket)
	if err != nil {
		r.logger.Debug("visit dedupe check failed", slog.String("error", err.Error()))
		return
	}
	if dup {
		return
	}

	sample := &models.VisitorSample{
		Path:        path,
		VisitorHash: hash,
		Bucket:      bucket,
		RecordedAt:  at,
	}
	if err := r.store.RecordVisit(ctx, sample); err != nil {
		r.logger.Debug("visit record failed", slog.String("error", err.Error()))
	}
}

// BucketFor maps an instant to its UTC month bucket, matching the monthly
// unique visitor aggregate.
func BucketFor(t time.Time) string {
	return t.UTC().Format("2006-01")
}
