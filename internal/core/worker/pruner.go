// Package worker holds background maintenance jobs.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/invoker/internal/infra/storage"
)

// Pruner deletes old audit records based on retention policy.
type Pruner struct {
	retention time.Duration
	repo      storage.RetentionRepository
	now       func() time.Time
	log       *slog.Logger
}

// NewPruner creates a new Pruner worker.
func NewPruner(retention time.Duration, repo storage.RetentionRepository) *Pruner {
	return &Pruner{
		retention: retention,
		repo:      repo,
		now:       time.Now,
		log:       slog.Default().With("component", "pruner"),
	}
}

// Start runs the pruner loop.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return // Retention disabled
	}

	// Check every 10% of the retention period, between 1 minute and 1 hour.
	interval := min(p.retention/10, 1*time.Hour)
	interval = max(interval, 1*time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial prune
	p.Prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Prune(ctx)
		}
	}
}

// Prune deletes every call whose newest record is older than the
// retention period.
func (p *Pruner) Prune(ctx context.Context) {
	threshold := p.now().Add(-p.retention)

	deleted, err := p.repo.DeleteOlderThan(ctx, threshold)
	if err != nil {
		p.log.Error("Failed to prune audit records", "before", threshold, "error", err)
		return
	}
	if deleted > 0 {
		p.log.Info("Pruned audit records", "before", threshold, "deleted", deleted)
	}
}
