// Package maintenance runs periodic housekeeping against the store.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/miradorstack/mirador-sentinel/internal/metrics"
)

// Pruner deletes history older than a cutoff.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Retention prunes probe results and pattern history on a cron schedule.
type Retention struct {
	cron      *cron.Cron
	pruner    Pruner
	retention time.Duration
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewRetention schedules pruning of rows older than retention. A non-positive
// retention disables the job.
func NewRetention(logger *slog.Logger, pruner Pruner, schedule string, retention time.Duration) (*Retention, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Retention{
		cron:      cron.New(),
		pruner:    pruner,
		retention: retention,
		timeout:   5 * time.Minute,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	if retention <= 0 {
		return r, nil
	}
	if _, err := r.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if _, err := r.RunOnce(ctx); err != nil {
			r.logger.Error("retention prune failed", slog.Any("error", err))
		}
	}); err != nil {
		return nil, fmt.Errorf("parse prune schedule %q: %w", schedule, err)
	}
	return r, nil
}

// Start begins the cron scheduler.
func (r *Retention) Start() {
	r.cron.Start()
	r.logger.Info("retention job started", slog.Duration("retention", r.retention))
}

// Stop halts the scheduler and waits for a running prune to finish.
func (r *Retention) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

// RunOnce prunes immediately and returns the number of rows removed.
func (r *Retention) RunOnce(ctx context.Context) (int64, error) {
	if r.retention <= 0 {
		return 0, nil
	}
	cutoff := r.now().Add(-r.retention)
	removed, err := r.pruner.Prune(ctx, cutoff)
	if err != nil {
		return removed, fmt.Errorf("prune before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	metrics.AddPruned(removed)
	r.logger.Info("retention prune complete", slog.Int64("removed", removed), slog.Time("cutoff", cutoff))
	return removed, nil
}

// Entries reports how many cron jobs are scheduled.
func (r *Retention) Entries() int {
	return len(r.cron.Entries())
}
