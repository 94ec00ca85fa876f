package flow

import (
	"context"
	"log/slog"
	"time"
)

// ThreadPruner deletes finished threads last updated before a cutoff.
type ThreadPruner interface {
	DeleteThreadsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// RetentionSweeper removes finished threads older than a TTL.
type RetentionSweeper struct {
	store ThreadPruner
	ttl   time.Duration
	now   func() time.Time
}

// NewRetentionSweeper creates a sweeper. A non-positive ttl disables it.
func NewRetentionSweeper(store ThreadPruner, ttl time.Duration) *RetentionSweeper {
	return &RetentionSweeper{store: store, ttl: ttl, now: time.Now}
}

// Sweep deletes expired threads. It matches the scheduler.Job signature.
func (r *RetentionSweeper) Sweep(ctx context.Context) error {
	if r.ttl <= 0 {
		return nil
	}
	cutoff := r.now().Add(-r.ttl)
	n, err := r.store.DeleteThreadsBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("RetentionSweeper.Sweep: expired threads removed", "count", n, "cutoff", cutoff)
	}
	return nil
}
