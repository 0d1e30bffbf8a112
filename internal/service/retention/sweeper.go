package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/uptimewatch/uptimewatch/internal/metrics"
)

type observationPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper deletes observations that have aged out of the retention window.
// Alerts are never touched. Sweeps are serialized.
type Sweeper struct {
	store     observationPruner
	retention time.Duration
	now       func() time.Time
	mu        sync.Mutex
}

func New(store observationPruner, retention time.Duration) *Sweeper {
	return &Sweeper{store: store, retention: retention, now: time.Now}
}

// Cutoff is the oldest timestamp kept by a sweep run at now.
func (s *Sweeper) Cutoff(now time.Time) time.Time {
	return now.Add(-s.retention)
}

func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.Cutoff(s.now())
	deleted, err := s.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete observations older than %s: %w", cutoff.Format(time.RFC3339), err)
	}

	metrics.RecordRetentionDeleted(deleted)
	slog.Info("retention sweep finished", "deleted", deleted, "cutoff", cutoff)
	return deleted, nil
}

// Run adapts Sweep to a cron job. Errors are logged.
func (s *Sweeper) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	if _, err := s.Sweep(ctx); err != nil {
		slog.Error("retention sweep failed", "error", err)
	}
}
