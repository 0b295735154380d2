package mailbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/relaydesk/relaydesk/internal/metrics"
)

// Sweeper periodically evicts expired records so memory is reclaimed even
// when nobody pushes or polls. Pushes and queries purge on their own; the
// sweeper covers the quiet stretches.
type Sweeper struct {
	store    *Store
	interval time.Duration
	logger   *zap.Logger
}

// NewSweeper creates a sweeper; a non-positive interval means every 5 minutes.
func NewSweeper(store *Store, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		logger:   logger,
	}
}

// Start runs the eviction loop until the context is canceled.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopping")
			return
		case <-ticker.C:
			if n := s.store.Sweep(); n > 0 {
				s.logger.Info("expired notifications purged", zap.Int("count", n))
				metrics.RecordExpired(n)
			}
			live, undelivered := s.store.Health()
			metrics.SetMailboxGauges(live, undelivered)
		}
	}
}
