// Package worker runs background maintenance loops.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Purger evicts stale entries and reports how many it removed.
type Purger interface {
	Purge(ctx context.Context) (int, error)
}

// Sweeper calls Purge on a fixed interval until its context ends.
type Sweeper struct {
	target   Purger
	interval time.Duration
	log      *zap.Logger
}

func NewSweeper(target Purger, interval time.Duration, log *zap.Logger) *Sweeper {
	return &Sweeper{target: target, interval: interval, log: log}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("cache sweeper started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.log.Info("cache sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single purge. Failures are logged and retried next tick.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	n, err := s.target.Purge(ctx)
	if err != nil {
		s.log.Warn("cache sweep failed", zap.Error(err))
		return 0
	}
	if n > 0 {
		s.log.Debug("cache sweep evicted entries", zap.Int("evicted", n))
	}
	return n
}
