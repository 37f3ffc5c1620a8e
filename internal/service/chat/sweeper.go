package chat

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically marks idle sessions as expired.
type Sweeper struct {
	store    Store
	timeout  time.Duration
	interval time.Duration
	logger   *zap.Logger

	// OnExpired 在每次清理出会话后回调，用于累加指标。
	OnExpired func(n int)
}

// NewSweeper creates a sweeper; it does nothing until Run is called.
func NewSweeper(store Store, timeout, interval time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{store: store, timeout: timeout, interval: interval, logger: logger.Named("sweeper")}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("session sweeper started",
		zap.Duration("interval", s.interval),
		zap.Duration("timeout", s.timeout))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("session sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Warn("session sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce expires sessions idle for longer than the timeout.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	n, err := s.store.ExpireIdle(ctx, time.Now().UTC().Add(-s.timeout))
	if err != nil {
		return n, err
	}
	if n > 0 {
		s.logger.Info("expired idle sessions", zap.Int("count", n))
		if s.OnExpired != nil {
			s.OnExpired(n)
		}
	}
	return n, nil
}
