package token

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically evicts expired registry entries.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewSweeper creates a sweeper running every interval.
func NewSweeper(m *Manager, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{manager: m, interval: interval, logger: logger, now: time.Now}
}

// Run sweeps on every tick until ctx is cancelled. It returns immediately
// when the interval is not positive.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	res := s.manager.Sweep(s.now())
	if res.Total() == 0 {
		return
	}
	s.logger.DebugContext(ctx, "expired tokens swept",
		slog.Int("registrations", res.Registrations),
		slog.Int("sessions", res.Sessions),
		slog.Int("resets", res.Resets),
	)
}
