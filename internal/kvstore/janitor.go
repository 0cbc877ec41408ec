package kvstore

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper is implemented by stores that need expired records removed
// explicitly. Redis expires keys on its own and does not implement it.
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// RunJanitor calls s.Sweep every interval until ctx is cancelled.
func RunJanitor(ctx context.Context, s Sweeper, interval time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn("session sweep failed", "error", err)
				}
				continue
			}
			if n > 0 {
				logger.Debug("expired sessions swept", "count", n)
			}
		}
	}
}
