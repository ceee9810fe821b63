package ratelimit

import (
	"context"
	"log/slog"
	"time"
)

// FallbackLimiter fronts a distributed limiter with an in-process one.
// Any distributed-store error degrades silently to the in-process path;
// callers never see a limiter failure.
type FallbackLimiter struct {
	distributed Limiter
	local       *InMemoryLimiter
	logger      *slog.Logger
}

// NewFallbackLimiter builds a limiter that prefers distributed when
// non-nil. The local limiter is always constructed so degradation needs no
// allocation on the hot path.
func NewFallbackLimiter(distributed Limiter, logger *slog.Logger) *FallbackLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackLimiter{
		distributed: distributed,
		local:       NewInMemoryLimiter(),
		logger:      logger,
	}
}

func (l *FallbackLimiter) Check(ctx context.Context, clientKey string, max int, window time.Duration) (Result, error) {
	if l.distributed != nil {
		res, err := l.distributed.Check(ctx, clientKey, max, window)
		if err == nil {
			return res, nil
		}
		l.logger.Warn("distributed rate limiter unavailable, using in-process fallback", "error", err)
	}

	// The in-process limiter cannot fail.
	res, _ := l.local.Check(ctx, clientKey, max, window)
	return res, nil
}

// Mode reports which backend is configured, for the admin endpoint.
func (l *FallbackLimiter) Mode() string {
	if l.distributed != nil {
		return "distributed"
	}
	return "in-process"
}

func (l *FallbackLimiter) Stop() {
	l.local.Stop()
}
