// Package ratelimit bounds request rate per client identity using fixed
// windows. It supports a Redis (distributed) backend with automatic, silent
// degradation to an in-process backend when Redis is unreachable.
package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Result is a limiter decision. RetryAfter is only meaningful when the
// request was not allowed.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter checks whether a client may make another request inside the
// current window.
type Limiter interface {
	Check(ctx context.Context, clientKey string, max int, window time.Duration) (Result, error)
}

// ClientKey derives the rate-limit subject for a request.
// Priority: explicit user, explicit team, first forwarded-for IP, then a
// shared "unknown" bucket.
func ClientKey(userID, teamID, forwardedFor string) string {
	if userID != "" {
		return userID
	}
	if teamID != "" {
		return teamID
	}
	if ip, _, _ := strings.Cut(forwardedFor, ","); strings.TrimSpace(ip) != "" {
		return strings.TrimSpace(ip)
	}
	return "unknown"
}

// InMemoryLimiter implements fixed-window rate limiting in process memory.
// A background sweep removes windows that have already expired so the map
// stays bounded.
type InMemoryLimiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	done    chan struct{}
	stop    sync.Once
}

type entry struct {
	count   int
	resetAt time.Time
}

const sweepInterval = time.Minute

func NewInMemoryLimiter() *InMemoryLimiter {
	l := &InMemoryLimiter{
		entries: make(map[string]*entry),
		done:    make(chan struct{}),
	}
	go l.sweep()
	return l
}

func (l *InMemoryLimiter) Check(ctx context.Context, clientKey string, max int, window time.Duration) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()

	e, ok := l.entries[clientKey]
	if !ok || !e.resetAt.After(now) {
		l.entries[clientKey] = &entry{count: 1, resetAt: now.Add(window)}
		return Result{Allowed: true, Remaining: max - 1}, nil
	}

	if e.count >= max {
		return Result{Allowed: false, Remaining: 0, RetryAfter: e.resetAt.Sub(now)}, nil
	}

	e.count++
	return Result{Allowed: true, Remaining: max - e.count}, nil
}

func (l *InMemoryLimiter) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			now := time.Now()
			l.mu.Lock()
			for key, e := range l.entries {
				if !e.resetAt.After(now) {
					delete(l.entries, key)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Stop terminates the background sweep.
func (l *InMemoryLimiter) Stop() {
	l.stop.Do(func() { close(l.done) })
}

// Size reports the number of tracked client windows, for tests and the
// admin endpoint.
func (l *InMemoryLimiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
