package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestInMemoryLimiter_DecreasingRemaining(t *testing.T) {
	l := NewInMemoryLimiter()
	defer l.Stop()
	ctx := context.Background()

	max := 5
	for i := 0; i < max; i++ {
		res, err := l.Check(ctx, "user-1", max, time.Minute)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
		if want := max - i - 1; res.Remaining != want {
			t.Errorf("request %d: remaining = %d, want %d", i+1, res.Remaining, want)
		}
	}

	res, _ := l.Check(ctx, "user-1", max, time.Minute)
	if res.Allowed {
		t.Error("request max+1 should be denied")
	}
	if res.RetryAfter <= 0 {
		t.Errorf("denied request must carry a positive RetryAfter, got %v", res.RetryAfter)
	}
}

func TestInMemoryLimiter_FreshWindowAfterExpiry(t *testing.T) {
	l := NewInMemoryLimiter()
	defer l.Stop()
	ctx := context.Background()

	window := 30 * time.Millisecond
	l.Check(ctx, "user-1", 2, window)
	l.Check(ctx, "user-1", 2, window)

	res, _ := l.Check(ctx, "user-1", 2, window)
	if res.Allowed {
		t.Fatal("expected denial inside the window")
	}

	time.Sleep(window + 10*time.Millisecond)

	res, _ = l.Check(ctx, "user-1", 2, window)
	if !res.Allowed {
		t.Error("expected a fresh window after expiry")
	}
	if res.Remaining != 1 {
		t.Errorf("fresh window should behave like the first call: remaining = %d, want 1", res.Remaining)
	}
}

func TestInMemoryLimiter_IndependentKeys(t *testing.T) {
	l := NewInMemoryLimiter()
	defer l.Stop()
	ctx := context.Background()

	l.Check(ctx, "user-1", 1, time.Minute)

	res, _ := l.Check(ctx, "user-1", 1, time.Minute)
	if res.Allowed {
		t.Error("user-1 should be limited")
	}

	res, _ = l.Check(ctx, "user-2", 1, time.Minute)
	if !res.Allowed {
		t.Error("user-2 should not be limited")
	}
}

func TestInMemoryLimiter_ConcurrentNoOvercount(t *testing.T) {
	l := NewInMemoryLimiter()
	defer l.Stop()
	ctx := context.Background()

	max := 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				res, _ := l.Check(ctx, "shared", max, time.Minute)
				if res.Allowed {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if allowed != max {
		t.Errorf("exactly %d of 100 requests should be allowed, got %d", max, allowed)
	}
}

func TestInMemoryLimiter_SweepRemovesExpired(t *testing.T) {
	l := &InMemoryLimiter{
		entries: make(map[string]*entry),
		done:    make(chan struct{}),
	}
	ctx := context.Background()

	l.Check(ctx, "stale", 10, 10*time.Millisecond)
	l.Check(ctx, "fresh", 10, time.Hour)

	time.Sleep(20 * time.Millisecond)

	// Run one sweep pass directly instead of waiting for the ticker.
	now := time.Now()
	l.mu.Lock()
	for key, e := range l.entries {
		if !e.resetAt.After(now) {
			delete(l.entries, key)
		}
	}
	l.mu.Unlock()

	if l.Size() != 1 {
		t.Errorf("expected only the fresh window to survive, got %d entries", l.Size())
	}
}

func TestClientKey(t *testing.T) {
	tests := []struct {
		name         string
		userID       string
		teamID       string
		forwardedFor string
		want         string
	}{
		{"user wins", "u1", "t1", "10.0.0.1", "u1"},
		{"team next", "", "t1", "10.0.0.1", "t1"},
		{"first forwarded ip", "", "", "10.0.0.1, 10.0.0.2", "10.0.0.1"},
		{"forwarded ip trimmed", "", "", " 10.0.0.3 ", "10.0.0.3"},
		{"unknown sentinel", "", "", "", "unknown"},
	}

	for _, tt := range tests {
		if got := ClientKey(tt.userID, tt.teamID, tt.forwardedFor); got != tt.want {
			t.Errorf("%s: ClientKey = %q, want %q", tt.name, got, tt.want)
		}
	}
}
