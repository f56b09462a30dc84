package security

import (
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// setLastAccess backdates an identifier's last access. Test helper only.
func (rl *RateLimiter) setLastAccess(identifier string, at time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if elem, ok := rl.limiters[identifier]; ok {
		elem.Value.(*rateLimiterEntry).lastAccess = at
	}
}

func TestNewRateLimiterWithConfig_Defaults(t *testing.T) {
	rl := NewRateLimiterWithConfig(RateLimiterConfig{RequestsPerSecond: 10}, nil)
	defer rl.Stop()

	if rl.burst != 1 {
		t.Errorf("burst = %d, want 1", rl.burst)
	}
	if rl.maxEntries != DefaultRateLimitMaxEntries {
		t.Errorf("maxEntries = %d, want %d", rl.maxEntries, DefaultRateLimitMaxEntries)
	}
	if rl.cleanupInterval != DefaultRateLimitCleanupInterval {
		t.Errorf("cleanupInterval = %v, want %v", rl.cleanupInterval, DefaultRateLimitCleanupInterval)
	}
	if rl.idleTimeout != DefaultRateLimitIdleTimeout {
		t.Errorf("idleTimeout = %v, want %v", rl.idleTimeout, DefaultRateLimitIdleTimeout)
	}
	if rl.logger == nil {
		t.Error("logger should not be nil")
	}
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(10, 5, slog.Default())
	defer rl.Stop()

	identifier := "192.0.2.1"

	for i := 0; i < 5; i++ {
		if !rl.Allow(identifier) {
			t.Errorf("Allow() request %d should be allowed", i+1)
		}
	}

	if rl.Allow(identifier) {
		t.Error("Allow() should return false when rate limited")
	}
}

func TestRateLimiter_Allow_MultipleIdentifiers(t *testing.T) {
	rl := NewRateLimiter(10, 2, slog.Default())
	defer rl.Stop()

	for i := 0; i < 2; i++ {
		rl.Allow("id-1")
	}

	if rl.Allow("id-1") {
		t.Error("Allow(id-1) should return false when rate limited")
	}
	if !rl.Allow("id-2") {
		t.Error("Allow(id-2) should be allowed (different identifier)")
	}
}

func TestRateLimiter_Allow_RefillOverTime(t *testing.T) {
	rl := NewRateLimiter(2, 2, slog.Default())
	defer rl.Stop()

	rl.Allow("id")
	rl.Allow("id")
	if rl.Allow("id") {
		t.Error("Allow() should return false when rate limited")
	}

	// 500ms refills one token at 2 req/s
	time.Sleep(550 * time.Millisecond)

	if !rl.Allow("id") {
		t.Error("Allow() should be allowed after token refill")
	}
}

func TestRateLimiter_LRUEviction(t *testing.T) {
	rl := NewRateLimiterWithConfig(RateLimiterConfig{
		RequestsPerSecond: 10,
		Burst:             1,
		MaxEntries:        2,
	}, slog.Default())
	defer rl.Stop()

	rl.Allow("id-1")
	rl.Allow("id-2")
	rl.Allow("id-3") // evicts id-1

	stats := rl.GetStats()
	if stats.CurrentEntries != 2 {
		t.Errorf("CurrentEntries = %d, want 2", stats.CurrentEntries)
	}
	if stats.TotalEvictions != 1 {
		t.Errorf("TotalEvictions = %d, want 1", stats.TotalEvictions)
	}
	if stats.MemoryPressure != 100 {
		t.Errorf("MemoryPressure = %v, want 100", stats.MemoryPressure)
	}

	// id-1 starts with a fresh bucket after eviction
	if !rl.Allow("id-1") {
		t.Error("evicted identifier should get a fresh bucket")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(10, 20, slog.Default())
	defer rl.Stop()

	rl.Allow("id-1")
	rl.Allow("id-2")

	rl.setLastAccess("id-1", time.Now().Add(-time.Hour))
	rl.Cleanup(30 * time.Minute)

	rl.mu.RLock()
	_, hasIdle := rl.limiters["id-1"]
	_, hasActive := rl.limiters["id-2"]
	rl.mu.RUnlock()

	if hasIdle {
		t.Error("idle limiter should be cleaned up")
	}
	if !hasActive {
		t.Error("active limiter should not be cleaned up")
	}
	if got := rl.GetStats().TotalCleanups; got != 1 {
		t.Errorf("TotalCleanups = %d, want 1", got)
	}
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	rl := NewRateLimiter(100, 100, slog.Default())
	defer rl.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				rl.Allow(fmt.Sprintf("identifier-%d", id))
			}
		}(i)
	}
	wg.Wait()

	if got := rl.GetStats().CurrentEntries; got != 10 {
		t.Errorf("CurrentEntries = %d, want 10", got)
	}
}

func TestRateLimiter_Stop(t *testing.T) {
	rl := NewRateLimiter(10, 20, slog.Default())

	rl.Stop()
	rl.Stop() // second call must not panic
}
