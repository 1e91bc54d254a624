package bridge

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/runnerr0/pagetime/internal/tracker"
)

// tabLimiter and its last use.
type tabLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// rateLimiter keeps one token bucket per tab so a runaway content script
// cannot starve the others.
type rateLimiter struct {
	limit           rate.Limit
	burst           int
	cleanupInterval time.Duration

	mu       sync.Mutex
	limiters map[tracker.TabID]*tabLimiter

	stopOnce sync.Once
	stopCh   chan struct{}
}

func newRateLimiter(perSecond float64, burst int, cleanupInterval time.Duration) *rateLimiter {
	rl := &rateLimiter{
		limit:           rate.Limit(perSecond),
		burst:           burst,
		cleanupInterval: cleanupInterval,
		limiters:        make(map[tracker.TabID]*tabLimiter),
		stopCh:          make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *rateLimiter) allow(tab tracker.TabID) bool {
	rl.mu.Lock()
	tl, ok := rl.limiters[tab]
	if !ok {
		tl = &tabLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[tab] = tl
	}
	tl.lastAccess = time.Now()
	rl.mu.Unlock()

	return tl.limiter.Allow()
}

func (rl *rateLimiter) forget(tab tracker.TabID) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.limiters, tab)
}

func (rl *rateLimiter) count() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *rateLimiter) stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *rateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup drops limiters idle for more than two cleanup intervals.
func (rl *rateLimiter) cleanup(now time.Time) {
	ttl := rl.cleanupInterval * 2

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for tab, tl := range rl.limiters {
		if now.Sub(tl.lastAccess) > ttl {
			delete(rl.limiters, tab)
		}
	}
}

// writeRateLimitResponse writes 429 with a Retry-After of the time needed
// to refill one token.
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := int(math.Ceil(1.0 / float64(r)))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
}
