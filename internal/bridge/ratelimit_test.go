package bridge

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestRateLimiter_BurstPerTab(t *testing.T) {
	rl := newRateLimiter(0.001, 2, time.Hour)
	defer rl.stop()

	assert.True(t, rl.allow(1))
	assert.True(t, rl.allow(1))
	assert.False(t, rl.allow(1), "burst exhausted")
	assert.True(t, rl.allow(2), "tabs have independent buckets")
	assert.Equal(t, 2, rl.count())

	rl.forget(1)
	assert.Equal(t, 1, rl.count())
	assert.True(t, rl.allow(1), "forgotten tab starts with a full bucket")
}

func TestRateLimiter_CleanupDropsIdle(t *testing.T) {
	rl := newRateLimiter(1, 1, time.Minute)
	defer rl.stop()

	rl.allow(1)
	rl.cleanup(time.Now())
	assert.Equal(t, 1, rl.count())

	rl.cleanup(time.Now().Add(3 * time.Minute))
	assert.Equal(t, 0, rl.count())
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := newRateLimiter(1, 1, time.Minute)
	rl.stop()
	rl.stop()
}

func TestWriteRateLimitResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	writeRateLimitResponse(rec, rate.Limit(0.5))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "rate limit exceeded")
}
