package quota

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fruitsalade/drivedeck/internal/logging"
)

func init() {
	logging.InitNop()
}

func TestRateLimiterUnlimited(t *testing.T) {
	rl := NewRateLimiter(0)
	for i := 0; i < 1000; i++ {
		if !rl.Allow("s1") {
			t.Fatal("unlimited rate should always allow")
		}
	}
	assert.Equal(t, 0, rl.RetryAfter("s1"))
	assert.False(t, rl.Enabled())
}

func TestRateLimiterBasic(t *testing.T) {
	rl := NewRateLimiter(5)
	now := time.Now()
	rl.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		if !rl.Allow("s1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow("s1") {
		t.Error("6th request should be rate limited")
	}
	assert.True(t, rl.RetryAfter("s1") > 0)

	// Other sessions have their own bucket
	assert.True(t, rl.Allow("s2"))

	// One token refills every 12s at 5 rpm
	now = now.Add(12 * time.Second)
	assert.True(t, rl.Allow("s1"))
	assert.False(t, rl.Allow("s1"))
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(10)
	now := time.Now()
	rl.now = func() time.Time { return now }

	rl.Allow("old")
	now = now.Add(20 * time.Minute)
	rl.Allow("new")

	assert.Equal(t, 1, rl.Cleanup(10*time.Minute))
	rl.mu.Lock()
	_, hasOld := rl.buckets["old"]
	_, hasNew := rl.buckets["new"]
	rl.mu.Unlock()
	assert.False(t, hasOld)
	assert.True(t, hasNew)
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(1)
	keyOf := func(r *http.Request) (string, bool) {
		k := r.Header.Get("X-Session")
		return k, k != ""
	}
	var seenRetryAfter string
	deny := func(w http.ResponseWriter, r *http.Request) {
		seenRetryAfter = w.Header().Get("Retry-After")
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}
	h := RateLimitMiddleware(rl, keyOf, deny)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(session string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
		if session != "" {
			req.Header.Set("X-Session", session)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, do("a").Code)
	rec := do("a")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.NotEmpty(t, seenRetryAfter, "Retry-After must be set before deny runs")

	// Requests without a key pass through
	assert.Equal(t, http.StatusOK, do("").Code)
	assert.Equal(t, http.StatusOK, do("").Code)
}
