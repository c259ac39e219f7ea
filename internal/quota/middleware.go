package quota

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/fruitsalade/drivedeck/internal/logging"
	"github.com/fruitsalade/drivedeck/internal/metrics"
)

// KeyFunc returns the rate limit key of a request. ok=false lets the
// request through unlimited.
type KeyFunc func(r *http.Request) (key string, ok bool)

// RateLimitMiddleware rejects requests over the limit. Retry-After is set
// before deny runs; deny writes the status and body.
func RateLimitMiddleware(limiter *RateLimiter, keyOf KeyFunc, deny http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !limiter.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, ok := keyOf(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			if !limiter.Allow(key) {
				metrics.RecordRateLimitHit()
				retryAfter := limiter.RetryAfter(key)
				logging.WithContext(r.Context()).Warn("rate limit exceeded",
					zap.String("path", r.URL.Path), zap.Int("retry_after", retryAfter))
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				deny(w, r)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
