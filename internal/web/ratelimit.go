package web

import (
	"net"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/vbonduro/treetag/internal/auth"
	"github.com/vbonduro/treetag/internal/metrics"
)

// limiterIdleTTL drops the limiter of a client that has not submitted for a
// while. A dropped limiter starts again with a full bucket.
const limiterIdleTTL = 10 * time.Minute

// SubmitLimiter keeps one token bucket per signed-in user, or per client IP
// for anonymous requests.
type SubmitLimiter struct {
	limiters *cache.Cache
	r        rate.Limit
	b        int
}

// NewSubmitLimiter allows perSec submissions per second with bursts of burst.
// A non-positive perSec disables limiting.
func NewSubmitLimiter(perSec float64, burst int) *SubmitLimiter {
	r := rate.Limit(perSec)
	if perSec <= 0 {
		r = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &SubmitLimiter{
		limiters: cache.New(limiterIdleTTL, limiterIdleTTL),
		r:        r,
		b:        burst,
	}
}

// limiter returns the bucket for key, creating it on first use.
func (l *SubmitLimiter) limiter(key string) *rate.Limiter {
	if v, ok := l.limiters.Get(key); ok {
		l.limiters.SetDefault(key, v)
		return v.(*rate.Limiter)
	}
	lim := rate.NewLimiter(l.r, l.b)
	if err := l.limiters.Add(key, lim, cache.DefaultExpiration); err != nil {
		// Another request created it first.
		if v, ok := l.limiters.Get(key); ok {
			return v.(*rate.Limiter)
		}
	}
	return lim
}

func (l *SubmitLimiter) Allow(key string) bool {
	return l.limiter(key).Allow()
}

// Limit rejects requests over the limit with 429 before they reach next.
func (l *SubmitLimiter) Limit(m *metrics.Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientKey(r)) {
			m.Submission(metrics.OutcomeRateLimited)
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too many submissions, try again shortly"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if user := auth.UserFrom(r.Context()); user != nil {
		return "user:" + user.ID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
