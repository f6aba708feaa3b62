// internal/middleware/ratelimit.go
package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// UnknownClient is the bucket key used when a request carries no remote address.
const UnknownClient = "unknown"

type bucket struct {
	count       int
	windowStart time.Time
}

// RateLimiter is a fixed-window request counter keyed by client.
// Each instance owns its buckets, so independent limiters never share state.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	max    int
	window time.Duration

	// KeyFunc extracts the bucket key. Defaults to ClientKey.
	KeyFunc func(r *http.Request) string

	logger   *logrus.Logger
	now      func() time.Time
	stopOnce sync.Once
	sweepMu  sync.Mutex
	sweeping bool
	stop     chan struct{}
}

// NewRateLimiter allows max requests per key in each window.
func NewRateLimiter(logger *logrus.Logger, max int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		max:     max,
		window:  window,
		KeyFunc: ClientKey,
		logger:  logger,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
}

// HTTPRateLimit builds a standalone limiter and returns its middleware.
func HTTPRateLimit(logger *logrus.Logger, max int, window time.Duration) func(http.Handler) http.Handler {
	return NewRateLimiter(logger, max, window).Middleware
}

// ClientKey returns the client IP of the request, the raw remote address if it
// cannot be split, or UnknownClient.
func ClientKey(r *http.Request) string {
	if r.RemoteAddr == "" {
		return UnknownClient
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

type tooManyRequests struct {
	Error      string `json:"error"`
	RetryAfter int64  `json:"retryAfter"` // millis
}

// Middleware counts the request against its client's window. Within the limit it
// sets X-RateLimit-* headers and calls next; over it, next is skipped and a 429
// with the time left in the window is returned.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := l.KeyFunc(r)
		allowed, remaining, reset := l.take(key)

		if !allowed {
			retryAfter := reset.Sub(l.now()).Milliseconds()
			if retryAfter < 0 {
				retryAfter = 0
			}
			l.logger.WithFields(logrus.Fields{
				"client": key,
				"path":   r.URL.Path,
			}).Warn("Rate limit exceeded")

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(tooManyRequests{Error: "Too many requests", RetryAfter: retryAfter})
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.max))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.UnixMilli(), 10))
		next.ServeHTTP(w, r)
	})
}

// take counts one request for key and reports whether it fits the window,
// the remaining allowance and when the window resets.
func (l *RateLimiter) take(key string) (bool, int, time.Time) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{windowStart: now}
		l.buckets[key] = b
	}
	if now.Sub(b.windowStart) >= l.window {
		b.count = 0
		b.windowStart = now
	}
	reset := b.windowStart.Add(l.window)
	if b.count >= l.max {
		return false, 0, reset
	}
	b.count++
	return true, l.max - b.count, reset
}

// Sweep drops buckets whose window has expired and returns how many went.
func (l *RateLimiter) Sweep() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, b := range l.buckets {
		if now.Sub(b.windowStart) >= l.window {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked clients.
func (l *RateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Reset forgets every bucket.
func (l *RateLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets = make(map[string]*bucket)
}

// StartCleanupInterval sweeps expired buckets every interval until Stop.
// Only the first call starts a sweeper; later calls are ignored.
func (l *RateLimiter) StartCleanupInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}
	l.sweepMu.Lock()
	defer l.sweepMu.Unlock()
	if l.sweeping {
		return
	}
	select {
	case <-l.stop:
		return
	default:
	}
	l.sweeping = true

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-l.stop:
				return
			case <-ticker.C:
				if n := l.Sweep(); n > 0 {
					l.logger.WithField("removed", n).Debug("Swept expired rate limit buckets")
				}
			}
		}
	}()
}

// Stop ends the cleanup sweeper. Safe to call more than once.
func (l *RateLimiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stop)
	})
}
