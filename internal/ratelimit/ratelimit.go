package ratelimit

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/crowdreel/crowdreel/internal/auth"
	"github.com/jonboulle/clockwork"
)

const (
	cleanupInterval = 5 * time.Minute
	idleTTL         = 10 * time.Minute
)

type visitor struct {
	tokens   float64
	lastSeen time.Time
}

// Limiter is a token bucket per key. Authenticated requests are keyed by
// viewer, anonymous ones by client address.
type Limiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     float64
	burst    float64
	clock    clockwork.Clock
}

func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	return NewLimiterWithClock(requestsPerSecond, burst, clockwork.NewRealClock())
}

func NewLimiterWithClock(requestsPerSecond float64, burst int, clock clockwork.Clock) *Limiter {
	return &Limiter{
		visitors: make(map[string]*visitor),
		rate:     requestsPerSecond,
		burst:    float64(burst),
		clock:    clock,
	}
}

func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	v, exists := l.visitors[key]
	if !exists {
		l.visitors[key] = &visitor{tokens: l.burst - 1, lastSeen: now}
		return true
	}

	elapsed := now.Sub(v.lastSeen).Seconds()
	v.lastSeen = now
	v.tokens = min(v.tokens+elapsed*l.rate, l.burst)

	if v.tokens < 1 {
		return false
	}

	v.tokens--
	return true
}

func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

func (l *Limiter) prune() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	for key, v := range l.visitors {
		if now.Sub(v.lastSeen) > idleTTL {
			delete(l.visitors, key)
		}
	}
}

// StartCleanupLoop forgets idle keys until ctx is done.
func (l *Limiter) StartCleanupLoop(ctx context.Context) {
	go func() {
		ticker := l.clock.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				l.prune()
			}
		}
	}()
}

func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(requestKey(r)) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "10")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"too many requests"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func requestKey(r *http.Request) string {
	if userID := auth.UserIDFromContext(r.Context()); userID != "" {
		return "viewer:" + userID
	}
	ip := r.RemoteAddr
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		ip, _, _ = strings.Cut(forwarded, ",")
		ip = strings.TrimSpace(ip)
	}
	return "ip:" + ip
}
