package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// sessionLimiter throttles generation requests per session. Sessions are
// identified by the X-Session-ID header when the UI sends one, falling back
// to the remote address. Idle sessions are evicted on the next sweep.
type sessionLimiter struct {
	mu       sync.Mutex
	sessions map[string]*sessionEntry
	limit    rate.Limit
	burst    int

	lastSweep time.Time
}

type sessionEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const sessionIdleTTL = 30 * time.Minute

func newSessionLimiter(perMin float64, burst int) *sessionLimiter {
	if perMin <= 0 {
		perMin = 6
	}
	if burst <= 0 {
		burst = 2
	}
	return &sessionLimiter{
		sessions:  make(map[string]*sessionEntry),
		limit:     rate.Limit(perMin / 60.0),
		burst:     burst,
		lastSweep: time.Now(),
	}
}

func (l *sessionLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.lastSweep) > sessionIdleTTL {
		for k, e := range l.sessions {
			if now.Sub(e.lastSeen) > sessionIdleTTL {
				delete(l.sessions, k)
			}
		}
		l.lastSweep = now
	}

	entry, ok := l.sessions[key]
	if !ok {
		entry = &sessionEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.sessions[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.Allow()
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-Session-ID")
		if key == "" {
			key = r.RemoteAddr
		}
		if !s.limiter.allow(key) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "generation quota exceeded, try again shortly")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
