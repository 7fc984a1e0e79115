package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"news/internal/forum"
	"news/internal/session"
)

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info().
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Int("bytes", ww.BytesWritten()).
					Dur("duration", time.Since(start)).
					Msg("request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// rateLimiter keeps one token bucket per client IP.
type rateLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	limit     rate.Limit
	burst     int
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newRateLimiter(perMinute int) *rateLimiter {
	return &rateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
		idle:     3 * time.Minute,
		now:      time.Now,
	}
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	if now.Sub(rl.lastSweep) > rl.idle {
		for key, v := range rl.visitors {
			if now.Sub(v.lastSeen) > rl.idle {
				delete(rl.visitors, key)
			}
		}
		rl.lastSweep = now
	}
	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func (rl *rateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		if !rl.allow(ip) {
			w.Header().Set("Retry-After", "60")
			respondJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many requests"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type ctxKey int

const sessionKey ctxKey = iota

type currentSession struct {
	ID      string
	Session *session.Session
}

// loadSession attaches the caller's session, if any, to the request
// context. A cookie naming a missing or expired session is cleared.
func (s *Server) loadSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(s.CookieName)
		if err != nil || cookie.Value == "" {
			next.ServeHTTP(w, r)
			return
		}
		sess, err := s.sessions.Get(r.Context(), cookie.Value)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		if sess == nil {
			s.clearCookie(w, s.CookieName)
			next.ServeHTTP(w, r)
			return
		}
		ctx := context.WithValue(r.Context(), sessionKey, &currentSession{ID: cookie.Value, Session: sess})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) currentUser(r *http.Request) *currentSession {
	cur, _ := r.Context().Value(sessionKey).(*currentSession)
	return cur
}

func (cur *currentSession) author() forum.Author {
	return forum.Author{ID: cur.Session.UserID, Name: cur.Session.User.Name}
}

var errSignInRequired = &RequestError{Status: http.StatusUnauthorized, Message: "sign in required"}

func (s *Server) requireAuth(next func(http.ResponseWriter, *http.Request, *currentSession)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cur := s.currentUser(r)
		if cur == nil {
			s.respondError(w, r, errSignInRequired)
			return
		}
		next(w, r, cur)
	}
}

// requireAdmin resolves permissions afresh for every request.
func (s *Server) requireAdmin(next func(http.ResponseWriter, *http.Request, *currentSession)) http.HandlerFunc {
	return s.requireAuth(func(w http.ResponseWriter, r *http.Request, cur *currentSession) {
		perms, err := s.permissions.Permissions(r.Context(), cur.Session.UserID)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		if !perms.IsAdmin {
			s.respondError(w, r, &RequestError{Status: http.StatusForbidden, Message: "admin access required"})
			return
		}
		next(w, r, cur)
	})
}
