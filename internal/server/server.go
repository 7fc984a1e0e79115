package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"news/internal/db"
	"news/internal/forum"
	"news/internal/oauth"
	"news/internal/permissions"
	"news/internal/session"
)

const (
	PKCECookieName = "pkce_verifier"
	pkceMaxAge     = 10 * time.Minute

	maxBodyBytes = 1 << 20
)

type Options struct {
	DB          *db.DB
	Forum       *forum.Service
	Sessions    *session.Manager
	Permissions *permissions.Resolver
	OAuth       *oauth.Client
	Logger      zerolog.Logger

	CookieName    string
	SecureCookies bool
	CORSOrigins   []string
	// RateLimitPerMinute caps /api requests per client IP. 0 disables it.
	RateLimitPerMinute int
}

type Server struct {
	db          *db.DB
	forum       *forum.Service
	sessions    *session.Manager
	permissions *permissions.Resolver
	oauth       *oauth.Client
	log         zerolog.Logger

	CookieName string
	secure     bool

	handler http.Handler
}

func New(opts Options) *Server {
	s := &Server{
		db:          opts.DB,
		forum:       opts.Forum,
		sessions:    opts.Sessions,
		permissions: opts.Permissions,
		oauth:       opts.OAuth,
		log:         opts.Logger,
		CookieName:  opts.CookieName,
		secure:      opts.SecureCookies,
	}
	if s.CookieName == "" {
		s.CookieName = "news-session"
	}
	s.handler = s.routes(opts)
	return s
}

func (s *Server) routes(opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		if opts.RateLimitPerMinute > 0 {
			r.Use(newRateLimiter(opts.RateLimitPerMinute).Limit)
		}
		r.Use(s.loadSession)

		r.Route("/auth", func(r chi.Router) {
			r.Get("/sign-in", s.handleSignIn)
			r.Get("/callback", s.handleCallback)
			r.Get("/sign-out", s.handleSignOut)
			r.Post("/sign-out", s.handleSignOut)
			r.Get("/session", s.handleSession)
		})

		r.Route("/posts", func(r chi.Router) {
			r.Get("/", s.handleListPosts)
			r.Post("/", s.requireAuth(s.handleCreatePost))
			r.Get("/{id}", s.handleGetPost)
			r.Get("/{id}/comments", s.handleListComments)
			r.Post("/{id}/comments", s.requireAuth(s.handleCreateComment))
		})

		r.Route("/tags", func(r chi.Router) {
			r.Get("/", s.handleListTags)
			r.Post("/", s.requireAdmin(s.handleCreateTag))
			r.Get("/{slug}", s.handleGetTag)
			r.Patch("/{slug}", s.requireAdmin(s.handleUpdateTag))
			r.Delete("/{slug}", s.requireAdmin(s.handleDeleteTag))
		})
	})
	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		s.log.Error().Err(err).Msg("health check failed")
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RequestError is an error with the HTTP status it should be answered with.
type RequestError struct {
	Status  int
	Message string
}

func (e *RequestError) Error() string { return e.Message }

func badRequest(msg string) *RequestError {
	return &RequestError{Status: http.StatusBadRequest, Message: msg}
}

func asRequestError(err error) *RequestError {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr
	}
	var verr *forum.ValidationError
	if errors.As(err, &verr) {
		return badRequest(verr.Msg)
	}
	var ferr *forum.Error
	if errors.As(err, &ferr) {
		switch {
		case errors.Is(err, forum.ErrNotFound):
			return &RequestError{Status: http.StatusNotFound, Message: ferr.Msg}
		case errors.Is(err, forum.ErrForbidden):
			return &RequestError{Status: http.StatusForbidden, Message: ferr.Msg}
		case errors.Is(err, forum.ErrConflict):
			return &RequestError{Status: http.StatusConflict, Message: ferr.Msg}
		}
	}
	return &RequestError{Status: http.StatusInternalServerError, Message: "internal server error"}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	reqErr := asRequestError(err)
	if reqErr.Status >= http.StatusInternalServerError {
		s.log.Error().Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	respondJSON(w, reqErr.Status, map[string]string{"error": reqErr.Message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return badRequest("invalid JSON body")
	}
	return nil
}

func (s *Server) setCookie(w http.ResponseWriter, name, value string, maxAge time.Duration) {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(maxAge / time.Second),
	}
	if maxAge <= 0 {
		c.MaxAge = -1
	}
	http.SetCookie(w, c)
}

func (s *Server) clearCookie(w http.ResponseWriter, name string) {
	s.setCookie(w, name, "", 0)
}
