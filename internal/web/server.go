// Package web provides the public search API and status endpoints over the
// agenda database.
package web

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/engagic/engagic/internal/db"
)

// StatusSource exposes scheduler and loop state for the status endpoint.
type StatusSource interface {
	FailedCities() map[string]string
	CurrentSyncJSON() any
	LoopStatusesJSON() any
}

// Config carries the web-facing knobs out of the process configuration.
type Config struct {
	AdminToken     string
	AllowedOrigins []string
	MaxQueryLength int
}

// Server is the search API server.
type Server struct {
	store   *db.Store
	limiter *db.RateLimiter
	status  StatusSource
	cfg     Config
	logger  *slog.Logger
	md      goldmark.Markdown
	server  *http.Server

	// TriggerSync, when set, lets the admin endpoint kick a city sync.
	TriggerSync func(banana string)
}

// NewServer creates the API server. limiter and status may be nil in tests.
func NewServer(store *db.Store, limiter *db.RateLimiter, status StatusSource, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxQueryLength <= 0 {
		cfg.MaxQueryLength = 200
	}
	return &Server{
		store:   store,
		limiter: limiter,
		status:  status,
		cfg:     cfg,
		logger:  logger,
		md:      goldmark.New(),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/search", s.apiSearch)
	mux.HandleFunc("GET /api/cities/{banana}", s.apiGetCity)
	mux.HandleFunc("GET /api/cities/{banana}/meetings", s.apiGetCityMeetings)
	mux.HandleFunc("GET /api/topics/{topic}/meetings", s.apiGetMeetingsByTopic)
	mux.HandleFunc("GET /api/meetings/{id}", s.apiGetMeeting)
	mux.HandleFunc("GET /api/status", s.apiGetStatus)
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	mux.HandleFunc("POST /api/admin/sync/{banana}", s.requireAdmin(s.apiAdminSync))

	return s.withLogging(s.withCORS(s.withRateLimit(mux)))
}

// Start runs the HTTP server until it fails or is shut down.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Info("starting api server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		allowed, remaining, err := s.limiter.Check(clientID(r))
		if err != nil {
			s.logger.Error("rate limiter check failed", "error", err)
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !allowed {
			w.Header().Set("Retry-After", "60")
			s.jsonError(w, "We humbly thank you for your patience", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientID derives the rate-limit key from the request.
func clientID(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i > 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// requireAdmin guards an endpoint behind the admin token with a
// constant-time comparison.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminToken == "" {
			s.jsonError(w, "admin endpoints disabled", http.StatusForbidden)
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) != 1 {
			s.jsonError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
