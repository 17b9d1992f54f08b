package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/vbonduro/treetag/internal/auth"
	"github.com/vbonduro/treetag/internal/metrics"
	"github.com/vbonduro/treetag/internal/photostore"
	"github.com/vbonduro/treetag/internal/service"
	"github.com/vbonduro/treetag/internal/session"
	"github.com/vbonduro/treetag/internal/species"
)

// Deps are the collaborators the HTTP layer is built on.
type Deps struct {
	Trees    *service.TreeService
	Sessions *session.Manager
	Catalog  *species.Catalog
	Photos   photostore.PhotoStore
	Tokens   *auth.Tokens
	Limiter  *SubmitLimiter
	Metrics  *metrics.Metrics
}

type Server struct {
	trees    *service.TreeService
	sessions *session.Manager
	catalog  *species.Catalog
	photos   photostore.PhotoStore
	tokens   *auth.Tokens
	limiter  *SubmitLimiter
	metrics  *metrics.Metrics
	mux      *http.ServeMux
	handler  http.Handler
	logger   *slog.Logger
}

func NewServer(deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		trees:    deps.Trees,
		sessions: deps.Sessions,
		catalog:  deps.Catalog,
		photos:   deps.Photos,
		tokens:   deps.Tokens,
		limiter:  deps.Limiter,
		metrics:  deps.Metrics,
		mux:      http.NewServeMux(),
		logger:   logger,
	}
	s.registerRoutes()
	s.handler = requestLogger(logger, securityHeaders(s.tokens.Middleware(logger)(s.mux)))
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /sessions", s.handleOpenSession)
	s.mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("DELETE /sessions/{id}", s.handleCloseSession)
	s.mux.HandleFunc("PATCH /sessions/{id}/fields/{field}", s.handleSetField)
	s.mux.HandleFunc("POST /sessions/{id}/fields/{field}/touch", s.handleTouchField)
	s.mux.HandleFunc("POST /sessions/{id}/capture", s.handleCapture)
	s.mux.HandleFunc("POST /sessions/{id}/reset", s.handleReset)
	s.mux.Handle("POST /sessions/{id}/submit", s.limiter.Limit(s.metrics, http.HandlerFunc(s.handleSubmit)))

	s.mux.HandleFunc("POST /sessions/{id}/picker/open", s.handleOpenPicker)
	s.mux.HandleFunc("POST /sessions/{id}/picker/dismiss", s.handleDismissPicker)
	s.mux.HandleFunc("PUT /sessions/{id}/picker/query", s.handleSetQuery)
	s.mux.HandleFunc("POST /sessions/{id}/picker/select", s.handleSelectSpecies)
	s.mux.HandleFunc("GET /sessions/{id}/suggestions", s.handleSuggestions)

	s.mux.HandleFunc("GET /species", s.handleSearchSpecies)
	s.mux.HandleFunc("GET /trees", s.handleListTrees)
	s.mux.HandleFunc("GET /trees/{id}", s.handleGetTree)
	s.mux.HandleFunc("POST /trees/{id}/validate", s.handleValidateTree)
	s.mux.HandleFunc("GET /photos/{key...}", s.handleGetPhoto)
	s.mux.Handle("GET /metrics", s.metrics.Handler())
}

// securityHeaders adds defensive HTTP response headers to every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'; img-src 'self'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

// statusRecorder wraps http.ResponseWriter to capture the written status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func requestLogger(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info("starting server", "addr", addr)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return srv.ListenAndServe()
}
