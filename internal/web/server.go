// Package web exposes the runner over a small token-protected JSON API.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/eraser-privacy/unsubscribe-sidecar/internal/config"
	"github.com/eraser-privacy/unsubscribe-sidecar/internal/history"
	"github.com/eraser-privacy/unsubscribe-sidecar/internal/unsubscribe"
)

const (
	serviceName     = "sidecar"
	tokenHeader     = "X-Internal"
	maxBodyBytes    = 64 << 10
	defaultRunLimit = 50
	maxRunLimit     = 500
	recordTimeout   = 5 * time.Second
)

// Runner executes one unsubscribe request.
type Runner interface {
	Run(ctx context.Context, req unsubscribe.Request) (*unsubscribe.Evidence, error)
}

// Store is the run ledger. A nil Store disables recording and /runs.
type Store interface {
	Add(ctx context.Context, run *history.Run) error
	Recent(ctx context.Context, limit int) ([]history.Run, error)
	Stats(ctx context.Context) (map[unsubscribe.Status]int, error)
}

type Server struct {
	cfg         config.ServerConfig
	runner      Runner
	store       Store
	logger      *zap.Logger
	sessions    *semaphore.Weighted
	rateLimiter *RateLimiter
	httpServer  *http.Server
}

func NewServer(cfg config.ServerConfig, runner Runner, store Store, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	sessions := cfg.MaxSessions
	if sessions < 1 {
		sessions = 1
	}
	return &Server{
		cfg:         cfg,
		runner:      runner,
		store:       store,
		logger:      logger,
		sessions:    semaphore.NewWeighted(int64(sessions)),
		rateLimiter: NewRateLimiter(cfg.RateLimit, cfg.RateWindow),
	}
}

// Handler returns the routed handler. Tests use it with httptest.
func (s *Server) Handler() http.Handler {
	return s.setupRouter()
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.setupRouter(),
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       15 * time.Second,
		// A run may take as long as the request timeout allows.
		WriteTimeout: s.cfg.RequestTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("sidecar listening", zap.String("addr", s.cfg.Addr()))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight runs and stops the
// rate limiter.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.rateLimiter.Stop()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Close releases background resources when the server was never started.
func (s *Server) Close() {
	s.rateLimiter.Stop()
}

func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)
		r.Post("/run", s.handleRun)
		r.Get("/runs", s.handleRuns)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed")
	})
	return r
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs one line per request. Query strings are left out since
// unsubscribe links carry subscriber identifiers.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(tokenHeader)
		want := s.cfg.Token
		if want == "" || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "service": serviceName})
}

type runResponse struct {
	OK            bool               `json:"ok"`
	RunID         string             `json:"run_id"`
	Status        unsubscribe.Status `json:"status"`
	Strategy      string             `json:"strategy,omitempty"`
	Actions       []string           `json:"actions"`
	Captcha       string             `json:"captcha,omitempty"`
	ScreenshotB64 string             `json:"screenshot_b64"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if !s.rateLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, "rate_limited")
		return
	}

	var req unsubscribe.Request
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	req.Email = strings.TrimSpace(req.Email)
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if host := normalizeHost(req.URL); !domainAllowed(host, s.cfg.Allowlist) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"ok":     false,
			"error":  "domain_not_allowed",
			"domain": host,
		})
		return
	}

	ctx := r.Context()
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}
	if err := s.sessions.Acquire(ctx, 1); err != nil {
		writeError(w, http.StatusServiceUnavailable, "busy")
		return
	}
	ev, err := s.runHeld(ctx, req)

	s.record(ctx, req, ev)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, runResponse{
		OK:            true,
		RunID:         ev.RunID,
		Status:        ev.Status,
		Strategy:      string(ev.Strategy),
		Actions:       ev.Actions,
		Captcha:       ev.Captcha,
		ScreenshotB64: base64.StdEncoding.EncodeToString(ev.Screenshot),
	})
}

// runHeld runs req and gives the session slot back even if the runner
// panics.
func (s *Server) runHeld(ctx context.Context, req unsubscribe.Request) (*unsubscribe.Evidence, error) {
	defer s.sessions.Release(1)
	return s.runner.Run(ctx, req)
}

func (s *Server) record(ctx context.Context, req unsubscribe.Request, ev *unsubscribe.Evidence) {
	if s.store == nil || ev == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := s.store.Add(ctx, history.FromEvidence(req, ev)); err != nil {
		s.logger.Warn("failed to record run", zap.String("run_id", ev.RunID), zap.Error(err))
	}
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "history_disabled")
		return
	}
	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxRunLimit)
	}

	runs, err := s.store.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.Error("failed to count runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "runs": runs, "stats": stats})
}

// clientKey is the rate limit key, the caller's address without port.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": msg})
}
