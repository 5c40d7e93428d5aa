// Package api exposes the operational HTTP interface for the crawler: health
// probes, Prometheus metrics, and per-domain pacing/breaker state.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/career-page-crawler/internal/breaker"
	"github.com/JakeFAU/career-page-crawler/internal/throttle"
)

// Server wires operational HTTP handlers to the throttle and breaker.
type Server struct {
	router   chi.Router
	throttle *throttle.Controller
	breaker  *breaker.Breaker
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(throttleCtl *throttle.Controller, circuits *breaker.Breaker, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		throttle: throttleCtl,
		breaker:  circuits,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/domains", s.domains)

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// domainStatus is the per-domain entry returned by GET /domains.
type domainStatus struct {
	Domain        string  `json:"domain"`
	Circuit       string  `json:"circuit"`
	BackoffFactor float64 `json:"backoff_factor"`
	NextDelayMs   int64   `json:"next_delay_ms"`
	Successes     int     `json:"successes"`
	Failures      int     `json:"failures"`
}

func (s *Server) domains(w http.ResponseWriter, _ *http.Request) {
	circuits := map[string]breaker.State{}
	if s.breaker != nil {
		circuits = s.breaker.Snapshot()
	}
	var pacing []throttle.PacingInfo
	if s.throttle != nil {
		pacing = s.throttle.Snapshot()
	}

	byDomain := make(map[string]*domainStatus)
	for _, info := range pacing {
		byDomain[info.Domain] = &domainStatus{
			Domain:        info.Domain,
			Circuit:       string(breaker.StateClosed),
			BackoffFactor: info.BackoffFactor,
			NextDelayMs:   info.NextDelay.Milliseconds(),
			Successes:     info.Successes,
			Failures:      info.Failures,
		}
	}
	for domain, state := range circuits {
		entry, ok := byDomain[domain]
		if !ok {
			entry = &domainStatus{Domain: domain}
			byDomain[domain] = entry
		}
		entry.Circuit = string(state)
	}

	out := make([]domainStatus, 0, len(byDomain))
	for _, entry := range byDomain {
		out = append(out, *entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{"domains": out})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
