package runtime

import (
	"context"
	"net/http"
	"strings"

	"github.com/drblury/ragstream/internal/runtime/health"
	"github.com/drblury/ragstream/internal/runtime/jsoncodec"
)

type probeStatus struct {
	Status  string          `json:"status"`
	Service string          `json:"service,omitempty"`
	Version string          `json:"version,omitempty"`
	Checks  []health.Result `json:"checks,omitempty"`
}

// registerProbes mounts the liveness, readiness, metrics and handler stats
// endpoints on port.
func (s *Service) registerProbes(port int) {
	s.RegisterHTTPHandler(port, "GET /live", http.HandlerFunc(s.handleLive))
	s.RegisterHTTPHandler(port, "GET /ready", http.HandlerFunc(s.handleReady))
	s.RegisterHTTPHandler(port, "GET /health", http.HandlerFunc(s.handleHealth))
	s.RegisterHTTPHandler(port, "GET /metrics", s.metrics.Handler())
	s.RegisterHTTPHandler(port, "/api/handlers", http.HandlerFunc(s.handleGetHandlers))
}

// AddReadinessChecker adds a dependency probed by /ready.
func (s *Service) AddReadinessChecker(c health.Checker) {
	s.readinessMu.Lock()
	defer s.readinessMu.Unlock()
	s.readiness = append(s.readiness, c)
}

// Ready runs every readiness checker.
func (s *Service) Ready(ctx context.Context) health.Report {
	s.readinessMu.RLock()
	checkers := append([]health.Checker(nil), s.readiness...)
	s.readinessMu.RUnlock()
	return health.Run(ctx, health.DefaultTimeout, checkers...)
}

func (s *Service) handleLive(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, probeStatus{
		Status:  health.StatusOK,
		Service: s.Conf.Project.Name,
		Version: s.Conf.Project.Version,
	})
}

func (s *Service) handleReady(w http.ResponseWriter, r *http.Request) {
	report := s.Ready(r.Context())
	code := http.StatusOK
	body := probeStatus{
		Status:  report.Status,
		Service: s.Conf.Project.Name,
		Version: s.Conf.Project.Version,
	}
	if !report.Ready() {
		code = http.StatusServiceUnavailable
		body.Checks = report.Failed()
	}
	s.writeJSON(w, code, body)
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, probeStatus{Status: health.StatusOK})
}

func (s *Service) handleGetHandlers(w http.ResponseWriter, r *http.Request) {
	if s.Conf != nil && len(s.Conf.API.CORSAllowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		if allowedOrigin := s.getAllowedCORSOrigin(origin); allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
	}

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	s.writeJSON(w, http.StatusOK, s.handlers)
}

func (s *Service) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := jsoncodec.Encode(w, v); err != nil {
		s.Logger.Error("Failed to encode response", err, nil)
	}
}

// getAllowedCORSOrigin returns the Access-Control-Allow-Origin value for
// requestOrigin, or "" when it is not allowed.
func (s *Service) getAllowedCORSOrigin(requestOrigin string) string {
	if s.Conf == nil {
		return ""
	}
	for _, allowed := range s.Conf.API.CORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
