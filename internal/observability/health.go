package observability

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

type livenessResponse struct {
	Status      string `json:"status"`
	Service     string `json:"service,omitempty"`
	Version     string `json:"version,omitempty"`
	Environment string `json:"environment,omitempty"`
}

type dependencyStatus struct {
	Status    string  `json:"status"`
	LatencyMS float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
}

type readinessResponse struct {
	Status       string                      `json:"status"`
	Dependencies map[string]dependencyStatus `json:"dependencies"`
}

// liveness only proves the process can serve HTTP; it never touches dependencies.
func (s *Server) liveness(w http.ResponseWriter, _ *http.Request) {
	body := livenessResponse{Status: "ok"}
	if s.app != nil {
		body.Service = s.app.Name
		body.Version = s.app.Version
		body.Environment = s.app.Environment
	}
	writeJSON(w, http.StatusOK, body)
}

// readiness runs every checker in parallel under the configured timeout and
// answers 503 when any of them fails.
func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeout)
	defer cancel()

	deps := make(map[string]dependencyStatus, len(s.checkers))
	ready := true

	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, checker := range s.checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()

			start := time.Now()
			err := c.Check(ctx)
			st := dependencyStatus{Status: "up", LatencyMS: float64(time.Since(start).Microseconds()) / 1000}

			if err != nil {
				// WARN: the orchestrator retries.
				s.logger.Warn("health check failed",
					slog.String("dependency", c.Name()),
					slog.String("error", err.Error()),
				)
				st.Status = "down"
				st.Error = err.Error()
				DependencyUp.WithLabelValues(c.Name()).Set(0)
			} else {
				DependencyUp.WithLabelValues(c.Name()).Set(1)
			}

			mu.Lock()
			defer mu.Unlock()
			deps[c.Name()] = st
			if err != nil {
				ready = false
			}
		}(checker)
	}
	wg.Wait()

	body := readinessResponse{Status: "ready", Dependencies: deps}
	code := http.StatusOK
	if !ready {
		body.Status = "unavailable"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	// Status is already written.
	_ = json.NewEncoder(w).Encode(v)
}
