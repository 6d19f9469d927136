// internal/httpapi/server.go
// Package httpapi serves the processor's observability surface:
// liveness, readiness, the latest insight snapshot, and Prometheus
// metrics.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/dipen321/kafka-pipeline/internal/report"
)

// HealthState tracks readiness for the HTTP API. Liveness is always
// true while the process runs; readiness toggles once the pipeline has
// started or begins shutting down.
type HealthState struct {
	ready chan struct{}
	start time.Time
}

// NewHealthState constructs the tracker with readiness unset.
func NewHealthState() *HealthState {
	return &HealthState{ready: make(chan struct{}), start: time.Now()}
}

// SetReady marks the service ready to receive traffic. Safe to call once.
func (h *HealthState) SetReady() {
	select {
	case <-h.ready:
	default:
		close(h.ready)
	}
}

// Ready reports whether the pipeline has started.
func (h *HealthState) Ready() bool {
	select {
	case <-h.ready:
		return true
	default:
		return false
	}
}

// insightSource decouples the router from the reporter in tests.
type insightSource interface {
	Latest() *report.Insight
}

// NewRouter builds the observability router.
func NewRouter(log *slog.Logger, health *HealthState, insights insightSource, metricsHandler http.Handler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(log, w, http.StatusOK, map[string]any{
			"status":    "ok",
			"uptime_ms": time.Since(health.start).Milliseconds(),
		})
	}).Methods(http.MethodGet)

	r.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !health.Ready() {
			writeJSON(log, w, http.StatusServiceUnavailable, map[string]any{"status": "starting"})
			return
		}
		writeJSON(log, w, http.StatusOK, map[string]any{"status": "ready"})
	}).Methods(http.MethodGet)

	r.HandleFunc("/insights", func(w http.ResponseWriter, _ *http.Request) {
		latest := insights.Latest()
		if latest == nil {
			writeJSON(log, w, http.StatusNotFound, map[string]any{"error": "no snapshot emitted yet"})
			return
		}
		writeJSON(log, w, http.StatusOK, latest)
	}).Methods(http.MethodGet)

	r.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
	return r
}

func writeJSON(log *slog.Logger, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error("response_write_err", slog.Any("err", err))
	}
}
