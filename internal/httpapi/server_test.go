// internal/httpapi/server_test.go
package httpapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipen321/kafka-pipeline/internal/aggregate"
	"github.com/dipen321/kafka-pipeline/internal/report"
)

type stubInsights struct {
	latest *report.Insight
}

func (s *stubInsights) Latest() *report.Insight { return s.latest }

func newTestRouter(insights insightSource, health *HealthState) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metricsStub := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return NewRouter(logger, health, insights, metricsStub)
}

func TestHealthzAlwaysOK(t *testing.T) {
	t.Parallel()
	router := newTestRouter(&stubInsights{}, NewHealthState())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzFlipsWithPipelineState(t *testing.T) {
	t.Parallel()
	health := NewHealthState()
	router := newTestRouter(&stubInsights{}, health)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	health.SetReady()
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestInsightsBeforeFirstEmission(t *testing.T) {
	t.Parallel()
	router := newTestRouter(&stubInsights{}, NewHealthState())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/insights", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInsightsServesLatestSnapshot(t *testing.T) {
	t.Parallel()
	ins := &report.Insight{
		Seq: 3,
		Snapshot: aggregate.Snapshot{
			Accepted:    20,
			DeviceTypes: map[string]uint64{"android": 12, "iOS": 8},
			AppVersions: map[string]uint64{"2.0.0": 20},
			Locales:     map[string]uint64{"en-US": 20},
			Traffic:     map[string]uint64{"2023-11-14 22:13": 20},
		},
	}
	router := newTestRouter(&stubInsights{latest: ins}, NewHealthState())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/insights", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(3), body["seq"])
	assert.Equal(t, float64(20), body["accepted"])
	counts, ok := body["device_type_counts"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(12), counts["android"])
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()
	router := newTestRouter(&stubInsights{}, NewHealthState())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/insights", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
