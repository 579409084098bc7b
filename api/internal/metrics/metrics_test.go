package metrics_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irgordon/whisper/api/internal/core/domain"
	"github.com/irgordon/whisper/api/internal/metrics"
)

func TestMetrics_EventsAndSweeps(t *testing.T) {
	m := metrics.New()

	m.Publish(domain.SecretEvent{ID: "a", Type: domain.EventCreated})
	m.Publish(domain.SecretEvent{ID: "b", Type: domain.EventCreated})
	m.Publish(domain.SecretEvent{ID: "a", Type: domain.EventConsumed})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SecretEventsTotal.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SecretEventsTotal.WithLabelValues("consumed")))

	m.ObserveSweep(3, nil)
	m.ObserveSweep(0, errors.New("boom"))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SweptSecretsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SweepErrorsTotal))
}

func TestMetrics_MiddlewareUsesRoutePattern(t *testing.T) {
	m := metrics.New()

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/v1/secrets/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/secrets/4d2c6c1e-8b41-4a7e-9f0a-6a1f0d0f9b77", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(
		m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/secrets/{id}", "404"),
	))
}

func TestMetrics_Handler(t *testing.T) {
	m := metrics.New()
	m.RateLimited()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "whisper_rate_limited_requests_total 1")
}
