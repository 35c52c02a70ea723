package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadiness(t *testing.T) {
	up := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return errors.New("dial tcp: refused") })

	tests := []struct {
		name     string
		postgres Pinger
		redis    Pinger
		status   int
		state    string
	}{
		{name: "all up", postgres: up, redis: up, status: http.StatusOK, state: "ok"},
		{name: "redis down", postgres: up, redis: down, status: http.StatusOK, state: "degraded"},
		{name: "postgres down", postgres: down, redis: up, status: http.StatusServiceUnavailable, state: "error"},
		{name: "not configured", status: http.StatusServiceUnavailable, state: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRouter(RouterConfig{Service: &stubService{}, Postgres: tt.postgres, Redis: tt.redis, Env: "test"})
			rec := do(t, h, http.MethodGet, "/health/ready", "")

			assert.Equal(t, tt.status, rec.Code)
			var resp ReadinessResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.state, resp.Status)
			assert.Equal(t, "test", resp.Env)
		})
	}
}

func TestLivenessAndRequestID(t *testing.T) {
	h := NewRouter(RouterConfig{Service: &stubService{}, Version: "1.2.3"})

	req, err := http.NewRequest(http.MethodGet, "/health/live", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "req-42")
	rec := serve(h, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
	assert.JSONEq(t, `{"status":"ok","version":"1.2.3"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "tutoring_sample_total", Help: "sample"})
	reg.MustRegister(c)
	c.Inc()

	h := NewRouter(RouterConfig{Service: &stubService{}, Gatherer: reg})
	rec := do(t, h, http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tutoring_sample_total 1")
}
