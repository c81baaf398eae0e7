package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticCheck struct {
	name string
	err  error
}

func (c staticCheck) Name() string                  { return c.name }
func (c staticCheck) Check(_ context.Context) error { return c.err }

func TestHandleHealth(t *testing.T) {
	h := NewHealthHandler("1.2.3", nil,
		staticCheck{name: "store"},
		staticCheck{name: "sandbox"},
	)
	mux := http.NewServeMux()
	h.Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "1.2.3", status.Version)
	assert.Len(t, status.Checks, 2)
	assert.Equal(t, "ok", status.Checks["store"].Status)
}

func TestHandleHealthFailingCheck(t *testing.T) {
	h := NewHealthHandler("1.2.3", nil,
		staticCheck{name: "store", err: errors.New("connection refused")},
	)
	mux := http.NewServeMux()
	h.Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "failed", status.Checks["store"].Status)
	assert.Contains(t, status.Checks["store"].Error, "connection refused")
}

func TestHandleLiveness(t *testing.T) {
	h := NewHealthHandler("dev", nil,
		staticCheck{name: "store", err: errors.New("down")},
	)
	mux := http.NewServeMux()
	h.Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	// Liveness must not depend on downstream health.
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleVersion(t *testing.T) {
	h := NewHealthHandler("0.4.0", nil)
	mux := http.NewServeMux()
	h.Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "0.4.0", body["version"])
}
