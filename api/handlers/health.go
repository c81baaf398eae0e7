package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HealthCheck probes one dependency of the service.
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckResult is the outcome of a single health check.
type CheckResult struct {
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency"`
}

// HealthStatus aggregates the results of all registered checks.
type HealthStatus struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]CheckResult `json:"checks,omitempty"`
}

// HealthHandler serves the health and version endpoints.
type HealthHandler struct {
	version string
	checks  []HealthCheck
	logger  *zap.Logger
}

// NewHealthHandler creates a health handler with the given checks.
func NewHealthHandler(version string, logger *zap.Logger, checks ...HealthCheck) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		version: version,
		checks:  checks,
		logger:  logger.Named("api.health"),
	}
}

// Register attaches the health routes to the mux.
func (h *HealthHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /healthz", h.HandleLiveness)
	mux.HandleFunc("GET /ready", h.HandleHealth)
	mux.HandleFunc("GET /version", h.HandleVersion)
}

// HandleHealth runs every registered check and reports the aggregate.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := HealthStatus{
		Status:  "healthy",
		Version: h.version,
		Checks:  make(map[string]CheckResult, len(h.checks)),
	}

	for _, check := range h.checks {
		start := time.Now()
		err := check.Check(ctx)
		result := CheckResult{
			Status:  "ok",
			Latency: time.Since(start).String(),
		}
		if err != nil {
			result.Status = "failed"
			result.Error = err.Error()
			status.Status = "unhealthy"
			h.logger.Warn("health check failed",
				zap.String("check", check.Name()),
				zap.Error(err),
			)
		}
		status.Checks[check.Name()] = result
	}

	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, status)
}

// HandleLiveness reports process liveness without touching dependencies.
func (h *HealthHandler) HandleLiveness(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// HandleVersion reports the build version.
func (h *HealthHandler) HandleVersion(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"version": h.version})
}

// StoreCheck adapts an execution store's Ping into a HealthCheck.
type StoreCheck struct {
	Pinger interface {
		Ping(ctx context.Context) error
	}
}

// Name implements HealthCheck.
func (StoreCheck) Name() string { return "store" }

// Check implements HealthCheck.
func (c StoreCheck) Check(ctx context.Context) error { return c.Pinger.Ping(ctx) }
