// Package handler provides HTTP handlers for the evacuation map API.
package handler

import (
	"net/http"
	"slices"
	"strconv"

	"github.com/jonboulle/clockwork"

	"github.com/evacmap/evacmap/internal/api/models"
	"github.com/evacmap/evacmap/internal/api/response"
	"github.com/evacmap/evacmap/internal/provider/resilience"
)

// SessionCounter reports how many sessions are live.
type SessionCounter interface {
	Len() int
}

// OpsHandlerConfig holds the dependencies of an OpsHandler.
type OpsHandlerConfig struct {
	Version   string
	BuildTime string

	// Registry tracks the resilient clients (optional).
	Registry *resilience.Registry

	// Sessions is reported as a subsystem (optional).
	Sessions SessionCounter

	// Critical names the providers without which the service is not ready.
	Critical []string

	// Clock stamps responses (default: real clock).
	Clock clockwork.Clock
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	registry  *resilience.Registry
	sessions  SessionCounter
	critical  []string
	clock     clockwork.Clock
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsHandlerConfig) *OpsHandler {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &OpsHandler{
		version:   cfg.Version,
		buildTime: cfg.BuildTime,
		registry:  cfg.Registry,
		sessions:  cfg.Sessions,
		critical:  cfg.Critical,
		clock:     clock,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.clock.Now()),
		Details: map[string]any{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	})
}

// ReadinessCheck handles GET /v1/ops/ready - readiness check.
// The service is not ready while the circuit of a critical provider is open.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.clock.Now()),
	}

	var open []string
	if h.registry != nil {
		for _, name := range h.critical {
			if ph := h.registry.GetHealth(name); ph != nil && ph.IsUnhealthy() {
				open = append(open, name)
			}
		}
	}

	if len(open) > 0 {
		health.Status = models.HealthStatusFail
		health.Details = map[string]any{"openCircuits": open}
		response.JSON(w, r, http.StatusServiceUnavailable, health)
		return
	}
	response.JSON(w, r, http.StatusOK, health)
}

// SystemStatus handles GET /v1/ops/status. Only critical providers can take
// the overall status to FAIL; the rest cap it at DEGRADED.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	status := models.SystemStatus{
		Status:     models.HealthStatusOK,
		Time:       models.Timestamp(h.clock.Now()),
		Subsystems: []models.SubsystemStatus{},
		Providers:  []models.ProviderStatus{},
	}

	if h.sessions != nil {
		status.Subsystems = append(status.Subsystems, models.SubsystemStatus{
			Name:   "sessions",
			Status: models.HealthStatusOK,
			Detail: strconv.Itoa(h.sessions.Len()) + " active",
		})
	}

	for _, ph := range h.providers() {
		ps := models.ProviderStatus{
			Provider:      ph.Name,
			Status:        providerStatus(ph),
			CircuitState:  ph.CircuitState.String(),
			LastSuccessAt: models.TimestampOf(ph.LastSuccessAt),
			LastFailureAt: models.TimestampOf(ph.LastFailureAt),
			Message:       ph.LastError,
		}
		status.Providers = append(status.Providers, ps)

		impact := ps.Status
		if impact == models.HealthStatusFail && !slices.Contains(h.critical, ph.Name) {
			impact = models.HealthStatusDegraded
		}
		status.Status = status.Status.Worse(impact)
	}

	response.JSON(w, r, http.StatusOK, status)
}

func (h *OpsHandler) providers() []*resilience.ProviderHealth {
	if h.registry == nil {
		return nil
	}
	return h.registry.GetAllHealth()
}

func providerStatus(ph *resilience.ProviderHealth) models.HealthStatus {
	switch {
	case ph.IsUnhealthy():
		return models.HealthStatusFail
	case ph.IsDegraded():
		return models.HealthStatusDegraded
	}
	return models.HealthStatusOK
}
