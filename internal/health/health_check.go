package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Pinger is a dependency whose reachability gates readiness
type Pinger interface {
	Ping(ctx context.Context) error
}

// ClaimReporter reports whether the conductor holds its ring group
type ClaimReporter interface {
	HoldsClaim() bool
}

// HealthChecker provides health check endpoints
type HealthChecker struct {
	store     Pinger
	conductor ClaimReporter
	ringGroup string
	timeout   time.Duration
	logger    *zap.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp int64             `json:"timestamp"`
	RingGroup string            `json:"ring_group,omitempty"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(store Pinger, conductor ClaimReporter, ringGroup string, logger *zap.Logger) *HealthChecker {
	return &HealthChecker{
		store:     store,
		conductor: conductor,
		ringGroup: ringGroup,
		timeout:   5 * time.Second,
		logger:    logger,
	}
}

// LivenessHandler handles liveness probe requests
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:    "alive",
		Timestamp: time.Now().Unix(),
		RingGroup: h.ringGroup,
	}

	writeStatus(w, http.StatusOK, status)
}

// ReadinessHandler handles readiness probe requests. Claim ownership is
// reported but does not affect readiness.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	// Check cluster state store
	if err := h.checkStore(ctx); err != nil {
		h.logger.Error("Store health check failed", zap.Error(err))
		checks["store"] = "unhealthy: " + err.Error()
		allHealthy = false
	} else {
		checks["store"] = "healthy"
	}

	if h.conductor != nil {
		if h.conductor.HoldsClaim() {
			checks["conductor_claim"] = "held"
		} else {
			checks["conductor_claim"] = "not_held"
		}
	}

	status := HealthStatus{
		Timestamp: time.Now().Unix(),
		RingGroup: h.ringGroup,
		Checks:    checks,
	}

	if allHealthy {
		status.Status = "ready"
		writeStatus(w, http.StatusOK, status)
	} else {
		status.Status = "not_ready"
		writeStatus(w, http.StatusServiceUnavailable, status)
	}
}

// checkStore checks if the store is reachable
func (h *HealthChecker) checkStore(ctx context.Context) error {
	if h.store == nil {
		return nil // Skip if not initialized
	}
	return h.store.Ping(ctx)
}

func writeStatus(w http.ResponseWriter, code int, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}
