package handlers

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/errors"

	"github.com/llmgate/llmgate/internal/metrics"
)

// Check results.
const (
	checkHealthy   = "healthy"
	checkUnhealthy = "unhealthy"
	checkTimeout   = "timeout"
	checkDegraded  = "degraded"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ProbeResponse is the body of the live, ready and startup probes.
type ProbeResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthChecker is implemented by anything a probe can consult.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// HealthManager runs registered checkers for the health probes. General
// checkers feed every probe; readiness checkers feed only /health/ready so a
// saturated gateway is taken out of rotation without being restarted.
type HealthManager struct {
	mu        sync.RWMutex
	checkers  map[string]HealthChecker
	readiness map[string]HealthChecker
	version   string
}

func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		checkers:  make(map[string]HealthChecker),
		readiness: make(map[string]HealthChecker),
		version:   version,
	}
}

func (hm *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checkers[name] = checker
}

func (hm *HealthManager) RegisterReadinessChecker(name string, checker HealthChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.readiness[name] = checker
}

type namedChecker struct {
	name    string
	checker HealthChecker
}

// selectCheckers returns the checkers for a probe in name order.
func (hm *HealthManager) selectCheckers(withReadiness bool) []namedChecker {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	out := make([]namedChecker, 0, len(hm.checkers)+len(hm.readiness))
	for name, c := range hm.checkers {
		out = append(out, namedChecker{name, c})
	}
	if withReadiness {
		for name, c := range hm.readiness {
			out = append(out, namedChecker{name, c})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// runHealthChecks runs checkers in order until ctx expires; checkers not
// reached are reported as timed out.
func (hm *HealthManager) runHealthChecks(ctx context.Context, checkers []namedChecker) map[string]string {
	checks := make(map[string]string, len(checkers))
	for _, nc := range checkers {
		if ctx.Err() != nil {
			checks[nc.name] = checkTimeout
			continue
		}
		start := time.Now()
		err := nc.checker.CheckHealth(ctx)
		metrics.RecordHealthCheck(nc.name, err == nil, time.Since(start))
		if err != nil {
			checks[nc.name] = checkUnhealthy
		} else {
			checks[nc.name] = checkHealthy
		}
	}
	return checks
}

// determineOverallStatus: any unhealthy check fails the probe; timeouts and
// degraded checks degrade it.
func (hm *HealthManager) determineOverallStatus(checks map[string]string) string {
	status := checkHealthy
	for _, result := range checks {
		switch result {
		case checkUnhealthy:
			return checkUnhealthy
		case checkDegraded, checkTimeout:
			status = checkDegraded
		}
	}
	return status
}

// probe runs the checks for one probe and writes the response. ok renders the
// success body.
func (hm *HealthManager) probe(w http.ResponseWriter, r *http.Request, name string, timeout time.Duration, withReadiness bool, ok func(status string, checks map[string]string) any) {
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	checks := hm.runHealthChecks(ctx, hm.selectCheckers(withReadiness))
	status := hm.determineOverallStatus(checks)
	if status == checkUnhealthy {
		message := name + " probe failed"
		if name == "aggregate" {
			message = "aggregate health check failed"
		}
		envelope := errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", message)
		respondWithError(w, r, enrichHealthEnvelope(envelope, name, status, checks))
		return
	}
	writeJSON(w, http.StatusOK, ok(status, checks))
}

func probeBody(status string, _ map[string]string) any {
	return ProbeResponse{Status: status, Timestamp: time.Now().UTC()}
}

func (hm *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	hm.probe(w, r, "aggregate", 5*time.Second, false, func(status string, checks map[string]string) any {
		return HealthResponse{
			Status:    status,
			Version:   hm.version,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Checks:    checks,
		}
	})
}

// LivenessHandler reports whether the process is running. Capacity is not
// consulted.
func (hm *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	hm.probe(w, r, "live", 2*time.Second, false, probeBody)
}

// ReadinessHandler reports whether the gateway can take another request.
func (hm *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	hm.probe(w, r, "ready", 5*time.Second, true, probeBody)
}

func (hm *HealthManager) StartupHandler(w http.ResponseWriter, r *http.Request) {
	hm.probe(w, r, "startup", 3*time.Second, false, probeBody)
}

func enrichHealthEnvelope(envelope *errors.ErrorEnvelope, probe, status string, checks map[string]string) *errors.ErrorEnvelope {
	if envelope == nil {
		return nil
	}

	details := map[string]interface{}{"status": status, "probe": probe}
	if len(checks) > 0 {
		details["checks"] = checks
	}
	envelope = envelope.WithDetails(details)

	var failing []string
	for name, result := range checks {
		if result != checkHealthy {
			failing = append(failing, name)
		}
	}
	sort.Strings(failing)
	contextData := map[string]interface{}{"status": status, "probe": probe}
	if len(failing) > 0 {
		contextData["unhealthy_checks"] = failing
	}
	envelope, _ = envelope.WithContext(contextData)
	return envelope
}

var globalHealthManager *HealthManager

// InitHealthManager replaces the process-wide manager used by the package
// level probe handlers.
func InitHealthManager(version string) {
	globalHealthManager = NewHealthManager(version)
}

func GetHealthManager() *HealthManager {
	return globalHealthManager
}

func globalProbe(probe string, handler func(*HealthManager, http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hm := globalHealthManager; hm != nil {
			handler(hm, w, r)
			return
		}
		envelope := errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "health manager not initialized")
		respondWithError(w, r, enrichHealthEnvelope(envelope, probe, "unknown", nil))
	}
}

// Package level probes backed by the manager from InitHealthManager.
var (
	HealthHandler    = globalProbe("aggregate", (*HealthManager).HealthHandler)
	LivenessHandler  = globalProbe("live", (*HealthManager).LivenessHandler)
	ReadinessHandler = globalProbe("ready", (*HealthManager).ReadinessHandler)
	StartupHandler   = globalProbe("startup", (*HealthManager).StartupHandler)
)
