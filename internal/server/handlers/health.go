package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
)

// Check and overall statuses.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusTimeout   = "timeout"
	StatusDraining  = "draining"
)

// HealthResponse is the aggregate /health body.
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

// HealthChecker is implemented by components that can report their health.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// HealthCheckerFunc adapts a function to HealthChecker.
type HealthCheckerFunc func(ctx context.Context) error

func (f HealthCheckerFunc) CheckHealth(ctx context.Context) error {
	return f(ctx)
}

// HealthManager runs registered checks for the health endpoints.
type HealthManager struct {
	mu       sync.RWMutex
	checkers map[string]HealthChecker
	version  string

	// draining flips readiness to unhealthy while in-flight generations finish.
	draining atomic.Bool
}

func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		checkers: make(map[string]HealthChecker),
		version:  version,
	}
}

// RegisterChecker adds or replaces the checker called name.
func (hm *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checkers[name] = checker
}

// SetDraining marks the server as shutting down. Readiness fails from then on
// while liveness keeps passing.
func (hm *HealthManager) SetDraining(draining bool) {
	hm.draining.Store(draining)
}

// Draining reports whether SetDraining(true) was called.
func (hm *HealthManager) Draining() bool {
	return hm.draining.Load()
}

// runHealthChecks runs every checker concurrently. A checker still running
// when ctx expires is reported as timeout.
func (hm *HealthManager) runHealthChecks(ctx context.Context) map[string]string {
	hm.mu.RLock()
	checkers := make(map[string]HealthChecker, len(hm.checkers))
	for name, checker := range hm.checkers {
		checkers[name] = checker
	}
	hm.mu.RUnlock()

	type result struct{ name, status string }
	results := make(chan result, len(checkers))

	var wg sync.WaitGroup
	for name, checker := range checkers {
		wg.Add(1)
		go func(name string, checker HealthChecker) {
			defer wg.Done()
			status := StatusHealthy
			if err := checker.CheckHealth(ctx); err != nil {
				status = StatusUnhealthy
			}
			results <- result{name, status}
		}(name, checker)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	checks := make(map[string]string, len(checkers))
	for name := range checkers {
		checks[name] = StatusTimeout
	}
	for {
		select {
		case res := <-results:
			checks[res.name] = res.status
		case <-done:
			for len(results) > 0 {
				res := <-results
				checks[res.name] = res.status
			}
			return checks
		case <-ctx.Done():
			return checks
		}
	}
}

// determineOverallStatus is unhealthy if any check failed and degraded if any
// timed out.
func (hm *HealthManager) determineOverallStatus(checks map[string]string) string {
	overall := StatusHealthy
	for _, status := range checks {
		switch status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded, StatusTimeout:
			overall = StatusDegraded
		}
	}
	return overall
}

// HealthHandler serves GET /health with every check's result.
func (hm *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	checks, status := hm.evaluate(r.Context(), 5*time.Second)
	if status == StatusUnhealthy {
		hm.fail(w, r, "", "aggregate health check failed", status, checks)
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Version:   hm.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	})
}

// LivenessHandler reports that the process is serving HTTP. It runs no
// checks, so a broken dependency never gets the process restarted.
func (hm *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ProbeResponse{Status: StatusHealthy, Timestamp: time.Now().UTC()})
}

// ReadinessHandler reports whether the server accepts new generations.
func (hm *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if hm.Draining() {
		hm.fail(w, r, "ready", "server is draining", StatusDraining, nil)
		return
	}
	hm.probe(w, r, "ready", 5*time.Second)
}

// StartupHandler reports whether initialization has completed.
func (hm *HealthManager) StartupHandler(w http.ResponseWriter, r *http.Request) {
	hm.probe(w, r, "startup", 3*time.Second)
}

func (hm *HealthManager) probe(w http.ResponseWriter, r *http.Request, name string, timeout time.Duration) {
	checks, status := hm.evaluate(r.Context(), timeout)
	if status == StatusUnhealthy {
		hm.fail(w, r, name, probeLabel(name)+" probe failed", status, checks)
		return
	}
	writeJSON(w, http.StatusOK, ProbeResponse{Status: status, Timestamp: time.Now().UTC()})
}

func (hm *HealthManager) evaluate(ctx context.Context, timeout time.Duration) (map[string]string, string) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	checks := hm.runHealthChecks(ctx)
	return checks, hm.determineOverallStatus(checks)
}

func (hm *HealthManager) fail(w http.ResponseWriter, r *http.Request, probe, message, status string, checks map[string]string) {
	envelope := errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", message)
	respondWithError(w, r, enrichHealthEnvelope(envelope, probe, status, checks))
}

func probeLabel(name string) string {
	switch name {
	case "ready":
		return "readiness"
	default:
		return name
	}
}

// enrichHealthEnvelope puts the check results in the response details and
// the failing check names in the logged context.
func enrichHealthEnvelope(envelope *errors.ErrorEnvelope, probe, status string, checks map[string]string) *errors.ErrorEnvelope {
	if envelope == nil {
		return nil
	}

	details := map[string]interface{}{"status": status}
	logged := map[string]interface{}{"status": status}
	if probe != "" {
		details["probe"] = probe
		logged["probe"] = probe
	}
	if len(checks) > 0 {
		details["checks"] = checks
	}

	var failing []string
	for name, result := range checks {
		if result != StatusHealthy {
			failing = append(failing, name)
		}
	}
	if len(failing) > 0 {
		sort.Strings(failing)
		logged["unhealthy_checks"] = failing
	}

	envelope = envelope.WithDetails(details)
	if updated, err := envelope.WithContext(logged); err == nil {
		envelope = updated
	}
	return envelope
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
