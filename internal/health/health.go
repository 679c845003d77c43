// SPDX-License-Identifier: MIT

// Package health derives the coarse system-health label from recent
// activity counters and serves liveness/readiness probes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/decluttered-ai/reportd/internal/log"
)

// Status is the coarse system-health label carried in the status signal.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusError    Status = "error"
)

// errorFailureThreshold is the number of consecutive report-write
// failures after which the system reports error instead of degraded.
const errorFailureThreshold = 3

// Sample is one point-in-time view of the counters health derives from.
// Derivation is a pure function of the sample; it never feeds back into
// finalization.
type Sample struct {
	ActiveSessions int
	PendingWork    int
	LastIngest     time.Time
	WriteFailures  int // consecutive report-write failures
	StaleAfter     time.Duration
	Now            time.Time
}

// Derive maps a sample to the health label.
func Derive(s Sample) Status {
	if s.WriteFailures >= errorFailureThreshold {
		return StatusError
	}
	if s.WriteFailures > 0 {
		return StatusDegraded
	}
	if s.ActiveSessions > 0 && s.StaleAfter > 0 &&
		!s.LastIngest.IsZero() && s.Now.Sub(s.LastIngest) > s.StaleAfter {
		return StatusDegraded
	}
	if s.ActiveSessions == 0 && s.PendingWork == 0 {
		return StatusIdle
	}
	return StatusHealthy
}

// CheckResult is the result of one component health check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Response is the full health check response.
type Response struct {
	Status    Status                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// ReadinessResponse is the readiness probe response.
type ReadinessResponse struct {
	Ready     bool                   `json:"ready"`
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Checker is one registered component health check.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// CheckerFunc adapts a named function to the Checker interface.
type CheckerFunc struct {
	CheckName string
	Fn        func(ctx context.Context) CheckResult
}

func (c CheckerFunc) Name() string {
	return c.CheckName
}

func (c CheckerFunc) Check(ctx context.Context) CheckResult {
	return c.Fn(ctx)
}

// Manager aggregates component checks into probe responses.
type Manager struct {
	version  string
	checkers []Checker
}

// NewManager creates a health check manager.
func NewManager(version string) *Manager {
	return &Manager{version: version}
}

// RegisterChecker adds a component check.
func (m *Manager) RegisterChecker(checker Checker) {
	m.checkers = append(m.checkers, checker)
}

func (m *Manager) aggregate(ctx context.Context) (Status, map[string]CheckResult) {
	if len(m.checkers) == 0 {
		return StatusHealthy, nil
	}
	checks := make(map[string]CheckResult, len(m.checkers))
	overall := StatusHealthy
	for _, checker := range m.checkers {
		result := checker.Check(ctx)
		checks[checker.Name()] = result
		switch result.Status {
		case StatusError:
			overall = StatusError
		case StatusDegraded:
			if overall != StatusError {
				overall = StatusDegraded
			}
		}
	}
	return overall, checks
}

// Health performs a liveness check. Always 200 as long as the process
// can respond; component detail is included when verbose.
func (m *Manager) Health(ctx context.Context, verbose bool) Response {
	resp := Response{
		Status:    StatusHealthy,
		Version:   m.version,
		Timestamp: time.Now(),
	}
	if verbose {
		resp.Status, resp.Checks = m.aggregate(ctx)
	}
	return resp
}

// Ready performs a readiness check. The daemon is unready only when a
// component reports error.
func (m *Manager) Ready(ctx context.Context) ReadinessResponse {
	status, checks := m.aggregate(ctx)
	return ReadinessResponse{
		Ready:     status != StatusError,
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
	}
}

// ServeHealth handles HTTP liveness requests.
func (m *Manager) ServeHealth(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "health")
	verbose := r.URL.Query().Get("verbose") == "true"

	resp := m.Health(r.Context(), verbose)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "health.encode_error").Msg("failed to encode health response")
	}
}

// ServeReady handles HTTP readiness requests.
func (m *Manager) ServeReady(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "readiness")

	resp := m.Ready(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if resp.Ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "readiness.encode_error").Msg("failed to encode readiness response")
	}
}
