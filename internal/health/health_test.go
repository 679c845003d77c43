// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveStatus(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	stale := 90 * time.Second

	cases := []struct {
		name   string
		sample Sample
		want   Status
	}{
		{"nothing going on", Sample{Now: now, StaleAfter: stale}, StatusIdle},
		{"active with fresh ingest", Sample{ActiveSessions: 1, LastIngest: now.Add(-time.Second), Now: now, StaleAfter: stale}, StatusHealthy},
		{"pending work only", Sample{PendingWork: 3, Now: now, StaleAfter: stale}, StatusHealthy},
		{"active but ingest stale", Sample{ActiveSessions: 1, LastIngest: now.Add(-5 * time.Minute), Now: now, StaleAfter: stale}, StatusDegraded},
		{"one write failure", Sample{ActiveSessions: 1, WriteFailures: 1, Now: now, StaleAfter: stale}, StatusDegraded},
		{"persistent write failures", Sample{WriteFailures: 3, Now: now, StaleAfter: stale}, StatusError},
		{"active before any ingest", Sample{ActiveSessions: 1, Now: now, StaleAfter: stale}, StatusHealthy},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Derive(tc.sample))
		})
	}
}

func TestManagerAggregation(t *testing.T) {
	m := NewManager("test")
	m.RegisterChecker(CheckerFunc{CheckName: "store", Fn: func(context.Context) CheckResult {
		return CheckResult{Status: StatusHealthy}
	}})
	m.RegisterChecker(CheckerFunc{CheckName: "reports", Fn: func(context.Context) CheckResult {
		return CheckResult{Status: StatusDegraded, Message: "1 recent write failure"}
	}})

	resp := m.Ready(context.Background())
	assert.True(t, resp.Ready)
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Len(t, resp.Checks, 2)
}

func TestReadinessUnreadyOnError(t *testing.T) {
	m := NewManager("test")
	m.RegisterChecker(CheckerFunc{CheckName: "store", Fn: func(context.Context) CheckResult {
		return CheckResult{Status: StatusError, Error: "store down"}
	}})

	rec := httptest.NewRecorder()
	m.ServeReady(rec, httptest.NewRequest("GET", "/readyz", nil))
	assert.Equal(t, 503, rec.Code)

	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Ready)
	assert.Equal(t, StatusError, resp.Status)
}

func TestLivenessAlways200(t *testing.T) {
	m := NewManager("test")
	m.RegisterChecker(CheckerFunc{CheckName: "store", Fn: func(context.Context) CheckResult {
		return CheckResult{Status: StatusError, Error: "store down"}
	}})

	rec := httptest.NewRecorder()
	m.ServeHealth(rec, httptest.NewRequest("GET", "/healthz?verbose=true", nil))
	assert.Equal(t, 200, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusError, resp.Status)
}
