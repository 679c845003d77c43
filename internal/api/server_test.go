// SPDX-License-Identifier: MIT

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decluttered-ai/reportd/internal/archive"
	"github.com/decluttered-ai/reportd/internal/bus"
	"github.com/decluttered-ai/reportd/internal/contract"
	"github.com/decluttered-ai/reportd/internal/coordinator"
	"github.com/decluttered-ai/reportd/internal/dedup"
	"github.com/decluttered-ai/reportd/internal/health"
	"github.com/decluttered-ai/reportd/internal/report"
	"github.com/decluttered-ai/reportd/internal/router"
	"github.com/decluttered-ai/reportd/internal/session"
)

type testServer struct {
	srv   *httptest.Server
	reg   *session.Registry
	coord *coordinator.Coordinator
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	reg := session.NewRegistry()
	rt := router.New(reg, dedup.NewIndex())
	gen := &report.Generator{DataDir: t.TempDir(), WriteTimeout: 5 * time.Second}
	events := bus.NewMemoryBus()
	coord := coordinator.New(reg, rt, gen, archive.NewMemoryStore(), events, coordinator.Config{})

	healthMgr := health.NewManager("test")
	healthMgr.RegisterChecker(coord.Checker())

	defaults := session.Config{DurationSeconds: 120, MaxCaptures: 5, CooldownSeconds: 2}
	server := New(coord, events, healthMgr, defaults, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- coord.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	srv := httptest.NewServer(server.Router())
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, reg: reg, coord: coord}
}

func (ts *testServer) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(ts.srv.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (ts *testServer) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestCreateSession(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.post(t, "/api/v1/sessions", contract.StartRequest{
		SessionID: "session_1", DurationSeconds: 60, MaxCaptures: 3,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body := decode[sessionResponse](t, resp)
	assert.Equal(t, "session_1", body.SessionID)
	assert.Equal(t, session.StatusActive, body.Status)
	assert.Equal(t, 60, body.Config.DurationSeconds)
}

func TestCreateSessionAppliesDefaults(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.post(t, "/api/v1/sessions", map[string]any{})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body := decode[sessionResponse](t, resp)
	assert.Equal(t, 120, body.Config.DurationSeconds)
	assert.Equal(t, 5, body.Config.MaxCaptures)
}

func TestCreateSessionDuplicate409(t *testing.T) {
	ts := newTestServer(t)

	first := ts.post(t, "/api/v1/sessions", contract.StartRequest{SessionID: "session_1"})
	require.Equal(t, http.StatusCreated, first.StatusCode)

	dup := ts.post(t, "/api/v1/sessions", contract.StartRequest{SessionID: "session_1"})
	assert.Equal(t, http.StatusConflict, dup.StatusCode)
}

func TestCreateSessionInvalidConfig400(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.post(t, "/api/v1/sessions", contract.StartRequest{
		SessionID: "session_1", DurationSeconds: -5,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetSession(t *testing.T) {
	ts := newTestServer(t)
	ts.post(t, "/api/v1/sessions", contract.StartRequest{SessionID: "session_1"})

	resp := ts.get(t, "/api/v1/sessions/session_1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[sessionResponse](t, resp)
	assert.Equal(t, "session_1", body.SessionID)

	missing := ts.get(t, "/api/v1/sessions/ghost")
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestIngestResultApplied(t *testing.T) {
	ts := newTestServer(t)
	ts.post(t, "/api/v1/sessions", contract.StartRequest{SessionID: "session_1"})

	resp := ts.post(t, "/api/v1/results", contract.StageResult{
		SourcePath: "/captures/img_001.jpg",
		Timestamp:  time.Now().Unix(),
		SessionID:  "session_1",
		Categories: []string{"laptop", "Book"},
		ItemCount:  2,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		snap, err := ts.reg.Snapshot("session_1")
		return err == nil && len(snap.Images) == 1
	}, 2*time.Second, 10*time.Millisecond)

	snap, err := ts.reg.Snapshot("session_1")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.TotalObjects)
	assert.Len(t, snap.Unique, 2)
}

func TestIngestMalformedJSON400(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Post(ts.srv.URL+"/api/v1/results", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIngestUnknownSessionStill202(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.post(t, "/api/v1/results", contract.StageResult{
		SourcePath: "/captures/img.jpg",
		Timestamp:  time.Now().Unix(),
		SessionID:  "never-created",
		ItemCount:  1,
	})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestStopSession(t *testing.T) {
	ts := newTestServer(t)
	ts.post(t, "/api/v1/sessions", contract.StartRequest{SessionID: "session_1"})

	resp := ts.post(t, "/api/v1/sessions/session_1/stop", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		snap, err := ts.reg.Snapshot("session_1")
		return err == nil && snap.Status == session.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStopUnknownSession404(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.post(t, "/api/v1/sessions/ghost/stop", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatusEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.post(t, "/api/v1/sessions", contract.StartRequest{SessionID: "session_1"})

	resp := ts.get(t, "/api/v1/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sig := decode[contract.StatusSignal](t, resp)
	assert.Equal(t, 1, sig.ActiveSessions)
	assert.Equal(t, int64(1), sig.TotalSessionsSeen)
	assert.Equal(t, "session_1", sig.MostRecentSession)
}

func TestAdminCleanup(t *testing.T) {
	ts := newTestServer(t)
	ts.post(t, "/api/v1/sessions", contract.StartRequest{SessionID: "session_1"})
	ts.post(t, "/api/v1/sessions/session_1/stop", nil)

	require.Eventually(t, func() bool {
		snap, err := ts.reg.Snapshot("session_1")
		return err == nil && snap.Status == session.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	resp := ts.post(t, "/api/v1/admin/cleanup", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]int](t, resp)
	assert.Equal(t, 1, body["dropped"])

	missing := ts.get(t, "/api/v1/sessions/session_1")
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestProbesAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp := ts.get(t, path)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestRequestIDEchoed(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.srv.URL+"/api/v1/status", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-Id", "req-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, "req-123", resp.Header.Get("X-Request-Id"))

	plain := ts.get(t, "/api/v1/status")
	assert.NotEmpty(t, plain.Header.Get("X-Request-Id"))
}

func TestRateLimitEnforced(t *testing.T) {
	reg := session.NewRegistry()
	rt := router.New(reg, dedup.NewIndex())
	gen := &report.Generator{DataDir: t.TempDir(), WriteTimeout: 5 * time.Second}
	events := bus.NewMemoryBus()
	coord := coordinator.New(reg, rt, gen, nil, events, coordinator.Config{})
	server := New(coord, events, health.NewManager("test"), session.Config{
		DurationSeconds: 120, MaxCaptures: 5,
	}, 5)

	srv := httptest.NewServer(server.Router())
	defer srv.Close()

	limited := false
	for i := 0; i < 10; i++ {
		resp, err := http.Get(srv.URL + "/api/v1/status")
		require.NoError(t, err)
		_ = resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	assert.True(t, limited, "expected a 429 within 10 requests at limit 5/min")
}
