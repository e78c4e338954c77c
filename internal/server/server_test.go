package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/conneroisu/quicktex/internal/build"
	"github.com/conneroisu/quicktex/internal/errors"
	"github.com/conneroisu/quicktex/internal/metrics"
	"github.com/conneroisu/quicktex/internal/testutils"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, opts Options) (*Server, *httptest.Server) {
	t.Helper()
	s := New(opts)

	ctx, cancel := context.WithCancel(context.Background())
	go s.hub.Run(ctx)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})
	return s, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) BuildMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, typ)

	var msg BuildMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestNewBuildMessage(t *testing.T) {
	ok := NewBuildMessage(build.Result{
		ID:       "id-1",
		Script:   "/src/report.kts",
		Artifact: "/out/report.pdf",
		Duration: 1500 * time.Millisecond,
	})
	assert.Equal(t, "build", ok.Type)
	assert.True(t, ok.Success)
	assert.Equal(t, "success", ok.Outcome)
	assert.Equal(t, int64(1500), ok.DurationMS)
	assert.Empty(t, ok.Error)

	failed := NewBuildMessage(build.Result{
		ID:     "id-2",
		Script: "/src/broken.kts",
		Err:    errors.Evaluation("EVAL_FAILED", "script failed to evaluate", nil),
	})
	assert.False(t, failed.Success)
	assert.Equal(t, "evaluation_failed", failed.Outcome)
	assert.Contains(t, failed.Error, "EVAL_FAILED")
}

func TestWebSocketBroadcast(t *testing.T) {
	s, ts := newTestServer(t, Options{})

	first := dial(t, ts)
	second := dial(t, ts)
	testutils.WaitFor(t, 5*time.Second, func() bool { return s.Hub().ClientCount() == 2 })

	s.Notify(build.Result{ID: "abc", Script: "/src/report.kts", Artifact: "/out/report.pdf"})

	for _, conn := range []*websocket.Conn{first, second} {
		msg := readMessage(t, conn)
		assert.Equal(t, "abc", msg.ID)
		assert.Equal(t, "/out/report.pdf", msg.Artifact)
		assert.True(t, msg.Success)
	}
}

func TestWebSocketDisconnect(t *testing.T) {
	s, ts := newTestServer(t, Options{})

	conn := dial(t, ts)
	testutils.WaitFor(t, 5*time.Second, func() bool { return s.Hub().ClientCount() == 1 })

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))
	testutils.WaitFor(t, 5*time.Second, func() bool { return s.Hub().ClientCount() == 0 })
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	_, ts := newTestServer(t, Options{})

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/ws", nil)
	require.NoError(t, err)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	req.Header.Set("Origin", "https://evil.example.com")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	bm := build.NewBuildMetrics()
	bm.RecordBuild(build.Result{})
	bm.RecordBuild(build.Result{Err: errors.Render("ENGINE_FAILED", "boom", nil)})

	_, ts := newTestServer(t, Options{Metrics: bm})

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, int64(2), health.Builds)
	assert.Equal(t, int64(1), health.Failed)
	assert.NotEmpty(t, health.Version)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prom.NewRegistry()
	rec := metrics.NewPrometheusRecorder(reg)
	rec.IncBuildOutcome("success")

	_, ts := newTestServer(t, Options{Registry: reg})

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `quicktex_build_outcomes_total{outcome="success"} 1`)
}

func TestStartAndShutdown(t *testing.T) {
	s := New(Options{Addr: "127.0.0.1:0"})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	assert.NotEqual(t, "127.0.0.1:0", s.Addr())

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	testutils.WaitFor(t, 5*time.Second, func() bool {
		resp, err := http.Get("http://" + s.Addr() + "/healthz")
		if err == nil {
			resp.Body.Close()
		}
		return err != nil
	}, "server should stop accepting connections after cancellation")
}

func TestStartInvalidAddr(t *testing.T) {
	s := New(Options{Addr: "256.0.0.1:99999"})
	assert.Error(t, s.Start(context.Background()))
}
