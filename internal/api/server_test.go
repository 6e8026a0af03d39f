package api

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/basekick-labs/bulkloader/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	cfg := DefaultServerConfig()
	cfg.Keyspace = "mgrast"
	cfg.Table = "index_annotation"
	cfg.SessionID = "session-1"
	return NewServer(cfg, m, zerolog.Nop()), m
}

func get(t *testing.T, s *Server, path string, header map[string]string) (*http.Response, []byte) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := s.App().Test(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	resp, body := get(t, s, "/health", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]any
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "ok", out["status"])
}

func TestMetrics_PrometheusAndJSON(t *testing.T) {
	s, m := newTestServer(t)
	m.IncRowsRead()
	m.IncRowsRead()

	resp, body := get(t, s, "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))
	assert.Contains(t, string(body), "rows_read_total 2")

	resp, body = get(t, s, "/metrics", map[string]string{"Accept": "application/json"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]any
	require.NoError(t, json.Unmarshal(body, &out))
	assert.EqualValues(t, 2, out["rows_read_total"])
}

func TestProgress(t *testing.T) {
	s, m := newTestServer(t)
	for i := 0; i < 5; i++ {
		m.IncRowsRead()
	}
	m.IncRowsWritten(3)
	m.RecordGeneration(2, 100, 60, 400)

	resp, body := get(t, s, "/api/v1/progress", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Keyspace  string `json:"keyspace"`
		Table     string `json:"table"`
		SessionID string `json:"session_id"`
		Input     struct {
			RowsRead int64 `json:"rows_read"`
		} `json:"input"`
		Output struct {
			RowsWritten int64 `json:"rows_written"`
			Generations int64 `json:"generations"`
			Partitions  int64 `json:"partitions"`
		} `json:"output"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "mgrast", out.Keyspace)
	assert.Equal(t, "index_annotation", out.Table)
	assert.Equal(t, "session-1", out.SessionID)
	assert.Equal(t, int64(5), out.Input.RowsRead)
	assert.Equal(t, int64(3), out.Output.RowsWritten)
	assert.Equal(t, int64(1), out.Output.Generations)
	assert.Equal(t, int64(2), out.Output.Partitions)
}

func TestLogs(t *testing.T) {
	s, _ := newTestServer(t)
	resp, body := get(t, s, "/api/v1/logs?limit=5", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]any
	require.NoError(t, json.Unmarshal(body, &out))
	assert.EqualValues(t, 5, out["limit"])
}

func TestUnknownRouteAndRequestCounter(t *testing.T) {
	s, m := newTestServer(t)
	resp, _ := get(t, s, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	get(t, s, "/health", nil)
	assert.EqualValues(t, 2, m.Snapshot()["http_requests_total"])
}

func TestStartAndShutdown(t *testing.T) {
	m := metrics.New()
	cfg := DefaultServerConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	s := NewServer(cfg, m, zerolog.Nop())

	require.NoError(t, s.Start())
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, s.Shutdown(context.Background()))
}

func TestStart_BindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := DefaultServerConfig()
	cfg.ListenAddr = ln.Addr().String()
	s := NewServer(cfg, metrics.New(), zerolog.Nop())
	assert.Error(t, s.Start())
}
