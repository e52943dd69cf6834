package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/anstrom/portaudit/internal/metrics"
	"github.com/anstrom/portaudit/internal/metrics/mocks"
	"github.com/anstrom/portaudit/internal/scanning"
)

func newTestServer(t *testing.T, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()

	base := []Option{
		WithRegistry(metrics.NewRegistry()),
		WithPrometheus(metrics.NewPrometheusMetrics()),
	}
	s := New(DefaultConfig(), append(base, opts...)...)
	ts := httptest.NewServer(s.Router())
	t.Cleanup(func() {
		s.Hub().Close()
		ts.Close()
	})
	return s, ts
}

func getJSON(t *testing.T, url string, out interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func dialEvents(t *testing.T, s *Server, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/events"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return s.Hub().ClientCount() == 1 },
		2*time.Second, 10*time.Millisecond)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "127.0.0.1:9090", cfg.ListenAddr)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Empty(t, cfg.AllowedOrigins)
}

func TestHealthHandler(t *testing.T) {
	gate := scanning.NewFixedResourceManager(1)
	require.NoError(t, gate.TryAcquire("scan-1"))
	defer gate.Release("scan-1")

	_, ts := newTestServer(t, WithResourceManager(gate))

	var body map[string]interface{}
	resp := getJSON(t, ts.URL+"/api/v1/health", &body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, []interface{}{"scan-1"}, body["active_scans"])
	assert.Equal(t, float64(0), body["available_slots"])
	assert.Equal(t, map[string]interface{}{
		"capacity":        float64(1),
		"active_scans":    float64(1),
		"available_slots": float64(0),
		"closed":          false,
	}, body["resources"])
}

func TestScanHandler(t *testing.T) {
	s, ts := newTestServer(t)

	t.Run("not found before the first audit", func(t *testing.T) {
		var body ErrorResponse
		resp := getJSON(t, ts.URL+"/api/v1/scan", &body)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.NotEmpty(t, body.Error)
	})

	t.Run("tracks the running audit", func(t *testing.T) {
		s.ScanStarted("scan-1", "10.0.0.1", scanning.PortRange{Start: 1, End: 1000})
		s.PortOpen("scan-1", 80)
		s.PortOpen("scan-1", 22)
		s.Progress("scan-1", 500, 1000)

		var snap ScanSnapshot
		resp := getJSON(t, ts.URL+"/api/v1/scan", &snap)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "scan-1", snap.ScanID)
		assert.Equal(t, "10.0.0.1", snap.Target)
		assert.Equal(t, "1-1000", snap.Ports)
		assert.Equal(t, statusRunning, snap.Status)
		assert.Equal(t, []uint16{80, 22}, snap.OpenPorts)
		assert.Equal(t, 500, snap.Probed)
		assert.Equal(t, 1000, snap.Total)
		assert.Nil(t, snap.FinishedAt)
	})

	t.Run("finished audit reports the sorted result", func(t *testing.T) {
		s.ScanFinished("scan-1", &scanning.ScanResult{Ports: []uint16{22, 80}, Probed: 1000},
			scanning.StatusCompleted)

		var snap ScanSnapshot
		getJSON(t, ts.URL+"/api/v1/scan", &snap)

		assert.Equal(t, "completed", snap.Status)
		assert.Equal(t, []uint16{22, 80}, snap.OpenPorts)
		assert.NotNil(t, snap.FinishedAt)
	})

	t.Run("events from another scan are ignored", func(t *testing.T) {
		s.Progress("other", 1, 2)
		s.ScanFinished("other", nil, scanning.StatusInterrupted)

		snap := s.Snapshot()
		require.NotNil(t, snap)
		assert.Equal(t, "scan-1", snap.ScanID)
		assert.Equal(t, "completed", snap.Status)
	})
}

func TestSnapshotIsACopy(t *testing.T) {
	s := New(DefaultConfig(), WithRegistry(metrics.NewRegistry()), WithPrometheus(metrics.NewPrometheusMetrics()))
	assert.Nil(t, s.Snapshot())

	s.ScanStarted("scan-1", "host", scanning.DefaultPortRange())
	s.PortOpen("scan-1", 443)

	snap := s.Snapshot()
	snap.OpenPorts[0] = 1

	assert.Equal(t, []uint16{443}, s.Snapshot().OpenPorts)
}

func TestStatsHandler(t *testing.T) {
	registry := metrics.NewRegistry()
	registry.Counter(metrics.MetricReportsWritten, metrics.Labels{metrics.LabelFormat: "markdown"})

	_, ts := newTestServer(t, WithRegistry(registry))

	var body struct {
		Metrics map[string]*metrics.Metric `json:"metrics"`
	}
	resp := getJSON(t, ts.URL+"/api/v1/stats", &body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body.Metrics)
}

func TestMetricsEndpoint(t *testing.T) {
	prom := metrics.NewPrometheusMetrics()
	prom.ScanStarted()
	prom.IncrementOpenPorts()

	_, ts := newTestServer(t, WithPrometheus(prom))

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "portaudit_scan_open_ports_total 1")
}

func TestRequestsAreRecorded(t *testing.T) {
	ctrl := gomock.NewController(t)
	registry := mocks.NewMockRequestRecorder(ctrl)

	registry.EXPECT().Counter(metrics.MetricHTTPRequests, metrics.Labels{
		metrics.LabelMethod: http.MethodGet,
		metrics.LabelPath:   "/api/v1/health",
		metrics.LabelStatus: "200",
	})
	registry.EXPECT().Histogram(gomock.Any(), gomock.Any(), gomock.Any()).Times(2)

	_, ts := newTestServer(t, WithRegistry(registry))

	resp := getJSON(t, ts.URL+"/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestIndexHandler(t *testing.T) {
	_, ts := newTestServer(t)

	var body map[string]interface{}
	resp := getJSON(t, ts.URL+"/", &body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body["endpoints"], "events")
	assert.Contains(t, body["endpoints"], "swagger")
}

func TestSwaggerDocs(t *testing.T) {
	_, ts := newTestServer(t)

	var doc struct {
		BasePath string                     `json:"basePath"`
		Paths    map[string]json.RawMessage `json:"paths"`
	}
	resp := getJSON(t, ts.URL+"/swagger/doc.json", &doc)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/api/v1", doc.BasePath)
	for _, path := range []string{"/health", "/scan", "/stats", "/events"} {
		assert.Contains(t, doc.Paths, path)
	}

	ui, err := http.Get(ts.URL + "/swagger/index.html")
	require.NoError(t, err)
	defer ui.Body.Close()
	assert.Equal(t, http.StatusOK, ui.StatusCode)
}

func TestEventStream(t *testing.T) {
	s, ts := newTestServer(t)
	conn := dialEvents(t, s, ts)

	s.ScanStarted("scan-1", "10.0.0.1", scanning.PortRange{Start: 1, End: 100})
	s.PortOpen("scan-1", 22)
	s.Progress("scan-1", 100, 100)
	s.ScanFinished("scan-1", &scanning.ScanResult{Ports: []uint16{22}, Probed: 100}, scanning.StatusCompleted)

	started := readEvent(t, conn)
	assert.Equal(t, EventScanStarted, started.Type)
	assert.Equal(t, "scan-1", started.ScanID)

	open := readEvent(t, conn)
	assert.Equal(t, EventPortOpen, open.Type)
	assert.Equal(t, map[string]interface{}{"port": float64(22), "service": "ssh"}, open.Data)

	progress := readEvent(t, conn)
	assert.Equal(t, EventProgress, progress.Type)
	assert.Equal(t, map[string]interface{}{"probed": float64(100), "total": float64(100)}, progress.Data)

	finished := readEvent(t, conn)
	assert.Equal(t, EventScanFinished, finished.Type)
	data, ok := finished.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "completed", data["status"])
}

func TestProgressIsThrottled(t *testing.T) {
	s, ts := newTestServer(t)
	conn := dialEvents(t, s, ts)

	s.ScanStarted("scan-1", "host", scanning.PortRange{Start: 1, End: 1000})
	for probed := 1; probed <= 1000; probed++ {
		s.Progress("scan-1", probed, 1000)
	}
	s.PortOpen("scan-1", 80)

	assert.Equal(t, EventScanStarted, readEvent(t, conn).Type)

	var progress []Event
	for {
		ev := readEvent(t, conn)
		if ev.Type == EventPortOpen {
			break
		}
		progress = append(progress, ev)
	}

	require.NotEmpty(t, progress)
	assert.Less(t, len(progress), 1000)
	last := progress[len(progress)-1].Data.(map[string]interface{})
	assert.Equal(t, float64(1000), last["probed"], "the final count is always sent")
	assert.Equal(t, 1000, s.Snapshot().Probed)
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	s, ts := newTestServer(t)
	conn := dialEvents(t, s, ts)

	s.Hub().Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
	assert.Equal(t, 0, s.Hub().ClientCount())
}

func TestCrossOriginWebSocket(t *testing.T) {
	t.Run("rejected without allowed origins", func(t *testing.T) {
		_, ts := newTestServer(t)

		header := http.Header{"Origin": []string{"http://evil.example"}}
		url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/events"
		_, resp, err := websocket.DefaultDialer.Dial(url, header)

		require.Error(t, err)
		require.NotNil(t, resp)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("accepted when listed", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.AllowedOrigins = []string{"http://dashboard.example"}
		s := New(cfg, WithRegistry(metrics.NewRegistry()), WithPrometheus(metrics.NewPrometheusMetrics()))
		ts := httptest.NewServer(s.Router())
		defer ts.Close()
		defer s.Hub().Close()

		header := http.Header{"Origin": []string{"http://dashboard.example"}}
		url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/events"
		conn, resp, err := websocket.DefaultDialer.Dial(url, header)
		require.NoError(t, err)
		defer conn.Close()
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
	})
}

func TestStartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.ShutdownTimeout = time.Second
	s := New(cfg, WithRegistry(metrics.NewRegistry()), WithPrometheus(metrics.NewPrometheusMetrics()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))

	resp := getJSON(t, "http://"+s.Addr()+"/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop(), "stop is idempotent")

	_, err := http.Get("http://" + s.Addr() + "/api/v1/health")
	assert.Error(t, err)
}

func TestStart_ListenFailure(t *testing.T) {
	first := New(DefaultConfig(), WithRegistry(metrics.NewRegistry()), WithPrometheus(metrics.NewPrometheusMetrics()))
	first.config.ListenAddr = "127.0.0.1:0"
	require.NoError(t, first.Start(context.Background()))
	defer first.Stop()

	cfg := DefaultConfig()
	cfg.ListenAddr = first.Addr()
	second := New(cfg, WithRegistry(metrics.NewRegistry()), WithPrometheus(metrics.NewPrometheusMetrics()))

	assert.Error(t, second.Start(context.Background()))
}
