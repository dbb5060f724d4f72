package server

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/pipefeed/internal/monitoring"
	"github.com/GriffinCanCode/pipefeed/internal/record"
	"github.com/GriffinCanCode/pipefeed/internal/shared/id"
	"github.com/GriffinCanCode/pipefeed/internal/stream"
	"github.com/GriffinCanCode/pipefeed/internal/supervisor"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeLister struct {
	infos []supervisor.StreamInfo
}

func (f *fakeLister) Active() int                      { return len(f.infos) }
func (f *fakeLister) Streams() []supervisor.StreamInfo { return f.infos }

func newTestServer(t *testing.T, cfg Config) (*Server, *Hub, *monitoring.Metrics) {
	t.Helper()
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	hub := NewHub(4, metrics, nil)
	lister := &fakeLister{infos: []supervisor.StreamInfo{{
		ID:    id.StreamID("strm_test"),
		Name:  "find",
		State: "open",
		Stats: stream.Stats{Records: 3, Lines: 4, Skipped: 1},
	}}}
	return New(cfg, lister, hub, metrics, nil), hub, metrics
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHealth(t *testing.T) {
	srv, _, metrics := newTestServer(t, Config{})
	metrics.RecordDecoded()

	w := get(t, srv.Handler(), "/health")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status      string              `json:"status"`
		Active      int                 `json:"active"`
		Subscribers int                 `json:"subscribers"`
		Metrics     monitoring.Snapshot `json:"metrics"`
	}
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 1, body.Active)
	assert.Equal(t, 0, body.Subscribers)
	assert.Equal(t, int64(1), body.Metrics.Records)
}

func TestStreams(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{})

	w := get(t, srv.Handler(), "/streams")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Streams []supervisor.StreamInfo `json:"streams"`
	}
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Streams, 1)
	assert.Equal(t, "find", body.Streams[0].Name)
	assert.Equal(t, int64(3), body.Streams[0].Stats.Records)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{})

	get(t, srv.Handler(), "/health")
	w := get(t, srv.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `pipefeed_http_requests_total{method="GET",path="/health",status="200"} 1`)
}

func TestRateLimit(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{RateLimit: RateLimitConfig{RequestsPerSecond: 1, Burst: 2}})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, get(t, srv.Handler(), "/health").Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestCORSHeaders(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://example.com")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketFeed(t *testing.T) {
	srv, hub, _ := newTestServer(t, Config{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dial(t, ts)
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)

	want := record.Record{Path: "c.txt", Size: 42, Kind: "file"}
	require.NoError(t, hub.Write(want))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var got record.Record
	require.NoError(t, sonic.Unmarshal(msg, &got))
	assert.Equal(t, want, got)

	require.NoError(t, hub.Close())
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	assert.Equal(t, 0, hub.Subscribers())
}

func TestWebSocketDisconnectUnregisters(t *testing.T) {
	srv, hub, metrics := newTestServer(t, Config{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dial(t, ts)
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool { return hub.Subscribers() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0.0, promtest.ToFloat64(metrics.WSSubscribers))
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	hub := NewHub(2, nil, nil)
	sub, ok := hub.register()
	require.True(t, ok)

	rec := record.Record{Path: "a", Size: 1, Kind: "file"}
	for i := 0; i < 3; i++ {
		require.NoError(t, hub.Write(rec))
	}

	assert.Equal(t, 0, hub.Subscribers())
	var queued int
	for range sub.send {
		queued++
	}
	assert.Equal(t, 2, queued)
}

func TestHubClosed(t *testing.T) {
	hub := NewHub(0, nil, nil)
	require.NoError(t, hub.Close())
	require.NoError(t, hub.Close())

	assert.ErrorIs(t, hub.Write(record.Record{}), ErrHubClosed)
	_, ok := hub.register()
	assert.False(t, ok)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRunInvalidAddr(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{Addr: "not-an-addr"})
	assert.Error(t, srv.Run(context.Background()))
}

func TestRequestID(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{})

	w := get(t, srv.Handler(), "/health")
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))
}
