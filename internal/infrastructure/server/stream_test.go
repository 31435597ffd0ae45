package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parksiwoo-1/Coordination-scrip-for-tinyIoT-and-simulator/internal/infrastructure/config"
)

type streamFrame struct {
	Fleet struct {
		Phase string `json:"phase"`
		Tick  int64  `json:"tick"`
	} `json:"fleet"`
}

func dialStream(t *testing.T, ts *httptest.Server, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/fleet/stream"
	return websocket.DefaultDialer.Dial(url, header)
}

func TestFleetStreamPushesSnapshots(t *testing.T) {
	cfg := config.Default().Metrics
	cfg.StreamInterval = 10 * time.Millisecond
	cfg.RateLimit = 0

	var tick atomic.Int64
	s, _ := newTestServer(cfg, func() any {
		return map[string]any{"phase": "running", "tick": tick.Add(1)}
	})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := dialStream(t, ts, nil)
	require.NoError(t, err)
	defer conn.Close()

	var last int64
	for i := 0; i < 3; i++ {
		var frame streamFrame
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		require.NoError(t, conn.ReadJSON(&frame))
		assert.Equal(t, "running", frame.Fleet.Phase)
		assert.Greater(t, frame.Fleet.Tick, last)
		last = frame.Fleet.Tick
	}
}

func TestFleetStreamClosedOnShutdown(t *testing.T) {
	cfg := config.Default().Metrics
	cfg.StreamInterval = time.Hour
	cfg.RateLimit = 0

	s, _ := newTestServer(cfg, func() any { return fleetStatus{Phase: "running"} })
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := dialStream(t, ts, nil)
	require.NoError(t, err)
	defer conn.Close()

	var frame streamFrame
	require.NoError(t, conn.ReadJSON(&frame))

	require.NoError(t, s.Shutdown(context.Background()))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestFleetStreamRejectsUnlistedOrigin(t *testing.T) {
	cfg := config.Default().Metrics
	cfg.AllowOrigins = []string{"http://dashboard.local"}
	cfg.RateLimit = 0

	s, _ := newTestServer(cfg, func() any { return fleetStatus{} })
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	_, resp, err := dialStream(t, ts, http.Header{"Origin": {"http://evil.local"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestOriginAllowed(t *testing.T) {
	assert.True(t, originAllowed(nil, "http://a"))
	assert.True(t, originAllowed([]string{"*"}, "http://a"))
	assert.True(t, originAllowed([]string{"http://a"}, "http://a"))
	assert.True(t, originAllowed([]string{"http://a"}, ""))
	assert.False(t, originAllowed([]string{"http://a"}, "http://b"))
}
