package observability

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/agentlink/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("gateway-a", "GET", "/healthz", 200, 12*time.Millisecond)
	RecordSessionStart("gateway-a")
	RecordSessionEnd("gateway-a", "graceful-close", 3, 3, 40*time.Millisecond)
	RecordHandshakeFailure("gateway-a", "server")
	RecordUpgradeOutcome("gateway-a", "rejected", 404)
}

func TestAdminRoutes(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	r := NewAdminRouter(AdminConfig{
		Node:     "gateway-test",
		Health:   func() any { return map[string]int{"active": 2} },
		Sessions: func() any { return []string{"s-1", "s-2"} },
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var health struct {
		Status string         `json:"status"`
		Node   string         `json:"node"`
		Stats  map[string]int `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	require.Equal(t, "ok", health.Status)
	require.Equal(t, "gateway-test", health.Node)
	require.Equal(t, 2, health.Stats["active"])

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"sessions":["s-1","s-2"]}`, rec.Body.String())

	RecordSessionStart("gateway-test")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "agentlink_session_active")
	require.Contains(t, rec.Body.String(), "agentlink_http_requests_total")
}

func TestAdminCorsPreflight(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	r := NewAdminRouter(AdminConfig{Node: "gateway-test", CorsOrigins: []string{" https://ops.example "}})

	req := httptest.NewRequest(http.MethodOptions, "/sessions", nil)
	req.Header.Set("Origin", "https://ops.example")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, "https://ops.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServeAdminStopsOnCancel(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ServeAdminListener(ctx, ln, NewAdminRouter(AdminConfig{Node: "gateway-test"}))
	}()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatalf("admin server did not stop")
	}
}

func TestNormalizeOrigins(t *testing.T) {
	require.Equal(t, []string{"http://localhost:3000"}, normalizeOrigins(nil))
	require.Equal(t, []string{"http://localhost:3000"}, normalizeOrigins([]string{" "}))
	require.Equal(t, []string{"https://a"}, normalizeOrigins([]string{"https://a", ""}))
	require.True(t, strings.HasPrefix(normalizeOrigins([]string{"http://x"})[0], "http://"))
}
