package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallest87/proyek-websocket-pc/internal/platform/config"
	"github.com/smallest87/proyek-websocket-pc/internal/relay"
)

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:                  "test",
		Host:                    "127.0.0.1",
		Port:                    "8080",
		DeliveryTimeout:         time.Second,
		SendBuffer:              16,
		MaxMessageBytes:         1 << 20,
		WriteTimeout:            time.Second,
		PingInterval:            30 * time.Second,
		PongTimeout:             60 * time.Second,
		MaxWebSocketConnections: 100,
		MaxConnectionsPerIP:     10,
		ConnectionRate:          100,
		ConnectionBurst:         100,
	}
}

type recordingRejections struct {
	mu      sync.Mutex
	reasons []string
}

func (r *recordingRejections) ConnectionRejected(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
}

func (r *recordingRejections) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.reasons...)
}

// newTestServer builds a Server around a fresh relay. cfgFn may adjust the
// config before the server is constructed.
func newTestServer(t *testing.T, cfgFn func(*config.Config), opts ...Option) (*Server, *relay.Relay) {
	t.Helper()

	cfg := testConfig()
	if cfgFn != nil {
		cfgFn(cfg)
	}

	rly := relay.New(relay.Options{
		Coordinator: relay.CoordinatorOptions{DeliveryTimeout: cfg.DeliveryTimeout},
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rly.Stop(ctx)
	})

	return NewServer(cfg, rly, prometheus.NewRegistry(), opts...), rly
}

// startTestServer serves srv over a real listener and returns its ws:// base URL.
func startTestServer(t *testing.T, srv *Server) string {
	t.Helper()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func doRequest(srv *Server, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func waitForLive(r *relay.Relay, expected int) bool {
	for range 200 {
		if r.Stats().LiveConnections == expected {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

var _ http.Handler = (*Server)(nil)
