package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallest87/proyek-websocket-pc/internal/adapter/metrics"
	"github.com/smallest87/proyek-websocket-pc/internal/domain"
	"github.com/smallest87/proyek-websocket-pc/internal/platform/config"
	"github.com/smallest87/proyek-websocket-pc/internal/relay"
)

const (
	apiRatePerSecond = 5
	apiBurst         = 10
)

type relayService interface {
	Serve(ctx context.Context, peer domain.Peer) error
	Stats() relay.Stats
}

// RejectionRecorder counts connection attempts refused before upgrade.
type RejectionRecorder interface {
	ConnectionRejected(reason string)
}

// ClusterStats reports how many relay instances share the bridge.
type ClusterStats interface {
	ActiveInstances(ctx context.Context) (int, error)
}

type nopRejections struct{}

func (nopRejections) ConnectionRejected(string) {}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	relay      relayService
	limits     *ConnectionLimits
	rejections RejectionRecorder
	cluster    ClusterStats
	upgrader   websocket.Upgrader
	connOpts   relay.ConnOptions
	clock      clockwork.Clock

	registry     *prometheus.Registry
	httpMetrics  *metrics.HTTPMetrics
	healthChecks []HealthCheck
	startTime    time.Time
}

// Option customizes a Server.
type Option func(*Server)

// WithRejectionRecorder reports admission refusals to r.
func WithRejectionRecorder(r RejectionRecorder) Option {
	return func(s *Server) { s.rejections = r }
}

// WithClusterStats adds the bridged instance count to /api/stats.
func WithClusterStats(c ClusterStats) Option {
	return func(s *Server) { s.cluster = c }
}

func WithHealthChecks(checks ...HealthCheck) Option {
	return func(s *Server) { s.healthChecks = append(s.healthChecks, checks...) }
}

func WithClock(clock clockwork.Clock) Option {
	return func(s *Server) { s.clock = clock }
}

func NewServer(cfg *config.Config, rly relayService, reg *prometheus.Registry, opts ...Option) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:       e,
		config:     cfg,
		relay:      rly,
		rejections: nopRejections{},
		clock:      clockwork.NewRealClock(),
		registry:   reg,
		connOpts: relay.ConnOptions{
			WriteTimeout:    cfg.WriteTimeout,
			PingInterval:    cfg.PingInterval,
			PongTimeout:     cfg.PongTimeout,
			SendBuffer:      cfg.SendBuffer,
			MaxMessageBytes: cfg.MaxMessageBytes,
		},
	}
	for _, opt := range opts {
		opt(srv)
	}

	srv.startTime = srv.clock.Now()
	srv.limits = NewConnectionLimits(srv.clock, int64(cfg.MaxWebSocketConnections), cfg.MaxConnectionsPerIP, cfg.ConnectionRate, cfg.ConnectionBurst)
	srv.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     NewCheckOrigin(cfg.Origins()),
	}
	srv.httpMetrics = metrics.NewHTTPMetrics(reg)

	srv.registerRoutes()

	return srv
}

// Start blocks serving HTTP until Shutdown. It returns http.ErrServerClosed
// (wrapped) after a graceful shutdown.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.config.Host, s.config.Port)
	slog.Info("Starting server", "addr", addr)
	if err := s.echo.Start(addr); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests. Hijacked WebSocket connections are not
// tracked by net/http and must be closed through the relay.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// ServeHTTP lets tests and embedders drive the router directly.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
