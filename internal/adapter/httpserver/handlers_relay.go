package httpserver

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/smallest87/proyek-websocket-pc/internal/domain"
	apperrors "github.com/smallest87/proyek-websocket-pc/internal/platform/errors"
	"github.com/smallest87/proyek-websocket-pc/internal/relay"
)

// handleWebSocket admits, upgrades and then serves one relay connection for
// as long as the peer stays connected.
func (s *Server) handleWebSocket(c echo.Context) error {
	req := c.Request()
	if !websocket.IsWebSocketUpgrade(req) {
		return apperrors.ValidationError("expected a WebSocket upgrade request")
	}

	if s.relay.Stats().Stopping {
		return apperrors.UnavailableError("relay is shutting down", domain.ErrRelayStopped)
	}

	if !s.upgrader.CheckOrigin(req) {
		s.rejections.ConnectionRejected(string(LimitReasonOrigin))
		return apperrors.ForbiddenError("origin not allowed").WithContext("origin", req.Header.Get("Origin"))
	}

	ip := c.RealIP()
	ok, reason := s.limits.Acquire(ip)
	if !ok {
		s.rejections.ConnectionRejected(string(reason))
		return apperrors.RateLimitedError("connection limit exceeded").WithContext("reason", reason)
	}
	defer s.limits.Release(ip)

	conn, err := s.upgrader.Upgrade(c.Response(), req, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		slog.DebugContext(req.Context(), "WebSocket upgrade failed", "remote_ip", ip, "error", err)
		return nil
	}

	id := domain.HandleID(uuid.NewString())
	slog.DebugContext(req.Context(), "WebSocket upgraded", "handle_id", id, "remote_ip", ip)

	peer := relay.NewConn(id, conn, s.clock, s.connOpts)
	err = s.relay.Serve(req.Context(), peer)
	if errors.Is(err, domain.ErrRelayStopped) {
		slog.DebugContext(req.Context(), "Connection refused during shutdown", "handle_id", id)
	}
	return nil
}
