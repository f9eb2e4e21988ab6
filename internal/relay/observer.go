package relay

import (
	"errors"
	"io"
	"log/slog"
	"net"

	"github.com/gorilla/websocket"
	"github.com/smallest87/proyek-websocket-pc/internal/domain"
)

// NopObserver discards every event.
type NopObserver struct{}

func (NopObserver) ConnectionEstablished(domain.HandleID, int)       {}
func (NopObserver) ConnectionTerminated(domain.HandleID, int, error) {}
func (NopObserver) MessageReceived(domain.Message)                   {}
func (NopObserver) BroadcastCompleted(domain.BroadcastReport)        {}
func (NopObserver) DeliveryFailed(domain.DeliveryFailure)            {}

// LogObserver renders relay events as slog records.
type LogObserver struct {
	logger *slog.Logger
}

// NewLogObserver returns an observer writing to logger, or slog.Default() when nil.
func NewLogObserver(logger *slog.Logger) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{logger: logger}
}

func (o *LogObserver) ConnectionEstablished(id domain.HandleID, live int) {
	o.logger.Info("Client connected", "handle_id", id, "live_connections", live)
}

func (o *LogObserver) ConnectionTerminated(id domain.HandleID, live int, cause error) {
	attrs := []any{"handle_id", id, "live_connections", live}
	if !IsNormalClose(cause) {
		attrs = append(attrs, "cause", cause)
		o.logger.Warn("Client disconnected", attrs...)
		return
	}
	o.logger.Info("Client disconnected", attrs...)
}

func (o *LogObserver) MessageReceived(msg domain.Message) {
	o.logger.Info("Message received", "sender_id", msg.Sender, "kind", msg.Kind, "bytes", len(msg.Payload))
}

func (o *LogObserver) BroadcastCompleted(report domain.BroadcastReport) {
	o.logger.Info("Broadcast completed",
		"sender_id", report.Sender,
		"attempted", report.Attempted,
		"delivered", report.Delivered,
		"failed", len(report.Failures),
		"duration", report.Duration,
	)
}

func (o *LogObserver) DeliveryFailed(failure domain.DeliveryFailure) {
	o.logger.Warn("Delivery failed", "recipient_id", failure.Recipient, "reason", failure.Reason, "error", failure.Err)
}

// MultiObserver fans every event out to each of its members in order.
type MultiObserver []domain.Observer

func (m MultiObserver) ConnectionEstablished(id domain.HandleID, live int) {
	for _, o := range m {
		o.ConnectionEstablished(id, live)
	}
}

func (m MultiObserver) ConnectionTerminated(id domain.HandleID, live int, cause error) {
	for _, o := range m {
		o.ConnectionTerminated(id, live, cause)
	}
}

func (m MultiObserver) MessageReceived(msg domain.Message) {
	for _, o := range m {
		o.MessageReceived(msg)
	}
}

func (m MultiObserver) BroadcastCompleted(report domain.BroadcastReport) {
	for _, o := range m {
		o.BroadcastCompleted(report)
	}
}

func (m MultiObserver) DeliveryFailed(failure domain.DeliveryFailure) {
	for _, o := range m {
		o.DeliveryFailed(failure)
	}
}

// IsNormalClose reports whether err ends a connection without anything going wrong:
// a close frame from the client, or the socket being closed on our side.
func IsNormalClose(err error) bool {
	if err == nil ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, domain.ErrHandleClosed) ||
		errors.Is(err, domain.ErrRelayStopped) {
		return true
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
			return true
		}
	}
	return false
}
