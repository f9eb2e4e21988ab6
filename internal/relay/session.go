package relay

import (
	"context"
	"log/slog"

	"github.com/smallest87/proyek-websocket-pc/internal/domain"
)

type sessionState int

const (
	stateConnecting sessionState = iota
	stateRegistered
	stateReceiving
	stateBroadcasting
	stateClosing
	stateDeregistered
)

func (s sessionState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateRegistered:
		return "registered"
	case stateReceiving:
		return "receiving"
	case stateBroadcasting:
		return "broadcasting"
	case stateClosing:
		return "closing"
	case stateDeregistered:
		return "deregistered"
	default:
		return "unknown"
	}
}

// session is the per-connection lifecycle driven by Relay.Serve.
type session struct {
	relay *Relay
	peer  domain.Peer
	state sessionState
}

func newSession(r *Relay, peer domain.Peer) *session {
	return &session{relay: r, peer: peer, state: stateConnecting}
}

func (s *session) run(ctx context.Context, live int) error {
	s.transition(stateRegistered)
	s.relay.observer.ConnectionEstablished(s.peer.ID(), live)

	// Cancellation unblocks Receive by closing the transport.
	stop := context.AfterFunc(ctx, func() { s.peer.Close(shutdownReason) })
	defer stop()

	var cause error
	for {
		s.transition(stateReceiving)
		msg, err := s.peer.Receive()
		if err != nil {
			cause = err
			break
		}

		s.transition(stateBroadcasting)
		s.relay.observer.MessageReceived(msg)
		s.relay.coordinator.Broadcast(ctx, msg)
		s.relay.forward(ctx, msg)
	}

	s.transition(stateClosing)
	s.peer.Close("")
	_, live = s.relay.registry.Remove(s.peer.ID())
	s.transition(stateDeregistered)
	s.relay.observer.ConnectionTerminated(s.peer.ID(), live, cause)

	if IsNormalClose(cause) {
		return nil
	}
	return cause
}

func (s *session) transition(next sessionState) {
	slog.Debug("Connection state changed", "handle_id", s.peer.ID(), "from", s.state, "to", next)
	s.state = next
}
