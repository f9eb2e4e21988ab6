package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/smallest87/proyek-websocket-pc/internal/domain"
)

const (
	shutdownReason  = "server shutting down"
	duplicateReason = "duplicate handle"
)

// Options configures a Relay.
type Options struct {
	Coordinator CoordinatorOptions
	// Observer receives connection and broadcast events. Nil discards them.
	Observer domain.Observer
	// Forwarder, when set, receives every locally received message after the local broadcast.
	Forwarder domain.Forwarder
	Clock     clockwork.Clock
}

// Stats is a diagnostic view of the relay.
type Stats struct {
	LiveConnections int  `json:"live_connections"`
	EchoToSender    bool `json:"echo_to_sender"`
	Bridged         bool `json:"bridged"`
	Stopping        bool `json:"stopping"`
}

// Relay binds the Registry and Coordinator to connection lifecycles.
type Relay struct {
	registry    *Registry
	coordinator *Coordinator
	observer    domain.Observer
	forwarder   domain.Forwarder
	echo        bool

	mu       sync.Mutex
	stopped  bool
	sessions sync.WaitGroup
}

func New(opts Options) *Relay {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}
	registry := NewRegistry()
	return &Relay{
		registry:    registry,
		coordinator: NewCoordinator(registry, opts.Observer, opts.Clock, opts.Coordinator),
		observer:    opts.Observer,
		forwarder:   opts.Forwarder,
		echo:        opts.Coordinator.EchoToSender,
	}
}

// Serve runs the lifecycle of one connection and blocks until it ends.
// The peer is deregistered exactly once whichever way the connection terminates.
// Returns nil for ordinary disconnects.
func (r *Relay) Serve(ctx context.Context, peer domain.Peer) error {
	live, err := r.register(peer)
	switch {
	case errors.Is(err, domain.ErrDuplicateHandle):
		peer.Close(duplicateReason)
		return err
	case err != nil:
		peer.Close(shutdownReason)
		return err
	}
	defer r.sessions.Done()

	s := newSession(r, peer)
	return s.run(ctx, live)
}

func (r *Relay) register(peer domain.Peer) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return 0, domain.ErrRelayStopped
	}
	live, err := r.registry.Add(peer)
	if err != nil {
		return 0, err
	}
	r.sessions.Add(1)
	return live, nil
}

// Broadcast delivers msg to every registered handle except its sender.
func (r *Relay) Broadcast(ctx context.Context, msg domain.Message) domain.BroadcastReport {
	return r.coordinator.Broadcast(ctx, msg)
}

// BroadcastRemote delivers a message that originated on another relay instance.
// Its sender is not a local handle, so every local handle receives it.
func (r *Relay) BroadcastRemote(ctx context.Context, msg domain.Message) domain.BroadcastReport {
	return r.coordinator.Broadcast(ctx, msg)
}

func (r *Relay) Stats() Stats {
	r.mu.Lock()
	stopping := r.stopped
	r.mu.Unlock()

	return Stats{
		LiveConnections: r.registry.Len(),
		EchoToSender:    r.echo,
		Bridged:         r.forwarder != nil,
		Stopping:        stopping,
	}
}

// Stop refuses new connections, empties the registry, closes every handle and
// waits for all lifecycles to finish or ctx to expire.
func (r *Relay) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	drained := r.registry.Drain()
	r.mu.Unlock()

	slog.Info("Relay shutting down", "connections", len(drained))

	var closers sync.WaitGroup
	for _, rcpt := range drained {
		peer, ok := rcpt.(domain.Peer)
		if !ok {
			continue
		}
		closers.Add(1)
		go func() {
			defer closers.Done()
			peer.Close(shutdownReason)
		}()
	}

	done := make(chan struct{})
	go func() {
		closers.Wait()
		r.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Relay shutdown complete", "disconnected_clients", len(drained))
		return nil
	case <-ctx.Done():
		slog.Warn("Relay stop timeout exceeded", "remaining_connections", r.registry.Len())
		return fmt.Errorf("relay stop: %w", ctx.Err())
	}
}

func (r *Relay) forward(ctx context.Context, msg domain.Message) {
	if r.forwarder == nil {
		return
	}
	if err := r.forwarder.Forward(ctx, msg); err != nil {
		slog.Warn("Failed to forward message", "sender_id", msg.Sender, "error", err)
	}
}
