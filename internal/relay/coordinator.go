package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/smallest87/proyek-websocket-pc/internal/domain"
	"golang.org/x/sync/errgroup"
)

const defaultDeliveryTimeout = 5 * time.Second

// CoordinatorOptions tunes broadcast delivery.
type CoordinatorOptions struct {
	// DeliveryTimeout bounds each per-recipient Send.
	DeliveryTimeout time.Duration
	// MaxConcurrentDeliveries caps in-flight Sends per broadcast. Zero means unbounded.
	MaxConcurrentDeliveries int
	// EchoToSender delivers a message back to the handle that sent it.
	EchoToSender bool
}

// Coordinator delivers one message to every member of a registry snapshot.
type Coordinator struct {
	registry *Registry
	observer domain.Observer
	clock    clockwork.Clock
	opts     CoordinatorOptions
}

func NewCoordinator(registry *Registry, observer domain.Observer, clock clockwork.Clock, opts CoordinatorOptions) *Coordinator {
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = defaultDeliveryTimeout
	}
	if observer == nil {
		observer = NopObserver{}
	}
	return &Coordinator{
		registry: registry,
		observer: observer,
		clock:    clock,
		opts:     opts,
	}
}

// Broadcast snapshots the registry and delivers msg to every member concurrently.
// It returns once every attempted delivery has completed or failed. Failures are
// reported per recipient and never abort delivery to the others.
func (c *Coordinator) Broadcast(ctx context.Context, msg domain.Message) domain.BroadcastReport {
	start := c.clock.Now()
	targets := c.targets(msg.Sender)

	errs := make([]error, len(targets))
	var g errgroup.Group
	if c.opts.MaxConcurrentDeliveries > 0 {
		g.SetLimit(c.opts.MaxConcurrentDeliveries)
	}
	for i, rcpt := range targets {
		g.Go(func() error {
			errs[i] = c.deliver(ctx, rcpt, msg)
			return nil
		})
	}
	_ = g.Wait()

	report := domain.BroadcastReport{
		Sender:    msg.Sender,
		Attempted: len(targets),
	}
	for i, err := range errs {
		if err == nil {
			report.Delivered++
			continue
		}
		failure := domain.DeliveryFailure{
			Recipient: targets[i].ID(),
			Reason:    classifyFailure(err),
			Err:       err,
		}
		report.Failures = append(report.Failures, failure)
		c.observer.DeliveryFailed(failure)
	}
	report.Duration = c.clock.Since(start)

	c.observer.BroadcastCompleted(report)
	return report
}

func (c *Coordinator) targets(sender domain.HandleID) []domain.Recipient {
	snapshot := c.registry.Snapshot()
	if c.opts.EchoToSender || sender == "" {
		return snapshot
	}
	targets := snapshot[:0]
	for _, rcpt := range snapshot {
		if rcpt.ID() != sender {
			targets = append(targets, rcpt)
		}
	}
	return targets
}

func (c *Coordinator) deliver(ctx context.Context, rcpt domain.Recipient, msg domain.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("send panicked: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, c.opts.DeliveryTimeout)
	defer cancel()

	if err := rcpt.Send(ctx, msg); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w after %v: %w", domain.ErrDeliveryTimeout, c.opts.DeliveryTimeout, err)
		}
		return err
	}
	return nil
}

func classifyFailure(err error) domain.FailureReason {
	switch {
	case errors.Is(err, domain.ErrDeliveryTimeout):
		return domain.FailureTimeout
	case errors.Is(err, domain.ErrHandleClosed):
		return domain.FailureClosed
	default:
		return domain.FailureError
	}
}
