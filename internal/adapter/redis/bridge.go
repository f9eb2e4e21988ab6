package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/smallest87/proyek-websocket-pc/internal/adapter/metrics"
	"github.com/smallest87/proyek-websocket-pc/internal/domain"
)

const publishTimeout = 2 * time.Second

// Envelope is the wire form of a relayed message on the bridge channel.
// Payload is base64 in JSON so binary frames survive unchanged.
type Envelope struct {
	Origin  string             `json:"origin"`
	Sender  domain.HandleID    `json:"sender"`
	Kind    domain.MessageKind `json:"kind"`
	Payload []byte             `json:"payload"`
}

func (e Envelope) Message() domain.Message {
	return domain.Message{Kind: e.Kind, Payload: e.Payload, Sender: e.Sender}
}

// Bridge joins relay instances: messages received locally are published to a
// shared channel, and messages other instances publish are broadcast to local
// handles. Envelopes carrying this instance's origin are ignored so local
// clients never see a message twice.
type Bridge struct {
	rdb     *goredis.Client
	channel string
	origin  string
	metrics *metrics.RedisMetrics
}

var _ domain.Forwarder = (*Bridge)(nil)

func NewBridge(rdb *goredis.Client, channel string, m *metrics.RedisMetrics) *Bridge {
	return &Bridge{
		rdb:     rdb,
		channel: channel,
		origin:  uuid.NewString(),
		metrics: m,
	}
}

// Origin identifies this instance on the bridge channel.
func (b *Bridge) Origin() string { return b.origin }

// Forward publishes msg for the other instances.
func (b *Bridge) Forward(ctx context.Context, msg domain.Message) error {
	data, err := json.Marshal(Envelope{
		Origin:  b.origin,
		Sender:  msg.Sender,
		Kind:    msg.Kind,
		Payload: msg.Payload,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := b.rdb.Publish(ctx, b.channel, data).Err(); err != nil {
		b.metrics.BridgePublished.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to publish to %s: %w", b.channel, err)
	}
	b.metrics.BridgePublished.WithLabelValues("success").Inc()
	return nil
}

// Run subscribes to the bridge channel and hands every foreign envelope to
// sink until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context, sink domain.RemoteSink) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}
	slog.Info("Bridge subscribed", "channel", b.channel, "origin", b.origin)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			slog.Info("Bridge stopped", "channel", b.channel)
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("bridge subscription closed")
			}
			b.handle(ctx, sink, msg.Payload)
		}
	}
}

func (b *Bridge) handle(ctx context.Context, sink domain.RemoteSink, payload string) {
	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		b.metrics.BridgeReceived.WithLabelValues("malformed").Inc()
		slog.Warn("Dropping malformed bridge envelope", "channel", b.channel, "error", err)
		return
	}
	if env.Origin == b.origin {
		b.metrics.BridgeReceived.WithLabelValues("own").Inc()
		return
	}
	if env.Kind != domain.MessageText && env.Kind != domain.MessageBinary {
		b.metrics.BridgeReceived.WithLabelValues("malformed").Inc()
		slog.Warn("Dropping bridge envelope with unknown kind", "origin", env.Origin, "kind", env.Kind)
		return
	}

	b.metrics.BridgeReceived.WithLabelValues("relayed").Inc()
	report := sink.BroadcastRemote(ctx, env.Message())
	slog.Debug("Relayed bridge message", "origin", env.Origin, "sender_id", env.Sender, "delivered", report.Delivered)
}
