package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/smallest87/proyek-websocket-pc/internal/domain"
)

const (
	defaultWriteTimeout    = 10 * time.Second
	defaultPingInterval    = 30 * time.Second
	defaultPongTimeout     = 60 * time.Second
	defaultSendBuffer      = 16
	defaultMaxMessageBytes = 1 << 20
	closeFrameTimeout      = time.Second
)

// ConnOptions tunes a WebSocket-backed handle. Zero values fall back to defaults.
type ConnOptions struct {
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	PongTimeout     time.Duration
	SendBuffer      int
	MaxMessageBytes int64
}

func (o ConnOptions) withDefaults() ConnOptions {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.PingInterval <= 0 {
		o.PingInterval = defaultPingInterval
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = defaultPongTimeout
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = defaultSendBuffer
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = defaultMaxMessageBytes
	}
	return o
}

type outbound struct {
	ctx    context.Context
	msg    domain.Message
	result chan error
}

// Conn is a domain.Peer over a gorilla WebSocket connection.
// A single writer goroutine performs every data write, so frames to one
// recipient go out in the order they were queued.
type Conn struct {
	id          domain.HandleID
	connection  *websocket.Conn
	clock       clockwork.Clock
	opts        ConnOptions
	sendChannel chan outbound
	doneChannel chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

func NewConn(id domain.HandleID, connection *websocket.Conn, clock clockwork.Clock, opts ConnOptions) *Conn {
	opts = opts.withDefaults()
	c := &Conn{
		id:          id,
		connection:  connection,
		clock:       clock,
		opts:        opts,
		sendChannel: make(chan outbound, opts.SendBuffer),
		doneChannel: make(chan struct{}),
	}
	connection.SetReadLimit(opts.MaxMessageBytes)
	c.configurePongHandler()
	c.wg.Add(1)
	go c.run()
	return c
}

func (c *Conn) ID() domain.HandleID { return c.id }

// Send queues msg on the writer and waits for the write to finish.
// It fails with domain.ErrHandleClosed once the handle is closed and with
// ctx.Err() when the deadline passes first. A queued item whose context has
// expired is dropped by the writer instead of being written late.
func (c *Conn) Send(ctx context.Context, msg domain.Message) error {
	select {
	case <-c.doneChannel:
		return fmt.Errorf("send to %s: %w", c.id, domain.ErrHandleClosed)
	default:
	}

	item := outbound{ctx: ctx, msg: msg, result: make(chan error, 1)}
	select {
	case c.sendChannel <- item:
	case <-c.doneChannel:
		return fmt.Errorf("send to %s: %w", c.id, domain.ErrHandleClosed)
	case <-ctx.Done():
		return fmt.Errorf("enqueue to %s: %w", c.id, ctx.Err())
	}

	select {
	case err := <-item.result:
		return err
	case <-c.doneChannel:
		return fmt.Errorf("send to %s: %w", c.id, domain.ErrHandleClosed)
	case <-ctx.Done():
		return fmt.Errorf("write to %s: %w", c.id, ctx.Err())
	}
}

// Receive blocks for the next data frame.
func (c *Conn) Receive() (domain.Message, error) {
	frameType, payload, err := c.connection.ReadMessage()
	if err != nil {
		return domain.Message{}, fmt.Errorf("read from %s: %w", c.id, err)
	}
	c.updateReadDeadline()

	kind := domain.MessageText
	if frameType == websocket.BinaryMessage {
		kind = domain.MessageBinary
	}
	return domain.Message{Kind: kind, Payload: payload, Sender: c.id}, nil
}

// Close sends a normal-closure frame carrying reason and closes the socket.
// Safe to call repeatedly and concurrently; blocks until the writer has exited.
func (c *Conn) Close(reason string) {
	c.stopOnce.Do(func() {
		close(c.doneChannel)
		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		_ = c.connection.WriteControl(websocket.CloseMessage, closeMsg, c.clock.Now().Add(closeFrameTimeout))
		_ = c.connection.Close()
	})
	c.wg.Wait()
}

// abort closes the socket without a close frame. Used by the writer itself,
// so it must not wait on the writer.
func (c *Conn) abort() {
	c.stopOnce.Do(func() {
		close(c.doneChannel)
		_ = c.connection.Close()
	})
}

func (c *Conn) run() {
	ticker := c.clock.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	defer c.wg.Done()

	for {
		select {
		case item := <-c.sendChannel:
			if err := item.ctx.Err(); err != nil {
				item.result <- fmt.Errorf("write to %s abandoned: %w", c.id, err)
				continue
			}
			c.updateWriteDeadline()
			if err := c.connection.WriteMessage(frameType(item.msg.Kind), item.msg.Payload); err != nil {
				item.result <- fmt.Errorf("write to %s: %w", c.id, err)
				// A broken writer means a broken connection: closing it ends
				// the receive loop, which deregisters the handle.
				c.abort()
				return
			}
			item.result <- nil
		case <-ticker.Chan():
			c.updateWriteDeadline()
			if err := c.connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.abort()
				return
			}
		case <-c.doneChannel:
			return
		}
	}
}

func (c *Conn) configurePongHandler() {
	c.updateReadDeadline()
	c.connection.SetPongHandler(func(string) error {
		c.updateReadDeadline()
		return nil
	})
}

func (c *Conn) updateWriteDeadline() {
	_ = c.connection.SetWriteDeadline(c.clock.Now().Add(c.opts.WriteTimeout))
}

func (c *Conn) updateReadDeadline() {
	_ = c.connection.SetReadDeadline(c.clock.Now().Add(c.opts.PongTimeout))
}

func frameType(kind domain.MessageKind) int {
	if kind == domain.MessageBinary {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}
