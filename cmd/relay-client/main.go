// Command relay-client connects to a relay, prints every message it receives
// and sends each line read from stdin as a text (or binary) message.
package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/smallest87/proyek-websocket-pc/internal/platform/logging"
	"github.com/smallest87/proyek-websocket-pc/internal/platform/retry"
	"github.com/smallest87/proyek-websocket-pc/internal/platform/version"
)

const closeWait = 2 * time.Second

type options struct {
	url      string
	origin   string
	binary   bool
	attempts int
}

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/ws", "Relay WebSocket URL")
		origin   = flag.String("origin", "", "Origin header to send (optional)")
		binary   = flag.Bool("binary", false, "Send stdin lines as binary frames")
		attempts = flag.Int("attempts", 5, "Dial attempts before giving up")
		verbose  = flag.Bool("verbose", false, "Verbose logging")
	)
	flag.Parse()

	if *attempts < 1 {
		log.Fatal("--attempts must be at least 1")
	}

	level := "info"
	if *verbose {
		level = "debug"
	}
	slog.SetDefault(logging.NewLogger(os.Stderr, level, "text"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := options{url: *url, origin: *origin, binary: *binary, attempts: *attempts}
	if err := run(ctx, opts, os.Stdin, os.Stdout); err != nil {
		slog.Error("Relay client failed", "error", err)
		os.Exit(1)
	}
}

func dial(ctx context.Context, opts options) (*websocket.Conn, error) {
	header := http.Header{"User-Agent": {version.UserAgent("relay-client")}}
	if opts.origin != "" {
		header.Set("Origin", opts.origin)
	}

	policy := retry.Policy{
		MaxAttempts:    opts.attempts,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     4 * time.Second,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Dial failed, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		},
	}

	// A refused handshake (bad origin, connection limits) will not succeed on retry.
	classify := func(err error) retry.Action {
		if errors.Is(err, websocket.ErrBadHandshake) {
			return retry.Stop
		}
		return retry.Transient(err)
	}

	return retry.Do(ctx, policy, classify, func(ctx context.Context) (*websocket.Conn, error) {
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, opts.url, header)
		if err != nil && resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", opts.url, err, resp.StatusCode)
		}
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", opts.url, err)
		}
		return conn, nil
	})
}

// run relays stdin to the connection and the connection to stdout until stdin
// ends, the server closes the connection or ctx is cancelled.
func run(ctx context.Context, opts options, stdin io.Reader, stdout io.Writer) error {
	conn, err := dial(ctx, opts)
	if err != nil {
		return err
	}
	defer conn.Close()
	slog.Info("Connected", "url", opts.url)

	readDone := make(chan error, 1)
	go func() { readDone <- printMessages(conn, stdout) }()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	frameType := websocket.TextMessage
	if opts.binary {
		frameType = websocket.BinaryMessage
	}

	for {
		select {
		case err := <-readDone:
			return err
		case <-ctx.Done():
			return closeConn(conn, readDone)
		case line, ok := <-lines:
			if !ok {
				return closeConn(conn, readDone)
			}
			if err := conn.WriteMessage(frameType, []byte(line)); err != nil {
				return fmt.Errorf("send: %w", err)
			}
		}
	}
}

func printMessages(conn *websocket.Conn, stdout io.Writer) error {
	for {
		frameType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				var closeErr *websocket.CloseError
				if errors.As(err, &closeErr) && closeErr.Text != "" {
					slog.Info("Connection closed by server", "reason", closeErr.Text)
				}
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}

		if frameType == websocket.BinaryMessage {
			fmt.Fprintf(stdout, "[binary %d bytes] %s\n", len(data), hex.EncodeToString(data))
			continue
		}
		fmt.Fprintln(stdout, string(data))
	}
}

// closeConn sends a normal close frame and waits briefly for the server's reply.
func closeConn(conn *websocket.Conn, readDone <-chan error) error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		return nil
	}

	select {
	case err := <-readDone:
		return err
	case <-time.After(closeWait):
		return nil
	}
}
