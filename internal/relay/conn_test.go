package relay

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/smallest87/proyek-websocket-pc/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConn(t *testing.T) (*Conn, *ws.Conn) {
	t.Helper()
	server, client := newTestConnPair(t)
	conn := NewConn("server-side", server, clockwork.NewRealClock(), ConnOptions{})
	t.Cleanup(func() { conn.Close("test done") })
	return conn, client
}

func TestConn_SendPreservesFrameType(t *testing.T) {
	conn, client := newTestConn(t)
	ctx := context.Background()

	require.NoError(t, conn.Send(ctx, domain.Message{Kind: domain.MessageText, Payload: []byte("hello")}))
	require.NoError(t, conn.Send(ctx, domain.Message{Kind: domain.MessageBinary, Payload: []byte{1, 2, 3}}))

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	frameType, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, ws.TextMessage, frameType)
	assert.Equal(t, "hello", string(data))

	frameType, data, err = client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, ws.BinaryMessage, frameType)
	assert.Equal(t, []byte{1, 2, 3}, data)
}

func TestConn_SendIsFIFO(t *testing.T) {
	conn, client := newTestConn(t)

	for _, p := range []string{"1", "2", "3", "4", "5"} {
		require.NoError(t, conn.Send(context.Background(), domain.Message{Kind: domain.MessageText, Payload: []byte(p)}))
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	for _, want := range []string{"1", "2", "3", "4", "5"} {
		_, data, err := client.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, want, string(data))
	}
}

func TestConn_ReceiveTagsSender(t *testing.T) {
	conn, client := newTestConn(t)

	require.NoError(t, client.WriteMessage(ws.BinaryMessage, []byte("raw")))

	msg, err := conn.Receive()
	require.NoError(t, err)
	assert.Equal(t, domain.HandleID("server-side"), msg.Sender)
	assert.Equal(t, domain.MessageBinary, msg.Kind)
	assert.Equal(t, []byte("raw"), msg.Payload)
}

func TestConn_SendAfterCloseFails(t *testing.T) {
	conn, _ := newTestConn(t)

	conn.Close("bye")

	err := conn.Send(context.Background(), domain.Message{Kind: domain.MessageText, Payload: []byte("late")})
	assert.ErrorIs(t, err, domain.ErrHandleClosed)
}

func TestConn_CloseSendsReason(t *testing.T) {
	conn, client := newTestConn(t)

	conn.Close(shutdownReason)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := client.ReadMessage()

	if closeErr, ok := err.(*ws.CloseError); ok {
		assert.Equal(t, ws.CloseNormalClosure, closeErr.Code)
		assert.Contains(t, closeErr.Text, "shutting down")
	} else {
		assert.Error(t, err, "connection should be closed")
	}
}

func TestConn_ConcurrentClose(t *testing.T) {
	conn, _ := newTestConn(t)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn.Close("bye")
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("concurrent close calls deadlocked")
	}
}

func TestConn_SendHonoursCancelledContext(t *testing.T) {
	conn, _ := newTestConn(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := conn.Send(ctx, domain.Message{Kind: domain.MessageText, Payload: []byte("x")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConn_FailedWriteEndsReceive(t *testing.T) {
	server, _ := newTestConnPair(t)
	conn := NewConn("broken", server, clockwork.NewRealClock(), ConnOptions{})
	t.Cleanup(func() { conn.Close("") })

	// Break the transport underneath the handle.
	require.NoError(t, server.UnderlyingConn().Close())

	err := conn.Send(context.Background(), domain.Message{Kind: domain.MessageText, Payload: []byte("x")})
	require.Error(t, err)

	_, err = conn.Receive()
	assert.Error(t, err, "a failed send must terminate the receive side too")

	err = conn.Send(context.Background(), domain.Message{Kind: domain.MessageText, Payload: []byte("y")})
	assert.ErrorIs(t, err, domain.ErrHandleClosed)
}

func TestConn_ReadLimit(t *testing.T) {
	server, client := newTestConnPair(t)
	conn := NewConn("limited", server, clockwork.NewRealClock(), ConnOptions{MaxMessageBytes: 8})
	t.Cleanup(func() { conn.Close("") })

	require.NoError(t, client.WriteMessage(ws.TextMessage, []byte("this payload is too long")))

	_, err := conn.Receive()
	assert.Error(t, err)
}

func TestConn_StalledPeerTimesOutWithoutBlockingOthers(t *testing.T) {
	const deliveryTimeout = 200 * time.Millisecond
	clock := clockwork.NewRealClock()
	opts := ConnOptions{WriteTimeout: time.Minute, SendBuffer: 1}

	// The stalled client never reads, so the server's writes eventually block
	// once the socket buffers fill.
	stalledServer, _ := newTestConnPair(t)
	healthyServer, healthyClient := newTestConnPair(t)
	stalled := NewConn("stalled", stalledServer, clock, opts)
	healthy := NewConn("healthy", healthyServer, clock, opts)
	t.Cleanup(func() {
		stalled.Close("test done")
		healthy.Close("test done")
	})

	registry := NewRegistry()
	_, err := registry.Add(stalled)
	require.NoError(t, err)
	_, err = registry.Add(healthy)
	require.NoError(t, err)
	coordinator := NewCoordinator(registry, nil, clock, CoordinatorOptions{DeliveryTimeout: deliveryTimeout})

	frames := make(chan int, 128)
	go func() {
		for {
			_, data, err := healthyClient.ReadMessage()
			if err != nil {
				return
			}
			frames <- len(data)
		}
	}()

	payload := bytes.Repeat([]byte{0xAB}, 1<<20)
	msg := domain.Message{Kind: domain.MessageBinary, Payload: payload, Sender: "upstream"}

	var (
		stalledReport domain.BroadcastReport
		elapsed       time.Duration
	)
	for i := range 64 {
		start := time.Now()
		report := coordinator.Broadcast(context.Background(), msg)
		elapsed = time.Since(start)

		select {
		case n := <-frames:
			assert.Equal(t, len(payload), n)
		case <-time.After(2 * time.Second):
			t.Fatalf("healthy peer did not receive broadcast %d", i)
		}

		if len(report.Failures) > 0 {
			stalledReport = report
			break
		}
	}

	require.NotEmpty(t, stalledReport.Failures, "stalled peer never blocked a write")
	assert.Equal(t, 2, stalledReport.Attempted)
	assert.Equal(t, 1, stalledReport.Delivered)
	require.Len(t, stalledReport.Failures, 1)

	failure := stalledReport.Failures[0]
	assert.Equal(t, domain.HandleID("stalled"), failure.Recipient)
	assert.Equal(t, domain.FailureTimeout, failure.Reason)
	assert.ErrorIs(t, failure.Err, domain.ErrDeliveryTimeout)
	assert.ErrorIs(t, failure.Err, context.DeadlineExceeded)
	assert.Less(t, elapsed, deliveryTimeout+time.Second, "broadcast must not wait on the stalled write")
}
