package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/smallest87/proyek-websocket-pc/internal/domain"
	"github.com/stretchr/testify/require"
)

// fakeRecipient records delivered messages. sendFn, when set, replaces the default behaviour.
type fakeRecipient struct {
	id       domain.HandleID
	mu       sync.Mutex
	received []domain.Message
	sendFn   func(ctx context.Context, msg domain.Message) error
}

func newFakeRecipient(id string) *fakeRecipient {
	return &fakeRecipient{id: domain.HandleID(id)}
}

func (f *fakeRecipient) ID() domain.HandleID { return f.id }

func (f *fakeRecipient) Send(ctx context.Context, msg domain.Message) error {
	if f.sendFn != nil {
		if err := f.sendFn(ctx, msg); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, msg)
	return nil
}

func (f *fakeRecipient) messages() []domain.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Message(nil), f.received...)
}

// fakePeer is a domain.Peer fed through an inbound channel.
type fakePeer struct {
	*fakeRecipient
	inbound   chan domain.Message
	done      chan struct{}
	closeOnce sync.Once
	closes    int
	reasons   []string
	closeMu   sync.Mutex
}

func newFakePeer(id string) *fakePeer {
	return &fakePeer{
		fakeRecipient: newFakeRecipient(id),
		inbound:       make(chan domain.Message, 8),
		done:          make(chan struct{}),
	}
}

func (p *fakePeer) Receive() (domain.Message, error) {
	select {
	case msg := <-p.inbound:
		msg.Sender = p.id
		return msg, nil
	case <-p.done:
		return domain.Message{}, domain.ErrHandleClosed
	}
}

func (p *fakePeer) Close(reason string) {
	p.closeMu.Lock()
	p.closes++
	p.reasons = append(p.reasons, reason)
	p.closeMu.Unlock()
	p.closeOnce.Do(func() { close(p.done) })
}

func (p *fakePeer) closeReasons() []string {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	return append([]string(nil), p.reasons...)
}

// recordingObserver captures every event for assertions.
type recordingObserver struct {
	mu          sync.Mutex
	established []domain.HandleID
	terminated  []domain.HandleID
	received    []domain.Message
	reports     []domain.BroadcastReport
	failures    []domain.DeliveryFailure
}

func (o *recordingObserver) ConnectionEstablished(id domain.HandleID, _ int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.established = append(o.established, id)
}

func (o *recordingObserver) ConnectionTerminated(id domain.HandleID, _ int, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.terminated = append(o.terminated, id)
}

func (o *recordingObserver) MessageReceived(msg domain.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.received = append(o.received, msg)
}

func (o *recordingObserver) BroadcastCompleted(report domain.BroadcastReport) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reports = append(o.reports, report)
}

func (o *recordingObserver) DeliveryFailed(failure domain.DeliveryFailure) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures = append(o.failures, failure)
}

func (o *recordingObserver) terminatedIDs() []domain.HandleID {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.HandleID(nil), o.terminated...)
}

func (o *recordingObserver) lastReport() (domain.BroadcastReport, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.reports) == 0 {
		return domain.BroadcastReport{}, false
	}
	return o.reports[len(o.reports)-1], true
}

func newTestConnPair(t *testing.T) (server *ws.Conn, client *ws.Conn) {
	t.Helper()
	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	ready := make(chan *ws.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		ready <- conn
	}))
	t.Cleanup(func() { srv.Close() })

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { clientConn.Close() })

	serverConn := <-ready
	t.Cleanup(func() { serverConn.Close() })

	return serverConn, clientConn
}

func waitForLive(r *Relay, expected int) bool {
	for range 200 {
		if r.Stats().LiveConnections == expected {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}
