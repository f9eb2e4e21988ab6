package domain

import "context"

// HandleID identifies one live connection. A reconnect always gets a new ID.
type HandleID string

// Recipient is the send capability of a connection handle.
type Recipient interface {
	ID() HandleID
	// Send delivers msg or fails. It must honour ctx cancellation and must
	// return ErrHandleClosed (possibly wrapped) once the handle is closed.
	Send(ctx context.Context, msg Message) error
}

// Peer is a full bidirectional connection handle.
type Peer interface {
	Recipient
	// Receive blocks until the next inbound message or a terminal error.
	Receive() (Message, error)
	// Close terminates the transport. Safe to call more than once.
	Close(reason string)
}
