package domain

import "context"

// Forwarder hands locally received messages to other relay instances.
type Forwarder interface {
	Forward(ctx context.Context, msg Message) error
}

// RemoteSink accepts messages that originated on another relay instance.
type RemoteSink interface {
	BroadcastRemote(ctx context.Context, msg Message) BroadcastReport
}
