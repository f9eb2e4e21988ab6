package domain

// MessageKind mirrors the WebSocket data frame type a message arrived with.
type MessageKind string

const (
	MessageText   MessageKind = "text"
	MessageBinary MessageKind = "binary"
)

// Message is an opaque payload received on one connection and destined for broadcast.
// Payload is forwarded byte-for-byte; Kind is preserved on every recipient.
type Message struct {
	Kind    MessageKind
	Payload []byte
	Sender  HandleID
}
