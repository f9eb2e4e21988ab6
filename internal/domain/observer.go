package domain

// Observer receives the structured events emitted by the relay core.
// Implementations must be safe for concurrent use and must not block.
type Observer interface {
	ConnectionEstablished(id HandleID, live int)
	ConnectionTerminated(id HandleID, live int, cause error)
	MessageReceived(msg Message)
	BroadcastCompleted(report BroadcastReport)
	DeliveryFailed(failure DeliveryFailure)
}
