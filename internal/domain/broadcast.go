package domain

import "time"

// FailureReason classifies a per-recipient delivery failure.
type FailureReason string

const (
	FailureTimeout FailureReason = "timeout"
	FailureClosed  FailureReason = "closed"
	FailureError   FailureReason = "error"
)

// DeliveryFailure describes one recipient that did not get a message.
type DeliveryFailure struct {
	Recipient HandleID
	Reason    FailureReason
	Err       error
}

// BroadcastReport summarises one Broadcast call.
// Attempted == Delivered + len(Failures).
type BroadcastReport struct {
	Sender    HandleID
	Attempted int
	Delivered int
	Failures  []DeliveryFailure
	Duration  time.Duration
}
