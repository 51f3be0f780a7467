package session

import "fmt"

// ClosedError means the session is closing or closed and will not accept the
// operation
type ClosedError struct {
	State State
}

func (e *ClosedError) Error() string {
	return fmt.Sprintf("session is %s", e.State)
}

// QueueFullError means the bounded outbound queue is at capacity. Nothing was
// enqueued; the caller decides whether to drop, retry later, or disconnect.
type QueueFullError struct {
	Depth int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("outbound queue is full (%d messages)", e.Depth)
}

// DeliveryError means a message was handed to the transport but the write
// failed partway. It is not retried.
type DeliveryError struct {
	Seq      uint64
	InnerErr error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("message %d may not have been delivered: %s", e.Seq, e.InnerErr)
}

func (e *DeliveryError) Unwrap() error { return e.InnerErr }
