package transporter

import "fmt"

// ConnectError means the transport failed to open
type ConnectError struct {
	Endpoint string
	InnerErr error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %s", e.Endpoint, e.InnerErr)
}

func (e *ConnectError) Unwrap() error { return e.InnerErr }

// SendError means the transport was not open at the time of the send, the
// message was not written
type SendError struct {
	State string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("cannot send message because transport is %s", e.State)
}

// CloseError describes an unexpected close of an open transport
type CloseError struct {
	Code     int
	Reason   string
	WasClean bool
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("transport closed with code %d", e.Code)
	}
	return fmt.Sprintf("transport closed with code %d: %s", e.Code, e.Reason)
}
