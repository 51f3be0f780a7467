package codec

import "fmt"

// Longest slice of a bad payload we include in error strings
const maxQuotedPayload = 64

// DecodeError means an inbound payload could not be parsed into a message
type DecodeError struct {
	Payload  []byte
	InnerErr error
}

func (e *DecodeError) Error() string {
	quoted := e.Payload
	if len(quoted) > maxQuotedPayload {
		quoted = quoted[:maxQuotedPayload]
	}
	return fmt.Sprintf("failed to decode payload %q: %s", quoted, e.InnerErr)
}

func (e *DecodeError) Unwrap() error { return e.InnerErr }

// EncodeError means an outbound message cannot be represented on the wire
type EncodeError struct {
	Type   string
	Reason string
}

func (e *EncodeError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("failed to encode message: %s", e.Reason)
	}
	return fmt.Sprintf("failed to encode %s message: %s", e.Type, e.Reason)
}
