/*
Package transporter defines the contract between a session and the physical
socket underneath it. A Transporter is a single connection attempt: it is
opened once, reports what happens to it through its Listener, and is thrown
away after it closes. Reconnecting means asking the Factory for a new one.
*/
package transporter

import (
	"context"
	"net/http"
	"net/url"
)

// Close codes, as defined by RFC 6455 section 7.4.1
const (
	CloseNormalClosure       = 1000
	CloseGoingAway           = 1001
	CloseNoStatusReceived    = 1005
	CloseAbnormalClosure     = 1006
	CloseInvalidFramePayload = 1007
)

// Listener receives the notifications of one Transporter. OnClose is called
// exactly once per Transporter and is always the last notification.
type Listener interface {
	OnOpen()
	OnMessage(data []byte)
	OnError(err error)
	OnClose(code int, reason string, wasClean bool)
}

type Transporter interface {
	// Open starts connecting and returns immediately; a failure to connect is
	// reported via OnError followed by OnClose
	Open(ctx context.Context, endpoint *url.URL, subprotocol string, headers http.Header)
	// Send returns a *SendError if the transport is not open
	Send(message []byte) error
	Close(code int, reason string)
	Done() <-chan struct{}
	Err() error
}

// Factory builds a fresh transport handle for every connection attempt
type Factory func(listener Listener) Transporter
