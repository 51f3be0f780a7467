/*
The Websocket package establishes and ferries raw bytes across a single
websocket connection. In terms of the overall connection layer architecture,
this package is at the lowest layer: it knows nothing about framing or
reconnecting, it only reports what happens to one socket to its listener.

None of the public methods block on the network except Send, which writes
with a deadline. A write in progress never holds the transport's lock, so
Close and the reader are not held up by a peer that stopped reading.
Notifications are delivered from the reader goroutine and
never while holding the transport's own lock, so a listener is free to call
back into the transport.
*/
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	gorilla "github.com/gorilla/websocket"
	"gopkg.in/tomb.v2"

	"github.com/wsession/wsession/connection/transporter"
	"github.com/wsession/wsession/logger"
)

const (
	HttpsOnlyWebsocketScheme = "wss"
	HttpWebsocketScheme      = "ws"

	// How long we wait for the peer to answer our close frame before we
	// drop the connection ourselves
	closeGracePeriod = time.Second
)

type state int

const (
	idle state = iota
	connecting
	open
	closing
	closed
)

func (s state) String() string {
	switch s {
	case idle:
		return "idle"
	case connecting:
		return "connecting"
	case open:
		return "open"
	case closing:
		return "closing"
	default:
		return "closed"
	}
}

type Config struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	// Interval between keepalive pings, zero disables them. When enabled the
	// connection is considered dead if no pong arrives within two intervals
	PingInterval time.Duration

	// Send binary instead of text frames
	Binary bool
}

func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
	}
}

type Websocket struct {
	tmb      tomb.Tomb
	logger   *logger.Logger
	config   Config
	listener transporter.Listener

	// serializes data frames, gorilla allows one writer at a time
	writeMu sync.Mutex

	mu          sync.Mutex
	state       state
	client      *gorilla.Conn
	cancelDial  context.CancelFunc
	closeCode   int
	closeReason string

	closeOnce sync.Once
	done      chan struct{}
	err       error
}

func New(logger *logger.Logger, config Config, listener transporter.Listener) *Websocket {
	return &Websocket{
		logger:   logger,
		config:   config,
		listener: listener,
		done:     make(chan struct{}),
	}
}

// NewFactory returns a transporter.Factory that builds one Websocket per
// connection attempt
func NewFactory(logger *logger.Logger, config Config) transporter.Factory {
	return func(listener transporter.Listener) transporter.Transporter {
		return New(logger, config, listener)
	}
}

func (w *Websocket) Done() <-chan struct{} {
	return w.done
}

func (w *Websocket) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *Websocket) Open(ctx context.Context, endpoint *url.URL, subprotocol string, headers http.Header) {
	w.mu.Lock()
	if w.state != idle {
		w.mu.Unlock()
		w.logger.Infof("Open was called on a websocket that is already %s", w.state)
		return
	}
	w.state = connecting

	dialCtx, cancel := context.WithCancel(ctx)
	w.cancelDial = cancel
	w.mu.Unlock()

	w.tmb.Go(func() error {
		defer cancel()
		return w.run(dialCtx, endpoint, subprotocol, headers)
	})
}

func (w *Websocket) Send(message []byte) error {
	w.mu.Lock()
	if w.state != open {
		defer w.mu.Unlock()
		return &transporter.SendError{State: w.state.String()}
	}
	client := w.client
	w.mu.Unlock()

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	if w.config.WriteTimeout > 0 {
		client.SetWriteDeadline(time.Now().Add(w.config.WriteTimeout))
	}

	messageType := gorilla.TextMessage
	if w.config.Binary {
		messageType = gorilla.BinaryMessage
	}

	if err := client.WriteMessage(messageType, message); err != nil {
		return fmt.Errorf("failed to write to websocket: %w", err)
	}
	return nil
}

// Close starts the closing handshake and returns without waiting for it.
// OnClose fires once the peer answers, the grace period runs out, or the
// pending dial is abandoned.
func (w *Websocket) Close(code int, reason string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state {
	case idle:
		w.state = closing
		go w.finish(code, reason, true, nil)
	case connecting:
		w.logger.Infof("Abandoning websocket dial because: %s", reason)
		w.state = closing
		w.closeCode, w.closeReason = code, reason
		w.cancelDial()
	case open:
		w.logger.Infof("Websocket connection closing because: %s", reason)
		w.state = closing
		w.closeCode, w.closeReason = code, reason
		go w.sendCloseFrame(w.client, code, reason)
	default:
		w.logger.Infof("Close was called while in a %s state", w.state)
	}
}

// sendCloseFrame may wait behind a data frame that is still being written,
// so it runs on its own goroutine
func (w *Websocket) sendCloseFrame(client *gorilla.Conn, code int, reason string) {
	deadline := time.Now().Add(closeGracePeriod)
	message := gorilla.FormatCloseMessage(code, reason)
	if err := client.WriteControl(gorilla.CloseMessage, message, deadline); err != nil {
		w.logger.Infof("Failed to write close frame, dropping connection: %s", err)
		client.Close()
		return
	}

	// our reader returns when the peer echoes the close frame or this
	// deadline passes, whichever comes first
	client.SetReadDeadline(deadline)
}

func (w *Websocket) run(ctx context.Context, endpoint *url.URL, subprotocol string, headers http.Header) error {
	target, err := websocketUrl(endpoint)
	if err != nil {
		return w.failDial(endpoint.String(), err)
	}

	dialer := gorilla.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: w.config.HandshakeTimeout,
	}
	if subprotocol != "" {
		dialer.Subprotocols = []string{subprotocol}
	}

	w.logger.Infof("Dialing %s", target.String())
	conn, _, err := dialer.DialContext(ctx, target.String(), headers)
	if err != nil {
		return w.failDial(target.String(), err)
	}

	w.mu.Lock()
	if w.state == closing {
		// Close was called while we were still dialing
		code, reason := w.closeCode, w.closeReason
		w.mu.Unlock()

		conn.Close()
		w.finish(code, reason, true, nil)
		return nil
	}
	w.client = conn
	w.state = open
	w.mu.Unlock()

	if negotiated := conn.Subprotocol(); subprotocol != "" && negotiated != subprotocol {
		w.logger.Infof("Server did not accept subprotocol %q, continuing without it", subprotocol)
	}

	if w.config.PingInterval > 0 {
		pongWait := 2 * w.config.PingInterval
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			w.mu.Lock()
			defer w.mu.Unlock()
			if w.state == open {
				return w.client.SetReadDeadline(time.Now().Add(pongWait))
			}
			return nil
		})
		w.tmb.Go(w.keepalive)
	}

	w.listener.OnOpen()
	return w.receive()
}

func (w *Websocket) failDial(target string, err error) error {
	w.mu.Lock()
	abandoned := w.state == closing
	code, reason := w.closeCode, w.closeReason
	w.mu.Unlock()

	if abandoned {
		w.finish(code, reason, true, nil)
		return nil
	}

	cerr := &transporter.ConnectError{Endpoint: target, InnerErr: err}
	w.logger.Error(cerr)
	w.listener.OnError(cerr)
	w.finish(transporter.CloseAbnormalClosure, "", false, cerr)
	return cerr
}

func (w *Websocket) receive() error {
	defer w.logger.Infof("Websocket connection closed")
	w.logger.Infof("Websocket connection started")

	for {
		_, rawMessage, err := w.client.ReadMessage()
		if err == nil {
			w.listener.OnMessage(rawMessage)
			continue
		}

		w.mu.Lock()
		requested := w.state == closing
		code, reason := w.closeCode, w.closeReason
		w.mu.Unlock()

		var closeErr *gorilla.CloseError
		switch {
		case errors.As(err, &closeErr):
			clean := closeErr.Code != gorilla.CloseAbnormalClosure
			if clean {
				w.logger.Infof("Websocket connection closed with code %d", closeErr.Code)
			}
			if !requested && !clean {
				w.listener.OnError(err)
			}
			w.finish(closeErr.Code, closeErr.Text, clean, nil)
			if requested || clean {
				return nil
			}
			return err
		case requested:
			// the peer never answered our close frame
			w.finish(code, reason, false, nil)
			return nil
		default:
			w.logger.Error(err)
			w.listener.OnError(err)
			w.finish(transporter.CloseAbnormalClosure, err.Error(), false, err)
			return err
		}
	}
}

func (w *Websocket) keepalive() error {
	ticker := time.NewTicker(w.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return nil
		case <-ticker.C:
			w.mu.Lock()
			if w.state != open {
				w.mu.Unlock()
				return nil
			}
			client := w.client
			w.mu.Unlock()

			err := client.WriteControl(gorilla.PingMessage, nil, time.Now().Add(w.config.PingInterval))

			if err != nil {
				w.logger.Infof("Failed to send keepalive ping: %s", err)
			}
		}
	}
}

// finish releases the socket and notifies the listener, exactly once
func (w *Websocket) finish(code int, reason string, wasClean bool, err error) {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.state = closed
		w.err = err
		if w.client != nil {
			w.client.Close()
		}
		w.mu.Unlock()

		w.listener.OnClose(code, reason, wasClean)
		close(w.done)
	})
}

func websocketUrl(endpoint *url.URL) (*url.URL, error) {
	target := *endpoint
	switch target.Scheme {
	case "http", HttpWebsocketScheme:
		target.Scheme = HttpWebsocketScheme
	case "https", HttpsOnlyWebsocketScheme:
		target.Scheme = HttpsOnlyWebsocketScheme
	default:
		return nil, fmt.Errorf("unsupported url scheme %q", endpoint.Scheme)
	}
	return &target, nil
}
