/*
Package session owns one logical websocket connection for its whole lifetime,
including the transparent reconnects underneath it.

	Idle -> Connecting -> Open -> Reconnecting -> Connecting -> ...
	                 \       \         \
	                  +-------+---------+--> Closing -> Closed

Every outbound message is queued and handed to the transport in the order it
was sent, once and only once. The queue survives reconnects, so messages sent
while disconnected go out as soon as the next connection opens. A message that
was already handed to a transport when that transport died is not retried:
delivery of in-flight messages is at-most-once.

All state lives behind a single lock. Transport notifications, backoff timer
fires and API calls each take it, so they are applied one at a time in the
order they arrive. Nothing touches the network under the lock: writes happen
on the session's writer goroutine and application callbacks are delivered in
order on its dispatcher goroutine.

A session keeps both goroutines until Shutdown, so that a Closed session can
be connected again. Close alone does not release them; every session must
eventually be shut down.
*/
package session

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"gopkg.in/tomb.v2"

	"github.com/wsession/wsession/connection/codec"
	"github.com/wsession/wsession/connection/transporter"
	"github.com/wsession/wsession/connection/transporter/websocket"
	"github.com/wsession/wsession/logger"
	"github.com/wsession/wsession/telemetry/throughput"
)

// Inbound is one received payload. Exactly one of Message and Err is
// meaningful: Err holds a *codec.DecodeError when the payload was malformed.
type Inbound struct {
	Raw     []byte
	Message codec.Message
	Err     error
}

type Session struct {
	id       string
	logger   *logger.Logger
	config   Config
	endpoint *url.URL
	factory  transporter.Factory

	dispatcher *dispatcher
	stats      *throughput.Stats

	// writer goroutine, woken whenever there may be something to write
	writer    tomb.Tomb
	writeWake chan struct{}

	// cancels any dial in progress when the session shuts down
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	state State

	// current transport and the generation its listener was created with,
	// notifications from older generations are ignored
	handle     transporter.Transporter
	generation uint64

	// most recent handle, kept after it closes so Shutdown can wait for it
	last transporter.Transporter

	queue   *outboundQueue
	nextSeq uint64

	attempt  int
	schedule backoff.BackOff
	timer    *time.Timer
	timerGen uint64

	closedWaiters []chan struct{}
	shutdown      bool
}

// New builds an Idle session. A nil factory means the gorilla websocket
// transport configured by config.Transport. The session's goroutines run
// until Shutdown.
func New(logger *logger.Logger, config Config, factory transporter.Factory) (*Session, error) {
	endpoint, err := config.validate()
	if err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}

	id := uuid.New().String()
	sessionLogger := logger.GetSessionLogger(id)

	if factory == nil {
		factory = websocket.NewFactory(sessionLogger.GetComponentLogger("Websocket"), config.Transport)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s := &Session{
		id:         id,
		logger:     sessionLogger,
		config:     config,
		endpoint:   endpoint,
		factory:    factory,
		dispatcher: newDispatcher(sessionLogger.GetComponentLogger("Dispatcher")),
		stats:      throughput.NewStats("bytes", done),
		ctx:        ctx,
		cancel:     cancel,
		done:       done,
		state:      Idle,
		queue:      newOutboundQueue(),
		nextSeq:    1,
		schedule:   newBackOff(config.Backoff, config.MaxReconnectAttempts),
		writeWake:  make(chan struct{}, 1),
	}
	s.writer.Go(s.runWriter)

	s.logger.Infof("Session created for %s", endpoint.String())
	return s, nil
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) ReconnectAttempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

func (s *Session) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

func (s *Session) Stats() throughput.Digest {
	return s.stats.Digest()
}

// Done is closed once Shutdown has completed
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) OnMessage(h MessageHandler) {
	s.dispatcher.addMessageHandler(h)
}

func (s *Session) OnStateChange(h StateChangeHandler) {
	s.dispatcher.addStateChangeHandler(h)
}

func (s *Session) OnError(h ErrorHandler) {
	s.dispatcher.addErrorHandler(h)
}

// Connect starts connecting from Idle or Closed. It is a no-op while the
// session is already connecting, open, or waiting to reconnect.
func (s *Session) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Idle, Closed:
		if s.shutdown {
			return &ClosedError{State: s.state}
		}

		s.attempt = 0
		s.schedule.Reset()
		s.setState(Connecting)
		s.openTransport()
		return nil
	case Closing:
		return &ClosedError{State: s.state}
	default:
		s.logger.Debugf("Connect called while %s, ignoring", s.state)
		return nil
	}
}

// Send queues a message and returns its sequence number. If the session is
// open the writer picks it up right away, otherwise the message waits for the
// next connection. Send never waits on the network.
func (s *Session) Send(message codec.Message) (uint64, error) {
	payload, err := s.config.Codec.Encode(message)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Closing, Closed:
		return 0, &ClosedError{State: s.state}
	}

	if s.config.MaxQueueDepth > 0 && s.queue.Len() >= s.config.MaxQueueDepth {
		return 0, &QueueFullError{Depth: s.queue.Len()}
	}

	seq := s.nextSeq
	s.nextSeq++
	s.queue.Push(&Outbound{Seq: seq, Message: message, Payload: payload})

	if s.state == Open {
		s.wakeWriter()
	}

	return seq, nil
}

// Close stops the session. Any pending reconnect is cancelled and no new
// attempt is made; the session is Closed once the transport reports that it
// has closed. A zero code means a normal closure.
func (s *Session) Close(code int, reason string) {
	if code == 0 {
		code = transporter.CloseNormalClosure
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Infof("Session closing because: %s", reason)

	switch s.state {
	case Idle:
		s.setState(Closing)
		s.finishClose()
	case Reconnecting:
		s.cancelTimer()
		s.setState(Closing)
		s.finishClose()
	case Connecting, Open:
		s.setState(Closing)
		s.handle.Close(code, reason)
	default:
		s.logger.Debugf("Close called while %s, ignoring", s.state)
	}
}

// Shutdown closes the session, waits for it to reach Closed, for its last
// transport to finish and for every pending callback to run, then stops the
// session's goroutines for good.
func (s *Session) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	waiter := make(chan struct{})
	if s.state == Closed || s.state == Idle {
		close(waiter)
	} else {
		s.closedWaiters = append(s.closedWaiters, waiter)
	}
	s.mu.Unlock()

	s.Close(transporter.CloseNormalClosure, "session shutdown")

	var err error
	select {
	case <-waiter:
	case <-ctx.Done():
		err = fmt.Errorf("timed out waiting for session to close: %w", ctx.Err())
	}

	s.mu.Lock()
	alreadyShutdown := s.shutdown
	s.shutdown = true
	s.cancelTimer()
	last := s.last
	s.mu.Unlock()

	if alreadyShutdown {
		return err
	}

	if last != nil && err == nil {
		select {
		case <-last.Done():
			if terr := last.Err(); terr != nil {
				s.logger.Debugf("Last transport ended with: %s", terr)
			}
		case <-ctx.Done():
			err = fmt.Errorf("timed out waiting for transport to finish: %w", ctx.Err())
		}
	}

	s.cancel()

	s.writer.Kill(nil)
	s.dispatcher.stop()

	for _, dead := range []<-chan struct{}{s.writer.Dead(), s.dispatcher.done()} {
		select {
		case <-dead:
		case <-ctx.Done():
			if err == nil {
				err = fmt.Errorf("timed out waiting for callbacks to finish: %w", ctx.Err())
			}
		}
	}

	close(s.done)
	s.logger.Infof("Session shut down")
	return err
}

// The functions below expect the session lock to be held

func (s *Session) setState(to State) {
	from := s.state
	if from == to {
		return
	}
	s.state = to

	s.logger.Infof("Session state %s -> %s (reconnect attempt %d)", from, to, s.attempt)
	s.dispatcher.post(StateChange{From: from, To: to, Attempt: s.attempt})
}

func (s *Session) openTransport() {
	s.generation++
	listener := &handleListener{session: s, generation: s.generation}

	s.handle = s.factory(listener)
	s.last = s.handle
	s.handle.Open(s.ctx, s.endpoint, s.config.Subprotocol, s.config.Headers.Clone())
}

func (s *Session) scheduleReconnect() {
	s.attempt++

	delay := s.schedule.NextBackOff()
	if delay == backoff.Stop {
		err := &transporter.ConnectError{
			Endpoint: s.endpoint.String(),
			InnerErr: fmt.Errorf("giving up after %d reconnect attempts", s.attempt-1),
		}
		s.logger.Error(err)
		s.dispatcher.post(error(err))
		s.finishClose()
		return
	}

	s.setState(Reconnecting)
	s.logger.Infof("Reconnecting to %s in %s", s.endpoint.String(), delay.Round(time.Millisecond))

	s.timerGen++
	generation := s.timerGen
	s.timer = time.AfterFunc(delay, func() {
		s.onTimer(generation)
	})
}

func (s *Session) cancelTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	// a timer that already fired is waiting on our lock, make sure it finds
	// a stale generation
	s.timerGen++
}

func (s *Session) finishClose() {
	s.handle = nil

	if dropped := s.queue.Discard(); dropped > 0 {
		s.logger.Infof("Discarding %d unsent messages", dropped)
	}

	s.setState(Closed)

	for _, waiter := range s.closedWaiters {
		close(waiter)
	}
	s.closedWaiters = nil
}

func (s *Session) onTimer(generation uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if generation != s.timerGen || s.state != Reconnecting {
		return
	}
	s.timer = nil

	s.setState(Connecting)
	s.openTransport()
}

func (s *Session) onOpen(generation uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if generation != s.generation || s.state != Connecting {
		return
	}

	s.logger.Info("Connection successful!")

	s.attempt = 0
	s.schedule.Reset()
	s.setState(Open)
	s.wakeWriter()
}

func (s *Session) onMessage(generation uint64, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if generation != s.generation {
		return
	}

	s.stats.CountInbound(len(data))

	message, err := s.config.Codec.Decode(data)
	if err != nil {
		s.logger.Errorf("Failed to decode inbound message: %s", err)
		s.dispatcher.post(Inbound{Raw: data, Err: err})
		s.dispatcher.post(err)

		if s.config.CloseOnDecodeError && s.state == Open {
			s.handle.Close(transporter.CloseInvalidFramePayload, "malformed payload")
		}
		return
	}

	s.dispatcher.post(Inbound{Raw: data, Message: message})
}

func (s *Session) onError(generation uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if generation != s.generation {
		return
	}

	s.logger.Infof("Transport error while %s: %s", s.state, err)
	s.dispatcher.post(err)
}

func (s *Session) onClose(generation uint64, code int, reason string, wasClean bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if generation != s.generation {
		return
	}

	s.handle = nil

	switch s.state {
	case Closing:
		s.finishClose()
	case Connecting, Open:
		s.logger.Infof("Lost connection to %s (code %d, clean %t)", s.endpoint.String(), code, wasClean)

		if s.config.AutoReconnect && !s.shutdown {
			s.scheduleReconnect()
		} else {
			s.logger.Infof("Connection closed and we're not retrying")
			s.dispatcher.post(error(&transporter.CloseError{Code: code, Reason: reason, WasClean: wasClean}))
			s.finishClose()
		}
	}
}

// handleListener forwards the notifications of one transport handle to the
// session, tagged with the handle's generation
type handleListener struct {
	session    *Session
	generation uint64
}

func (l *handleListener) OnOpen() {
	l.session.onOpen(l.generation)
}

func (l *handleListener) OnMessage(data []byte) {
	l.session.onMessage(l.generation, data)
}

func (l *handleListener) OnError(err error) {
	l.session.onError(l.generation, err)
}

func (l *handleListener) OnClose(code int, reason string, wasClean bool) {
	l.session.onClose(l.generation, code, reason, wasClean)
}
