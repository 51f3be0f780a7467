package session

import (
	"sync"

	"github.com/eapache/queue"
	"gopkg.in/tomb.v2"

	"github.com/wsession/wsession/logger"
)

type (
	MessageHandler     func(Inbound)
	StateChangeHandler func(StateChange)
	ErrorHandler       func(error)
)

// dispatcher delivers notifications to application callbacks on a single
// goroutine, in the order they were posted. Posting never blocks, so the
// session can post while holding its lock and callbacks can call back into
// the session.
type dispatcher struct {
	tmb    tomb.Tomb
	logger *logger.Logger

	pendingLock sync.Mutex
	pending     *queue.Queue
	wake        chan struct{}

	handlersLock  sync.RWMutex
	onMessage     []MessageHandler
	onStateChange []StateChangeHandler
	onError       []ErrorHandler
}

func newDispatcher(logger *logger.Logger) *dispatcher {
	d := &dispatcher{
		logger:  logger,
		pending: queue.New(),
		wake:    make(chan struct{}, 1),
	}

	d.tmb.Go(d.run)
	return d
}

func (d *dispatcher) addMessageHandler(h MessageHandler) {
	d.handlersLock.Lock()
	defer d.handlersLock.Unlock()
	d.onMessage = append(d.onMessage, h)
}

func (d *dispatcher) addStateChangeHandler(h StateChangeHandler) {
	d.handlersLock.Lock()
	defer d.handlersLock.Unlock()
	d.onStateChange = append(d.onStateChange, h)
}

func (d *dispatcher) addErrorHandler(h ErrorHandler) {
	d.handlersLock.Lock()
	defer d.handlersLock.Unlock()
	d.onError = append(d.onError, h)
}

// post queues one of Inbound, StateChange or error for delivery
func (d *dispatcher) post(notification interface{}) {
	d.pendingLock.Lock()
	d.pending.Add(notification)
	d.pendingLock.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// stop asks the dispatch goroutine to deliver whatever is still pending and
// then end. It does not wait; done is closed once the goroutine has ended.
func (d *dispatcher) stop() {
	d.tmb.Kill(nil)
}

func (d *dispatcher) done() <-chan struct{} {
	return d.tmb.Dead()
}

func (d *dispatcher) run() error {
	for {
		select {
		case <-d.tmb.Dying():
			d.drain()
			return nil
		case <-d.wake:
			d.drain()
		}
	}
}

func (d *dispatcher) drain() {
	for {
		d.pendingLock.Lock()
		if d.pending.Length() == 0 {
			d.pendingLock.Unlock()
			return
		}
		notification := d.pending.Remove()
		d.pendingLock.Unlock()

		d.deliver(notification)
	}
}

func (d *dispatcher) deliver(notification interface{}) {
	d.handlersLock.RLock()
	onMessage := d.onMessage
	onStateChange := d.onStateChange
	onError := d.onError
	d.handlersLock.RUnlock()

	switch n := notification.(type) {
	case Inbound:
		for _, h := range onMessage {
			d.safely("message", func() { h(n) })
		}
	case StateChange:
		for _, h := range onStateChange {
			d.safely("state change", func() { h(n) })
		}
	case error:
		for _, h := range onError {
			d.safely("error", func() { h(n) })
		}
	default:
		d.logger.Errorf("dropping notification of unknown type %T", notification)
	}
}

// safely runs one callback so that a panic in it cannot reach the session or
// the callbacks after it
func (d *dispatcher) safely(kind string, call func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Errorf("%s callback panicked: %v", kind, r)
		}
	}()
	call()
}
