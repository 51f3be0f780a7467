package session

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/wsession/wsession/connection/transporter"
)

type outcome int

const (
	accept outcome = iota
	refuse
	hang
)

// fakeNetwork hands out fakeTransports and decides, attempt by attempt,
// whether they open. Attempts past the end of the script are accepted.
type fakeNetwork struct {
	mu         sync.Mutex
	script     []outcome
	transports []*fakeTransport

	// every payload any transport accepted, in order
	delivered []string

	// when false, Close on a transport never reports back
	ackClose bool
}

func newFakeNetwork(script ...outcome) *fakeNetwork {
	return &fakeNetwork{script: script, ackClose: true}
}

func (n *fakeNetwork) factory(listener transporter.Listener) transporter.Transporter {
	n.mu.Lock()
	defer n.mu.Unlock()

	t := &fakeTransport{network: n, listener: listener, done: make(chan struct{})}
	n.transports = append(n.transports, t)
	return t
}

func (n *fakeNetwork) next() outcome {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.script) == 0 {
		return accept
	}
	o := n.script[0]
	n.script = n.script[1:]
	return o
}

func (n *fakeNetwork) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.transports)
}

func (n *fakeNetwork) transport(i int) *fakeTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.transports[i]
}

func (n *fakeNetwork) latest() *fakeTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.transports[len(n.transports)-1]
}

func (n *fakeNetwork) deliveredPayloads() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.delivered...)
}

type fakeTransport struct {
	network  *fakeNetwork
	listener transporter.Listener

	mu        sync.Mutex
	open      bool
	closed    bool
	sent      []string
	sendErr   error
	closeCode int
	done      chan struct{}

	// while set, Send blocks until it is closed
	stall chan struct{}
}

func (t *fakeTransport) Open(ctx context.Context, endpoint *url.URL, subprotocol string, headers http.Header) {
	switch t.network.next() {
	case accept:
		go t.accept()
	case refuse:
		go t.refuse()
	case hang:
	}
}

func (t *fakeTransport) accept() {
	t.mu.Lock()
	t.open = true
	t.mu.Unlock()
	t.listener.OnOpen()
}

func (t *fakeTransport) refuse() {
	t.listener.OnError(&transporter.ConnectError{Endpoint: "fake", InnerErr: fmt.Errorf("connection refused")})
	t.finish(transporter.CloseAbnormalClosure, "", false)
}

func (t *fakeTransport) Send(message []byte) error {
	t.mu.Lock()
	stall := t.stall
	t.mu.Unlock()
	if stall != nil {
		<-stall
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sendErr != nil {
		return t.sendErr
	}
	if !t.open {
		return &transporter.SendError{State: "not open"}
	}

	t.sent = append(t.sent, string(message))

	t.network.mu.Lock()
	t.network.delivered = append(t.network.delivered, string(message))
	t.network.mu.Unlock()
	return nil
}

func (t *fakeTransport) Close(code int, reason string) {
	t.mu.Lock()
	t.open = false
	t.closeCode = code
	t.mu.Unlock()

	if t.network.ackClose {
		go t.finish(code, reason, true)
	}
}

func (t *fakeTransport) Done() <-chan struct{} {
	return t.done
}

func (t *fakeTransport) Err() error {
	return nil
}

// drop simulates the peer going away
func (t *fakeTransport) drop() {
	t.mu.Lock()
	t.open = false
	t.mu.Unlock()

	t.listener.OnError(fmt.Errorf("connection reset by peer"))
	t.finish(transporter.CloseAbnormalClosure, "", false)
}

func (t *fakeTransport) receive(payload string) {
	t.listener.OnMessage([]byte(payload))
}

func (t *fakeTransport) finish(code int, reason string, wasClean bool) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.open = false
	t.mu.Unlock()

	t.listener.OnClose(code, reason, wasClean)
	close(t.done)
}

func (t *fakeTransport) setSendErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendErr = err
}

// stallSends makes every Send block, like a peer that stopped reading,
// until the returned release func is called
func (t *fakeTransport) stallSends() (release func()) {
	stall := make(chan struct{})
	t.mu.Lock()
	t.stall = stall
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			t.stall = nil
			t.mu.Unlock()
			close(stall)
		})
	}
}

func (t *fakeTransport) sentPayloads() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.sent...)
}

func (t *fakeTransport) closedWith() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeCode
}

// recorder collects everything the session reports to the application
type recorder struct {
	mu       sync.Mutex
	changes  []StateChange
	messages []Inbound
	errs     []error
}

func (r *recorder) attach(s *Session) {
	s.OnStateChange(func(change StateChange) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.changes = append(r.changes, change)
	})
	s.OnMessage(func(in Inbound) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.messages = append(r.messages, in)
	})
	s.OnError(func(err error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.errs = append(r.errs, err)
	})
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	states := make([]State, 0, len(r.changes))
	for _, change := range r.changes {
		states = append(states, change.To)
	}
	return states
}

func (r *recorder) stateChanges() []StateChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StateChange(nil), r.changes...)
}

func (r *recorder) inbound() []Inbound {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Inbound(nil), r.messages...)
}

func (r *recorder) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}
