package session

import (
	"github.com/eapache/queue"

	"github.com/wsession/wsession/connection/codec"
)

// Outbound is one queued application message. The payload is encoded when
// the message is enqueued so that nothing about it changes afterwards.
type Outbound struct {
	Seq     uint64
	Message codec.Message
	Payload []byte
}

// outboundQueue is the FIFO of messages not yet handed to a transport. It is
// only touched while holding the session lock.
type outboundQueue struct {
	items *queue.Queue
}

func newOutboundQueue() *outboundQueue {
	return &outboundQueue{items: queue.New()}
}

func (q *outboundQueue) Len() int {
	return q.items.Length()
}

func (q *outboundQueue) Push(message *Outbound) {
	q.items.Add(message)
}

func (q *outboundQueue) Peek() *Outbound {
	return q.items.Peek().(*Outbound)
}

func (q *outboundQueue) Pop() *Outbound {
	return q.items.Remove().(*Outbound)
}

// Discard drops everything and returns how many messages were dropped
func (q *outboundQueue) Discard() int {
	n := q.items.Length()
	q.items = queue.New()
	return n
}
