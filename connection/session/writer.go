package session

import (
	"errors"

	"github.com/wsession/wsession/connection/transporter"
)

// runWriter hands queued messages to the transport, oldest first. It is the
// only goroutine that writes and it never holds the session lock while a
// write is in progress.
func (s *Session) runWriter() error {
	for {
		select {
		case <-s.writer.Dying():
			return nil
		case <-s.writeWake:
			for s.writeNext() {
			}
		}
	}
}

// wakeWriter expects the session lock to be held
func (s *Session) wakeWriter() {
	select {
	case s.writeWake <- struct{}{}:
	default:
	}
}

// writeNext writes the head of the queue and reports whether the writer
// should carry on with the next one
func (s *Session) writeNext() bool {
	s.mu.Lock()
	if s.state != Open || s.handle == nil || s.queue.Len() == 0 {
		s.mu.Unlock()
		return false
	}
	next := s.queue.Peek()
	handle := s.handle
	generation := s.generation
	s.mu.Unlock()

	err := handle.Send(next.Payload)

	s.mu.Lock()
	defer s.mu.Unlock()

	var sendErr *transporter.SendError
	if errors.As(err, &sendErr) {
		// nothing was written, the message keeps its place and goes out
		// once we have reconnected
		s.logger.Debugf("Transport refused message %d: %s", next.Seq, err)
		return false
	}

	// the queue is discarded if the session closed during the write
	if s.queue.Len() > 0 && s.queue.Peek() == next {
		s.queue.Pop()
	}

	if err == nil {
		s.stats.CountOutbound(len(next.Payload))
		return true
	}

	// the write started, so the message counts as in flight and is not
	// retried; the transport is no good anymore
	derr := &DeliveryError{Seq: next.Seq, InnerErr: err}
	s.logger.Error(derr)
	s.dispatcher.post(error(derr))

	if generation == s.generation && s.state == Open {
		s.handle.Close(transporter.CloseGoingAway, "write failed")
	}
	return false
}
