package stack

import (
	"bdt/errors"
	"bdt/stream"
)

// PreStream is an inbound stream request delivered to a Listener,
// confirmed or rejected by the application without it ever touching a
// wire format (spec.md §6: `accept(remote_id)` then `confirm(answer)`
// at the callee side). The ack closure that actually sends
// SessionData(Ack)/TcpAckConnection back was built by the dispatcher
// that first parsed the syn and is recovered here by local id.
type PreStream struct {
	inner *stream.PreStream
	stack *Stack
}

// Question returns the opening payload the caller sent.
func (p *PreStream) Question() []byte { return p.inner.Question() }

// Confirm accepts the stream and sends answer back to the caller.
func (p *PreStream) Confirm(answer []byte) (*stream.Stream, error) {
	sendAck, ok := p.stack.popAcceptAck(p.inner.LocalId())
	if !ok {
		return nil, errors.New(errors.NotFound, "no pending ack for this pre-stream")
	}
	return p.inner.Confirm(answer, sendAck)
}

// Reject declines the inbound stream with err.
func (p *PreStream) Reject(err error) {
	p.stack.popAcceptAck(p.inner.LocalId())
	p.inner.Reject(err)
}

// Listener accepts inbound streams addressed to one vport (spec.md §6:
// `listen(vport) -> Listener`).
type Listener struct {
	inner *stream.Listener
	stack *Stack
}

// Next blocks for the next inbound PreStream.
func (l *Listener) Next() (*PreStream, error) {
	pre, err := l.inner.Next()
	if err != nil {
		return nil, err
	}
	return &PreStream{inner: pre, stack: l.stack}, nil
}

// Close stops the listener from accepting further streams.
func (l *Listener) Close() {
	l.inner.Close()
}

// Listen registers a Listener for vport with a bounded backlog.
func (s *Stack) Listen(vport uint16, backlog int) (*Listener, error) {
	inner, err := s.StreamManager.Listen(vport, backlog)
	if err != nil {
		return nil, err
	}
	return &Listener{inner: inner, stack: s}, nil
}
