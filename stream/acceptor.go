package stream

import (
	"bdt/config"
	"bdt/errors"
	"bdt/protocol"
)

func configMaxAnswerBytes() int { return config.GlobalCfg.Stream.MaxAnswerBytes }

// PreStream is a not-yet-confirmed inbound stream handed to the
// application's listener callback (spec.md §4.6: "accept(remote_id)
// then confirm(answer) at the callee side").
type PreStream struct {
	stream   *Stream
	provider Provider
	remoteTs protocol.BuckyTime
}

// Question returns the opening payload the caller sent.
func (p *PreStream) Question() []byte { return p.stream.Question }

// LocalId returns the local stream id assigned to this not-yet-confirmed
// stream, letting a dispatch layer correlate a PreStream delivered
// through a Listener back to the ack closure it registered when the
// inbound syn first arrived.
func (p *PreStream) LocalId() protocol.IncreaseId { return p.stream.LocalId }

// Confirm accepts the stream, sending answer back to the caller and
// transitioning the stream to Establish. answer is capped at
// stream.max_answer_bytes (spec.md §4.6).
func (p *PreStream) Confirm(answer []byte, sendAck func(answer []byte) error) (*Stream, error) {
	if len(answer) > configMaxAnswerBytes() {
		return nil, errors.New(errors.OutOfLimit, "confirm answer exceeds max answer bytes")
	}
	if err := sendAck(answer); err != nil {
		return nil, err
	}
	p.stream.establish(p.remoteTs, p.provider)
	return p.stream, nil
}

// Reject declines the inbound stream with err, bypassing confirm.
func (p *PreStream) Reject(err error) {
	p.stream.CancelConnecting(err)
}

// Listener accepts inbound streams addressed to one vport (spec.md §6:
// `listen(vport) -> Listener`).
type Listener struct {
	vport  uint16
	pre    chan *PreStream
	closed chan struct{}
}

// NewListener constructs a Listener for vport with a bounded backlog.
func NewListener(vport uint16, backlog int) *Listener {
	return &Listener{
		vport:  vport,
		pre:    make(chan *PreStream, backlog),
		closed: make(chan struct{}),
	}
}

// VPort returns the listener's bound virtual port.
func (l *Listener) VPort() uint16 { return l.vport }

// deliver queues an inbound PreStream, dropping it with Pending if the
// backlog is full (spec.md §7's backpressure kind).
func (l *Listener) deliver(pre *PreStream) error {
	select {
	case l.pre <- pre:
		return nil
	default:
		return errors.New(errors.Pending, "listener backlog full")
	}
}

// Next blocks for the next inbound PreStream.
func (l *Listener) Next() (*PreStream, error) {
	select {
	case pre, ok := <-l.pre:
		if !ok {
			return nil, errors.New(errors.ConnectionAborted, "listener closed")
		}
		return pre, nil
	case <-l.closed:
		return nil, errors.New(errors.ConnectionAborted, "listener closed")
	}
}

// Close stops the listener from accepting further streams.
func (l *Listener) Close() {
	select {
	case <-l.closed:
	default:
		close(l.closed)
	}
}

// NewPreStream constructs a PreStream from an inbound syn, used by the
// stream manager's dispatch path. localId is pre-allocated by the
// caller so its provider (sending ongoing stream data tagged with this
// id as FromSessionId) and its ack closure (keyed the same way) agree
// with the Stream's own LocalId.
func NewPreStream(localId protocol.IncreaseId, question []byte, peer protocol.DeviceId, vport uint16, remoteId protocol.IncreaseId,
	sequence protocol.TempSeq, remoteTs protocol.BuckyTime, provider Provider) *PreStream {

	s := newStream()
	s.LocalId = localId
	s.RemoteId = remoteId
	s.Sequence = sequence
	s.Peer = peer
	s.VPort = vport
	s.Question = question
	return &PreStream{stream: s, provider: provider, remoteTs: remoteTs}
}
