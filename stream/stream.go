// Package stream implements the reliable byte-stream layer built above
// tunnels (spec.md §4.6): connect/accept/confirm handshake, an
// establishment race among direct-package, direct-TCP, reverse-TCP and
// builder connector variants, answer buffering, and shutdown semantics.
package stream

import (
	"io"
	"sync"
	"time"

	"bdt/config"
	"bdt/errors"
	"bdt/protocol"
	"bdt/sched"
)

// State is a Stream's lifecycle state (spec.md §3).
type State int

const (
	StateConnecting State = iota
	StateEstablish
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateEstablish:
		return "establish"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ShutdownSide selects which half of the stream to close.
type ShutdownSide int

const (
	ShutdownRead ShutdownSide = iota
	ShutdownWrite
	ShutdownBoth
)

// Provider is the transport a Stream was established over: either a
// package-based (UDP SessionData) or TCP-framed connection. It is the
// `StreamProviderSelector` of spec.md §4.6, supplied by whichever
// connector variant won the establishment race.
type Provider interface {
	WritePiece(data []byte) error
	Close() error
}

// Stream is a reliable byte channel identified by (local_id, remote_id,
// sequence) on some underlying tunnel (spec.md §3).
type Stream struct {
	LocalId  protocol.IncreaseId
	RemoteId protocol.IncreaseId
	Sequence protocol.TempSeq
	Peer     protocol.DeviceId
	VPort    uint16

	Question []byte
	answer   []byte
	answerMu sync.Mutex
	answerSent bool

	mu       sync.Mutex
	state    State
	remoteTs protocol.BuckyTime
	provider Provider
	waiter   sched.Waiter

	recvCh chan []byte
	recvBuf []byte
	recvEOF bool

	closeErr error
}

func newStream() *Stream {
	return &Stream{
		state:  StateConnecting,
		recvCh: make(chan []byte, config.GlobalCfg.Stream.RecvBuffer/4096+1),
	}
}

// State returns the stream's current lifecycle state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// establish transitions Connecting -> Establish(remoteTs), attaching
// the winning connector's provider.
func (s *Stream) establish(remoteTs protocol.BuckyTime, provider Provider) {
	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		return
	}
	s.state = StateEstablish
	s.remoteTs = remoteTs
	s.provider = provider
	s.mu.Unlock()
	s.waiter.WakeAll()
}

// SetAnswer stores the confirm-time answer payload, capped at
// stream.max_answer_bytes (spec.md §4.6: "exceeding fails the confirm
// call").
func (s *Stream) SetAnswer(answer []byte) error {
	if len(answer) > config.GlobalCfg.Stream.MaxAnswerBytes {
		return errors.New(errors.OutOfLimit, "answer exceeds max answer bytes")
	}
	s.answerMu.Lock()
	s.answer = answer
	s.answerMu.Unlock()
	return nil
}

// Read implements io.Reader. The first read after Establish drains any
// buffered answer before ordinary stream data (spec.md §4.6).
func (s *Stream) Read(p []byte) (int, error) {
	s.answerMu.Lock()
	if !s.answerSent && len(s.answer) > 0 {
		n := copy(p, s.answer)
		s.answer = s.answer[n:]
		if len(s.answer) == 0 {
			s.answerSent = true
		}
		s.answerMu.Unlock()
		return n, nil
	}
	s.answerSent = true
	s.answerMu.Unlock()

	if len(s.recvBuf) > 0 {
		n := copy(p, s.recvBuf)
		s.recvBuf = s.recvBuf[n:]
		return n, nil
	}
	chunk, ok := <-s.recvCh
	if !ok {
		if s.closeErr != nil {
			return 0, s.closeErr
		}
		return 0, io.EOF
	}
	n := copy(p, chunk)
	if n < len(chunk) {
		s.recvBuf = chunk[n:]
	}
	return n, nil
}

// deliver feeds inbound stream bytes to Read (called by the dispatch
// layer as SessionData/piece frames arrive).
func (s *Stream) deliver(data []byte) {
	s.mu.Lock()
	closed := s.state == StateClosed
	s.mu.Unlock()
	if closed {
		return
	}
	select {
	case s.recvCh <- data:
	default:
		// receive buffer saturated: backpressure is the caller's problem
		// to resolve by reading faster; BDT's core does not itself retry.
	}
}

// Write implements io.Writer.
func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	if s.state != StateEstablish {
		s.mu.Unlock()
		return 0, errors.New(errors.ErrorState, "write on a stream that is not established")
	}
	provider := s.provider
	s.mu.Unlock()
	if provider == nil {
		return 0, errors.New(errors.ErrorState, "stream has no provider")
	}
	if err := provider.WritePiece(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Shutdown closes one or both halves of the stream (spec.md §4.6).
func (s *Stream) Shutdown(side ShutdownSide) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosing
	provider := s.provider
	s.mu.Unlock()

	if side == ShutdownRead || side == ShutdownBoth {
		s.closeErr = errors.New(errors.ConnectionAborted, "stream shut down for reading")
		close(s.recvCh)
	}
	if (side == ShutdownWrite || side == ShutdownBoth) && provider != nil {
		if err := provider.Close(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	s.waiter.WakeAll()
	return nil
}

// Close is equivalent to Shutdown(Both), the behavior of dropping the
// outermost handle (spec.md §4.6).
func (s *Stream) Close() error { return s.Shutdown(ShutdownBoth) }

// CancelConnecting aborts a stream still in Connecting with err,
// idempotently waking every connect-waiter (spec.md §4.6).
func (s *Stream) CancelConnecting(err error) {
	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.closeErr = err
	s.mu.Unlock()
	close(s.recvCh)
	s.waiter.WakeAll()
}

// WaitEstablishOrClosed blocks until the stream leaves Connecting or
// timeout elapses.
func (s *Stream) WaitEstablishOrClosed(timeout time.Duration) error {
	for {
		st := s.State()
		if st == StateEstablish {
			return nil
		}
		if st == StateClosed || st == StateClosing {
			if s.closeErr != nil {
				return s.closeErr
			}
			return errors.New(errors.ConnectionAborted, "stream closed while connecting")
		}
		select {
		case <-s.waiter.Wait():
		case <-time.After(timeout):
			s.CancelConnecting(errors.New(errors.Timeout, "stream connect timeout"))
			return errors.New(errors.Timeout, "stream connect timeout")
		}
	}
}
