// Package datagram implements the unreliable datagram channel above a
// tunnel (spec.md §6): `send(remote, vport, payload, options)` /
// `recv(vport) -> (payload, remote)`, independent of and unordered with
// respect to the stream layer (spec.md §5's ordering guarantees).
package datagram

import (
	"sync"

	"bdt/errors"
	"bdt/protocol"
)

// Options mirrors the sender-tunable knobs on one datagram send; BDT's
// core does not retry sends itself (spec.md §1 Non-goals), so the only
// option kept here is an optional sequence id for the caller's own
// de-duplication.
type Options struct {
	SequenceId uint32
}

// Received is one inbound datagram delivered to a vport's queue.
type Received struct {
	From    protocol.DeviceId
	VPort   uint16
	Payload []byte
}

// Sender abstracts the tunnel the manager sends datagrams through,
// keeping this package free of a direct bdt/tunnel dependency.
type Sender interface {
	SendDatagram(peer protocol.DeviceId, vport uint16, payload []byte, seq protocol.TempSeq) error
}

// Manager is the datagram layer's vport registry (spec.md §6: Stack's
// datagram_manager()).
type Manager struct {
	sender Sender
	seqGen *protocol.SeqGenerator

	mu    sync.Mutex
	inbox map[uint16]chan Received
}

// NewManager constructs a datagram manager sending through sender.
func NewManager(sender Sender) *Manager {
	return &Manager{
		sender: sender,
		seqGen: protocol.NewSeqGenerator(1),
		inbox:  make(map[uint16]chan Received),
	}
}

const inboxBacklog = 256

// Bind registers a receive queue for vport; binding twice fails with
// AlreadyExists.
func (m *Manager) Bind(vport uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.inbox[vport]; ok {
		return errors.New(errors.AlreadyExists, "vport already bound")
	}
	m.inbox[vport] = make(chan Received, inboxBacklog)
	return nil
}

// Unbind releases a vport's receive queue.
func (m *Manager) Unbind(vport uint16) {
	m.mu.Lock()
	delete(m.inbox, vport)
	m.mu.Unlock()
}

// Send transmits payload to remote/vport.
func (m *Manager) Send(remote protocol.DeviceId, vport uint16, payload []byte, opts Options) error {
	return m.sender.SendDatagram(remote, vport, payload, m.seqGen.Generate())
}

// Recv blocks for the next datagram bound to vport.
func (m *Manager) Recv(vport uint16) (Received, error) {
	m.mu.Lock()
	ch, ok := m.inbox[vport]
	m.mu.Unlock()
	if !ok {
		return Received{}, errors.New(errors.NotFound, "vport not bound")
	}
	r, ok := <-ch
	if !ok {
		return Received{}, errors.New(errors.ConnectionAborted, "datagram manager closed")
	}
	return r, nil
}

// Dispatch routes an inbound datagram to its vport's queue, dropping it
// with no error if nothing is bound or the queue is saturated (an
// unbound/backpressured vport is a silent drop for a best-effort
// channel, same as a UDP socket with no reader).
func (m *Manager) Dispatch(r Received) {
	m.mu.Lock()
	ch, ok := m.inbox[r.VPort]
	m.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- r:
	default:
	}
}
