package stream

import (
	"sync"

	"bdt/errors"
	"bdt/protocol"
)

// Manager is the stream layer's vport registry and inbound dispatcher
// (spec.md §6: Stack's stream_manager()).
type Manager struct {
	mu        sync.Mutex
	listeners map[uint16]*Listener
	streams   map[protocol.IncreaseId]*Stream
}

// NewManager constructs an empty stream manager.
func NewManager() *Manager {
	return &Manager{
		listeners: make(map[uint16]*Listener),
		streams:   make(map[protocol.IncreaseId]*Stream),
	}
}

// Listen registers a Listener for vport; registering twice on the same
// vport fails with AlreadyExists.
func (m *Manager) Listen(vport uint16, backlog int) (*Listener, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.listeners[vport]; ok {
		return nil, errors.New(errors.AlreadyExists, "vport already has a listener")
	}
	l := NewListener(vport, backlog)
	m.listeners[vport] = l
	return l, nil
}

// StopListen removes and closes a vport's listener.
func (m *Manager) StopListen(vport uint16) {
	m.mu.Lock()
	l, ok := m.listeners[vport]
	delete(m.listeners, vport)
	m.mu.Unlock()
	if ok {
		l.Close()
	}
}

// RegisterStream tracks an established or connecting stream by its
// local id, so inbound data frames can be routed to it.
func (m *Manager) RegisterStream(s *Stream) {
	m.mu.Lock()
	m.streams[s.LocalId] = s
	m.mu.Unlock()
}

// UnregisterStream drops a closed stream from the routing table.
func (m *Manager) UnregisterStream(localId protocol.IncreaseId) {
	m.mu.Lock()
	delete(m.streams, localId)
	m.mu.Unlock()
}

// Stream looks up a tracked stream by local id.
func (m *Manager) Stream(localId protocol.IncreaseId) (*Stream, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[localId]
	return s, ok
}

// DispatchSyn routes an inbound connect request to the vport's
// listener, per spec.md §4.6's TcpSynConnection/SessionData SYN path.
func (m *Manager) DispatchSyn(vport uint16, pre *PreStream) error {
	m.mu.Lock()
	l, ok := m.listeners[vport]
	m.mu.Unlock()
	if !ok {
		return errors.New(errors.NotFound, "no listener on vport")
	}
	m.RegisterStream(pre.stream)
	return l.deliver(pre)
}

// DispatchData routes inbound stream bytes to the stream identified by
// toSessionId (this stack's local id as seen by the peer).
func (m *Manager) DispatchData(toSessionId protocol.IncreaseId, data []byte) {
	m.mu.Lock()
	s, ok := m.streams[toSessionId]
	m.mu.Unlock()
	if ok {
		s.deliver(data)
	}
}
