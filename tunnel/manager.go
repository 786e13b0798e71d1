package tunnel

import (
	"sync"

	"bdt/crypto"
	"bdt/iface"
	"bdt/protocol"
)

// Manager owns the process-wide interface pool and the per-peer
// container map (spec.md §6: Stack's tunnel_manager()).
type Manager struct {
	localDesc *protocol.DeviceDescriptor
	localPriv *crypto.PrivateKey
	store     *crypto.KeyStore

	udp *iface.UDPInterface
	tcp *iface.TCPListener

	mu         sync.Mutex
	containers map[protocol.DeviceId]*Container
}

// NewManager constructs a tunnel manager bound to one UDP interface and
// one TCP listener.
func NewManager(localDesc *protocol.DeviceDescriptor, localPriv *crypto.PrivateKey, store *crypto.KeyStore,
	udp *iface.UDPInterface, tcp *iface.TCPListener) *Manager {
	return &Manager{
		localDesc:  localDesc,
		localPriv:  localPriv,
		store:      store,
		udp:        udp,
		tcp:        tcp,
		containers: make(map[protocol.DeviceId]*Container),
	}
}

// Container returns the existing container for peer, or creates one.
func (m *Manager) Container(peer protocol.DeviceId) *Container {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.containers[peer]; ok {
		return c
	}
	c := NewContainer(peer)
	m.containers[peer] = c
	return c
}

// RemoveContainer drops a container from the live set. Nothing in the
// stack calls it; dead containers stay in the set until it is called.
func (m *Manager) RemoveContainer(peer protocol.DeviceId) {
	m.mu.Lock()
	delete(m.containers, peer)
	m.mu.Unlock()
}

// ConnectUDP builds (or reuses) a UDP sub-tunnel from this stack to
// remote and registers it with peer's container.
func (m *Manager) ConnectUDP(peer protocol.DeviceId, peerPub *crypto.PublicKey, remote protocol.Endpoint) (*UDPTunnel, error) {
	c := m.Container(peer)
	pair := protocol.EndpointPair{Local: m.udp.LocalEndpoint(), Remote: remote}
	if existing, ok := c.SubTunnelFor(pair); ok {
		if ut, ok := existing.(*UDPTunnel); ok {
			return ut, nil
		}
	}
	ut, err := NewUDPTunnel(m.udp, m.store, m.localPriv, m.localDesc, c.SeqGen(), remote, peer, peerPub)
	if err != nil {
		return nil, err
	}
	c.AddSubTunnel(pair, ut)
	return ut, nil
}

// ConnectTCP builds (or reuses) a TCP sub-tunnel from this stack to
// remote and registers it with peer's container. isNew reports whether
// a fresh tunnel was constructed, so the caller knows whether it still
// needs to launch the tunnel's SendLoop/PingLoop.
func (m *Manager) ConnectTCP(peer protocol.DeviceId, peerPub *crypto.PublicKey, local, remote protocol.Endpoint) (tt *TCPTunnel, isNew bool) {
	c := m.Container(peer)
	pair := protocol.EndpointPair{Local: local, Remote: remote}
	if existing, ok := c.SubTunnelFor(pair); ok {
		if existingTT, ok := existing.(*TCPTunnel); ok {
			return existingTT, false
		}
	}
	tt = NewTCPTunnel(m.store, m.localPriv, m.localDesc, c.SeqGen(), local, remote, peer, peerPub)
	c.AddSubTunnel(pair, tt)
	return tt, true
}

// LocalDesc returns this stack's own device descriptor.
func (m *Manager) LocalDesc() *protocol.DeviceDescriptor { return m.localDesc }

// UDPInterface exposes the manager's bound UDP interface.
func (m *Manager) UDPInterface() *iface.UDPInterface { return m.udp }

// TCPListener exposes the manager's bound TCP listener.
func (m *Manager) TCPListener() *iface.TCPListener { return m.tcp }

// KeyStore exposes the manager's process-wide key store.
func (m *Manager) KeyStore() *crypto.KeyStore { return m.store }

// LocalDeviceId returns this stack's own device id.
func (m *Manager) LocalDeviceId() protocol.DeviceId { return m.localDesc.DeviceId }
