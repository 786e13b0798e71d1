package tunnel

import (
	"net"
	"sync"
	"time"

	"bdt/crypto"
	"bdt/errors"
	"bdt/iface"
	"bdt/protocol"
	"bdt/sched"
)

// UDPTunnel is one logical pipe between a local and remote UDP
// endpoint, riding the interface's shared socket (spec.md §4.3): active
// on first successful key exchange plus syn/ack-tunnel. It runs no
// keep-alive ping of its own: keepers are only counted, and nothing marks
// the tunnel Dead when the peer falls silent.
type UDPTunnel struct {
	ifc        *iface.UDPInterface
	store      *crypto.KeyStore
	localPriv  *crypto.PrivateKey
	localDesc  *protocol.DeviceDescriptor
	localId    protocol.DeviceId
	seqGen     *protocol.SeqGenerator

	local      protocol.Endpoint
	remote     protocol.Endpoint
	remoteAddr *net.UDPAddr
	peer       protocol.DeviceId
	peerPub    *crypto.PublicKey

	mu          sync.Mutex
	state       State
	remoteTs    protocol.BuckyTime
	keeperCount int
	lastActive  time.Time
	waiter      sched.Waiter
}

// NewUDPTunnel constructs a Connecting UDP sub-tunnel to remote.
func NewUDPTunnel(ifc *iface.UDPInterface, store *crypto.KeyStore, localPriv *crypto.PrivateKey,
	localDesc *protocol.DeviceDescriptor, seqGen *protocol.SeqGenerator,
	remote protocol.Endpoint, peer protocol.DeviceId, peerPub *crypto.PublicKey) (*UDPTunnel, error) {

	addr := &net.UDPAddr{IP: remote.IP(), Port: int(remote.Port)}
	return &UDPTunnel{
		ifc:       ifc,
		store:     store,
		localPriv: localPriv,
		localDesc: localDesc,
		localId:   localDesc.DeviceId,
		seqGen:    seqGen,
		local:     ifc.LocalEndpoint(),
		remote:    remote,
		remoteAddr: addr,
		peer:      peer,
		peerPub:   peerPub,
		state:     StateConnecting,
	}, nil
}

func (u *UDPTunnel) State() State                             { u.mu.Lock(); defer u.mu.Unlock(); return u.state }
func (u *UDPTunnel) Family() Family                            { return FamilyUDP }
func (u *UDPTunnel) LocalEndpoint() protocol.Endpoint          { return u.local }
func (u *UDPTunnel) RemoteEndpoint() protocol.Endpoint         { return u.remote }
func (u *UDPTunnel) RemoteTimestamp() protocol.BuckyTime       { u.mu.Lock(); defer u.mu.Unlock(); return u.remoteTs }
func (u *UDPTunnel) PtrEq(other SubTunnel) bool {
	o, ok := other.(*UDPTunnel)
	return ok && o == u
}

// Activate transitions Connecting -> Active(remoteTs), the same
// transition spec.md §4.3 fires on AckTunnel or any decrypted inbound
// package that carries the peer descriptor's update time. It is a
// no-op (never regresses) once Dead.
func (u *UDPTunnel) Activate(remoteTs protocol.BuckyTime) {
	u.mu.Lock()
	if u.state == StateDead {
		u.mu.Unlock()
		return
	}
	u.state = StateActive
	if remoteTs > u.remoteTs {
		u.remoteTs = remoteTs
	}
	u.lastActive = time.Now()
	u.mu.Unlock()
	u.waiter.WakeAll()
}

// MarkDead transitions to Dead unless lastUpdate is stale relative to a
// newer activity witnessed since (spec.md §8: "stale mark_dead is a
// no-op").
func (u *UDPTunnel) MarkDead(activeTs protocol.BuckyTime, lastUpdate protocol.BuckyTime) {
	u.mu.Lock()
	if u.remoteTs > lastUpdate {
		u.mu.Unlock()
		return
	}
	u.state = StateDead
	u.mu.Unlock()
	u.waiter.WakeAll()
}

func (u *UDPTunnel) Reset() {
	u.mu.Lock()
	u.state = StateConnecting
	u.remoteTs = 0
	u.mu.Unlock()
	u.waiter.WakeAll()
}

func (u *UDPTunnel) RetainKeeper() {
	u.mu.Lock()
	u.keeperCount++
	u.mu.Unlock()
}

func (u *UDPTunnel) ReleaseKeeper() {
	u.mu.Lock()
	if u.keeperCount > 0 {
		u.keeperCount--
	}
	u.mu.Unlock()
}

// SendPackage encrypts and writes pkgs addressed to the tunnel's peer.
func (u *UDPTunnel) SendPackage(pkgs []protocol.Package) error {
	if u.State() == StateDead {
		return errors.New(errors.ErrorState, "send on dead udp tunnel")
	}
	wire, _, err := crypto.EncryptBoxForPeer(u.store, u.localPriv, u.localDesc, u.peer, u.peerPub, pkgs, u.seqGen.Generate(), nowBucky())
	if err != nil {
		return err
	}
	return u.ifc.WriteBox(u.remoteAddr, wire)
}

// SendRawData writes a raw-data payload to the tunnel's peer.
func (u *UDPTunnel) SendRawData(payload []byte) error {
	if u.State() == StateDead {
		return errors.New(errors.ErrorState, "send on dead udp tunnel")
	}
	return u.ifc.WriteRaw(u.remoteAddr, payload)
}

// Wait returns a channel closed on the next state transition.
func (u *UDPTunnel) Wait() <-chan struct{} { return u.waiter.Wait() }

func nowBucky() protocol.BuckyTime {
	return protocol.BuckyTime(time.Now().UnixMicro())
}
