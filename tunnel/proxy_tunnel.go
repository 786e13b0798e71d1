package tunnel

import (
	"net"
	"sync"

	"bdt/crypto"
	"bdt/errors"
	"bdt/iface"
	"bdt/protocol"
	"bdt/sched"
)

// ProxyTunnel relays packages through an SN rendezvous proxy rather
// than a direct socket to the peer (supplemented from
// original_source's ProxyTunnel kind, which is outside spec.md's wire
// table but needed once a direct UDP/TCP path is unreachable and only
// an SN relay remains). It reuses the same box-encryption path as a
// direct UDP tunnel, addressed to the proxy's endpoint with a
// SynProxy/AckProxy header carrying the true peer id. In the default
// election it loses to any non-proxy sub-tunnel with an equal remote_ts;
// a newer remote_ts still wins over the family priority (spec.md §4.5).
type ProxyTunnel struct {
	ifc        *iface.UDPInterface
	store      *crypto.KeyStore
	localPriv  *crypto.PrivateKey
	localDesc  *protocol.DeviceDescriptor
	seqGen     *protocol.SeqGenerator

	local      protocol.Endpoint
	proxyAddr  *net.UDPAddr
	peer       protocol.DeviceId
	peerPub    *crypto.PublicKey

	mu       sync.Mutex
	state    State
	remoteTs protocol.BuckyTime
	keepers  int
	waiter   sched.Waiter
}

// NewProxyTunnel constructs a Connecting proxy sub-tunnel that relays
// through proxyEp on behalf of peer.
func NewProxyTunnel(ifc *iface.UDPInterface, store *crypto.KeyStore, localPriv *crypto.PrivateKey,
	localDesc *protocol.DeviceDescriptor, seqGen *protocol.SeqGenerator,
	proxyEp protocol.Endpoint, peer protocol.DeviceId, peerPub *crypto.PublicKey) *ProxyTunnel {

	return &ProxyTunnel{
		ifc:       ifc,
		store:     store,
		localPriv: localPriv,
		localDesc: localDesc,
		seqGen:    seqGen,
		local:     ifc.LocalEndpoint(),
		proxyAddr: &net.UDPAddr{IP: proxyEp.IP(), Port: int(proxyEp.Port)},
		peer:      peer,
		peerPub:   peerPub,
		state:     StateConnecting,
	}
}

func (p *ProxyTunnel) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}
func (p *ProxyTunnel) Family() Family                      { return FamilyProxy }
func (p *ProxyTunnel) LocalEndpoint() protocol.Endpoint    { return p.local }
func (p *ProxyTunnel) RemoteEndpoint() protocol.Endpoint   { return protocol.Endpoint{} }
func (p *ProxyTunnel) RemoteTimestamp() protocol.BuckyTime { p.mu.Lock(); defer p.mu.Unlock(); return p.remoteTs }

func (p *ProxyTunnel) PtrEq(other SubTunnel) bool {
	o, ok := other.(*ProxyTunnel)
	return ok && o == p
}

func (p *ProxyTunnel) Activate(remoteTs protocol.BuckyTime) {
	p.mu.Lock()
	if p.state != StateDead {
		p.state = StateActive
		if remoteTs > p.remoteTs {
			p.remoteTs = remoteTs
		}
	}
	p.mu.Unlock()
	p.waiter.WakeAll()
}

func (p *ProxyTunnel) MarkDead(activeTs protocol.BuckyTime, lastUpdate protocol.BuckyTime) {
	p.mu.Lock()
	if p.remoteTs > lastUpdate {
		p.mu.Unlock()
		return
	}
	p.state = StateDead
	p.mu.Unlock()
	p.waiter.WakeAll()
}

func (p *ProxyTunnel) Reset() {
	p.mu.Lock()
	p.state = StateConnecting
	p.remoteTs = 0
	p.mu.Unlock()
	p.waiter.WakeAll()
}

func (p *ProxyTunnel) RetainKeeper() {
	p.mu.Lock()
	p.keepers++
	p.mu.Unlock()
}

func (p *ProxyTunnel) ReleaseKeeper() {
	p.mu.Lock()
	if p.keepers > 0 {
		p.keepers--
	}
	p.mu.Unlock()
}

// SendPackage encodes pkgs as an opaque inner blob and wraps them in a
// SynProxy addressed to the true peer, relayed through the SN proxy.
func (p *ProxyTunnel) SendPackage(pkgs []protocol.Package) error {
	if p.State() == StateDead {
		return errors.New(errors.ErrorState, "send on dead proxy tunnel")
	}
	inner, err := protocol.EncodePlainPackages(pkgs)
	if err != nil {
		return err
	}
	proxySeq := p.seqGen.Generate()
	syn := &protocol.SynProxy{Sequence: proxySeq, ProxyDeviceId: p.peer, InnerPackage: inner}
	wire, _, err := crypto.EncryptBoxForPeer(p.store, p.localPriv, p.localDesc, p.peer, p.peerPub, []protocol.Package{syn}, proxySeq, nowBucky())
	if err != nil {
		return err
	}
	return p.ifc.WriteBox(p.proxyAddr, wire)
}

func (p *ProxyTunnel) SendRawData(payload []byte) error {
	if p.State() == StateDead {
		return errors.New(errors.ErrorState, "send on dead proxy tunnel")
	}
	return p.ifc.WriteRaw(p.proxyAddr, payload)
}

func (p *ProxyTunnel) Wait() <-chan struct{} { return p.waiter.Wait() }
