// Package stack wires the crypto, tunnel, stream and datagram layers
// into one running BDT stack (spec.md §6: "Stack (construction): given
// local DeviceDescriptor, PrivateKey, a set of UDP and TCP listener
// endpoints, and SN rendezvous config ⇒ yields a running stack with a
// stream_manager(), datagram_manager(), sn_client(), and
// tunnel_manager()").
package stack

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"bdt/crypto"
	"bdt/datagram"
	"bdt/errors"
	"bdt/iface"
	"bdt/log"
	"bdt/protocol"
	"bdt/sched"
	"bdt/stream"
	"bdt/tunnel"
)

var errNotFoundTunnel = errors.New(errors.NotFound, "no default tunnel to peer")

// Config is the set of local listener endpoints and identity a Stack
// is constructed from.
type Config struct {
	LocalDesc   *protocol.DeviceDescriptor
	LocalPriv   *crypto.PrivateKey
	UDPAddr     *net.UDPAddr
	TCPAddr     *net.TCPAddr
	KeyStoreTTL int64 // seconds; 0 uses a sane default
}

// tunnelSender adapts *tunnel.Manager to datagram.Sender, routing a
// datagram send through the peer's container default sub-tunnel.
type tunnelSender struct {
	tm *tunnel.Manager
}

func (s *tunnelSender) SendDatagram(peer protocol.DeviceId, vport uint16, payload []byte, seq protocol.TempSeq) error {
	c := s.tm.Container(peer)
	def := c.Default()
	if def == nil {
		return errNotFoundTunnel
	}
	dg := &protocol.Datagram{Sequence: seq, ToVPort: vport, Payload: payload}
	return def.SendPackage([]protocol.Package{dg})
}

// Stack is a running BDT endpoint: one UDP interface, one TCP listener,
// a per-peer tunnel manager, and the stream/datagram layers built above it.
type Stack struct {
	TunnelManager   *tunnel.Manager
	StreamManager   *stream.Manager
	DatagramManager *datagram.Manager
	KeyStore        *crypto.KeyStore

	localDesc *protocol.DeviceDescriptor
	localPriv *crypto.PrivateKey
	udp       *iface.UDPInterface
	tcp       *iface.TCPListener

	sup    *sched.Supervisor
	cancel context.CancelFunc

	mu          sync.Mutex
	peerDescs   map[protocol.DeviceId]*protocol.DeviceDescriptor
	tunnelAcks  map[protocol.TempSeq]chan *protocol.AckTunnel
	sessionAcks map[protocol.IncreaseId]chan *protocol.SessionData
	streamAcks  map[protocol.IncreaseId]chan *protocol.TcpAckConnection
	acceptAcks  map[protocol.IncreaseId]func(answer []byte) error

	// connTunnels/tcpStreams let a raw (unboxed) TCP frame be routed to
	// a stream: ReadBoxOrRaw can't decrypt a peer id off raw bytes, so a
	// piece is identified by which physical conn it arrived on, not by
	// a session id field (spec.md §4.4: a TCP sub-tunnel carries pieces
	// for exactly the one stream it was dialed/accepted for).
	connTunnels map[*iface.TCPConn]*tunnel.TCPTunnel
	tcpStreams  map[*tunnel.TCPTunnel]protocol.IncreaseId
}

// New binds the stack's sockets and wires every manager together.
func New(cfg Config) (*Stack, error) {
	udp, err := iface.NewUDPInterface(cfg.UDPAddr)
	if err != nil {
		return nil, err
	}
	tcpLn, err := iface.ListenTCP(cfg.TCPAddr)
	if err != nil {
		udp.Close()
		return nil, err
	}

	ttl := cfg.KeyStoreTTL
	if ttl <= 0 {
		ttl = 3600
	}
	store := crypto.NewKeyStore(secondsToDuration(ttl))

	tm := tunnel.NewManager(cfg.LocalDesc, cfg.LocalPriv, store, udp, tcpLn)
	sm := stream.NewManager()
	dm := datagram.NewManager(&tunnelSender{tm: tm})

	sup, cancel := sched.NewSupervisor(context.Background())

	s := &Stack{
		TunnelManager:   tm,
		StreamManager:   sm,
		DatagramManager: dm,
		KeyStore:        store,
		localDesc:       cfg.LocalDesc,
		localPriv:       cfg.LocalPriv,
		udp:             udp,
		tcp:             tcpLn,
		sup:             sup,
		cancel:          cancel,
		peerDescs:       make(map[protocol.DeviceId]*protocol.DeviceDescriptor),
		tunnelAcks:      make(map[protocol.TempSeq]chan *protocol.AckTunnel),
		sessionAcks:     make(map[protocol.IncreaseId]chan *protocol.SessionData),
		streamAcks:      make(map[protocol.IncreaseId]chan *protocol.TcpAckConnection),
		acceptAcks:      make(map[protocol.IncreaseId]func(answer []byte) error),
		connTunnels:     make(map[*iface.TCPConn]*tunnel.TCPTunnel),
		tcpStreams:      make(map[*tunnel.TCPTunnel]protocol.IncreaseId),
	}

	sup.Go("udp-read-loop", func(ctx context.Context) error {
		return udp.ReadLoop(store, cfg.LocalDesc.DeviceId, cfg.LocalPriv, s.onUDPFrame, s.onUDPRaw)
	})
	sup.Go("tcp-accept-loop", func(ctx context.Context) error {
		return s.tcpAcceptLoop(ctx)
	})

	log.Logger.Info("bdt stack started",
		zap.String("udp", udp.LocalEndpoint().String()),
		zap.String("tcp", tcpLn.LocalEndpoint().String()))
	return s, nil
}

func (s *Stack) onUDPFrame(frame iface.RawFrame) {
	tr := transport{local: s.udp.LocalEndpoint(), remote: frame.From}
	for _, pkg := range frame.Packages {
		s.dispatchPackage(frame.Peer, pkg, tr)
	}
}

func (s *Stack) onUDPRaw(from protocol.Endpoint, raw []byte) {
	log.Logger.Debug("udp raw frame ignored: no owning tunnel wired to classify it",
		zap.String("from", from.String()))
}

func (s *Stack) tcpAcceptLoop(ctx context.Context) error {
	for {
		conn, err := s.tcp.Accept()
		if err != nil {
			return err
		}
		go s.handleTCPConn(ctx, conn)
	}
}

func (s *Stack) handleTCPConn(ctx context.Context, conn *iface.TCPConn) {
	tr := transport{local: s.tcp.LocalEndpoint(), remote: conn.Remote, conn: conn}
	for {
		peer, pkgs, raw, isRaw, err := conn.ReadBoxOrRaw(s.KeyStore, s.TunnelManager.LocalDeviceId(), s.localPriv)
		if err != nil {
			conn.Close()
			return
		}
		if isRaw {
			s.onTCPRawPiece(conn, raw)
			continue
		}
		for _, pkg := range pkgs {
			s.dispatchPackage(peer, pkg, tr)
		}
	}
}

// onTCPRawPiece routes an unboxed stream-data frame to the stream bound
// to the conn it arrived on (review: DispatchData must have a caller
// for TCP-carried pieces, the same way SessionData's plain-data branch
// feeds it for UDP-carried pieces).
func (s *Stack) onTCPRawPiece(conn *iface.TCPConn, raw []byte) {
	tt, ok := s.tunnelForConn(conn)
	if !ok {
		return
	}
	localId, ok := s.tcpStreamFor(tt)
	if !ok {
		return
	}
	s.StreamManager.DispatchData(localId, raw)
}

func (s *Stack) bindConnTunnel(conn *iface.TCPConn, tt *tunnel.TCPTunnel) {
	s.mu.Lock()
	s.connTunnels[conn] = tt
	s.mu.Unlock()
}

func (s *Stack) tunnelForConn(conn *iface.TCPConn) (*tunnel.TCPTunnel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tt, ok := s.connTunnels[conn]
	return tt, ok
}

func (s *Stack) bindTCPStream(tt *tunnel.TCPTunnel, localId protocol.IncreaseId) {
	s.mu.Lock()
	s.tcpStreams[tt] = localId
	s.mu.Unlock()
}

func (s *Stack) tcpStreamFor(tt *tunnel.TCPTunnel) (protocol.IncreaseId, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	localId, ok := s.tcpStreams[tt]
	return localId, ok
}

// cachePeerDesc remembers the newest descriptor seen for a peer, used
// to resolve a public key and candidate endpoints without an
// out-of-band fetch (spec.md §4.2/§4.5).
func (s *Stack) cachePeerDesc(desc *protocol.DeviceDescriptor) {
	if desc == nil {
		return
	}
	s.mu.Lock()
	cur, ok := s.peerDescs[desc.DeviceId]
	if !ok || desc.UpdateTime > cur.UpdateTime {
		s.peerDescs[desc.DeviceId] = desc
	}
	s.mu.Unlock()
}

func (s *Stack) cachedPeerDesc(peer protocol.DeviceId) *protocol.DeviceDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerDescs[peer]
}

func peerPubFromDesc(desc *protocol.DeviceDescriptor) (*crypto.PublicKey, error) {
	if desc == nil {
		return nil, errors.New(errors.NotFound, "no cached device descriptor for peer")
	}
	return crypto.PublicKeyFromDER(desc.PublicKey)
}

// launchTCPLoops starts a freshly adopted TCP tunnel's send/ping loops
// under the stack's supervisor (spec.md §4.4).
func (s *Stack) launchTCPLoops(tt *tunnel.TCPTunnel) {
	s.sup.Go("tcp-tunnel-send", func(ctx context.Context) error {
		return tt.SendLoop(ctx)
	})
	s.sup.Go("tcp-tunnel-ping", func(ctx context.Context) error {
		return tt.PingLoop(ctx)
	})
}

func (s *Stack) waitTunnelAck(seq protocol.TempSeq) (<-chan *protocol.AckTunnel, func()) {
	ch := make(chan *protocol.AckTunnel, 1)
	s.mu.Lock()
	s.tunnelAcks[seq] = ch
	s.mu.Unlock()
	return ch, func() {
		s.mu.Lock()
		delete(s.tunnelAcks, seq)
		s.mu.Unlock()
	}
}

func (s *Stack) resolveTunnelAck(ack *protocol.AckTunnel) {
	s.mu.Lock()
	ch, ok := s.tunnelAcks[ack.AckSequence]
	s.mu.Unlock()
	if ok {
		select {
		case ch <- ack:
		default:
		}
	}
}

func (s *Stack) waitSessionAck(localId protocol.IncreaseId) (<-chan *protocol.SessionData, func()) {
	ch := make(chan *protocol.SessionData, 1)
	s.mu.Lock()
	s.sessionAcks[localId] = ch
	s.mu.Unlock()
	return ch, func() {
		s.mu.Lock()
		delete(s.sessionAcks, localId)
		s.mu.Unlock()
	}
}

func (s *Stack) resolveSessionAck(sd *protocol.SessionData) {
	s.mu.Lock()
	ch, ok := s.sessionAcks[sd.ToSessionId]
	s.mu.Unlock()
	if ok {
		select {
		case ch <- sd:
		default:
		}
	}
}

func (s *Stack) waitStreamAck(localId protocol.IncreaseId) (<-chan *protocol.TcpAckConnection, func()) {
	ch := make(chan *protocol.TcpAckConnection, 1)
	s.mu.Lock()
	s.streamAcks[localId] = ch
	s.mu.Unlock()
	return ch, func() {
		s.mu.Lock()
		delete(s.streamAcks, localId)
		s.mu.Unlock()
	}
}

func (s *Stack) resolveStreamAck(ack *protocol.TcpAckConnection) {
	s.mu.Lock()
	ch, ok := s.streamAcks[ack.ToSessionId]
	s.mu.Unlock()
	if ok {
		select {
		case ch <- ack:
		default:
		}
	}
}

func (s *Stack) registerAcceptAck(localId protocol.IncreaseId, fn func(answer []byte) error) {
	s.mu.Lock()
	s.acceptAcks[localId] = fn
	s.mu.Unlock()
}

func (s *Stack) popAcceptAck(localId protocol.IncreaseId) (func(answer []byte) error, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn, ok := s.acceptAcks[localId]
	delete(s.acceptAcks, localId)
	return fn, ok
}

// subTunnelFor resolves the sub-tunnel a frame arrived on, falling back
// to the container's current default (spec.md §4.5).
func (s *Stack) subTunnelFor(peer protocol.DeviceId, tr transport) tunnel.SubTunnel {
	c := s.TunnelManager.Container(peer)
	pair := protocol.EndpointPair{Local: tr.local, Remote: tr.remote}
	if sub, ok := c.SubTunnelFor(pair); ok {
		return sub
	}
	return c.Default()
}

// Close tears down every supervised loop and releases the stack's sockets.
func (s *Stack) Close() error {
	s.cancel()
	_ = s.sup.Wait()
	s.udp.Close()
	return s.tcp.Close()
}

func secondsToDuration(seconds int64) time.Duration { return time.Duration(seconds) * time.Second }

func nowBucky() protocol.BuckyTime { return protocol.BuckyTime(time.Now().UnixMicro()) }
