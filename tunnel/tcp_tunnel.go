package tunnel

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"bdt/config"
	"bdt/crypto"
	"bdt/errors"
	"bdt/iface"
	"bdt/log"
	"bdt/protocol"
	"bdt/sched"
)

// TCPTunnel is a framed TCP sub-tunnel. It adds PreActive to the UDP
// tunnel's state machine: "we have a credible remote timestamp from an
// inbound syn/ack stream but no accepted framed connection yet"
// (spec.md §4.4). The tunnel never dials by itself: a framed connection
// is installed only through AdoptConnection, and keepers only gate
// PingLoop.
type TCPTunnel struct {
	store     *crypto.KeyStore
	localPriv *crypto.PrivateKey
	localDesc *protocol.DeviceDescriptor
	seqGen    *protocol.SeqGenerator

	local   protocol.Endpoint
	remote  protocol.Endpoint
	peer    protocol.DeviceId
	peerPub *crypto.PublicKey
	reverse bool // remote.Port == 0: a reverse-TCP endpoint

	mu          sync.Mutex
	state       State
	remoteTs    protocol.BuckyTime
	synSeq      protocol.TempSeq
	conn        *iface.TCPConn
	keeperCount int
	waiter      sched.Waiter

	pkgCh    chan []protocol.Package
	pieceCh  chan []byte
	pongCh   chan struct{}
	closed   chan struct{}
	closeOne sync.Once
}

// NewTCPTunnel constructs a Connecting TCP sub-tunnel.
func NewTCPTunnel(store *crypto.KeyStore, localPriv *crypto.PrivateKey, localDesc *protocol.DeviceDescriptor,
	seqGen *protocol.SeqGenerator, local, remote protocol.Endpoint, peer protocol.DeviceId, peerPub *crypto.PublicKey) *TCPTunnel {

	cfg := config.GlobalCfg.TCP
	return &TCPTunnel{
		store:     store,
		localPriv: localPriv,
		localDesc: localDesc,
		seqGen:    seqGen,
		local:     local,
		remote:    remote,
		peer:      peer,
		peerPub:   peerPub,
		reverse:   remote.IsReverse(),
		state:     StateConnecting,
		pkgCh:     make(chan []protocol.Package, cfg.PackageBuffer),
		pieceCh:   make(chan []byte, cfg.PieceBuffer),
		pongCh:    make(chan struct{}, 1),
		closed:    make(chan struct{}),
	}
}

func (t *TCPTunnel) State() State                    { t.mu.Lock(); defer t.mu.Unlock(); return t.state }
func (t *TCPTunnel) LocalEndpoint() protocol.Endpoint  { return t.local }
func (t *TCPTunnel) RemoteEndpoint() protocol.Endpoint { return t.remote }
func (t *TCPTunnel) RemoteTimestamp() protocol.BuckyTime {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remoteTs
}

func (t *TCPTunnel) Family() Family {
	if t.reverse {
		return FamilyTCPReverse
	}
	return FamilyTCPOrdinary
}

func (t *TCPTunnel) PtrEq(other SubTunnel) bool {
	o, ok := other.(*TCPTunnel)
	return ok && o == t
}

// AdoptConnection installs an already-framed socket (accepted inbound,
// or dialed outbound by the builder) and compares (remoteTs, synSeq)
// against any Active instance: the larger tuple wins, per spec.md §4.4.
func (t *TCPTunnel) AdoptConnection(conn *iface.TCPConn, remoteTs protocol.BuckyTime, synSeq protocol.TempSeq) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateActive && !(remoteTs > t.remoteTs || (remoteTs == t.remoteTs && synSeq > t.synSeq)) {
		return false
	}
	if t.conn != nil {
		t.conn.Close()
	}
	t.conn = conn
	t.remoteTs = remoteTs
	t.synSeq = synSeq
	t.state = StateActive
	t.waiter.WakeAll()
	return true
}

// PreActivate records a credible remote timestamp witnessed from an
// inbound syn/ack stream, without yet holding a framed connection.
func (t *TCPTunnel) PreActivate(remoteTs protocol.BuckyTime) {
	t.mu.Lock()
	if t.state == StateConnecting {
		t.state = StatePreActive
		if remoteTs > t.remoteTs {
			t.remoteTs = remoteTs
		}
	}
	t.mu.Unlock()
	t.waiter.WakeAll()
}

func (t *TCPTunnel) MarkDead(activeTs protocol.BuckyTime, lastUpdate protocol.BuckyTime) {
	t.mu.Lock()
	if t.remoteTs > lastUpdate {
		t.mu.Unlock()
		return
	}
	t.state = StateDead
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	t.closeOne.Do(func() { close(t.closed) })
	t.waiter.WakeAll()
}

func (t *TCPTunnel) Reset() {
	t.mu.Lock()
	t.state = StateConnecting
	t.remoteTs = 0
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	t.waiter.WakeAll()
}

func (t *TCPTunnel) RetainKeeper() {
	t.mu.Lock()
	t.keeperCount++
	t.mu.Unlock()
}

func (t *TCPTunnel) ReleaseKeeper() {
	t.mu.Lock()
	if t.keeperCount > 0 {
		t.keeperCount--
	}
	t.mu.Unlock()
}

// SendPackage enqueues pkgs on the bounded control channel; control
// traffic preempts the data-piece ring (spec.md §4.4).
func (t *TCPTunnel) SendPackage(pkgs []protocol.Package) error {
	if t.State() != StateActive {
		return errors.New(errors.ErrorState, "send package on non-active tcp tunnel")
	}
	select {
	case t.pkgCh <- pkgs:
		return nil
	default:
		return errors.New(errors.Pending, "tcp tunnel package channel full")
	}
}

// SendRawData enqueues a data piece on the bounded ring.
func (t *TCPTunnel) SendRawData(payload []byte) error {
	if t.State() != StateActive {
		return errors.New(errors.ErrorState, "send raw data on non-active tcp tunnel")
	}
	select {
	case t.pieceCh <- payload:
		return nil
	default:
		return errors.New(errors.Pending, "tcp tunnel piece ring full")
	}
}

// DiscardPieces drops up to n whole queued pieces and returns how many
// it dropped; n counts pieces, not bytes, and a piece is never split.
func (t *TCPTunnel) DiscardPieces(n int) int {
	dropped := 0
	for dropped < n {
		select {
		case <-t.pieceCh:
			dropped++
		default:
			return dropped
		}
	}
	return dropped
}

// SendLoop drains the package channel (preempting) and piece ring onto
// the framed connection until ctx is cancelled or the tunnel dies. Run
// under one bdt/sched.Supervisor goroutine per active tunnel.
func (t *TCPTunnel) SendLoop(ctx context.Context) error {
	for {
		t.mu.Lock()
		conn := t.conn
		t.mu.Unlock()
		if conn == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.closed:
				return nil
			case <-time.After(20 * time.Millisecond):
				continue
			}
		}
		// A queued package is sent before any piece that is also waiting.
		select {
		case pkgs := <-t.pkgCh:
			wire, _, err := crypto.EncryptBoxForPeer(t.store, t.localPriv, t.localDesc, t.peer, t.peerPub, pkgs, t.seqGen.Generate(), nowBucky())
			if err != nil {
				log.Logger.Warn("tcp tunnel encode failed", zap.Error(err))
				continue
			}
			if err := conn.WriteFrame(wire); err != nil {
				return err
			}
			continue
		default:
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.closed:
			return nil
		case pkgs := <-t.pkgCh:
			wire, _, err := crypto.EncryptBoxForPeer(t.store, t.localPriv, t.localDesc, t.peer, t.peerPub, pkgs, t.seqGen.Generate(), nowBucky())
			if err != nil {
				log.Logger.Warn("tcp tunnel encode failed", zap.Error(err))
				continue
			}
			if err := conn.WriteFrame(wire); err != nil {
				return err
			}
		case piece := <-t.pieceCh:
			if err := conn.WriteFrame(piece); err != nil {
				return err
			}
		}
	}
}

// PingLoop sends PingTunnel every ping_interval while a keeper is
// retained, marking the tunnel Dead after ping_timeout without a reply
// (spec.md §4.4, testable property #4).
func (t *TCPTunnel) PingLoop(ctx context.Context) error {
	cfg := config.GlobalCfg.TCP
	ticker := time.NewTicker(cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.closed:
			return nil
		case <-ticker.C:
			t.mu.Lock()
			keep := t.keeperCount > 0
			t.mu.Unlock()
			if !keep {
				continue
			}
			ping := &protocol.PingTunnel{Sequence: t.seqGen.Generate(), SendTime: nowBucky()}
			if err := t.SendPackage([]protocol.Package{ping}); err != nil {
				log.Logger.Debug("ping send failed", zap.Error(err))
			}
			select {
			case <-t.pongCh:
				// activity observed, keep the tunnel alive
			case <-time.After(cfg.PingTimeout):
				t.MarkDead(t.remoteTs, t.remoteTs)
				return errors.New(errors.Timeout, "tcp tunnel ping timeout")
			case <-t.closed:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// OnPong records a PingTunnelResp, keeping the tunnel out of a timeout
// window already in flight.
func (t *TCPTunnel) OnPong() {
	select {
	case t.pongCh <- struct{}{}:
	default:
	}
}

func (t *TCPTunnel) Wait() <-chan struct{} { return t.waiter.Wait() }
