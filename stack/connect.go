package stack

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"bdt/config"
	"bdt/crypto"
	"bdt/errors"
	"bdt/iface"
	"bdt/log"
	"bdt/protocol"
	"bdt/stream"
	"bdt/tunnel"
)

// dialUDPTunnel runs the UDP sub-tunnel 3-way handshake (spec.md §4.3):
// send SynTunnel, wait for the matching AckTunnel via the dispatcher's
// tunnelAcks waiter (UDP has no dedicated reply socket to read
// synchronously), then close with AckAckTunnel.
func (s *Stack) dialUDPTunnel(ctx context.Context, peer protocol.DeviceId, peerPub *crypto.PublicKey, remote protocol.Endpoint) (*tunnel.UDPTunnel, error) {
	ut, err := s.TunnelManager.ConnectUDP(peer, peerPub, remote)
	if err != nil {
		return nil, err
	}
	c := s.TunnelManager.Container(peer)
	synSeq := c.GenerateSequence()
	ackCh, cleanup := s.waitTunnelAck(synSeq)
	defer cleanup()

	syn := &protocol.SynTunnel{Sequence: synSeq, FromDeviceDesc: s.localDesc, SendTime: nowBucky()}
	if err := ut.SendPackage([]protocol.Package{syn}); err != nil {
		return nil, err
	}

	select {
	case ack := <-ackCh:
		s.cachePeerDesc(ack.FromDeviceDesc)
		remoteTs := ack.FromDeviceDesc.UpdateTime
		ut.Activate(remoteTs)
		c.OnSubTunnelActive(ut, remoteTs)
		ackack := &protocol.AckAckTunnel{Sequence: c.GenerateSequence(), Result: protocol.ResultOK}
		if err := ut.SendPackage([]protocol.Package{ackack}); err != nil {
			log.Logger.Debug("ack_ack_tunnel send failed", zap.Error(err))
		}
		return ut, nil
	case <-time.After(config.GlobalCfg.Tunnel.ConnectTimeout):
		return nil, errors.New(errors.Timeout, "udp tunnel connect timeout")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// dialTCPTunnel dials remote, runs the TCP sub-tunnel 3-way handshake
// synchronously on the fresh socket (spec.md §4.4), then hands the
// conn off to a supervised read loop for all traffic after the
// handshake. Used both for an ordinary outbound connect and for a
// reverse-TCP connect back at one of a peer's reverse_endpoint_array
// candidates (spec.md §4.5/§8 scenario 2).
func (s *Stack) dialTCPTunnel(peer protocol.DeviceId, peerPub *crypto.PublicKey, remote protocol.Endpoint) (*tunnel.TCPTunnel, error) {
	conn, err := iface.DialTCP(&net.TCPAddr{IP: remote.IP(), Port: int(remote.Port)})
	if err != nil {
		return nil, err
	}

	c := s.TunnelManager.Container(peer)
	tt, isNew := s.TunnelManager.ConnectTCP(peer, peerPub, conn.Local, remote)
	if isNew {
		s.launchTCPLoops(tt)
	}
	// A descriptor cached from an earlier handshake or SN-called relay
	// already tells us a credible remote_ts before this dial's own
	// syn/ack confirms one (spec.md §4.4's PreActive state).
	if cached := s.cachedPeerDesc(peer); cached != nil {
		tt.PreActivate(cached.UpdateTime)
	}

	synSeq := c.GenerateSequence()
	syn := &protocol.SynTunnel{Sequence: synSeq, FromDeviceDesc: s.localDesc, SendTime: nowBucky()}
	wire, _, err := crypto.EncryptBoxForPeer(s.KeyStore, s.localPriv, s.localDesc, peer, peerPub, []protocol.Package{syn}, c.GenerateSequence(), nowBucky())
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.SetReadDeadline(time.Now().Add(config.GlobalCfg.TCP.ConnectTimeout)); err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.WriteFrame(wire); err != nil {
		conn.Close()
		return nil, err
	}

	_, pkgs, _, isRaw, err := conn.ReadBoxOrRaw(s.KeyStore, s.TunnelManager.LocalDeviceId(), s.localPriv)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if isRaw {
		conn.Close()
		return nil, errors.New(errors.InvalidData, "expected ack_tunnel, got raw data")
	}
	var ack *protocol.AckTunnel
	for _, pk := range pkgs {
		if a, ok := pk.(*protocol.AckTunnel); ok {
			ack = a
			break
		}
	}
	if ack == nil {
		conn.Close()
		return nil, errors.New(errors.InvalidData, "expected ack_tunnel")
	}

	s.cachePeerDesc(ack.FromDeviceDesc)
	remoteTs := ack.FromDeviceDesc.UpdateTime
	tt.AdoptConnection(conn, remoteTs, synSeq)
	s.bindConnTunnel(conn, tt)
	c.OnSubTunnelActive(tt, remoteTs)

	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		log.Logger.Debug("clear tcp read deadline failed", zap.Error(err))
	}
	ackack := &protocol.AckAckTunnel{Sequence: c.GenerateSequence(), Result: protocol.ResultOK}
	if err := tt.SendPackage([]protocol.Package{ackack}); err != nil {
		log.Logger.Debug("ack_ack_tunnel send failed", zap.Error(err))
	}

	s.sup.Go("tcp-tunnel-read:"+remote.String(), func(ctx context.Context) error {
		s.handleTCPConn(ctx, conn)
		return nil
	})
	return tt, nil
}

// Connect opens a stream to peer/vport carrying question (spec.md §6:
// `connect(remote_device_id, vport, question) -> Stream`), racing every
// connector variant the peer's cached descriptor makes available. The
// race's own deadline comes from config.GlobalCfg.Stream.ConnectTimeout
// inside stream.Connect; there is no separate caller-supplied context.
func (s *Stack) Connect(peer protocol.DeviceId, vport uint16, question []byte) (*stream.Stream, error) {
	desc := s.cachedPeerDesc(peer)
	peerPub, err := peerPubFromDesc(desc)
	if err != nil {
		return nil, err
	}
	c := s.TunnelManager.Container(peer)
	localId := protocol.NewLocalStreamId()

	var attempts []stream.ConnectAttempt

	if def := c.Default(); def != nil && def.Family() == tunnel.FamilyUDP {
		sub := def
		attempts = append(attempts, stream.DirectPackageAttempt(
			func() error {
				sd := &protocol.SessionData{Sequence: c.GenerateSequence(), Syn: true, FromSessionId: localId, ToVPort: vport, Payload: question}
				return sub.SendPackage([]protocol.Package{sd})
			},
			func(ctx context.Context) (protocol.BuckyTime, stream.Provider, error) {
				ch, cleanup := s.waitSessionAck(localId)
				defer cleanup()
				select {
				case sd := <-ch:
					provider := newSessionDataProvider(sub, localId, sd.FromSessionId, c.SeqGen())
					return sub.RemoteTimestamp(), provider, nil
				case <-ctx.Done():
					return 0, nil, ctx.Err()
				}
			}))
	}

	for _, ep := range desc.Endpoints {
		if ep.Protocol != protocol.ProtocolTCP || ep.IsReverse() {
			continue
		}
		ep := ep
		attempts = append(attempts, stream.DirectTCPAttempt(func(ctx context.Context) (stream.Provider, protocol.BuckyTime, error) {
			tt, err := s.dialTCPTunnel(peer, peerPub, ep)
			if err != nil {
				return nil, 0, err
			}
			ackCh, cleanup := s.waitStreamAck(localId)
			defer cleanup()
			syn := &protocol.TcpSynConnection{
				Sequence:       c.GenerateSequence(),
				FromSessionId:  localId,
				ToVPort:        vport,
				FromDeviceDesc: s.localDesc,
				Payload:        question,
			}
			if err := tt.SendPackage([]protocol.Package{syn}); err != nil {
				return nil, 0, err
			}
			select {
			case ack := <-ackCh:
				if ack.Result != protocol.ResultOK {
					return nil, 0, errors.New(errors.Reject, "tcp stream syn rejected")
				}
				s.bindTCPStream(tt, localId)
				return newTCPStreamProvider(tt), tt.RemoteTimestamp(), nil
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			}
		}))
	}

	attempts = append(attempts, stream.BuilderAttempt(func(ctx context.Context) (stream.Provider, protocol.BuckyTime, error) {
		started, err := c.TryStartBuilder(tunnel.BuilderConnectStream)
		if err != nil {
			return nil, 0, err
		}
		if started {
			defer c.FinishBuilder()
		}
		udpEp, ok := firstUDPEndpoint(desc)
		if !ok {
			return nil, 0, errors.New(errors.NotFound, "peer advertises no udp endpoint to build a fresh tunnel to")
		}
		ut, err := s.dialUDPTunnel(ctx, peer, peerPub, udpEp)
		if err != nil {
			return nil, 0, err
		}
		ch, cleanup := s.waitSessionAck(localId)
		defer cleanup()
		sd := &protocol.SessionData{Sequence: c.GenerateSequence(), Syn: true, FromSessionId: localId, ToVPort: vport, Payload: question}
		if err := ut.SendPackage([]protocol.Package{sd}); err != nil {
			return nil, 0, err
		}
		select {
		case ack := <-ch:
			return newSessionDataProvider(ut, localId, ack.FromSessionId, c.SeqGen()), ut.RemoteTimestamp(), nil
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}))

	return stream.OpenStream(s.StreamManager, localId, peer, vport, question, attempts)
}

func firstUDPEndpoint(desc *protocol.DeviceDescriptor) (protocol.Endpoint, bool) {
	for _, ep := range desc.Endpoints {
		if ep.Protocol == protocol.ProtocolUDP {
			return ep, true
		}
	}
	return protocol.Endpoint{}, false
}
