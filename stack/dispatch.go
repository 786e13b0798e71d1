package stack

import (
	"go.uber.org/zap"

	"bdt/datagram"
	"bdt/iface"
	"bdt/log"
	"bdt/protocol"
	"bdt/stream"
	"bdt/tunnel"
)

// transport is the path context a frame arrived on: enough to resolve
// which SubTunnel owns it (container lookup by endpoint pair) and, for
// TCP, the physical conn to reply on or adopt.
type transport struct {
	local  protocol.Endpoint
	remote protocol.Endpoint
	conn   *iface.TCPConn
}

// dispatchPackage routes one decoded wire package to the layer that
// owns its command: tunnel handshake/keepalive, stream syn/data, or
// datagram delivery (spec.md §4, §4.5, §4.6). Proxy (SynProxy/AckProxy)
// and piece-control/NDN commands (PieceData/PieceControl/ChannelEstimate)
// and the plain SN-relay family (SnCall/SnCallResp/SnPing/SnPingResp)
// stay intentionally unhandled here: they belong to the SN rendezvous
// client and chunk-transfer layers, both out of scope.
func (s *Stack) dispatchPackage(peer protocol.DeviceId, pkg protocol.Package, tr transport) {
	switch p := pkg.(type) {
	case *protocol.Datagram:
		s.DatagramManager.Dispatch(datagram.Received{From: peer, VPort: p.ToVPort, Payload: p.Payload})

	case *protocol.SynTunnel:
		s.handleSynTunnel(peer, p, tr)

	case *protocol.AckTunnel:
		s.handleAckTunnel(peer, p, tr)

	case *protocol.AckAckTunnel:
		log.Logger.Debug("tunnel handshake complete", zap.String("peer", peer.String()))

	case *protocol.PingTunnel:
		sub := s.subTunnelFor(peer, tr)
		if sub != nil {
			_ = sub.SendPackage([]protocol.Package{&protocol.PingTunnelResp{Sequence: p.Sequence}})
		}

	case *protocol.PingTunnelResp:
		if sub := s.subTunnelFor(peer, tr); sub != nil {
			if tt, ok := sub.(*tunnel.TCPTunnel); ok {
				tt.OnPong()
			}
		}

	case *protocol.SessionData:
		s.handleSessionData(peer, p, tr)

	case *protocol.TcpSynConnection:
		s.handleTcpSynConnection(peer, p, tr)

	case *protocol.TcpAckConnection:
		s.resolveStreamAck(p)

	case *protocol.TcpAckAckConnection:
		log.Logger.Debug("tcp stream handshake complete", zap.String("peer", peer.String()))

	case *protocol.SnCalled:
		s.handleSnCalled(p)

	default:
		log.Logger.Debug("package not wired to a dispatch handler", zap.Uint8("cmd", uint8(pkg.Command())))
	}
}

func (s *Stack) handleSynTunnel(peer protocol.DeviceId, p *protocol.SynTunnel, tr transport) {
	s.cachePeerDesc(p.FromDeviceDesc)
	peerPub, err := peerPubFromDesc(p.FromDeviceDesc)
	if err != nil {
		log.Logger.Warn("syn_tunnel: bad peer public key", zap.Error(err))
		return
	}
	remoteTs := p.FromDeviceDesc.UpdateTime
	c := s.TunnelManager.Container(peer)

	var sub tunnel.SubTunnel
	if tr.conn != nil {
		tt, isNew := s.TunnelManager.ConnectTCP(peer, peerPub, tr.local, tr.remote)
		if isNew {
			s.launchTCPLoops(tt)
		}
		tt.AdoptConnection(tr.conn, remoteTs, p.Sequence)
		s.bindConnTunnel(tr.conn, tt)
		sub = tt
	} else {
		ut, err := s.TunnelManager.ConnectUDP(peer, peerPub, tr.remote)
		if err != nil {
			log.Logger.Warn("syn_tunnel: udp tunnel construction failed", zap.Error(err))
			return
		}
		ut.Activate(remoteTs)
		sub = ut
	}
	c.OnSubTunnelActive(sub, remoteTs)

	ack := &protocol.AckTunnel{
		Sequence:       c.GenerateSequence(),
		AckSequence:    p.Sequence,
		SendTime:       nowBucky(),
		FromDeviceDesc: s.localDesc,
		Result:         protocol.ResultOK,
	}
	if err := sub.SendPackage([]protocol.Package{ack}); err != nil {
		log.Logger.Debug("ack_tunnel send failed", zap.Error(err))
	}
}

func (s *Stack) handleAckTunnel(peer protocol.DeviceId, p *protocol.AckTunnel, tr transport) {
	s.cachePeerDesc(p.FromDeviceDesc)
	remoteTs := p.FromDeviceDesc.UpdateTime
	c := s.TunnelManager.Container(peer)

	if sub := s.subTunnelFor(peer, tr); sub != nil {
		if tt, ok := sub.(*tunnel.TCPTunnel); ok {
			tt.AdoptConnection(tr.conn, remoteTs, p.Sequence)
		} else if ut, ok := sub.(*tunnel.UDPTunnel); ok {
			ut.Activate(remoteTs)
		}
		c.OnSubTunnelActive(sub, remoteTs)
	}
	s.resolveTunnelAck(p)
}

func (s *Stack) handleSessionData(peer protocol.DeviceId, p *protocol.SessionData, tr transport) {
	switch {
	case p.Syn:
		sub := s.subTunnelFor(peer, tr)
		if sub == nil {
			log.Logger.Debug("session_data syn with no tunnel to ack on", zap.String("peer", peer.String()))
			return
		}
		c := s.TunnelManager.Container(peer)
		localId := protocol.NewLocalStreamId()
		provider := newSessionDataProvider(sub, localId, p.FromSessionId, c.SeqGen())
		pre := stream.NewPreStream(localId, p.Payload, peer, p.ToVPort, p.FromSessionId, p.Sequence, sub.RemoteTimestamp(), provider)
		s.registerAcceptAck(localId, func(answer []byte) error {
			ack := &protocol.SessionData{
				Sequence:      c.GenerateSequence(),
				Ack:           true,
				FromSessionId: localId,
				ToSessionId:   p.FromSessionId,
				Payload:       answer,
			}
			return sub.SendPackage([]protocol.Package{ack})
		})
		if err := s.StreamManager.DispatchSyn(p.ToVPort, pre); err != nil {
			log.Logger.Debug("session_data syn: no listener", zap.Uint16("vport", p.ToVPort))
		}

	case p.Ack:
		s.resolveSessionAck(p)

	default:
		s.StreamManager.DispatchData(p.ToSessionId, p.Payload)
	}
}

func (s *Stack) handleTcpSynConnection(peer protocol.DeviceId, p *protocol.TcpSynConnection, tr transport) {
	if p.FromDeviceDesc != nil {
		s.cachePeerDesc(p.FromDeviceDesc)
	}
	sub := s.subTunnelFor(peer, tr)
	tt, ok := sub.(*tunnel.TCPTunnel)
	if !ok {
		log.Logger.Debug("tcp_syn_connection with no owning tcp tunnel", zap.String("peer", peer.String()))
		return
	}
	c := s.TunnelManager.Container(peer)
	localId := protocol.NewLocalStreamId()
	s.bindTCPStream(tt, localId)
	provider := newTCPStreamProvider(tt)
	pre := stream.NewPreStream(localId, p.Payload, peer, p.ToVPort, p.FromSessionId, p.Sequence, tt.RemoteTimestamp(), provider)
	s.registerAcceptAck(localId, func(answer []byte) error {
		ack := &protocol.TcpAckConnection{
			Sequence:     c.GenerateSequence(),
			ToSessionId:  p.FromSessionId,
			Result:       protocol.ResultOK,
			ToDeviceDesc: s.localDesc,
			Payload:      answer,
		}
		return tt.SendPackage([]protocol.Package{ack})
	})
	if err := s.StreamManager.DispatchSyn(p.ToVPort, pre); err != nil {
		log.Logger.Debug("tcp_syn_connection: no listener", zap.Uint16("vport", p.ToVPort))
	}
}

