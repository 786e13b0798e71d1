package stack

import (
	"sync"

	"go.uber.org/zap"

	"bdt/crypto"
	"bdt/log"
	"bdt/protocol"
	"bdt/stream"
	"bdt/tunnel"
)

// handleSnCalled implements the reverse-TCP rendezvous path (spec.md
// §4.5 SN-called handling, §8 scenario 2): an SN relayed that peer
// wants to reach us and could not reach us directly. We cache its
// descriptor, attempt a reverse-TCP connect to each of its advertised
// reverse endpoints, and if it also piggybacked a stream syn, dispatch
// it to the listener once a tunnel is up.
func (s *Stack) handleSnCalled(p *protocol.SnCalled) {
	if p.PeerDesc == nil {
		log.Logger.Debug("sn_called with no peer descriptor")
		return
	}
	s.cachePeerDesc(p.PeerDesc)
	peer := p.PeerDesc.DeviceId
	c := s.TunnelManager.Container(peer)

	started, err := c.TryStartBuilder(tunnel.BuilderAcceptStream)
	if err != nil {
		log.Logger.Debug("sn_called: builder busy", zap.String("peer", peer.String()), zap.Error(err))
		return
	}
	if started {
		defer c.FinishBuilder()
	}

	peerPub, err := crypto.PublicKeyFromDER(p.PeerDesc.PublicKey)
	if err != nil {
		log.Logger.Warn("sn_called: bad peer public key", zap.Error(err))
		return
	}

	tt := s.acceptReverseTCP(peer, peerPub, p.ReverseEndpoints)
	if tt == nil {
		log.Logger.Debug("sn_called: no reverse endpoint reachable", zap.String("peer", peer.String()))
		return
	}

	if !p.HasSessionData {
		return
	}
	localId := protocol.NewLocalStreamId()
	s.bindTCPStream(tt, localId)
	provider := newTCPStreamProvider(tt)
	pre := stream.NewPreStream(localId, p.Question, peer, p.ToVPort, p.FromSessionId, p.SynSeq, tt.RemoteTimestamp(), provider)
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
		log.Logger.Debug("sn_called: no listener", zap.Uint16("vport", p.ToVPort))
	}
}

// acceptReverseTCP races a reverse-TCP dial against every candidate
// endpoint the SN relayed, returning the first one to complete the
// tunnel handshake. Losers are left as idle sub-tunnels rather than
// torn down; the container's default election leaves them unused.
func (s *Stack) acceptReverseTCP(peer protocol.DeviceId, peerPub *crypto.PublicKey, eps []protocol.Endpoint) *tunnel.TCPTunnel {
	ch := make(chan *tunnel.TCPTunnel, len(eps))
	var wg sync.WaitGroup
	for _, ep := range eps {
		if ep.Protocol != protocol.ProtocolTCP || ep.Port == 0 {
			continue
		}
		ep := ep
		wg.Add(1)
		go func() {
			defer wg.Done()
			tt, err := s.dialTCPTunnel(peer, peerPub, ep)
			if err != nil {
				log.Logger.Debug("reverse tcp dial failed", zap.String("endpoint", ep.String()), zap.Error(err))
				return
			}
			select {
			case ch <- tt:
			default:
			}
		}()
	}
	go func() {
		wg.Wait()
		close(ch)
	}()
	return <-ch
}
