package stack

import (
	"go.uber.org/atomic"

	"bdt/protocol"
	"bdt/stream"
	"bdt/tunnel"
)

// sessionDataProvider is the stream.Provider used when a stream's bytes
// are multiplexed over a shared sub-tunnel via SessionData's
// FromSessionId/ToSessionId pair — the UDP path, and any SessionData
// syn accepted over an already-established default tunnel (spec.md
// §4.6's StreamProviderSelector, generalized from a transport-specific
// wrapper since UDPTunnel.SendPackage and TCPTunnel.SendPackage both
// box-encrypt-and-enqueue identically).
type sessionDataProvider struct {
	sub           tunnel.SubTunnel
	fromSessionId protocol.IncreaseId
	toSessionId   protocol.IncreaseId
	seqGen        *protocol.SeqGenerator
	pos           atomic.Uint64
}

func newSessionDataProvider(sub tunnel.SubTunnel, fromSessionId, toSessionId protocol.IncreaseId, seqGen *protocol.SeqGenerator) *sessionDataProvider {
	return &sessionDataProvider{sub: sub, fromSessionId: fromSessionId, toSessionId: toSessionId, seqGen: seqGen}
}

func (p *sessionDataProvider) WritePiece(data []byte) error {
	pos := p.pos.Add(uint64(len(data))) - uint64(len(data))
	sd := &protocol.SessionData{
		Sequence:      p.seqGen.Generate(),
		FromSessionId: p.fromSessionId,
		ToSessionId:   p.toSessionId,
		StreamPos:     pos,
		Payload:       data,
	}
	return p.sub.SendPackage([]protocol.Package{sd})
}

func (p *sessionDataProvider) Close() error {
	p.sub.ReleaseKeeper()
	return nil
}

var _ stream.Provider = (*sessionDataProvider)(nil)

// tcpStreamProvider is the stream.Provider for a TCP sub-tunnel dialed
// or adopted for exactly one stream: once the TcpSynConnection/
// TcpAckConnection handshake picks a session id to correlate the
// pending connect attempt, ongoing bytes need no further framing and
// ride the tunnel's raw piece ring directly (spec.md §4.4's piece
// path, distinct from the control-package path SendPackage serves).
type tcpStreamProvider struct {
	tt *tunnel.TCPTunnel
}

func newTCPStreamProvider(tt *tunnel.TCPTunnel) *tcpStreamProvider {
	return &tcpStreamProvider{tt: tt}
}

func (p *tcpStreamProvider) WritePiece(data []byte) error {
	return p.tt.SendRawData(data)
}

func (p *tcpStreamProvider) Close() error {
	p.tt.ReleaseKeeper()
	return nil
}

var _ stream.Provider = (*tcpStreamProvider)(nil)
