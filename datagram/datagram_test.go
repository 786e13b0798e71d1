package datagram

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bdt/protocol"
)

type fakeSender struct {
	sent chan []byte
}

func (f *fakeSender) SendDatagram(peer protocol.DeviceId, vport uint16, payload []byte, seq protocol.TempSeq) error {
	f.sent <- payload
	return nil
}

func TestSendAndRecvRoundTrip(t *testing.T) {
	sender := &fakeSender{sent: make(chan []byte, 1)}
	m := NewManager(sender)
	require.NoError(t, m.Bind(7))

	require.NoError(t, m.Send(protocol.DeviceId{}, 7, []byte("hi"), Options{}))
	require.Equal(t, []byte("hi"), <-sender.sent)

	m.Dispatch(Received{VPort: 7, Payload: []byte("pong")})
	got, err := m.Recv(7)
	require.NoError(t, err)
	require.Equal(t, "pong", string(got.Payload))
}

func TestRecvOnUnboundVPortFails(t *testing.T) {
	m := NewManager(&fakeSender{sent: make(chan []byte, 1)})
	_, err := m.Recv(99)
	require.Error(t, err)
}

func TestDoubleBindFails(t *testing.T) {
	m := NewManager(&fakeSender{sent: make(chan []byte, 1)})
	require.NoError(t, m.Bind(1))
	require.Error(t, m.Bind(1))
}

func TestReassemblerWaitsForAllFragments(t *testing.T) {
	r := NewReassembler(time.Second)
	out, err := r.Add("peer", 1, 0, 2, []byte("hel"))
	require.NoError(t, err)
	require.Nil(t, out)

	out, err = r.Add("peer", 1, 1, 2, []byte("lo"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(out))
}

func TestReassemblerRejectsBadIndex(t *testing.T) {
	r := NewReassembler(time.Second)
	_, err := r.Add("peer", 1, 5, 2, []byte("x"))
	require.Error(t, err)
}
