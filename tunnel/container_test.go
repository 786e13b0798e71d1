package tunnel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"bdt/protocol"
)

// fakeSubTunnel is a minimal SubTunnel used to drive Container's
// default-election and dead-propagation logic without real sockets.
type fakeSubTunnel struct {
	family   Family
	state    State
	remoteTs protocol.BuckyTime
}

func (f *fakeSubTunnel) State() State                       { return f.state }
func (f *fakeSubTunnel) Family() Family                      { return f.family }
func (f *fakeSubTunnel) LocalEndpoint() protocol.Endpoint    { return protocol.Endpoint{} }
func (f *fakeSubTunnel) RemoteEndpoint() protocol.Endpoint   { return protocol.Endpoint{} }
func (f *fakeSubTunnel) RemoteTimestamp() protocol.BuckyTime { return f.remoteTs }
func (f *fakeSubTunnel) SendPackage(pkgs []protocol.Package) error { return nil }
func (f *fakeSubTunnel) SendRawData(payload []byte) error          { return nil }
func (f *fakeSubTunnel) MarkDead(activeTs, lastUpdate protocol.BuckyTime) { f.state = StateDead }
func (f *fakeSubTunnel) Reset()                                          { f.state = StateConnecting }
func (f *fakeSubTunnel) PtrEq(other SubTunnel) bool {
	o, ok := other.(*fakeSubTunnel)
	return ok && o == f
}
func (f *fakeSubTunnel) RetainKeeper()  {}
func (f *fakeSubTunnel) ReleaseKeeper() {}

func pair(n byte) protocol.EndpointPair {
	var ep protocol.EndpointPair
	ep.Remote.Port = uint16(n)
	return ep
}

func TestDefaultElectionNewerRemoteTsAlwaysWins(t *testing.T) {
	c := NewContainer(protocol.DeviceId{})
	low := &fakeSubTunnel{family: FamilyUDP, state: StateActive, remoteTs: 10}
	c.AddSubTunnel(pair(1), low)
	c.OnSubTunnelActive(low, 10)
	require.True(t, c.Default().PtrEq(low))

	high := &fakeSubTunnel{family: FamilyTCPReverse, state: StateActive, remoteTs: 20}
	c.AddSubTunnel(pair(2), high)
	c.OnSubTunnelActive(high, 20)
	require.True(t, c.Default().PtrEq(high))
}

func TestDefaultElectionPriorityOrderAtEqualTimestamp(t *testing.T) {
	// non-proxy > proxy; UDP > TCP; ordinary-TCP > reverse-TCP.
	families := []Family{FamilyProxy, FamilyTCPReverse, FamilyTCPOrdinary, FamilyUDP}
	const ts = protocol.BuckyTime(100)

	c := NewContainer(protocol.DeviceId{})
	var udp *fakeSubTunnel
	for i, fam := range families {
		sub := &fakeSubTunnel{family: fam, state: StateActive, remoteTs: ts}
		if fam == FamilyUDP {
			udp = sub
		}
		c.AddSubTunnel(pair(byte(i)), sub)
		c.OnSubTunnelActive(sub, ts)
	}
	require.True(t, c.Default().PtrEq(udp), "UDP must win when all remote_ts are equal")
}

func TestDefaultElectionOrdinaryTCPBeatsReverseAtEqualTimestamp(t *testing.T) {
	c := NewContainer(protocol.DeviceId{})
	reverse := &fakeSubTunnel{family: FamilyTCPReverse, state: StateActive, remoteTs: 50}
	c.AddSubTunnel(pair(1), reverse)
	c.OnSubTunnelActive(reverse, 50)
	require.True(t, c.Default().PtrEq(reverse))

	ordinary := &fakeSubTunnel{family: FamilyTCPOrdinary, state: StateActive, remoteTs: 50}
	c.AddSubTunnel(pair(2), ordinary)
	c.OnSubTunnelActive(ordinary, 50)
	require.True(t, c.Default().PtrEq(ordinary), "ordinary TCP must beat reverse TCP at equal remote_ts")
}

func TestStaleMarkDeadIsNoOp(t *testing.T) {
	c := NewContainer(protocol.DeviceId{})
	sub := &fakeSubTunnel{family: FamilyUDP, state: StateActive, remoteTs: 10}
	c.AddSubTunnel(pair(1), sub)
	c.OnSubTunnelActive(sub, 10)
	require.Equal(t, ContainerActive, c.State())

	c.MarkDead(10, 0) // lastUpdate(0) < c.lastUpdate observed during OnSubTunnelActive
	require.Equal(t, ContainerActive, c.State(), "mark_dead with a stale lastUpdate must be a no-op")
}

func TestLosingNonDefaultSubTunnelLeavesContainerActive(t *testing.T) {
	c := NewContainer(protocol.DeviceId{})
	primary := &fakeSubTunnel{family: FamilyUDP, state: StateActive, remoteTs: 10}
	secondary := &fakeSubTunnel{family: FamilyTCPOrdinary, state: StateActive, remoteTs: 5}
	c.AddSubTunnel(pair(1), primary)
	c.OnSubTunnelActive(primary, 10)
	c.AddSubTunnel(pair(2), secondary)
	c.OnSubTunnelActive(secondary, 5)
	require.True(t, c.Default().PtrEq(primary))

	c.OnSubTunnelDead(pair(2), secondary)
	require.Equal(t, ContainerActive, c.State())
	require.True(t, c.Default().PtrEq(primary))
}

func TestLosingDefaultSubTunnelPromotesNextBest(t *testing.T) {
	c := NewContainer(protocol.DeviceId{})
	primary := &fakeSubTunnel{family: FamilyUDP, state: StateActive, remoteTs: 10}
	secondary := &fakeSubTunnel{family: FamilyTCPOrdinary, state: StateActive, remoteTs: 5}
	c.AddSubTunnel(pair(1), primary)
	c.OnSubTunnelActive(primary, 10)
	c.AddSubTunnel(pair(2), secondary)
	c.OnSubTunnelActive(secondary, 5)

	c.OnSubTunnelDead(pair(1), primary)
	require.True(t, c.Default().PtrEq(secondary))
}

func TestBuilderSlotSerializesIncompatibleDemand(t *testing.T) {
	c := NewContainer(protocol.DeviceId{})
	started, err := c.TryStartBuilder(BuilderConnectStream)
	require.NoError(t, err)
	require.True(t, started)

	_, err = c.TryStartBuilder(BuilderConnectTunnel)
	require.Error(t, err, "incompatible builder demand must be rejected while one is running")

	again, err := c.TryStartBuilder(BuilderConnectStream)
	require.NoError(t, err)
	require.False(t, again, "compatible demand attaches instead of restarting")

	c.FinishBuilder()
	started, err = c.TryStartBuilder(BuilderConnectTunnel)
	require.NoError(t, err)
	require.True(t, started)
}
