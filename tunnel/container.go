package tunnel

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"bdt/errors"
	"bdt/log"
	"bdt/protocol"
	"bdt/sched"

	"go.uber.org/zap"
)

// ContainerState mirrors spec.md §4.5's tunnel_state: Connecting while
// a builder runs, Active with the elected default sub-tunnel, or Dead.
type ContainerState int

const (
	ContainerConnecting ContainerState = iota
	ContainerActive
	ContainerDead
)

// BuilderKind tags the single in-flight builder task a container may
// run (spec.md §4.5/§9: "only one builder task at a time").
type BuilderKind int

const (
	BuilderIdle BuilderKind = iota
	BuilderConnectStream
	BuilderAcceptStream
	BuilderConnectTunnel
	BuilderAcceptTunnel
)

// Container is the per-remote-peer tunnel aggregate (spec.md §3/§4.5):
// owns every sub-tunnel to that peer, tracks the elected default, and
// serializes the single builder task that may be constructing a fresh
// path.
type Container struct {
	peer      protocol.DeviceId
	seqGen    *protocol.SeqGenerator

	mu           sync.Mutex
	state        ContainerState
	remoteTs     protocol.BuckyTime
	lastUpdate   protocol.BuckyTime
	entries      map[protocol.EndpointPair]SubTunnel
	defaultTun   SubTunnel
	defaultFam   Family
	builder      BuilderKind
	builderTrace string
	recycleAt    time.Time

	waiter sched.Waiter
}

// NewContainer constructs a fresh, Connecting container for peer.
func NewContainer(peer protocol.DeviceId) *Container {
	return &Container{
		peer:    peer,
		seqGen:  protocol.NewSeqGenerator(1),
		state:   ContainerConnecting,
		entries: make(map[protocol.EndpointPair]SubTunnel),
	}
}

func (c *Container) Peer() protocol.DeviceId { return c.peer }
func (c *Container) SeqGen() *protocol.SeqGenerator { return c.seqGen }

func (c *Container) State() ContainerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Default returns the currently elected default sub-tunnel, or nil if
// the container is not Active.
func (c *Container) Default() SubTunnel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.defaultTun
}

// AddSubTunnel registers a newly constructed sub-tunnel under its
// endpoint pair.
func (c *Container) AddSubTunnel(pair protocol.EndpointPair, sub SubTunnel) {
	c.mu.Lock()
	c.entries[pair] = sub
	c.mu.Unlock()
}

// SubTunnelFor returns the sub-tunnel already registered under pair, if
// any, letting callers get-or-create instead of always dialing fresh.
func (c *Container) SubTunnelFor(pair protocol.EndpointPair) (SubTunnel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.entries[pair]
	return sub, ok
}

// OnSubTunnelActive runs the default-tunnel election of spec.md §4.5
// whenever a sub-tunnel transitions to Active with remoteTs.
func (c *Container) OnSubTunnelActive(sub SubTunnel, remoteTs protocol.BuckyTime) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if remoteTs > c.remoteTs {
		c.remoteTs = remoteTs
	}
	c.lastUpdate = nowBucky()

	// Step 1: evict sub-tunnels whose own remote_ts is now stale.
	for pair, other := range c.entries {
		if other.PtrEq(sub) {
			continue
		}
		if other.State() == StateActive && other.RemoteTimestamp() < remoteTs {
			other.MarkDead(other.RemoteTimestamp(), c.lastUpdate)
			delete(c.entries, pair)
		}
	}

	becameActive := c.state != ContainerActive
	if becameActive {
		c.state = ContainerActive
		c.defaultTun = sub
		c.defaultFam = sub.Family()
	} else if c.defaultTun == nil || betterThan(sub.Family(), c.defaultFam, remoteTs, c.defaultTun.RemoteTimestamp()) {
		c.defaultTun = sub
		c.defaultFam = sub.Family()
	}
	c.mu.Unlock()
	c.waiter.WakeAll()
	c.mu.Lock()
}

// MarkDead transitions the container to Dead unless lastUpdate is
// stale relative to activity already observed (spec.md §8: "stale
// mark_dead is a no-op").
func (c *Container) MarkDead(activeTs protocol.BuckyTime, lastUpdate protocol.BuckyTime) {
	c.mu.Lock()
	if c.lastUpdate > lastUpdate {
		c.mu.Unlock()
		return
	}
	c.state = ContainerDead
	c.defaultTun = nil
	c.mu.Unlock()
	c.waiter.WakeAll()
}

// OnSubTunnelDead drops sub from the entry map; if it was the default
// and no other Active sub-tunnel remains, the container itself dies
// (spec.md §7: "losing a non-default sub-tunnel leaves the container
// Active").
func (c *Container) OnSubTunnelDead(pair protocol.EndpointPair, sub SubTunnel) {
	c.mu.Lock()
	delete(c.entries, pair)
	wasDefault := c.defaultTun != nil && c.defaultTun.PtrEq(sub)
	if !wasDefault {
		c.mu.Unlock()
		return
	}
	var replacement SubTunnel
	var replacementFam Family
	for _, other := range c.entries {
		if other.State() != StateActive {
			continue
		}
		if replacement == nil || betterThan(other.Family(), replacementFam, other.RemoteTimestamp(), replacement.RemoteTimestamp()) {
			replacement = other
			replacementFam = other.Family()
		}
	}
	if replacement != nil {
		c.defaultTun = replacement
		c.defaultFam = replacementFam
		c.mu.Unlock()
		return
	}
	c.defaultTun = nil
	c.state = ContainerDead
	c.mu.Unlock()
	c.waiter.WakeAll()
}

// TryStartBuilder attaches to a compatible running builder or starts a
// new one, replacing an incompatible builder only when the container is
// Dead (spec.md §4.5: "new demand attaches to a compatible running
// builder; incompatible demand replaces it only when transitioning from
// Dead").
func (c *Container) TryStartBuilder(kind BuilderKind) (started bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.builder == kind {
		return false, nil
	}
	if c.builder != BuilderIdle && c.state != ContainerDead {
		return false, errors.New(errors.AlreadyExists, "incompatible builder already running")
	}
	c.builder = kind
	c.builderTrace = uuid.New().String()
	log.Logger.Debug("builder started",
		zap.String("peer", c.peer.String()),
		zap.String("trace", c.builderTrace))
	return true, nil
}

// BuilderTrace returns the correlation id of the in-flight builder task,
// or "" if none is running; callers tag their own log lines with it.
func (c *Container) BuilderTrace() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.builderTrace
}

// FinishBuilder clears the in-flight builder slot.
func (c *Container) FinishBuilder() {
	c.mu.Lock()
	log.Logger.Debug("builder finished",
		zap.String("peer", c.peer.String()),
		zap.String("trace", c.builderTrace))
	c.builder = BuilderIdle
	c.builderTrace = ""
	c.mu.Unlock()
}

// GenerateSequence issues the next TempSeq for this container, used to
// correlate handshakes and tiebreak concurrent connects (spec.md §3).
func (c *Container) GenerateSequence() protocol.TempSeq {
	return c.seqGen.Generate()
}

// Wait returns a channel closed on the container's next state
// transition (default election, death, or rebuild).
func (c *Container) Wait() <-chan struct{} { return c.waiter.Wait() }
