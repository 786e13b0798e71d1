// Package tunnel implements the per-remote-peer tunnel container and
// its UDP/TCP/proxy sub-tunnels (spec.md §4.3-§4.5): interface pooling,
// default-sub-tunnel election, and the builder FSM that negotiates a
// fresh tunnel or stream with a peer.
package tunnel

import (
	"bdt/protocol"
)

// State is a sub-tunnel's lifecycle state.
type State int

const (
	StateConnecting State = iota
	StatePreActive        // TCP-only: credible remote_ts, no framed connection yet
	StateActive
	StateDead
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StatePreActive:
		return "pre_active"
	case StateActive:
		return "active"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Family distinguishes the transport kind for default-election priority
// (spec.md §4.5: "non-proxy > proxy; UDP > TCP; ordinary-TCP >
// reverse-TCP").
type Family int

const (
	FamilyUDP Family = iota
	FamilyTCPOrdinary
	FamilyTCPReverse
	FamilyProxy
)

// priority is lower-is-better; used to compare two Active sub-tunnels
// when neither's remote_ts differs.
func (f Family) priority() int {
	switch f {
	case FamilyUDP:
		return 0
	case FamilyTCPOrdinary:
		return 1
	case FamilyTCPReverse:
		return 2
	case FamilyProxy:
		return 3
	default:
		return 99
	}
}

// betterThan reports whether candidate should replace current as the
// container's default sub-tunnel, given the priority order of §4.5.
func betterThan(candidateFamily, currentFamily Family, candidateTs, currentTs protocol.BuckyTime) bool {
	if candidateTs > currentTs {
		return true
	}
	if candidateTs < currentTs {
		return false
	}
	return candidateFamily.priority() < currentFamily.priority()
}

// SubTunnel is the capability interface shared by UDP and TCP tunnels
// (spec.md §9: "dynamic dispatch over SubTunnel... a ptr_eq check is
// required so the container can detect 'same sub-tunnel instance'").
type SubTunnel interface {
	State() State
	Family() Family
	LocalEndpoint() protocol.Endpoint
	RemoteEndpoint() protocol.Endpoint
	RemoteTimestamp() protocol.BuckyTime

	SendPackage(pkgs []protocol.Package) error
	SendRawData(payload []byte) error

	MarkDead(activeTs protocol.BuckyTime, lastUpdate protocol.BuckyTime)
	Reset()

	PtrEq(other SubTunnel) bool

	RetainKeeper()
	ReleaseKeeper()
}
