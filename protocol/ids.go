// Package protocol implements the BDT wire entities: identifiers,
// endpoints, the ~20-command Package union, the merge-context
// compression scheme, and PackageBox/RawData framing.
package protocol

import (
	"crypto/sha256"
	"encoding/base32"
	"fmt"
	"net"

	"go.uber.org/atomic"

	"bdt/codec"
	"bdt/errors"
)

// DeviceId is the content-addressed identifier of a peer's device
// descriptor (the hash of its encoded public key material).
type DeviceId [32]byte

func (d DeviceId) String() string {
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(d[:])
}

// DeviceIdFromPublicKeyDER derives a DeviceId from a DER-encoded public key.
func DeviceIdFromPublicKeyDER(der []byte) DeviceId {
	return DeviceId(sha256.Sum256(der))
}

func EncodeDeviceId(id DeviceId, buf []byte) ([]byte, error) {
	return codec.EncodeFixedBytes(id[:], buf)
}

func DecodeDeviceId(buf []byte) (DeviceId, []byte, error) {
	raw, rest, err := codec.DecodeFixedBytes(buf, 32)
	if err != nil {
		return DeviceId{}, nil, err
	}
	var id DeviceId
	copy(id[:], raw)
	return id, rest, nil
}

// TempSeq is a 32-bit monotonic sequence scoped per tunnel container,
// used to correlate request/response pairs and to tiebreak concurrent
// connection attempts.
type TempSeq uint32

// SeqGenerator hands out increasing TempSeq values for one container.
// Grounded the same way moto/controller/roundrobin.go hands out a
// rotating index from an atomic counter, generalized from "index mod N"
// to "next value", and promoted from a raw uint64 to go.uber.org/atomic
// for the documented wrap-safe CAS helpers.
type SeqGenerator struct {
	next atomic.Uint32
}

func NewSeqGenerator(start uint32) *SeqGenerator {
	g := &SeqGenerator{}
	g.next.Store(start)
	return g
}

func (g *SeqGenerator) Generate() TempSeq {
	return TempSeq(g.next.Add(1))
}

// IncreaseId is a monotonically increasing per-stack local identifier,
// used to name streams (local_id/remote_id) independent of TempSeq.
type IncreaseId uint32

type idAllocator struct {
	next atomic.Uint32
}

var globalStreamIds = &idAllocator{}

func NewLocalStreamId() IncreaseId {
	return IncreaseId(globalStreamIds.next.Add(1))
}

// Endpoint is (protocol, address, port). Protocol UDP or TCP; port 0 on
// a TCP endpoint marks a reverse endpoint (peer cannot accept inbound,
// requires SN-assisted hole punch / reverse connect).
type Protocol uint8

const (
	ProtocolUDP Protocol = iota
	ProtocolTCP
)

func (p Protocol) String() string {
	if p == ProtocolUDP {
		return "udp"
	}
	return "tcp"
}

type Endpoint struct {
	Protocol Protocol
	Addr     [16]byte // IPv4-mapped or IPv6, network order
	IsV4     bool
	Port     uint16
}

func (e Endpoint) IsReverse() bool {
	return e.Protocol == ProtocolTCP && e.Port == 0
}

// IP renders Addr as a net.IP, masking to 4 bytes for IPv4 endpoints.
func (e Endpoint) IP() net.IP {
	if e.IsV4 {
		return net.IP(e.Addr[12:16])
	}
	cp := make(net.IP, 16)
	copy(cp, e.Addr[:])
	return cp
}

func EndpointFromUDPAddr(addr *net.UDPAddr) Endpoint {
	return endpointFromIPPort(ProtocolUDP, addr.IP, addr.Port)
}

func EndpointFromTCPAddr(addr *net.TCPAddr) Endpoint {
	return endpointFromIPPort(ProtocolTCP, addr.IP, addr.Port)
}

func endpointFromIPPort(proto Protocol, ip net.IP, port int) Endpoint {
	var e Endpoint
	e.Protocol = proto
	e.Port = uint16(port)
	if v4 := ip.To4(); v4 != nil {
		e.IsV4 = true
		copy(e.Addr[12:], v4)
	} else {
		copy(e.Addr[:], ip.To16())
	}
	return e
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s://%s:%d", e.Protocol, e.IP().String(), e.Port)
}

func EncodeEndpoint(e Endpoint, buf []byte) ([]byte, error) {
	var err error
	buf, err = codec.EncodeU8(uint8(e.Protocol), buf)
	if err != nil {
		return nil, err
	}
	buf, err = codec.EncodeBool(e.IsV4, buf)
	if err != nil {
		return nil, err
	}
	buf, err = codec.EncodeFixedBytes(e.Addr[:], buf)
	if err != nil {
		return nil, err
	}
	return codec.EncodeU16(e.Port, buf)
}

func DecodeEndpoint(buf []byte) (Endpoint, []byte, error) {
	var e Endpoint
	proto, rest, err := codec.DecodeU8(buf)
	if err != nil {
		return e, nil, err
	}
	if proto != uint8(ProtocolUDP) && proto != uint8(ProtocolTCP) {
		return e, nil, errors.Newf(errors.InvalidParam, "unknown endpoint protocol %d", proto)
	}
	e.Protocol = Protocol(proto)
	e.IsV4, rest, err = codec.DecodeBool(rest)
	if err != nil {
		return e, nil, err
	}
	addr, rest2, err := codec.DecodeFixedBytes(rest, 16)
	if err != nil {
		return e, nil, err
	}
	copy(e.Addr[:], addr)
	e.Port, rest, err = codec.DecodeU16(rest2)
	if err != nil {
		return e, nil, err
	}
	return e, rest, nil
}

// EndpointPair is (local, remote).
type EndpointPair struct {
	Local  Endpoint
	Remote Endpoint
}

func (p EndpointPair) String() string {
	return fmt.Sprintf("%s<->%s", p.Local, p.Remote)
}

// BuckyTime is a 64-bit microsecond monotonic-ish clock value. Remote
// and local timestamps are only ever compared for tiebreaking, never
// relied on for intra-tunnel ordering (spec.md §9).
type BuckyTime uint64
