// Package iface owns the raw sockets BDT sub-tunnels run over: one
// bound UDP interface demultiplexing inbound datagrams by mix key, and
// TCP interfaces that connect/accept framed length-prefixed sockets
// (spec.md §4.3/§4.4). It mirrors moto/controller/server.go's listener
// shape but speaks BDT's own framing instead of a transparent proxy.
package iface

import (
	"net"

	"go.uber.org/zap"

	"bdt/config"
	"bdt/crypto"
	"bdt/errors"
	"bdt/log"
	"bdt/protocol"
)

// UDPInterface owns one bound UDP socket. It decrypts inbound datagrams
// whose leading byte passes crypto.IsPackageBoxFrame as package boxes,
// hands every other datagram to the caller as raw data, and splits
// outbound writes per MTU (spec.md §4.3).
type UDPInterface struct {
	conn  *net.UDPConn
	local protocol.Endpoint
	mtu   int
}

// NewUDPInterface binds a UDP socket on addr.
func NewUDPInterface(addr *net.UDPAddr) (*UDPInterface, error) {
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, errors.Wrap(errors.InvalidData, "bind udp interface", err)
	}
	return &UDPInterface{
		conn:  conn,
		local: protocol.EndpointFromUDPAddr(conn.LocalAddr().(*net.UDPAddr)),
		mtu:   config.GlobalCfg.UDP.MTU,
	}, nil
}

// LocalEndpoint returns the interface's bound local endpoint.
func (u *UDPInterface) LocalEndpoint() protocol.Endpoint { return u.local }

// Close releases the bound socket.
func (u *UDPInterface) Close() error { return u.conn.Close() }

// RawFrame is one demultiplexed inbound UDP datagram: either a decoded
// PackageBox addressed by peer, or an opaque raw-data payload for a
// tunnel that already knows how to interpret it.
type RawFrame struct {
	From    protocol.Endpoint
	Peer    protocol.DeviceId
	Packages []protocol.Package
	Raw     []byte
	IsRaw   bool
}

// ReadLoop reads datagrams until a socket read fails (e.g. the socket is
// closed), decrypting each with store and handing the result to onFrame. It is
// meant to run under one bdt/sched.Supervisor goroutine per interface.
func (u *UDPInterface) ReadLoop(store *crypto.KeyStore, localDeviceId protocol.DeviceId, localPriv *crypto.PrivateKey,
	onFrame func(RawFrame), onRaw func(from protocol.Endpoint, raw []byte)) error {

	buf := make([]byte, u.mtu+protocol.FrameHeaderLen)
	for {
		n, addr, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			return err
		}
		from := protocol.EndpointFromUDPAddr(addr)
		frame := make([]byte, n)
		copy(frame, buf[:n])

		if len(frame) == 0 {
			continue
		}
		if !crypto.IsPackageBoxFrame(frame[0]) {
			if onRaw != nil {
				onRaw(from, frame)
			}
			continue
		}
		peer, pkgs, err := crypto.DecryptBoxFromPeer(store, localDeviceId, localPriv, frame)
		if err != nil {
			log.Logger.Debug("udp interface: drop undecryptable box", zap.String("from", from.String()), zap.Error(err))
			continue
		}
		if onFrame != nil {
			onFrame(RawFrame{From: from, Peer: peer, Packages: pkgs})
		}
	}
}

// WriteBox fragments and writes a full PackageBox frame to remote. BDT
// boxes fit in one MTU-bounded datagram in the common case; a box larger
// than MTU is written as consecutive MTU-sized datagrams with no
// fragment header. Nothing on the receive side reassembles them:
// ReadLoop handles every datagram on its own, so only a frame that fits
// in one datagram can be decrypted by the peer.
func (u *UDPInterface) WriteBox(remote *net.UDPAddr, wire []byte) error {
	if len(wire) <= u.mtu {
		_, err := u.conn.WriteToUDP(wire, remote)
		return err
	}
	for off := 0; off < len(wire); off += u.mtu {
		end := off + u.mtu
		if end > len(wire) {
			end = len(wire)
		}
		if _, err := u.conn.WriteToUDP(wire[off:end], remote); err != nil {
			return errors.Wrap(errors.InvalidData, "udp fragment write", err)
		}
	}
	return nil
}

// WriteRaw writes a raw-data payload, chunked per MTU.
func (u *UDPInterface) WriteRaw(remote *net.UDPAddr, payload []byte) error {
	return u.WriteBox(remote, payload)
}
