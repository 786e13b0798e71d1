package iface

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"time"

	"bdt/crypto"
	"bdt/errors"
	"bdt/protocol"
)

// MaxTCPFrame bounds a single u16-length-prefixed TCP frame (spec.md
// §4.4: "each frame is u16 length || packet-box-or-raw-data").
const MaxTCPFrame = 65535

// TCPConn wraps one accepted or dialed TCP socket with BDT's framing:
// every frame is a 2-byte big-endian length followed by that many
// payload bytes, either an encrypted PackageBox or a raw-data chunk,
// distinguished by crypto.IsPackageBoxFrame on the leading payload byte
// (crypto.BoxMarker or the Exchange command code).
type TCPConn struct {
	conn   net.Conn
	reader *bufio.Reader
	Local  protocol.Endpoint
	Remote protocol.Endpoint
}

// DialTCP connects to addr and wraps the resulting socket.
func DialTCP(addr *net.TCPAddr) (*TCPConn, error) {
	conn, err := net.DialTCP("tcp", nil, addr)
	if err != nil {
		return nil, errors.Wrap(errors.ConnectionAborted, "dial tcp interface", err)
	}
	return wrapTCPConn(conn), nil
}

func wrapTCPConn(conn net.Conn) *TCPConn {
	return &TCPConn{
		conn:   conn,
		reader: bufio.NewReader(conn),
		Local:  protocol.EndpointFromTCPAddr(conn.LocalAddr().(*net.TCPAddr)),
		Remote: protocol.EndpointFromTCPAddr(conn.RemoteAddr().(*net.TCPAddr)),
	}
}

// TCPListener accepts inbound TCP sub-tunnel connections.
type TCPListener struct {
	ln *net.TCPListener
}

// ListenTCP binds a TCP listener on addr.
func ListenTCP(addr *net.TCPAddr) (*TCPListener, error) {
	ln, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(errors.InvalidData, "bind tcp interface", err)
	}
	return &TCPListener{ln: ln}, nil
}

func (l *TCPListener) Close() error { return l.ln.Close() }

// LocalEndpoint returns the listener's bound local endpoint.
func (l *TCPListener) LocalEndpoint() protocol.Endpoint {
	return protocol.EndpointFromTCPAddr(l.ln.Addr().(*net.TCPAddr))
}

// Accept blocks for the next inbound connection.
func (l *TCPListener) Accept() (*TCPConn, error) {
	conn, err := l.ln.AcceptTCP()
	if err != nil {
		return nil, err
	}
	return wrapTCPConn(conn), nil
}

// Close closes the underlying socket.
func (c *TCPConn) Close() error { return c.conn.Close() }

// SetReadDeadline bounds the next ReadFrame/ReadBoxOrRaw call, used by
// an outbound dialer to cap how long it waits for a handshake reply
// (spec.md §4.4 tcp.connect_timeout/confirm_timeout).
func (c *TCPConn) SetReadDeadline(t time.Time) error { return c.conn.SetReadDeadline(t) }

// WriteFrame writes one length-prefixed frame.
func (c *TCPConn) WriteFrame(payload []byte) error {
	if len(payload) > MaxTCPFrame {
		return errors.New(errors.OutOfLimit, "tcp frame exceeds u16 length")
	}
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(payload)))
	if _, err := c.conn.Write(hdr[:]); err != nil {
		return errors.Wrap(errors.ConnectionAborted, "write tcp frame header", err)
	}
	if _, err := c.conn.Write(payload); err != nil {
		return errors.Wrap(errors.ConnectionAborted, "write tcp frame payload", err)
	}
	return nil
}

// ReadFrame reads and returns exactly one length-prefixed frame's payload.
func (c *TCPConn) ReadFrame() ([]byte, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(c.reader, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint16(hdr[:])
	payload := make([]byte, n)
	if _, err := io.ReadFull(c.reader, payload); err != nil {
		return nil, errors.Wrap(errors.ConnectionAborted, "read tcp frame payload", err)
	}
	return payload, nil
}

// ReadBoxOrRaw reads one frame and classifies it: a leading byte for
// which crypto.IsPackageBoxFrame holds (crypto.BoxMarker or the Exchange
// command code) means the frame is an encrypted PackageBox, anything
// else (including an empty frame) is a raw-data chunk.
func (c *TCPConn) ReadBoxOrRaw(store *crypto.KeyStore, localDeviceId protocol.DeviceId, localPriv *crypto.PrivateKey) (peer protocol.DeviceId, pkgs []protocol.Package, raw []byte, isRaw bool, err error) {
	frame, err := c.ReadFrame()
	if err != nil {
		return protocol.DeviceId{}, nil, nil, false, err
	}
	if len(frame) == 0 || !crypto.IsPackageBoxFrame(frame[0]) {
		return protocol.DeviceId{}, nil, frame, true, nil
	}
	peer, pkgs, err = crypto.DecryptBoxFromPeer(store, localDeviceId, localPriv, frame)
	if err != nil {
		return protocol.DeviceId{}, nil, nil, false, err
	}
	return peer, pkgs, nil, false, nil
}
