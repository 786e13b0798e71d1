package protocol

import "bdt/errors"

// CommandCode is the stable, on-wire 1-byte package discriminator
// (spec.md §6).
type CommandCode uint8

const (
	CmdExchange           CommandCode = 0x00
	CmdSynTunnel          CommandCode = 0x01
	CmdAckTunnel          CommandCode = 0x02
	CmdAckAckTunnel       CommandCode = 0x03
	CmdPingTunnel         CommandCode = 0x04
	CmdPingTunnelResp     CommandCode = 0x05
	CmdSnCall             CommandCode = 0x20
	CmdSnCallResp         CommandCode = 0x21
	CmdSnCalled           CommandCode = 0x22
	CmdSnCalledResp       CommandCode = 0x23
	CmdSnPing             CommandCode = 0x24
	CmdSnPingResp         CommandCode = 0x25
	CmdDatagram           CommandCode = 0x30
	CmdSessionData        CommandCode = 0x40
	CmdTcpSynConnection   CommandCode = 0x41
	CmdTcpAckConnection   CommandCode = 0x42
	CmdTcpAckAckConnection CommandCode = 0x43
	CmdSynProxy           CommandCode = 0x50
	CmdAckProxy           CommandCode = 0x51
	CmdPieceData          CommandCode = 0x60
	CmdPieceControl       CommandCode = 0x61
	CmdChannelEstimate    CommandCode = 0x62
)

// HandshakeResult is the result code carried by AckTunnel and
// TcpAckConnection (spec.md §6).
type HandshakeResult uint8

const (
	ResultOK      HandshakeResult = 0
	ResultRefused HandshakeResult = 1
)

// Package is the tagged-union member interface: every concrete package
// type knows its own command code and how to read/write its fields
// (shared + own) against a MergeContext.
type Package interface {
	Command() CommandCode
	// EncodeFields renders this package's fields (shared fields that
	// changed since the context, plus all own fields), returning the
	// accumulated flag bits alongside the encoded bytes.
	EncodeFields(ctx *MergeContext) (fields []byte, flags uint16, err error)
	// DecodeFields populates this package from buf, consulting/updating
	// ctx for shared fields per the flags already read from the header.
	DecodeFields(ctx *MergeContext, flags uint16, buf []byte) (rest []byte, err error)
}

// NewPackage allocates a zero-value package for the given command, used
// by DecodePackage before calling DecodeFields.
func NewPackage(cmd CommandCode) (Package, error) {
	switch cmd {
	case CmdExchange:
		return &Exchange{}, nil
	case CmdSynTunnel:
		return &SynTunnel{}, nil
	case CmdAckTunnel:
		return &AckTunnel{}, nil
	case CmdAckAckTunnel:
		return &AckAckTunnel{}, nil
	case CmdPingTunnel:
		return &PingTunnel{}, nil
	case CmdPingTunnelResp:
		return &PingTunnelResp{}, nil
	case CmdSnCall:
		return &SnCall{}, nil
	case CmdSnCallResp:
		return &SnCallResp{}, nil
	case CmdSnCalled:
		return &SnCalled{}, nil
	case CmdSnCalledResp:
		return &SnCalledResp{}, nil
	case CmdSnPing:
		return &SnPing{}, nil
	case CmdSnPingResp:
		return &SnPingResp{}, nil
	case CmdDatagram:
		return &Datagram{}, nil
	case CmdSessionData:
		return &SessionData{}, nil
	case CmdTcpSynConnection:
		return &TcpSynConnection{}, nil
	case CmdTcpAckConnection:
		return &TcpAckConnection{}, nil
	case CmdTcpAckAckConnection:
		return &TcpAckAckConnection{}, nil
	case CmdSynProxy:
		return &SynProxy{}, nil
	case CmdAckProxy:
		return &AckProxy{}, nil
	case CmdPieceData:
		return &PieceData{}, nil
	case CmdPieceControl:
		return &PieceControl{}, nil
	case CmdChannelEstimate:
		return &ChannelEstimate{}, nil
	default:
		return nil, errors.Newf(errors.InvalidParam, "unknown command code 0x%02x", uint8(cmd))
	}
}

// IsKnownCommand reports whether b is a command byte NewPackage
// recognizes. The TCP/UDP framing layer does not use it: it tells a
// PackageBox frame from raw data with crypto.IsPackageBoxFrame.
func IsKnownCommand(b byte) bool {
	_, err := NewPackage(CommandCode(b))
	return err == nil
}
