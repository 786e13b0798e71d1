package protocol

import "bdt/codec"

// Datagram carries an unreliable application payload over a UDP tunnel
// (spec.md §3 "RawData"/"Package"). It is unordered with respect to
// stream bytes by design (spec.md §5).
type Datagram struct {
	Sequence TempSeq
	ToVPort  uint16
	Payload  []byte
}

func (p *Datagram) Command() CommandCode { return CmdDatagram }

func (p *Datagram) EncodeFields(ctx *MergeContext) ([]byte, uint16, error) {
	var flags uint16
	var buf []byte
	var err error
	if buf, err = encodeVersion(&flags, buf); err != nil {
		return nil, 0, err
	}
	if buf, err = ctx.encodeSequence(p.Sequence, &flags, buf); err != nil {
		return nil, 0, err
	}
	if buf, err = codec.EncodeU16(p.ToVPort, buf); err != nil {
		return nil, 0, err
	}
	if buf, err = codec.EncodeBytes(p.Payload, buf); err != nil {
		return nil, 0, err
	}
	return buf, flags, nil
}

func (p *Datagram) DecodeFields(ctx *MergeContext, flags uint16, buf []byte) ([]byte, error) {
	var err error
	if _, buf, err = decodeVersion(flags, buf); err != nil {
		return nil, err
	}
	if p.Sequence, buf, err = ctx.decodeSequence(flags, buf); err != nil {
		return nil, err
	}
	if p.ToVPort, buf, err = codec.DecodeU16(buf); err != nil {
		return nil, err
	}
	if p.Payload, buf, err = codec.DecodeBytes(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// SessionData is the UDP-carried equivalent of the TCP
// syn/ack/ack-ack handshake triple, plus ongoing small reliable-stream
// payload piggybacked on a package rather than a piece frame
// (spec.md §4.6).
type SessionData struct {
	Sequence      TempSeq
	Syn           bool
	Ack           bool
	FromSessionId IncreaseId
	ToSessionId   IncreaseId
	ToVPort       uint16 // valid on Syn only; routes the open to a listener, same role as TcpSynConnection.ToVPort
	StreamPos     uint64
	Payload       []byte
}

func (p *SessionData) Command() CommandCode { return CmdSessionData }

func (p *SessionData) EncodeFields(ctx *MergeContext) ([]byte, uint16, error) {
	var flags uint16
	var buf []byte
	var err error
	if buf, err = encodeVersion(&flags, buf); err != nil {
		return nil, 0, err
	}
	if buf, err = ctx.encodeSequence(p.Sequence, &flags, buf); err != nil {
		return nil, 0, err
	}
	if buf, err = codec.EncodeBool(p.Syn, buf); err != nil {
		return nil, 0, err
	}
	if buf, err = codec.EncodeBool(p.Ack, buf); err != nil {
		return nil, 0, err
	}
	if buf, err = codec.EncodeU32(uint32(p.FromSessionId), buf); err != nil {
		return nil, 0, err
	}
	if buf, err = codec.EncodeU32(uint32(p.ToSessionId), buf); err != nil {
		return nil, 0, err
	}
	if buf, err = codec.EncodeU16(p.ToVPort, buf); err != nil {
		return nil, 0, err
	}
	if buf, err = codec.EncodeU64(p.StreamPos, buf); err != nil {
		return nil, 0, err
	}
	if buf, err = codec.EncodeBytes(p.Payload, buf); err != nil {
		return nil, 0, err
	}
	return buf, flags, nil
}

func (p *SessionData) DecodeFields(ctx *MergeContext, flags uint16, buf []byte) ([]byte, error) {
	var err error
	if _, buf, err = decodeVersion(flags, buf); err != nil {
		return nil, err
	}
	if p.Sequence, buf, err = ctx.decodeSequence(flags, buf); err != nil {
		return nil, err
	}
	if p.Syn, buf, err = codec.DecodeBool(buf); err != nil {
		return nil, err
	}
	if p.Ack, buf, err = codec.DecodeBool(buf); err != nil {
		return nil, err
	}
	var from, to uint32
	if from, buf, err = codec.DecodeU32(buf); err != nil {
		return nil, err
	}
	p.FromSessionId = IncreaseId(from)
	if to, buf, err = codec.DecodeU32(buf); err != nil {
		return nil, err
	}
	p.ToSessionId = IncreaseId(to)
	if p.ToVPort, buf, err = codec.DecodeU16(buf); err != nil {
		return nil, err
	}
	if p.StreamPos, buf, err = codec.DecodeU64(buf); err != nil {
		return nil, err
	}
	if p.Payload, buf, err = codec.DecodeBytes(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// TcpSynConnection opens a reliable stream over a framed TCP tunnel
// (spec.md §4.6).
type TcpSynConnection struct {
	Sequence       TempSeq
	FromSessionId  IncreaseId
	ToVPort        uint16
	FromDeviceDesc *DeviceDescriptor
	ToDeviceId     DeviceId
	HasReverse     bool
	ReverseEp      Endpoint
	Payload        []byte // question
}

func (p *TcpSynConnection) Command() CommandCode { return CmdTcpSynConnection }

const flagReverseEndpoint = 1 << FirstOwnBit

func (p *TcpSynConnection) EncodeFields(ctx *MergeContext) ([]byte, uint16, error) {
	var flags uint16
	var buf []byte
	var err error
	if buf, err = encodeVersion(&flags, buf); err != nil {
		return nil, 0, err
	}
	if buf, err = ctx.encodeSequence(p.Sequence, &flags, buf); err != nil {
		return nil, 0, err
	}
	if buf, err = ctx.encodeToDeviceId(p.ToDeviceId, &flags, buf); err != nil {
		return nil, 0, err
	}
	if buf, err = ctx.encodeDeviceDesc(p.FromDeviceDesc, &flags, buf); err != nil {
		return nil, 0, err
	}
	if buf, err = codec.EncodeU32(uint32(p.FromSessionId), buf); err != nil {
		return nil, 0, err
	}
	if buf, err = codec.EncodeU16(p.ToVPort, buf); err != nil {
		return nil, 0, err
	}
	if p.HasReverse {
		flags |= flagReverseEndpoint
		if buf, err = EncodeEndpoint(p.ReverseEp, buf); err != nil {
			return nil, 0, err
		}
	}
	if buf, err = codec.EncodeBytes(p.Payload, buf); err != nil {
		return nil, 0, err
	}
	return buf, flags, nil
}

func (p *TcpSynConnection) DecodeFields(ctx *MergeContext, flags uint16, buf []byte) ([]byte, error) {
	var err error
	if _, buf, err = decodeVersion(flags, buf); err != nil {
		return nil, err
	}
	if p.Sequence, buf, err = ctx.decodeSequence(flags, buf); err != nil {
		return nil, err
	}
	if p.ToDeviceId, buf, err = ctx.decodeToDeviceId(flags, buf); err != nil {
		return nil, err
	}
	if p.FromDeviceDesc, buf, err = ctx.decodeDeviceDesc(flags, buf); err != nil {
		return nil, err
	}
	var from uint32
	if from, buf, err = codec.DecodeU32(buf); err != nil {
		return nil, err
	}
	p.FromSessionId = IncreaseId(from)
	if p.ToVPort, buf, err = codec.DecodeU16(buf); err != nil {
		return nil, err
	}
	p.HasReverse = flags&flagReverseEndpoint != 0
	if p.HasReverse {
		if p.ReverseEp, buf, err = DecodeEndpoint(buf); err != nil {
			return nil, err
		}
	}
	if p.Payload, buf, err = codec.DecodeBytes(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// TcpAckConnection answers a TcpSynConnection (spec.md §4.6).
type TcpAckConnection struct {
	Sequence     TempSeq
	ToSessionId  IncreaseId
	Result       HandshakeResult
	ToDeviceDesc *DeviceDescriptor
	Payload      []byte // answer, <= 25KiB enforced by the stream layer
}

func (p *TcpAckConnection) Command() CommandCode { return CmdTcpAckConnection }

func (p *TcpAckConnection) EncodeFields(ctx *MergeContext) ([]byte, uint16, error) {
	var flags uint16
	var buf []byte
	var err error
	if buf, err = encodeVersion(&flags, buf); err != nil {
		return nil, 0, err
	}
	if buf, err = ctx.encodeSequence(p.Sequence, &flags, buf); err != nil {
		return nil, 0, err
	}
	if buf, err = ctx.encodeDeviceDesc(p.ToDeviceDesc, &flags, buf); err != nil {
		return nil, 0, err
	}
	if buf, err = codec.EncodeU32(uint32(p.ToSessionId), buf); err != nil {
		return nil, 0, err
	}
	if buf, err = codec.EncodeU8(uint8(p.Result), buf); err != nil {
		return nil, 0, err
	}
	if buf, err = codec.EncodeBytes(p.Payload, buf); err != nil {
		return nil, 0, err
	}
	return buf, flags, nil
}

func (p *TcpAckConnection) DecodeFields(ctx *MergeContext, flags uint16, buf []byte) ([]byte, error) {
	var err error
	if _, buf, err = decodeVersion(flags, buf); err != nil {
		return nil, err
	}
	if p.Sequence, buf, err = ctx.decodeSequence(flags, buf); err != nil {
		return nil, err
	}
	if p.ToDeviceDesc, buf, err = ctx.decodeDeviceDesc(flags, buf); err != nil {
		return nil, err
	}
	var to uint32
	if to, buf, err = codec.DecodeU32(buf); err != nil {
		return nil, err
	}
	p.ToSessionId = IncreaseId(to)
	var result uint8
	if result, buf, err = codec.DecodeU8(buf); err != nil {
		return nil, err
	}
	p.Result = HandshakeResult(result)
	if p.Payload, buf, err = codec.DecodeBytes(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// TcpAckAckConnection closes the 3-way stream handshake.
type TcpAckAckConnection struct {
	Sequence TempSeq
	Result   HandshakeResult
}

func (p *TcpAckAckConnection) Command() CommandCode { return CmdTcpAckAckConnection }

func (p *TcpAckAckConnection) EncodeFields(ctx *MergeContext) ([]byte, uint16, error) {
	var flags uint16
	var buf []byte
	var err error
	if buf, err = encodeVersion(&flags, buf); err != nil {
		return nil, 0, err
	}
	if buf, err = ctx.encodeSequence(p.Sequence, &flags, buf); err != nil {
		return nil, 0, err
	}
	if buf, err = codec.EncodeU8(uint8(p.Result), buf); err != nil {
		return nil, 0, err
	}
	return buf, flags, nil
}

func (p *TcpAckAckConnection) DecodeFields(ctx *MergeContext, flags uint16, buf []byte) ([]byte, error) {
	var err error
	if _, buf, err = decodeVersion(flags, buf); err != nil {
		return nil, err
	}
	if p.Sequence, buf, err = ctx.decodeSequence(flags, buf); err != nil {
		return nil, err
	}
	var result uint8
	if result, buf, err = codec.DecodeU8(buf); err != nil {
		return nil, err
	}
	p.Result = HandshakeResult(result)
	return buf, nil
}
