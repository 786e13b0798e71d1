package protocol

import "bdt/codec"

// Exchange is the first sub-package in a box sent to a peer that does
// not yet share the session key: it wraps a freshly generated AES key
// with the peer's RSA public key and signs the envelope (spec.md §4.2).
// The signature itself is computed/verified by bdt/crypto, which treats
// EncryptedKey/Signature as opaque blobs at the codec layer.
type Exchange struct {
	Sequence      TempSeq
	ToDeviceId    DeviceId
	SendTime      BuckyTime
	FromDeviceDesc *DeviceDescriptor
	MixKey        [16]byte
	EncryptedKey  []byte // AES key encrypted with the recipient's RSA public key
	Signature     []byte // signature over (sequence || to_device_id || send_time || encrypted_key)
}

func (p *Exchange) Command() CommandCode { return CmdExchange }

func (p *Exchange) EncodeFields(ctx *MergeContext) ([]byte, uint16, error) {
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
	if buf, err = ctx.encodeSendTime(p.SendTime, &flags, buf); err != nil {
		return nil, 0, err
	}
	if buf, err = ctx.encodeDeviceDesc(p.FromDeviceDesc, &flags, buf); err != nil {
		return nil, 0, err
	}
	if buf, err = ctx.encodeMixKey(p.MixKey, &flags, buf); err != nil {
		return nil, 0, err
	}
	if buf, err = codec.EncodeBytes(p.EncryptedKey, buf); err != nil {
		return nil, 0, err
	}
	if buf, err = codec.EncodeBytes(p.Signature, buf); err != nil {
		return nil, 0, err
	}
	return buf, flags, nil
}

func (p *Exchange) DecodeFields(ctx *MergeContext, flags uint16, buf []byte) ([]byte, error) {
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
	if p.SendTime, buf, err = ctx.decodeSendTime(flags, buf); err != nil {
		return nil, err
	}
	if p.FromDeviceDesc, buf, err = ctx.decodeDeviceDesc(flags, buf); err != nil {
		return nil, err
	}
	if p.MixKey, buf, err = ctx.decodeMixKey(flags, buf); err != nil {
		return nil, err
	}
	if p.EncryptedKey, buf, err = codec.DecodeBytes(buf); err != nil {
		return nil, err
	}
	if p.Signature, buf, err = codec.DecodeBytes(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// SynTunnel opens (or resumes) a sub-tunnel: it is nothing more than
// the shared envelope fields, since its entire job is to carry the
// sender's device descriptor (and hence its update_time) to the peer.
type SynTunnel struct {
	Sequence       TempSeq
	FromDeviceDesc *DeviceDescriptor
	SendTime       BuckyTime
}

func (p *SynTunnel) Command() CommandCode { return CmdSynTunnel }

func (p *SynTunnel) EncodeFields(ctx *MergeContext) ([]byte, uint16, error) {
	var flags uint16
	var buf []byte
	var err error
	if buf, err = encodeVersion(&flags, buf); err != nil {
		return nil, 0, err
	}
	if buf, err = ctx.encodeSequence(p.Sequence, &flags, buf); err != nil {
		return nil, 0, err
	}
	if buf, err = ctx.encodeSendTime(p.SendTime, &flags, buf); err != nil {
		return nil, 0, err
	}
	if buf, err = ctx.encodeDeviceDesc(p.FromDeviceDesc, &flags, buf); err != nil {
		return nil, 0, err
	}
	return buf, flags, nil
}

func (p *SynTunnel) DecodeFields(ctx *MergeContext, flags uint16, buf []byte) ([]byte, error) {
	var err error
	if _, buf, err = decodeVersion(flags, buf); err != nil {
		return nil, err
	}
	if p.Sequence, buf, err = ctx.decodeSequence(flags, buf); err != nil {
		return nil, err
	}
	if p.SendTime, buf, err = ctx.decodeSendTime(flags, buf); err != nil {
		return nil, err
	}
	if p.FromDeviceDesc, buf, err = ctx.decodeDeviceDesc(flags, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// AckTunnel replies to a SynTunnel, carrying the acker's own
// descriptor (so the caller learns remote_ts) and the handshake result.
type AckTunnel struct {
	Sequence       TempSeq
	AckSequence    TempSeq // the SynTunnel sequence being acknowledged
	SendTime       BuckyTime
	FromDeviceDesc *DeviceDescriptor
	Result         HandshakeResult
}

func (p *AckTunnel) Command() CommandCode { return CmdAckTunnel }

func (p *AckTunnel) EncodeFields(ctx *MergeContext) ([]byte, uint16, error) {
	var flags uint16
	var buf []byte
	var err error
	if buf, err = encodeVersion(&flags, buf); err != nil {
		return nil, 0, err
	}
	if buf, err = ctx.encodeSequence(p.Sequence, &flags, buf); err != nil {
		return nil, 0, err
	}
	if buf, err = ctx.encodeSendTime(p.SendTime, &flags, buf); err != nil {
		return nil, 0, err
	}
	if buf, err = ctx.encodeDeviceDesc(p.FromDeviceDesc, &flags, buf); err != nil {
		return nil, 0, err
	}
	if buf, err = codec.EncodeU32(uint32(p.AckSequence), buf); err != nil {
		return nil, 0, err
	}
	if buf, err = codec.EncodeU8(uint8(p.Result), buf); err != nil {
		return nil, 0, err
	}
	return buf, flags, nil
}

func (p *AckTunnel) DecodeFields(ctx *MergeContext, flags uint16, buf []byte) ([]byte, error) {
	var err error
	if _, buf, err = decodeVersion(flags, buf); err != nil {
		return nil, err
	}
	if p.Sequence, buf, err = ctx.decodeSequence(flags, buf); err != nil {
		return nil, err
	}
	if p.SendTime, buf, err = ctx.decodeSendTime(flags, buf); err != nil {
		return nil, err
	}
	if p.FromDeviceDesc, buf, err = ctx.decodeDeviceDesc(flags, buf); err != nil {
		return nil, err
	}
	var ackSeq uint32
	if ackSeq, buf, err = codec.DecodeU32(buf); err != nil {
		return nil, err
	}
	p.AckSequence = TempSeq(ackSeq)
	var result uint8
	if result, buf, err = codec.DecodeU8(buf); err != nil {
		return nil, err
	}
	p.Result = HandshakeResult(result)
	return buf, nil
}

// AckAckTunnel closes the tunnel handshake 3-way.
type AckAckTunnel struct {
	Sequence TempSeq
	Result   HandshakeResult
}

func (p *AckAckTunnel) Command() CommandCode { return CmdAckAckTunnel }

func (p *AckAckTunnel) EncodeFields(ctx *MergeContext) ([]byte, uint16, error) {
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

func (p *AckAckTunnel) DecodeFields(ctx *MergeContext, flags uint16, buf []byte) ([]byte, error) {
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

// PingTunnel is the keep-alive probe (spec.md §4.3/§4.4).
type PingTunnel struct {
	Sequence TempSeq
	SendTime BuckyTime
}

func (p *PingTunnel) Command() CommandCode { return CmdPingTunnel }

func (p *PingTunnel) EncodeFields(ctx *MergeContext) ([]byte, uint16, error) {
	var flags uint16
	var buf []byte
	var err error
	if buf, err = encodeVersion(&flags, buf); err != nil {
		return nil, 0, err
	}
	if buf, err = ctx.encodeSequence(p.Sequence, &flags, buf); err != nil {
		return nil, 0, err
	}
	if buf, err = ctx.encodeSendTime(p.SendTime, &flags, buf); err != nil {
		return nil, 0, err
	}
	return buf, flags, nil
}

func (p *PingTunnel) DecodeFields(ctx *MergeContext, flags uint16, buf []byte) ([]byte, error) {
	var err error
	if _, buf, err = decodeVersion(flags, buf); err != nil {
		return nil, err
	}
	if p.Sequence, buf, err = ctx.decodeSequence(flags, buf); err != nil {
		return nil, err
	}
	if p.SendTime, buf, err = ctx.decodeSendTime(flags, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// PingTunnelResp echoes the ping's sequence so the sender can compute RTT.
type PingTunnelResp struct {
	Sequence TempSeq
}

func (p *PingTunnelResp) Command() CommandCode { return CmdPingTunnelResp }

func (p *PingTunnelResp) EncodeFields(ctx *MergeContext) ([]byte, uint16, error) {
	var flags uint16
	var buf []byte
	var err error
	if buf, err = encodeVersion(&flags, buf); err != nil {
		return nil, 0, err
	}
	if buf, err = ctx.encodeSequence(p.Sequence, &flags, buf); err != nil {
		return nil, 0, err
	}
	return buf, flags, nil
}

func (p *PingTunnelResp) DecodeFields(ctx *MergeContext, flags uint16, buf []byte) ([]byte, error) {
	var err error
	if _, buf, err = decodeVersion(flags, buf); err != nil {
		return nil, err
	}
	if p.Sequence, buf, err = ctx.decodeSequence(flags, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
