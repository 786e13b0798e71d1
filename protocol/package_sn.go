package protocol

import "bdt/codec"

// The SN (rendezvous) family is an external collaborator per spec.md §1:
// the core only needs a stable envelope to carry these over a
// PackageBox, not a resolved application schema. Per spec.md §9's open
// question, the optional signed service-receipt these may carry is
// feature-flagged and unresolved at the codec layer, so it is left as
// an opaque blob rather than guessed at.

type snBlob struct {
	Sequence TempSeq
	Payload  []byte
}

func (p *snBlob) encodeFields(ctx *MergeContext) ([]byte, uint16, error) {
	var flags uint16
	var buf []byte
	var err error
	if buf, err = encodeVersion(&flags, buf); err != nil {
		return nil, 0, err
	}
	if buf, err = ctx.encodeSequence(p.Sequence, &flags, buf); err != nil {
		return nil, 0, err
	}
	if buf, err = codec.EncodeBytes(p.Payload, buf); err != nil {
		return nil, 0, err
	}
	return buf, flags, nil
}

func (p *snBlob) decodeFields(ctx *MergeContext, flags uint16, buf []byte) ([]byte, error) {
	var err error
	if _, buf, err = decodeVersion(flags, buf); err != nil {
		return nil, err
	}
	if p.Sequence, buf, err = ctx.decodeSequence(flags, buf); err != nil {
		return nil, err
	}
	if p.Payload, buf, err = codec.DecodeBytes(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

type SnCall struct{ snBlob }

func (p *SnCall) Command() CommandCode { return CmdSnCall }
func (p *SnCall) EncodeFields(ctx *MergeContext) ([]byte, uint16, error) { return p.encodeFields(ctx) }
func (p *SnCall) DecodeFields(ctx *MergeContext, flags uint16, buf []byte) ([]byte, error) {
	return p.decodeFields(ctx, flags, buf)
}

type SnCallResp struct{ snBlob }

func (p *SnCallResp) Command() CommandCode { return CmdSnCallResp }
func (p *SnCallResp) EncodeFields(ctx *MergeContext) ([]byte, uint16, error) {
	return p.encodeFields(ctx)
}
func (p *SnCallResp) DecodeFields(ctx *MergeContext, flags uint16, buf []byte) ([]byte, error) {
	return p.decodeFields(ctx, flags, buf)
}

type SnPing struct{ snBlob }

func (p *SnPing) Command() CommandCode { return CmdSnPing }
func (p *SnPing) EncodeFields(ctx *MergeContext) ([]byte, uint16, error) { return p.encodeFields(ctx) }
func (p *SnPing) DecodeFields(ctx *MergeContext, flags uint16, buf []byte) ([]byte, error) {
	return p.decodeFields(ctx, flags, buf)
}

type SnPingResp struct{ snBlob }

func (p *SnPingResp) Command() CommandCode { return CmdSnPingResp }
func (p *SnPingResp) EncodeFields(ctx *MergeContext) ([]byte, uint16, error) {
	return p.encodeFields(ctx)
}
func (p *SnPingResp) DecodeFields(ctx *MergeContext, flags uint16, buf []byte) ([]byte, error) {
	return p.decodeFields(ctx, flags, buf)
}

// SnCalled is delivered by the SN to the callee when a caller asks to
// be connected: it carries the caller's SynTunnel intent, an optional
// SessionData (stream syn), and the caller's candidate reverse
// endpoints for hole-punch (spec.md §4.5, §8 scenario 2).
type SnCalled struct {
	Sequence         TempSeq
	PeerDesc         *DeviceDescriptor
	SynSeq           TempSeq
	HasSessionData   bool
	FromSessionId    IncreaseId
	ToVPort          uint16
	Question         []byte
	ReverseEndpoints []Endpoint
}

func (p *SnCalled) Command() CommandCode { return CmdSnCalled }

const flagCalledSession = 1 << FirstOwnBit

func (p *SnCalled) EncodeFields(ctx *MergeContext) ([]byte, uint16, error) {
	var flags uint16
	var buf []byte
	var err error
	if buf, err = encodeVersion(&flags, buf); err != nil {
		return nil, 0, err
	}
	if buf, err = ctx.encodeSequence(p.Sequence, &flags, buf); err != nil {
		return nil, 0, err
	}
	if buf, err = ctx.encodeDeviceDesc(p.PeerDesc, &flags, buf); err != nil {
		return nil, 0, err
	}
	if buf, err = codec.EncodeU32(uint32(p.SynSeq), buf); err != nil {
		return nil, 0, err
	}
	if buf, err = codec.EncodeList(p.ReverseEndpoints, buf, EncodeEndpoint); err != nil {
		return nil, 0, err
	}
	if p.HasSessionData {
		flags |= flagCalledSession
		if buf, err = codec.EncodeU32(uint32(p.FromSessionId), buf); err != nil {
			return nil, 0, err
		}
		if buf, err = codec.EncodeU16(p.ToVPort, buf); err != nil {
			return nil, 0, err
		}
		if buf, err = codec.EncodeBytes(p.Question, buf); err != nil {
			return nil, 0, err
		}
	}
	return buf, flags, nil
}

func (p *SnCalled) DecodeFields(ctx *MergeContext, flags uint16, buf []byte) ([]byte, error) {
	var err error
	if _, buf, err = decodeVersion(flags, buf); err != nil {
		return nil, err
	}
	if p.Sequence, buf, err = ctx.decodeSequence(flags, buf); err != nil {
		return nil, err
	}
	if p.PeerDesc, buf, err = ctx.decodeDeviceDesc(flags, buf); err != nil {
		return nil, err
	}
	var synSeq uint32
	if synSeq, buf, err = codec.DecodeU32(buf); err != nil {
		return nil, err
	}
	p.SynSeq = TempSeq(synSeq)
	if p.ReverseEndpoints, buf, err = codec.DecodeList(buf, DecodeEndpoint); err != nil {
		return nil, err
	}
	p.HasSessionData = flags&flagCalledSession != 0
	if p.HasSessionData {
		var from uint32
		if from, buf, err = codec.DecodeU32(buf); err != nil {
			return nil, err
		}
		p.FromSessionId = IncreaseId(from)
		if p.ToVPort, buf, err = codec.DecodeU16(buf); err != nil {
			return nil, err
		}
		if p.Question, buf, err = codec.DecodeBytes(buf); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// SnCalledResp acknowledges an SnCalled back to the SN.
type SnCalledResp struct {
	Sequence TempSeq
	Result   HandshakeResult
}

func (p *SnCalledResp) Command() CommandCode { return CmdSnCalledResp }

func (p *SnCalledResp) EncodeFields(ctx *MergeContext) ([]byte, uint16, error) {
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

func (p *SnCalledResp) DecodeFields(ctx *MergeContext, flags uint16, buf []byte) ([]byte, error) {
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
