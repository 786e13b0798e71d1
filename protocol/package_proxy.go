package protocol

import "bdt/codec"

// SynProxy asks an SN (or any third-party relay) to forward an inner
// package to ProxyDeviceId, used for the proxy SubTunnel kind
// (SPEC_FULL.md §4 supplemented feature) and for reverse-connect
// assistance (spec.md §4.4/§4.5).
type SynProxy struct {
	Sequence      TempSeq
	ProxyDeviceId DeviceId
	InnerPackage  []byte // an encoded SynTunnel/TcpSynConnection, opaque here
}

func (p *SynProxy) Command() CommandCode { return CmdSynProxy }

func (p *SynProxy) EncodeFields(ctx *MergeContext) ([]byte, uint16, error) {
	var flags uint16
	var buf []byte
	var err error
	if buf, err = encodeVersion(&flags, buf); err != nil {
		return nil, 0, err
	}
	if buf, err = ctx.encodeSequence(p.Sequence, &flags, buf); err != nil {
		return nil, 0, err
	}
	if buf, err = EncodeDeviceId(p.ProxyDeviceId, buf); err != nil {
		return nil, 0, err
	}
	if buf, err = codec.EncodeBytes(p.InnerPackage, buf); err != nil {
		return nil, 0, err
	}
	return buf, flags, nil
}

func (p *SynProxy) DecodeFields(ctx *MergeContext, flags uint16, buf []byte) ([]byte, error) {
	var err error
	if _, buf, err = decodeVersion(flags, buf); err != nil {
		return nil, err
	}
	if p.Sequence, buf, err = ctx.decodeSequence(flags, buf); err != nil {
		return nil, err
	}
	if p.ProxyDeviceId, buf, err = DecodeDeviceId(buf); err != nil {
		return nil, err
	}
	if p.InnerPackage, buf, err = codec.DecodeBytes(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// AckProxy answers a SynProxy.
type AckProxy struct {
	Sequence TempSeq
	Result   HandshakeResult
}

func (p *AckProxy) Command() CommandCode { return CmdAckProxy }

func (p *AckProxy) EncodeFields(ctx *MergeContext) ([]byte, uint16, error) {
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

func (p *AckProxy) DecodeFields(ctx *MergeContext, flags uint16, buf []byte) ([]byte, error) {
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
