package protocol

import "bdt/codec"

// PieceData, PieceControl, and ChannelEstimate belong to the chunk/NDN
// layer, which spec.md §1 treats as an external collaborator above the
// stream+datagram API. The core only needs to frame and route them;
// their contents stay opaque blobs, matching the open question in
// spec.md §9 about ServiceContract/TrafficContract/ChunkTransContract/
// SNReceipt/DSGReceipt having stub decoders until their format
// stabilizes.

type chunkBlob struct {
	Sequence TempSeq
	Payload  []byte
}

func (p *chunkBlob) encodeFields(ctx *MergeContext) ([]byte, uint16, error) {
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

func (p *chunkBlob) decodeFields(ctx *MergeContext, flags uint16, buf []byte) ([]byte, error) {
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

type PieceData struct{ chunkBlob }

func (p *PieceData) Command() CommandCode { return CmdPieceData }
func (p *PieceData) EncodeFields(ctx *MergeContext) ([]byte, uint16, error) {
	return p.encodeFields(ctx)
}
func (p *PieceData) DecodeFields(ctx *MergeContext, flags uint16, buf []byte) ([]byte, error) {
	return p.decodeFields(ctx, flags, buf)
}

type PieceControl struct{ chunkBlob }

func (p *PieceControl) Command() CommandCode { return CmdPieceControl }
func (p *PieceControl) EncodeFields(ctx *MergeContext) ([]byte, uint16, error) {
	return p.encodeFields(ctx)
}
func (p *PieceControl) DecodeFields(ctx *MergeContext, flags uint16, buf []byte) ([]byte, error) {
	return p.decodeFields(ctx, flags, buf)
}

type ChannelEstimate struct{ chunkBlob }

func (p *ChannelEstimate) Command() CommandCode { return CmdChannelEstimate }
func (p *ChannelEstimate) EncodeFields(ctx *MergeContext) ([]byte, uint16, error) {
	return p.encodeFields(ctx)
}
func (p *ChannelEstimate) DecodeFields(ctx *MergeContext, flags uint16, buf []byte) ([]byte, error) {
	return p.decodeFields(ctx, flags, buf)
}
