package protocol

import (
	"bdt/codec"
	"bdt/errors"
)

// Shared-field flag bits, positional from bit 0 (spec.md §4.1). Bit 6
// is the protocol/stack version field, always emitted regardless of
// merge state. Bits 7+ are reserved for each package's own fields.
const (
	FlagSequence = 1 << iota
	FlagToDeviceId
	FlagFromDeviceId
	FlagSendTime
	FlagDeviceDesc
	FlagMixKey
	FlagVersion
	FirstOwnBit = 7
)

// StackVersion is emitted, unconditionally, in every package.
const StackVersion uint8 = 1

// MergeContext is the per-PackageBox dictionary used to omit duplicate
// shared fields across packages sharing one box: the first package to
// carry a field writes it into the context; later packages that omit
// it (flag bit 0) read it back out. Decoding maintains the mirror of
// whatever the encoder did.
type MergeContext struct {
	sequence     *TempSeq
	toDeviceId   *DeviceId
	fromDeviceId *DeviceId
	sendTime     *BuckyTime
	deviceDesc   *DeviceDescriptor
	mixKey       *[16]byte
}

func NewMergeContext() *MergeContext { return &MergeContext{} }

// --- sequence ---

func (ctx *MergeContext) encodeSequence(v TempSeq, flags *uint16, buf []byte) ([]byte, error) {
	if ctx.sequence != nil && *ctx.sequence == v {
		return buf, nil
	}
	*flags |= FlagSequence
	val := v
	ctx.sequence = &val
	return codec.EncodeU32(uint32(v), buf)
}

func (ctx *MergeContext) decodeSequence(flags uint16, buf []byte) (TempSeq, []byte, error) {
	if flags&FlagSequence != 0 {
		v, rest, err := codec.DecodeU32(buf)
		if err != nil {
			return 0, nil, err
		}
		val := TempSeq(v)
		ctx.sequence = &val
		return val, rest, nil
	}
	if ctx.sequence == nil {
		return 0, nil, errors.New(errors.InvalidData, "merge context: sequence not set")
	}
	return *ctx.sequence, buf, nil
}

// --- to_device_id ---

func (ctx *MergeContext) encodeToDeviceId(v DeviceId, flags *uint16, buf []byte) ([]byte, error) {
	if ctx.toDeviceId != nil && *ctx.toDeviceId == v {
		return buf, nil
	}
	*flags |= FlagToDeviceId
	val := v
	ctx.toDeviceId = &val
	return EncodeDeviceId(v, buf)
}

func (ctx *MergeContext) decodeToDeviceId(flags uint16, buf []byte) (DeviceId, []byte, error) {
	if flags&FlagToDeviceId != 0 {
		v, rest, err := DecodeDeviceId(buf)
		if err != nil {
			return DeviceId{}, nil, err
		}
		ctx.toDeviceId = &v
		return v, rest, nil
	}
	if ctx.toDeviceId == nil {
		return DeviceId{}, nil, errors.New(errors.InvalidData, "merge context: to_device_id not set")
	}
	return *ctx.toDeviceId, buf, nil
}

// --- from_device_id ---

func (ctx *MergeContext) encodeFromDeviceId(v DeviceId, flags *uint16, buf []byte) ([]byte, error) {
	if ctx.fromDeviceId != nil && *ctx.fromDeviceId == v {
		return buf, nil
	}
	*flags |= FlagFromDeviceId
	val := v
	ctx.fromDeviceId = &val
	return EncodeDeviceId(v, buf)
}

func (ctx *MergeContext) decodeFromDeviceId(flags uint16, buf []byte) (DeviceId, []byte, error) {
	if flags&FlagFromDeviceId != 0 {
		v, rest, err := DecodeDeviceId(buf)
		if err != nil {
			return DeviceId{}, nil, err
		}
		ctx.fromDeviceId = &v
		return v, rest, nil
	}
	if ctx.fromDeviceId == nil {
		return DeviceId{}, nil, errors.New(errors.InvalidData, "merge context: from_device_id not set")
	}
	return *ctx.fromDeviceId, buf, nil
}

// --- send_time ---

func (ctx *MergeContext) encodeSendTime(v BuckyTime, flags *uint16, buf []byte) ([]byte, error) {
	if ctx.sendTime != nil && *ctx.sendTime == v {
		return buf, nil
	}
	*flags |= FlagSendTime
	val := v
	ctx.sendTime = &val
	return codec.EncodeU64(uint64(v), buf)
}

func (ctx *MergeContext) decodeSendTime(flags uint16, buf []byte) (BuckyTime, []byte, error) {
	if flags&FlagSendTime != 0 {
		v, rest, err := codec.DecodeU64(buf)
		if err != nil {
			return 0, nil, err
		}
		val := BuckyTime(v)
		ctx.sendTime = &val
		return val, rest, nil
	}
	if ctx.sendTime == nil {
		return 0, nil, errors.New(errors.InvalidData, "merge context: send_time not set")
	}
	return *ctx.sendTime, buf, nil
}

// --- device_desc ---

func (ctx *MergeContext) encodeDeviceDesc(v *DeviceDescriptor, flags *uint16, buf []byte) ([]byte, error) {
	if v == nil {
		return buf, nil
	}
	if ctx.deviceDesc != nil && ctx.deviceDesc.DeviceId == v.DeviceId && ctx.deviceDesc.UpdateTime == v.UpdateTime {
		return buf, nil
	}
	*flags |= FlagDeviceDesc
	ctx.deviceDesc = v
	return EncodeDeviceDescriptor(v, buf)
}

func (ctx *MergeContext) decodeDeviceDesc(flags uint16, buf []byte) (*DeviceDescriptor, []byte, error) {
	if flags&FlagDeviceDesc != 0 {
		v, rest, err := DecodeDeviceDescriptor(buf)
		if err != nil {
			return nil, nil, err
		}
		ctx.deviceDesc = v
		return v, rest, nil
	}
	if ctx.deviceDesc == nil {
		return nil, nil, errors.New(errors.InvalidData, "merge context: device_desc not set")
	}
	return ctx.deviceDesc, buf, nil
}

// --- mix_key ---

func (ctx *MergeContext) encodeMixKey(v [16]byte, flags *uint16, buf []byte) ([]byte, error) {
	if ctx.mixKey != nil && *ctx.mixKey == v {
		return buf, nil
	}
	*flags |= FlagMixKey
	val := v
	ctx.mixKey = &val
	return codec.EncodeFixedBytes(v[:], buf)
}

func (ctx *MergeContext) decodeMixKey(flags uint16, buf []byte) ([16]byte, []byte, error) {
	if flags&FlagMixKey != 0 {
		raw, rest, err := codec.DecodeFixedBytes(buf, 16)
		if err != nil {
			return [16]byte{}, nil, err
		}
		var v [16]byte
		copy(v[:], raw)
		ctx.mixKey = &v
		return v, rest, nil
	}
	if ctx.mixKey == nil {
		return [16]byte{}, nil, errors.New(errors.InvalidData, "merge context: mix_key not set")
	}
	return *ctx.mixKey, buf, nil
}

// encodeVersion/decodeVersion always carry the stack version byte; the
// flag bit is always set, matching "protocol/stack version fields are
// emitted in every package" (spec.md §4.1).
func encodeVersion(flags *uint16, buf []byte) ([]byte, error) {
	*flags |= FlagVersion
	return codec.EncodeU8(StackVersion, buf)
}

func decodeVersion(flags uint16, buf []byte) (uint8, []byte, error) {
	if flags&FlagVersion == 0 {
		return 0, nil, errors.New(errors.InvalidData, "package: version flag not set")
	}
	return codec.DecodeU8(buf)
}
