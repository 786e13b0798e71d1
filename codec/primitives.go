package codec

import "bdt/errors"

// EncodeU8 appends a single byte.
func EncodeU8(v uint8, buf []byte) ([]byte, error) { return append(buf, v), nil }

// DecodeU8 reads a single byte.
func DecodeU8(buf []byte) (uint8, []byte, error) {
	if len(buf) < 1 {
		return 0, nil, errors.New(errors.OutOfLimit, "u8: short buffer")
	}
	return buf[0], buf[1:], nil
}

// EncodeBool appends a boolean as one byte.
func EncodeBool(v bool, buf []byte) ([]byte, error) {
	if v {
		return append(buf, 1), nil
	}
	return append(buf, 0), nil
}

// DecodeBool reads a boolean byte.
func DecodeBool(buf []byte) (bool, []byte, error) {
	v, rest, err := DecodeU8(buf)
	if err != nil {
		return false, nil, err
	}
	return v != 0, rest, nil
}

// EncodeU16 appends a big-endian uint16.
func EncodeU16(v uint16, buf []byte) ([]byte, error) {
	return append(buf, byte(v>>8), byte(v)), nil
}

// DecodeU16 reads a big-endian uint16.
func DecodeU16(buf []byte) (uint16, []byte, error) {
	if len(buf) < 2 {
		return 0, nil, errors.New(errors.OutOfLimit, "u16: short buffer")
	}
	return uint16(buf[0])<<8 | uint16(buf[1]), buf[2:], nil
}

// EncodeU32 appends a big-endian uint32.
func EncodeU32(v uint32, buf []byte) ([]byte, error) {
	return append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v)), nil
}

// DecodeU32 reads a big-endian uint32.
func DecodeU32(buf []byte) (uint32, []byte, error) {
	if len(buf) < 4 {
		return 0, nil, errors.New(errors.OutOfLimit, "u32: short buffer")
	}
	v := uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
	return v, buf[4:], nil
}

// EncodeU64 appends a big-endian uint64.
func EncodeU64(v uint64, buf []byte) ([]byte, error) {
	return append(buf,
		byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
		byte(v>>24), byte(v>>16), byte(v>>8), byte(v),
	), nil
}

// DecodeU64 reads a big-endian uint64.
func DecodeU64(buf []byte) (uint64, []byte, error) {
	if len(buf) < 8 {
		return 0, nil, errors.New(errors.OutOfLimit, "u64: short buffer")
	}
	v := uint64(buf[0])<<56 | uint64(buf[1])<<48 | uint64(buf[2])<<40 | uint64(buf[3])<<32 |
		uint64(buf[4])<<24 | uint64(buf[5])<<16 | uint64(buf[6])<<8 | uint64(buf[7])
	return v, buf[8:], nil
}

// MaxStringLen is the hard cap on encoded string byte length (u16 prefix).
const MaxStringLen = 65535

// EncodeString appends a u16-length-prefixed UTF-8 string.
func EncodeString(v string, buf []byte) ([]byte, error) {
	if len(v) > MaxStringLen {
		return nil, errors.Newf(errors.OutOfLimit, "string length %d exceeds %d", len(v), MaxStringLen)
	}
	buf, _ = EncodeU16(uint16(len(v)), buf)
	return append(buf, v...), nil
}

// DecodeString reads a u16-length-prefixed UTF-8 string.
func DecodeString(buf []byte) (string, []byte, error) {
	n, rest, err := DecodeU16(buf)
	if err != nil {
		return "", nil, err
	}
	if len(rest) < int(n) {
		return "", nil, errors.New(errors.OutOfLimit, "string: short buffer")
	}
	return string(rest[:n]), rest[n:], nil
}

// EncodeBytes appends a variable-size-length-prefixed byte blob, used
// for opaque payloads (RSA cipher blocks, signatures, raw data).
func EncodeBytes(v []byte, buf []byte) ([]byte, error) {
	buf, err := EncodeUSize(uint64(len(v)), buf)
	if err != nil {
		return nil, err
	}
	return append(buf, v...), nil
}

// DecodeBytes reads a variable-size-length-prefixed byte blob.
func DecodeBytes(buf []byte) ([]byte, []byte, error) {
	n, rest, err := DecodeUSize(buf)
	if err != nil {
		return nil, nil, err
	}
	if uint64(len(rest)) < n {
		return nil, nil, errors.New(errors.OutOfLimit, "bytes: short buffer")
	}
	out := make([]byte, n)
	copy(out, rest[:n])
	return out, rest[n:], nil
}

// EncodeFixedBytes appends exactly len(v) bytes with no length prefix,
// used for fixed-size fields like a 16-byte mix key.
func EncodeFixedBytes(v []byte, buf []byte) ([]byte, error) {
	return append(buf, v...), nil
}

// DecodeFixedBytes reads exactly n bytes with no length prefix.
func DecodeFixedBytes(buf []byte, n int) ([]byte, []byte, error) {
	if len(buf) < n {
		return nil, nil, errors.New(errors.OutOfLimit, "fixed bytes: short buffer")
	}
	out := make([]byte, n)
	copy(out, buf[:n])
	return out, buf[n:], nil
}
