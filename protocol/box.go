package protocol

import (
	"bdt/codec"
)

// EncodePackage writes cmd(u8) || flags(u16) || fields… for one
// package, consulting/updating ctx for merge-compressible fields.
func EncodePackage(pkg Package, ctx *MergeContext, buf []byte) ([]byte, error) {
	fields, flags, err := pkg.EncodeFields(ctx)
	if err != nil {
		return nil, err
	}
	buf, err = codec.EncodeU8(uint8(pkg.Command()), buf)
	if err != nil {
		return nil, err
	}
	buf, err = codec.EncodeU16(flags, buf)
	if err != nil {
		return nil, err
	}
	return append(buf, fields...), nil
}

// DecodePackage reads one package off buf, consulting/updating ctx.
func DecodePackage(buf []byte, ctx *MergeContext) (Package, []byte, error) {
	cmdByte, rest, err := codec.DecodeU8(buf)
	if err != nil {
		return nil, nil, err
	}
	pkg, err := NewPackage(CommandCode(cmdByte))
	if err != nil {
		return nil, nil, err
	}
	flags, rest, err := codec.DecodeU16(rest)
	if err != nil {
		return nil, nil, err
	}
	rest, err = pkg.DecodeFields(ctx, flags, rest)
	if err != nil {
		return nil, nil, err
	}
	return pkg, rest, nil
}

// PackageBox is the ordered set of packages sharing one MergeContext,
// the unit of encryption under one AesKey (spec.md §3/§4.2).
type PackageBox struct {
	MixKey   [16]byte
	Packages []Package
}

// EncodePlainPackages encodes the packages in order, sharing one
// MergeContext, WITHOUT the surrounding encryption — bdt/crypto wraps
// this with an Exchange prefix (if needed) and AES-GCM sealing.
func EncodePlainPackages(pkgs []Package) ([]byte, error) {
	ctx := NewMergeContext()
	var buf []byte
	var err error
	for _, p := range pkgs {
		buf, err = EncodePackage(p, ctx, buf)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// DecodePlainPackages decodes a sequence of packages sharing one
// MergeContext until buf is exhausted.
func DecodePlainPackages(buf []byte) ([]Package, error) {
	ctx := NewMergeContext()
	var pkgs []Package
	for len(buf) > 0 {
		var pkg Package
		var err error
		pkg, buf, err = DecodePackage(buf, ctx)
		if err != nil {
			return nil, err
		}
		pkgs = append(pkgs, pkg)
	}
	return pkgs, nil
}

// RawData is an opaque payload (chunk data, datagram bytes) carried
// after the package envelope on the same socket frame (spec.md §3).
type RawData struct {
	Payload []byte
}

// FrameHeaderLen is the framing overhead budgeted out of the UDP MTU
// for raw-data frames (spec.md §4.3: "12-byte framing overhead").
const FrameHeaderLen = 12
