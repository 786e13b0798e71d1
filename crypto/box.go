package crypto

import (
	"bdt/errors"
	"bdt/protocol"
)

// BoxMarker is the leading byte of an encrypted PackageBox frame that
// carries no Exchange prefix (the mix key is already bound). It is
// chosen outside the command-code range (spec.md §6: command codes run
// 0x00-0x62) so the TCP/UDP framing layer can still tell "this is a
// PackageBox frame" apart from raw data by inspecting one leading byte
// (spec.md §4.4), without needing every box to carry an Exchange.
const BoxMarker byte = 0xFE

// IsPackageBoxFrame reports whether the leading byte of a frame marks
// it as a PackageBox (either a known command byte, because the frame
// opens with a plaintext Exchange, or BoxMarker for a keyed box).
func IsPackageBoxFrame(lead byte) bool {
	return lead == BoxMarker || lead == byte(protocol.CmdExchange)
}

// EncryptBoxForPeer renders pkgs into the wire bytes of a PackageBox
// addressed to peer. If no session key is yet bound for peer, peerPub
// and peerDesc must be supplied so a fresh key can be generated and
// wrapped in a prepended Exchange (spec.md §4.2); the newly generated
// binding is installed locally so subsequent sends on this process
// reuse it without re-exchanging.
func EncryptBoxForPeer(store *KeyStore, localPriv *PrivateKey, localDesc *protocol.DeviceDescriptor,
	peer protocol.DeviceId, peerPub *PublicKey, pkgs []protocol.Package,
	seq protocol.TempSeq, now protocol.BuckyTime) ([]byte, AesKey, error) {

	plaintext, err := protocol.EncodePlainPackages(pkgs)
	if err != nil {
		return nil, AesKey{}, err
	}

	if key, mixKey, ok := store.LookupByPeer(peer); ok {
		header := make([]byte, 0, 1+16)
		header = append(header, BoxMarker)
		header = append(header, mixKey[:]...)
		sealed, err := sealWithKey(key, plaintext, header)
		if err != nil {
			return nil, AesKey{}, err
		}
		wire := make([]byte, 0, len(header)+len(sealed))
		wire = append(wire, header...)
		wire = append(wire, sealed...)
		return wire, key, nil
	}

	if peerPub == nil {
		return nil, AesKey{}, errors.New(errors.NotFound, "no session key bound and no public key supplied to exchange one")
	}
	key, err := GenerateAesKey()
	if err != nil {
		return nil, AesKey{}, err
	}
	ex, err := BuildExchange(localPriv, localDesc, peerPub, peer, key, seq, now)
	if err != nil {
		return nil, AesKey{}, err
	}
	exBytes, err := protocol.EncodePackage(ex, protocol.NewMergeContext(), nil)
	if err != nil {
		return nil, AesKey{}, err
	}
	sealed, err := sealWithKey(key, plaintext, exBytes)
	if err != nil {
		return nil, AesKey{}, err
	}
	store.Install(key.MixKey(), key, peer)

	wire := make([]byte, 0, len(exBytes)+len(sealed))
	wire = append(wire, exBytes...)
	wire = append(wire, sealed...)
	return wire, key, nil
}

// DecryptBoxFromPeer parses and opens a PackageBox frame, installing
// any Exchange-carried key into store, and returns the sending peer and
// the decoded packages.
func DecryptBoxFromPeer(store *KeyStore, localDeviceId protocol.DeviceId, localPriv *PrivateKey, wire []byte) (protocol.DeviceId, []protocol.Package, error) {
	if len(wire) < 1 {
		return protocol.DeviceId{}, nil, errors.New(errors.OutOfLimit, "box frame: empty")
	}

	var key AesKey
	var peer protocol.DeviceId
	var aad []byte
	var sealed []byte

	switch wire[0] {
	case byte(protocol.CmdExchange):
		ctx := protocol.NewMergeContext()
		pkg, remaining, err := protocol.DecodePackage(wire, ctx)
		if err != nil {
			return protocol.DeviceId{}, nil, err
		}
		ex, ok := pkg.(*protocol.Exchange)
		if !ok {
			return protocol.DeviceId{}, nil, errors.New(errors.InvalidFormat, "leading exchange byte did not decode to an Exchange")
		}
		consumed := len(wire) - len(remaining)
		aad = wire[:consumed]
		sealed = remaining

		key, err = store.InstallFromExchange(ex, localDeviceId, localPriv)
		if err != nil {
			return protocol.DeviceId{}, nil, err
		}
		peer = ex.FromDeviceDesc.DeviceId

	case BoxMarker:
		if len(wire) < 17 {
			return protocol.DeviceId{}, nil, errors.New(errors.OutOfLimit, "box frame: short mix key")
		}
		var mixKey [16]byte
		copy(mixKey[:], wire[1:17])
		aad = wire[:17]
		sealed = wire[17:]
		var err error
		key, peer, err = store.RequireLookup(mixKey)
		if err != nil {
			return protocol.DeviceId{}, nil, err
		}

	default:
		return protocol.DeviceId{}, nil, errors.New(errors.InvalidFormat, "not a package box frame")
	}

	plaintext, err := openWithKey(key, sealed, aad)
	if err != nil {
		return protocol.DeviceId{}, nil, err
	}
	pkgs, err := protocol.DecodePlainPackages(plaintext)
	if err != nil {
		return protocol.DeviceId{}, nil, err
	}
	return peer, pkgs, nil
}
