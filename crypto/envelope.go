package crypto

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"

	"bdt/errors"
	"bdt/protocol"
)

// signedPayload returns the bytes signed/verified over an Exchange:
// sequence || to_device_id || send_time || encrypted_key (spec.md §4.2).
func signedPayload(seq protocol.TempSeq, to protocol.DeviceId, sendTime protocol.BuckyTime, encryptedKey []byte) []byte {
	var buf []byte
	buf = append(buf, byte(seq>>24), byte(seq>>16), byte(seq>>8), byte(seq))
	buf = append(buf, to[:]...)
	buf = append(buf, byte(sendTime>>56), byte(sendTime>>48), byte(sendTime>>40), byte(sendTime>>32),
		byte(sendTime>>24), byte(sendTime>>16), byte(sendTime>>8), byte(sendTime))
	buf = append(buf, encryptedKey...)
	return buf
}

func sign(priv *PrivateKey, payload []byte) ([]byte, error) {
	digest := sha256.Sum256(payload)
	sig, err := rsa.SignPSS(rand.Reader, priv.key, crypto.SHA256, digest[:], nil)
	if err != nil {
		return nil, errors.Wrap(errors.InvalidData, "sign exchange", err)
	}
	return sig, nil
}

func verify(pub *PublicKey, payload, sig []byte) error {
	digest := sha256.Sum256(payload)
	if err := rsa.VerifyPSS(pub.key, crypto.SHA256, digest[:], sig, nil); err != nil {
		return errors.Wrap(errors.Reject, "verify exchange signature", err)
	}
	return nil
}

// BuildExchange constructs a signed Exchange sub-package wrapping key
// for peerPub, addressed to peerDeviceId.
func BuildExchange(localPriv *PrivateKey, localDesc *protocol.DeviceDescriptor,
	peerPub *PublicKey, peerDeviceId protocol.DeviceId,
	key AesKey, seq protocol.TempSeq, sendTime protocol.BuckyTime) (*protocol.Exchange, error) {

	encryptedKey, err := wrapKey(peerPub, key)
	if err != nil {
		return nil, err
	}
	sig, err := sign(localPriv, signedPayload(seq, peerDeviceId, sendTime, encryptedKey))
	if err != nil {
		return nil, err
	}
	return &protocol.Exchange{
		Sequence:       seq,
		ToDeviceId:     peerDeviceId,
		SendTime:       sendTime,
		FromDeviceDesc: localDesc,
		MixKey:         key.MixKey(),
		EncryptedKey:   encryptedKey,
		Signature:      sig,
	}, nil
}

// VerifyAndUnwrapExchange validates ex's signature against the sender's
// own descriptor, checks the recipient matches localDeviceId, and
// unwraps the AES key with localPriv. Per spec.md §4.2/§8, a flipped
// signature or a mismatched recipient is rejected even if the rest is
// well-formed.
func VerifyAndUnwrapExchange(ex *protocol.Exchange, localDeviceId protocol.DeviceId, localPriv *PrivateKey) (AesKey, error) {
	var key AesKey
	if ex.ToDeviceId != localDeviceId {
		return key, errors.New(errors.Reject, "exchange addressed to a different device")
	}
	if ex.FromDeviceDesc == nil {
		return key, errors.New(errors.InvalidData, "exchange missing sender descriptor")
	}
	senderPub, err := PublicKeyFromDER(ex.FromDeviceDesc.PublicKey)
	if err != nil {
		return key, err
	}
	payload := signedPayload(ex.Sequence, ex.ToDeviceId, ex.SendTime, ex.EncryptedKey)
	if err := verify(senderPub, payload, ex.Signature); err != nil {
		return key, err
	}
	key, err = unwrapKey(localPriv, ex.EncryptedKey)
	if err != nil {
		return key, err
	}
	if key.MixKey() != ex.MixKey {
		return key, errors.New(errors.Reject, "exchange mix_key does not match unwrapped key")
	}
	return key, nil
}

// sealWithKey AES-256-GCM-seals plaintext under key, prefixing a random
// 12-byte nonce and binding aad for integrity (the box's mix_key and
// exchange-presence flag, so a box cannot be replayed under a
// different framing).
func sealWithKey(key AesKey, plaintext, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, errors.Wrap(errors.InvalidData, "aes cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(errors.InvalidData, "aes-gcm", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Wrap(errors.InvalidData, "nonce", err)
	}
	sealed := gcm.Seal(nil, nonce, plaintext, aad)
	return append(nonce, sealed...), nil
}

func openWithKey(key AesKey, sealed, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, errors.Wrap(errors.InvalidData, "aes cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(errors.InvalidData, "aes-gcm", err)
	}
	ns := gcm.NonceSize()
	if len(sealed) < ns {
		return nil, errors.New(errors.InvalidData, "sealed box too short for nonce")
	}
	nonce, ct := sealed[:ns], sealed[ns:]
	pt, err := gcm.Open(nil, nonce, ct, aad)
	if err != nil {
		return nil, errors.Wrap(errors.Reject, "aes-gcm open", err)
	}
	return pt, nil
}
