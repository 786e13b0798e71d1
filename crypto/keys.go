// Package crypto implements the AES session-key establishment envelope
// (spec.md §4.2): RSA key wrapping + signing, AES-GCM box sealing, and
// the process-wide mix-key -> session-key binding cache.
//
// RSA/AES/SHA have no ecosystem alternative in this pack that beats the
// standard library's crypto/rsa, crypto/aes, crypto/cipher,
// crypto/sha256, crypto/rand — every pack repo that does public-key
// crypto (go-ethereum's rlpx, wireguard-go's noise handshake) still
// reaches for stdlib crypto/* for the primitives themselves and only
// pulls in a library for protocol-specific primitives stdlib lacks
// (curve25519, chacha20poly1305). BDT's spec calls for RSA + AES, both
// of which stdlib already covers idiomatically, so that's what's used
// here (see DESIGN.md).
package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"

	"bdt/errors"
)

// PrivateKey wraps an RSA private key used to sign tunnel envelopes and
// to unwrap an AES key addressed to this device.
type PrivateKey struct {
	key *rsa.PrivateKey
}

// PublicKey wraps an RSA public key used to verify a peer's signature
// and to wrap an AES key addressed to that peer.
type PublicKey struct {
	key *rsa.PublicKey
}

// GenerateKeyPair creates a fresh RSA key pair of the given modulus size.
func GenerateKeyPair(bits int) (*PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, errors.Wrap(errors.InvalidData, "generate rsa key", err)
	}
	return &PrivateKey{key: key}, nil
}

func (p *PrivateKey) Public() *PublicKey { return &PublicKey{key: &p.key.PublicKey} }

// DER encodes the public key as a PKIX DER blob, the form carried in a
// DeviceDescriptor and hashed to derive a DeviceId.
func (pk *PublicKey) DER() ([]byte, error) {
	b, err := x509.MarshalPKIXPublicKey(pk.key)
	if err != nil {
		return nil, errors.Wrap(errors.InvalidData, "marshal public key", err)
	}
	return b, nil
}

// PublicKeyFromDER parses a PKIX DER public key blob.
func PublicKeyFromDER(der []byte) (*PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, errors.Wrap(errors.InvalidData, "parse public key", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New(errors.InvalidData, "public key is not RSA")
	}
	return &PublicKey{key: rsaPub}, nil
}

// AesKey is the 32-byte AES-256 session key. Its first 16 bytes double
// as the "mix key" on-wire identifier (spec.md §3).
type AesKey [32]byte

func (k AesKey) MixKey() [16]byte {
	var m [16]byte
	copy(m[:], k[:16])
	return m
}

// GenerateAesKey produces a fresh random session key.
func GenerateAesKey() (AesKey, error) {
	var k AesKey
	if _, err := rand.Read(k[:]); err != nil {
		return k, errors.Wrap(errors.InvalidData, "generate aes key", err)
	}
	return k, nil
}

// wrapKey RSA-OAEP-encrypts an AES key for the given peer.
func wrapKey(peer *PublicKey, key AesKey) ([]byte, error) {
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, peer.key, key[:], nil)
	if err != nil {
		return nil, errors.Wrap(errors.InvalidData, "wrap aes key", err)
	}
	return ct, nil
}

// unwrapKey RSA-OAEP-decrypts an AES key addressed to priv.
func unwrapKey(priv *PrivateKey, ciphertext []byte) (AesKey, error) {
	var key AesKey
	pt, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv.key, ciphertext, nil)
	if err != nil {
		return key, errors.Wrap(errors.Reject, "unwrap aes key", err)
	}
	if len(pt) != len(key) {
		return key, errors.New(errors.Reject, "unwrapped key has wrong length")
	}
	copy(key[:], pt)
	return key, nil
}
