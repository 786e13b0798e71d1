package crypto

import (
	"encoding/hex"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"bdt/errors"
	"bdt/protocol"
)

// binding is one mix_key -> (AesKey, peer) entry, cached the same way
// moto/controller/accelerator.go's ipCache tracks per-IP WAF counters:
// a TTL'd go-cache map, read lock-free, written through one path.
type binding struct {
	key  AesKey
	peer protocol.DeviceId
}

// KeyStore is the process-wide mix-key -> session-key cache (spec.md
// §3 "Cryptographic invariants", §5 "the key store... is a
// process-wide store; reads are lock-free after install; installs are
// serialized"). Installs are serialized per mix-key via singleflight so
// a burst of inbound boxes carrying the same fresh Exchange installs
// the binding exactly once.
type KeyStore struct {
	cache *gocache.Cache
	group singleflight.Group
}

// NewKeyStore creates a key store whose bindings expire after ttl.
func NewKeyStore(ttl time.Duration) *KeyStore {
	return &KeyStore{cache: gocache.New(ttl, ttl/2)}
}

func mixKeyString(mk [16]byte) string { return hex.EncodeToString(mk[:]) }

// Lookup returns the AesKey and peer bound to mixKey, if known.
func (s *KeyStore) Lookup(mixKey [16]byte) (AesKey, protocol.DeviceId, bool) {
	v, ok := s.cache.Get(mixKeyString(mixKey))
	if !ok {
		return AesKey{}, protocol.DeviceId{}, false
	}
	b := v.(binding)
	return b.key, b.peer, true
}

// LookupByPeer scans for any live binding addressed to peer. The
// key store is small (bounded by concurrently-active peers), so a
// linear scan over go-cache's snapshot is acceptable; this mirrors how
// moto's ipCache is scanned only by direct key, but BDT additionally
// needs a reverse peer->mixkey lookup so a sender can reuse an
// already-installed binding instead of re-exchanging on every box.
func (s *KeyStore) LookupByPeer(peer protocol.DeviceId) (AesKey, [16]byte, bool) {
	for k, v := range s.cache.Items() {
		b := v.Object.(binding)
		if b.peer == peer {
			var mk [16]byte
			raw, err := hex.DecodeString(k)
			if err != nil || len(raw) != 16 {
				continue
			}
			copy(mk[:], raw)
			return b.key, mk, true
		}
	}
	return AesKey{}, [16]byte{}, false
}

// Install binds mixKey -> (key, peer), deduping concurrent installs of
// the same mix key to a single write.
func (s *KeyStore) Install(mixKey [16]byte, key AesKey, peer protocol.DeviceId) {
	s.group.Do(mixKeyString(mixKey), func() (interface{}, error) {
		s.cache.SetDefault(mixKeyString(mixKey), binding{key: key, peer: peer})
		return nil, nil
	})
}

// InstallFromExchange verifies and installs the binding carried by ex,
// returning the unwrapped key. Idempotent: re-verifying an
// already-installed mix key is harmless (spec.md §3 "once accepted, the
// binding is cached and reused").
func (s *KeyStore) InstallFromExchange(ex *protocol.Exchange, localDeviceId protocol.DeviceId, localPriv *PrivateKey) (AesKey, error) {
	key, err := VerifyAndUnwrapExchange(ex, localDeviceId, localPriv)
	if err != nil {
		return key, err
	}
	s.Install(ex.MixKey, key, ex.FromDeviceDesc.DeviceId)
	return key, nil
}

// RequireLookup is a convenience used by decode paths that must fail
// with NotFound rather than a zero key when a mix key is unbound.
func (s *KeyStore) RequireLookup(mixKey [16]byte) (AesKey, protocol.DeviceId, error) {
	key, peer, ok := s.Lookup(mixKey)
	if !ok {
		return key, peer, errors.New(errors.NotFound, "no session key bound to mix key")
	}
	return key, peer, nil
}
