package datagram

import (
	"encoding/binary"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"bdt/errors"
)

// Reassembler buffers the fragments of one oversized datagram (a box
// or raw-data payload that exceeded UDP MTU and was written as several
// independent datagrams, spec.md §4.3's fragmentation note) until every
// piece has arrived, evicting incomplete groups after a TTL
// (supplemented from original_source's datagram reassembly cache: BDT
// does not retransmit lost fragments, so a slow/incomplete group must
// not leak memory forever).
type Reassembler struct {
	cache *gocache.Cache
}

type fragmentGroup struct {
	total   int
	got     int
	pieces  [][]byte
}

// NewReassembler creates a reassembler whose incomplete groups expire
// after ttl.
func NewReassembler(ttl time.Duration) *Reassembler {
	return &Reassembler{cache: gocache.New(ttl, ttl/2)}
}

func groupKey(peerKey string, groupId uint32) string {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], groupId)
	return peerKey + ":" + string(buf[:])
}

// Add records one fragment (index of total) of groupId from peerKey,
// returning the reassembled payload once every fragment has arrived.
func (r *Reassembler) Add(peerKey string, groupId uint32, index, total int, payload []byte) ([]byte, error) {
	if total <= 0 || index < 0 || index >= total {
		return nil, errors.New(errors.InvalidParam, "fragment index out of range")
	}
	key := groupKey(peerKey, groupId)

	var g *fragmentGroup
	if v, ok := r.cache.Get(key); ok {
		g = v.(*fragmentGroup)
	} else {
		g = &fragmentGroup{total: total, pieces: make([][]byte, total)}
	}
	if g.pieces[index] == nil {
		g.got++
	}
	g.pieces[index] = payload

	if g.got < g.total {
		r.cache.SetDefault(key, g)
		return nil, nil
	}
	r.cache.Delete(key)

	out := make([]byte, 0)
	for _, p := range g.pieces {
		out = append(out, p...)
	}
	return out, nil
}
