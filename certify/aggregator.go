// Package certify implements the partial-signature cache and threshold
// combination path: collecting per-node shares for a block hash and, once
// enough accumulate, combining them into a full quorum certificate.
package certify

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/vrrb-network/consensus-core/bls"
)

// Capacity and TTL for the share cache (spec §3's
// ConvergenceBlockCertificateShares).
const (
	Capacity = 10
	TTL      = 300 * time.Second
)

// Share is one node's partial signature over a block hash. Signature is in
// the drand/kyber tbls wire format: a 2-byte big-endian share index
// followed by the raw BLS signature bytes.
type Share struct {
	NodeIdx   int
	PublicKey []byte // 48-byte pk share
	Signature []byte
}

func (s Share) rawSignature() []byte {
	if len(s.Signature) < 2 {
		return nil
	}
	return s.Signature[2:]
}

type entry struct {
	shares    map[int]Share
	sealed    bool
	touchedAt time.Time
}

func freshEntry() *entry { return &entry{shares: make(map[int]Share)} }

// Aggregator is the consensus actor's exclusive partial-signature store.
// Conceptually it has a single owner (spec §5); it still takes an internal
// mutex, so its methods are safe to call from more than one goroutine. The
// consensus actor calls it only from its own run loop.
type Aggregator struct {
	mu         sync.Mutex
	cache      *lru.Cache
	upperBound int
	clock      func() time.Time
}

// NewAggregator builds an Aggregator with the fixed capacity/TTL from
// spec §3, and the given rebroadcast upper bound (spec §4.7).
func NewAggregator(upperBound int) *Aggregator {
	c, err := lru.New(Capacity)
	if err != nil {
		panic(fmt.Sprintf("certify: lru.New: %v", err)) // Capacity is a compile-time constant > 0
	}
	return &Aggregator{cache: c, upperBound: upperBound, clock: time.Now}
}

func (a *Aggregator) load(blockHash [32]byte) *entry {
	if v, ok := a.cache.Get(blockHash); ok {
		e := v.(*entry)
		if a.clock().Sub(e.touchedAt) > TTL {
			return freshEntry()
		}
		return e
	}
	return freshEntry()
}

// AddPartial verifies sh against blockHash, rejecting an invalid share,
// then inserts it idempotently per (blockHash, NodeIdx). It returns
// whether the caller should rebroadcast its own share: true while the
// accumulated set is at or below the configured upper bound (spec §4.7).
func (a *Aggregator) AddPartial(blockHash [32]byte, sh Share) (rebroadcast bool, err error) {
	pub := bls.Default.KeyGroup.Point()
	if err := pub.UnmarshalBinary(sh.PublicKey); err != nil {
		return false, fmt.Errorf("certify: invalid public key share: %w", err)
	}
	raw := sh.rawSignature()
	if raw == nil {
		return false, fmt.Errorf("certify: malformed partial signature")
	}
	if err := bls.Default.AuthScheme.Verify(pub, blockHash[:], raw); err != nil {
		return false, fmt.Errorf("certify: partial signature verify: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	e := a.load(blockHash)
	e.touchedAt = a.clock()
	if _, exists := e.shares[sh.NodeIdx]; !exists {
		e.shares[sh.NodeIdx] = sh
	}
	a.cache.Add(blockHash, e)

	return !e.sealed && len(e.shares) <= a.upperBound, nil
}

// Count returns the number of distinct partial shares accumulated for
// blockHash.
func (a *Aggregator) Count(blockHash [32]byte) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if v, ok := a.cache.Peek(blockHash); ok {
		return len(v.(*entry).shares)
	}
	return 0
}
