package certify

import (
	"github.com/vrrb-network/consensus-core/bls"
)

// Certificate is the threshold-combined signature finalizing a block.
type Certificate struct {
	BlockHash [32]byte
	Signature []byte // 96 bytes
}

// TryCertify attempts to combine the accumulated partial shares for
// blockHash into a full threshold signature verifiable under pubPoly's
// public key. It returns (nil, nil) when there are not yet more than
// threshold shares. Once a certificate has been produced for a block hash
// the entry is sealed: further partials are still accepted (so AddPartial
// stays idempotent and late stragglers aren't rejected) but no second
// certificate is ever emitted for the same hash (spec §4.7).
func (a *Aggregator) TryCertify(blockHash [32]byte, threshold int, pubPoly *bls.PublicKeySet) (*Certificate, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	e := a.load(blockHash)
	if e.sealed {
		a.cache.Add(blockHash, e)
		return nil, nil
	}
	if len(e.shares) <= threshold {
		a.cache.Add(blockHash, e)
		return nil, nil
	}

	sigs := make([][]byte, 0, len(e.shares))
	for _, sh := range e.shares {
		sigs = append(sigs, sh.Signature)
	}

	combined, err := bls.Default.ThresholdScheme.Recover(pubPoly.Poly, blockHash[:], sigs, threshold+1, len(e.shares))
	if err != nil {
		return nil, err
	}
	if err := bls.Default.ThresholdScheme.VerifyRecovered(pubPoly.Poly.Commit(), blockHash[:], combined); err != nil {
		return nil, err
	}

	e.sealed = true
	a.cache.Add(blockHash, e)

	return &Certificate{BlockHash: blockHash, Signature: combined}, nil
}
