// Package claim implements the stake-bearing participation ticket that
// grants a node the right to take part in mining and quorum elections.
package claim

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/vrrb-network/consensus-core/bls"
)

// Eligibility tags the role a claim's owner may play this epoch.
type Eligibility int

const (
	EligibilityIneligible Eligibility = iota
	EligibilityMiner
	EligibilityFarmer
	EligibilityHarvester
)

func (e Eligibility) String() string {
	switch e {
	case EligibilityMiner:
		return "Miner"
	case EligibilityFarmer:
		return "Farmer"
	case EligibilityHarvester:
		return "Harvester"
	default:
		return "Ineligible"
	}
}

// Claim is a signed stake ticket. It is produced once when a node joins,
// mutated only by advancing Nonce on block finalization, and destroyed on
// slashing (handled by the owning supervisor, not by this package).
type Claim struct {
	PublicKey   []byte // compressed point in bls.Default.KeyGroup
	Address     string
	Endpoint    string
	Eligibility Eligibility
	NodeID      string
	Hash        [32]byte
	Signature   []byte
	Nonce       uint64
	Stake       uint64
}

// Signer produces a signature over msg under the claim owner's private key.
// The consensus core never holds private key material itself (the wallet /
// keypair container is an external collaborator), so New takes a Signer
// rather than a secret key.
type Signer func(msg []byte) ([]byte, error)

// New builds and signs a Claim for a joining node.
func New(publicKey []byte, address, endpoint, nodeID string, eligibility Eligibility, nonce, stake uint64, sign Signer) (*Claim, error) {
	c := &Claim{
		PublicKey:   publicKey,
		Address:     address,
		Endpoint:    endpoint,
		Eligibility: eligibility,
		NodeID:      nodeID,
		Nonce:       nonce,
		Stake:       stake,
	}
	c.Hash = c.computeHash()
	sig, err := sign(c.Hash[:])
	if err != nil {
		return nil, fmt.Errorf("claim: sign: %w", err)
	}
	c.Signature = sig
	return c, nil
}

// computeHash is deterministic over every field but the signature itself.
func (c *Claim) computeHash() [32]byte {
	h := sha256.New()
	h.Write(c.PublicKey)
	h.Write([]byte(c.Address))
	h.Write([]byte(c.Endpoint))
	h.Write([]byte(c.NodeID))
	h.Write([]byte{byte(c.Eligibility)})
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], c.Nonce)
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], c.Stake)
	h.Write(buf[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// ErrInvalidHash means the claim's cached hash no longer matches its fields.
var ErrInvalidHash = errors.New("claim: hash does not match fields")

// Verify checks that Hash is consistent and Signature verifies under
// PublicKey.
func (c *Claim) Verify() error {
	if c.computeHash() != c.Hash {
		return ErrInvalidHash
	}
	pub := bls.Default.KeyGroup.Point()
	if err := pub.UnmarshalBinary(c.PublicKey); err != nil {
		return fmt.Errorf("claim: invalid public key: %w", err)
	}
	if err := bls.Default.AuthScheme.Verify(pub, c.Hash[:], c.Signature); err != nil {
		return fmt.Errorf("claim: signature verify: %w", err)
	}
	return nil
}

// ElectionResult hashes (claim.Hash, seed) into a 256-bit integer used to
// rank claims during miner and quorum election. Ties are broken by the raw
// byte order of the claim hash (see election.ElectMiner).
func (c *Claim) ElectionResult(seed uint64) *big.Int {
	h := sha256.New()
	h.Write(c.Hash[:])
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seed)
	h.Write(buf[:])
	return new(big.Int).SetBytes(h.Sum(nil))
}

// Pointer implements the pointer-sum election primitive: it is defined only
// for Miner-eligible claims whose hash, read as a byte string, contains for
// every decimal digit of seed a distinct byte whose value modulo 10 equals
// that digit, each byte used at most once. The value is the sum of the positions at which those digits were
// found; lower sums win the miner role. A claim that cannot supply every
// digit does not participate this round.
func (c *Claim) Pointer(seed uint64) (uint64, bool) {
	if c.Eligibility != EligibilityMiner {
		return 0, false
	}
	digits := strconv.FormatUint(seed, 10)
	used := make(map[int]bool, len(digits))
	var sum uint64
	for _, r := range digits {
		want := byte(r - '0')
		found := false
		for i, b := range c.Hash {
			if used[i] {
				continue
			}
			if b%10 == want {
				used[i] = true
				sum += uint64(i)
				found = true
				break
			}
		}
		if !found {
			return 0, false
		}
	}
	return sum, true
}
