package block

import "github.com/vrrb-network/consensus-core/claim"

// Txn is the minimal transaction surface the block package needs; the full
// transaction model (amount, sender/receiver addresses, signature) lives
// with the mempool collaborator and is out of scope here (spec §1).
type Txn struct {
	Hash      [32]byte
	Signature []byte
}

// Genesis is the first block of a chain: height 0, a fixed last_hash, no
// references.
type Genesis struct {
	Header      Header
	Txns        []Txn
	Claims      []*claim.Claim
	Hash        [32]byte
	Certificate *Certificate
}

// Proposal is built by a single farmer node for one round; it references
// the convergence block it extends via RefHash.
type Proposal struct {
	Header    Header
	RefHash   [32]byte
	Round     uint64
	Epoch     uint64
	Txns      []Txn
	Claims    []*claim.Claim
	FromClaim *claim.Claim
	Signature []byte
	Hash      [32]byte
}

// Convergence consolidates one or more proposal blocks from the same round
// into a single block the harvester quorum certifies.
type Convergence struct {
	Header      Header
	RefHashes   [][32]byte // proposal block hashes being consolidated
	Claims      []*claim.Claim
	Txns        []Txn
	Hash        [32]byte
	Certificate *Certificate
}

// Certificate is the threshold signature that finalizes a block.
type Certificate struct {
	BlockHash     [32]byte
	Signature     []byte // 96 bytes, threshold-combined
	RootHash      [32]byte
	NextRootHash  [32]byte
	Inauguration  *Quorum // non-nil only on a quorum-rotation boundary
}

// Quorum holds the subset of election.Quorum's fields a certificate carries.
// The block package does not import election, and nothing in this module
// converts between the two types.
type Quorum struct {
	MemberPubkeys     [][]byte
	CombinedPublicKey []byte
}

func txnLeaves(txns []Txn) [][]byte {
	out := make([][]byte, len(txns))
	for i, t := range txns {
		out[i] = t.Hash[:]
	}
	return out
}

func refLeaves(refs [][32]byte) [][]byte {
	out := make([][]byte, len(refs))
	for i, r := range refs {
		out[i] = r[:]
	}
	return out
}

// ComputeHash fills in g.Hash from g.Header and g.Txns.
func (g *Genesis) ComputeHash() { g.Hash = Hash(&g.Header, txnLeaves(g.Txns), nil) }

// ComputeHash fills in p.Hash from p.Header and p.Txns.
func (p *Proposal) ComputeHash() { p.Hash = Hash(&p.Header, txnLeaves(p.Txns), nil) }

// ComputeHash fills in c.Hash from c.Header, c.Txns, and c.RefHashes.
func (c *Convergence) ComputeHash() {
	c.Hash = Hash(&c.Header, txnLeaves(c.Txns), refLeaves(c.RefHashes))
}
