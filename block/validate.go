package block

import (
	"fmt"
)

// InvalidBlockReason is the typed fault taxonomy for block validation
// (spec §7's InvalidBlock, carried over from original_source/block/src/invalid.rs).
type InvalidBlockReason int

const (
	ReasonNone InvalidBlockReason = iota
	ReasonNotTallestChain
	ReasonBlockOutOfSequence
	ReasonInvalidClaim
	ReasonInvalidLastHash
	ReasonInvalidStateHash
	ReasonInvalidBlockHeight
	ReasonInvalidBlockNonce
	ReasonInvalidBlockReward
	ReasonInvalidTxns
	ReasonInvalidClaimPointers
	ReasonInvalidBlockSignature
	ReasonGeneral
)

func (r InvalidBlockReason) String() string {
	switch r {
	case ReasonNotTallestChain:
		return "NotTallestChain"
	case ReasonBlockOutOfSequence:
		return "BlockOutOfSequence"
	case ReasonInvalidClaim:
		return "InvalidClaim"
	case ReasonInvalidLastHash:
		return "InvalidLastHash"
	case ReasonInvalidStateHash:
		return "InvalidStateHash"
	case ReasonInvalidBlockHeight:
		return "InvalidBlockHeight"
	case ReasonInvalidBlockNonce:
		return "InvalidBlockNonce"
	case ReasonInvalidBlockReward:
		return "InvalidBlockReward"
	case ReasonInvalidTxns:
		return "InvalidTxns"
	case ReasonInvalidClaimPointers:
		return "InvalidClaimPointers"
	case ReasonInvalidBlockSignature:
		return "InvalidBlockSignature"
	case ReasonGeneral:
		return "General"
	default:
		return "None"
	}
}

// Error wraps an InvalidBlockReason so it satisfies the error interface.
type Error struct {
	Reason InvalidBlockReason
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("block: invalid (%s)", e.Reason)
	}
	return fmt.Sprintf("block: invalid (%s): %s", e.Reason, e.Detail)
}

func fail(reason InvalidBlockReason, detail string) error {
	return &Error{Reason: reason, Detail: detail}
}

// LowestPointerClaim is the winner of the pointer-sum tournament a
// candidate convergence block must match.
type LowestPointerClaim struct {
	Hash    [32]byte
	Pointer uint64
}

// Deps bundles the external context Validate needs beyond the candidate and
// its parent: the winning pointer claim for this round, the fraction of
// positive validator votes per txn group, and the miner claim's signature
// verification result. These are supplied by the consensus actor, which
// owns the DAG read and the worker-pool dispatch (spec §5).
type Deps struct {
	ParentHash          [32]byte // parent's own block hash, not parent.LastHash
	Winner              LowestPointerClaim
	MinerClaimValid     bool // result of candidate.MinerClaim.Verify()
	HeaderSignatureValid bool // result of verifying Header.MinerSignature
	TxnPositiveRatios   []float64 // one entry per txn group in candidate order
}

const txnApprovalThreshold = 0.60

// Validate runs the ordered checks from spec §4.6 against parent and
// returns the first failing reason, or nil if candidate is valid.
func Validate(candidate *Convergence, parent *Header, deps Deps) error {
	if candidate.Header.BlockHeight <= parent.BlockHeight {
		return fail(ReasonNotTallestChain, "candidate height does not exceed parent height")
	}
	if candidate.Header.BlockHeight != parent.BlockHeight+1 {
		return fail(ReasonBlockOutOfSequence, "candidate height skips ahead of parent")
	}
	if candidate.Header.BlockNonce != parent.NextBlockNonce {
		return fail(ReasonInvalidBlockNonce, "")
	}
	if candidate.Header.BlockReward != parent.NextBlockReward {
		return fail(ReasonInvalidBlockReward, "")
	}
	if candidate.Header.MinerClaimHash != deps.Winner.Hash || candidate.Header.BlockSeed != deps.Winner.Pointer {
		return fail(ReasonInvalidClaimPointers, "")
	}
	if candidate.Header.LastHash != deps.ParentHash {
		return fail(ReasonInvalidLastHash, "")
	}
	if !deps.MinerClaimValid {
		return fail(ReasonInvalidClaim, "")
	}
	if !deps.HeaderSignatureValid {
		return fail(ReasonInvalidBlockSignature, "")
	}
	for _, ratio := range deps.TxnPositiveRatios {
		if ratio < txnApprovalThreshold {
			return fail(ReasonInvalidTxns, "")
		}
	}
	return nil
}

// ValidateGenesis checks the single genesis block invariant: height zero,
// the fixed last-hash/state-hash pair, and a valid miner claim (spec §4.6,
// §8 scenario 1).
func ValidateGenesis(g *Genesis, minerClaimValid bool) error {
	if g.Header.BlockHeight != 0 {
		return fail(ReasonInvalidBlockHeight, "genesis must be height 0")
	}
	if g.Header.LastHash != GenesisLastHash {
		return fail(ReasonInvalidLastHash, "genesis last_hash mismatch")
	}
	if g.Header.LastStateRoot != GenesisStateHash {
		return fail(ReasonInvalidStateHash, "genesis state_hash mismatch")
	}
	if !minerClaimValid {
		return fail(ReasonInvalidClaim, "")
	}
	return nil
}

// DAGReader is the read-only handle the consensus actor exposes into the
// block DAG (an external collaborator per spec §1/§5; never a storage
// engine import here, only this interface).
type DAGReader interface {
	HasProposal(hash [32]byte) bool
	ProposalReferencesClaim(proposalHash [32]byte, claimHash [32]byte) bool
	ProposalReferencesTxn(proposalHash [32]byte, txnHash [32]byte) bool
}

// PrecheckConvergence is a filter, not an error path (spec §4.6): it
// returns false when the candidate should be silently disqualified rather
// than rejected with a reason, matching the "pre-check is a filter" note.
func PrecheckConvergence(candidate *Convergence, dag DAGReader) bool {
	for _, ref := range candidate.RefHashes {
		if !dag.HasProposal(ref) {
			return false
		}
	}
	for _, c := range candidate.Claims {
		if !anyProposalReferencesClaim(candidate.RefHashes, c.Hash, dag) {
			return false
		}
	}
	for _, t := range candidate.Txns {
		if !anyProposalReferencesTxn(candidate.RefHashes, t.Hash, dag) {
			return false
		}
	}
	return true
}

func anyProposalReferencesClaim(refs [][32]byte, claimHash [32]byte, dag DAGReader) bool {
	for _, ref := range refs {
		if dag.ProposalReferencesClaim(ref, claimHash) {
			return true
		}
	}
	return false
}

func anyProposalReferencesTxn(refs [][32]byte, txnHash [32]byte, dag DAGReader) bool {
	for _, ref := range refs {
		if dag.ProposalReferencesTxn(ref, txnHash) {
			return true
		}
	}
	return false
}
