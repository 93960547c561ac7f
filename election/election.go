// Package election implements deterministic miner and quorum selection
// from a VRF seed and the set of staked claims.
package election

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"sort"

	"github.com/vrrb-network/consensus-core/claim"
)

// Error is the typed quorum-election fault taxonomy (spec §7's QuorumError).
type Error struct {
	Kind   string
	Claims []*claim.Claim
}

func (e *Error) Error() string {
	switch e.Kind {
	case "InvalidSeed":
		return "election: seed is zero or otherwise invalid"
	case "InvalidChildBlock":
		return "election: election_block_height must be > 0"
	case "InsufficientNodes":
		return "election: fewer than 20 eligible claims"
	case "NoSeed":
		return "election: no seed supplied"
	case "InvalidPointerSum":
		return fmt.Sprintf("election: too few distinct election results among %d claims", len(e.Claims))
	case "ClaimError":
		return "election: claim failed verification"
	default:
		return "election: " + e.Kind
	}
}

var (
	ErrInvalidSeed       = &Error{Kind: "InvalidSeed"}
	ErrInvalidChildBlock = &Error{Kind: "InvalidChildBlock"}
	ErrInsufficientNodes = &Error{Kind: "InsufficientNodes"}
	ErrNoSeed            = &Error{Kind: "NoSeed"}
)

// MinQuorumSize is the minimum number of eligible claims form_quorum will
// accept (spec §4.4 / §3).
const MinQuorumSize = 20

// ranked pairs a claim with its election_result(seed), used for both miner
// election and quorum formation so the ordering and tie-break logic is
// shared in one place.
type ranked struct {
	result *big.Int
	claim  *claim.Claim
}

func rank(claims []*claim.Claim, seed uint64) []ranked {
	out := make([]ranked, 0, len(claims))
	for _, c := range claims {
		out = append(out, ranked{result: c.ElectionResult(seed), claim: c})
	}
	sort.SliceStable(out, func(i, j int) bool {
		cmp := out[i].result.Cmp(out[j].result)
		if cmp != 0 {
			return cmp < 0
		}
		return bytes.Compare(out[i].claim.Hash[:], out[j].claim.Hash[:]) < 0
	})
	return out
}

// ElectMiner picks the claim with the lowest election_result(seed),
// breaking ties by byte-lex order of the claim hash (spec §9).
func ElectMiner(claims []*claim.Claim, seed uint64) (*claim.Claim, error) {
	if seed == 0 {
		return nil, ErrNoSeed
	}
	if len(claims) == 0 {
		return nil, ErrInsufficientNodes
	}
	return rank(claims, seed)[0].claim, nil
}

// Kind distinguishes the two quorum roles: harvesters certify blocks,
// farmers vote on transactions.
type Kind int

const (
	KindFarmer Kind = iota
	KindHarvester
)

// Quorum is the result of a successful form_quorum call.
type Quorum struct {
	Seed                uint64
	MemberPubkeys       [][]byte
	CombinedPublicKey   []byte
	ElectionBlockHeight uint64
	Kind                Kind
}

// isEligible implements the corrected spec.md §9 filter: the source's
// `==Harvester && ==Farmer` test is unsatisfiable, so this uses the
// logical-OR the corrected spec mandates.
func isEligible(c *claim.Claim) bool {
	return c.Eligibility == claim.EligibilityHarvester || c.Eligibility == claim.EligibilityFarmer
}

// FormQuorum filters claims to the eligible set, orders them by
// election_result(seed), sanity-checks the spread of distinct results, and
// takes the top ceil(0.51*N) as members.
func FormQuorum(claims []*claim.Claim, seed uint64, electionBlockHeight uint64, kind Kind, combinedPublicKey []byte) (*Quorum, error) {
	if seed == 0 {
		return nil, ErrNoSeed
	}
	if electionBlockHeight == 0 {
		return nil, ErrInvalidChildBlock
	}

	eligible := make([]*claim.Claim, 0, len(claims))
	for _, c := range claims {
		if isEligible(c) {
			eligible = append(eligible, c)
		}
	}
	n := len(eligible)
	if n < MinQuorumSize {
		return nil, ErrInsufficientNodes
	}

	ordered := rank(eligible, seed)

	distinct := make(map[string]struct{}, n)
	for _, r := range ordered {
		distinct[r.result.String()] = struct{}{}
	}
	minDistinct := int(math.Ceil(0.65 * float64(n)))
	if len(distinct) < minDistinct {
		faulty := make([]*claim.Claim, 0, n)
		for _, r := range ordered {
			faulty = append(faulty, r.claim)
		}
		return nil, &Error{Kind: "InvalidPointerSum", Claims: faulty}
	}

	memberCount := int(math.Ceil(0.51 * float64(n)))
	members := ordered[:memberCount]

	pubkeys := make([][]byte, 0, memberCount)
	for _, r := range members {
		pubkeys = append(pubkeys, r.claim.PublicKey)
	}

	return &Quorum{
		Seed:                seed,
		MemberPubkeys:       pubkeys,
		CombinedPublicKey:   combinedPublicKey,
		ElectionBlockHeight: electionBlockHeight,
		Kind:                kind,
	}, nil
}

// NodeDescriptor is the bootstrap-time view of a peer available for
// quorum assignment.
type NodeDescriptor struct {
	NodeID    string
	PublicKey []byte
}

// AssignedQuorumMembership is the outcome of bootstrap partitioning for one
// node.
type AssignedQuorumMembership struct {
	NodeID string
	Kind   Kind
}

// AssignPeerListToQuorums deterministically partitions the bootstrap peer
// set into Farmer and Harvester groups of the given size by hashing
// (node_id, bootstrapSeed). Nodes are ordered by that hash and alternately
// assigned; nodes beyond the first 2*quorumSize in that order are left
// unassigned. Only called by the bootstrap node (spec §4.8).
func AssignPeerListToQuorums(nodes []NodeDescriptor, bootstrapSeed uint64, quorumSize int) (map[string]AssignedQuorumMembership, error) {
	if len(nodes) < 2*quorumSize {
		return nil, fmt.Errorf("election: need at least %d nodes to fill two quorums of %d, have %d", 2*quorumSize, quorumSize, len(nodes))
	}

	type scored struct {
		node  NodeDescriptor
		score *big.Int
	}
	scoredNodes := make([]scored, 0, len(nodes))
	for _, n := range nodes {
		h := sha256.New()
		h.Write([]byte(n.NodeID))
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], bootstrapSeed)
		h.Write(buf[:])
		scoredNodes = append(scoredNodes, scored{node: n, score: new(big.Int).SetBytes(h.Sum(nil))})
	}
	sort.SliceStable(scoredNodes, func(i, j int) bool {
		cmp := scoredNodes[i].score.Cmp(scoredNodes[j].score)
		if cmp != 0 {
			return cmp < 0
		}
		return scoredNodes[i].node.NodeID < scoredNodes[j].node.NodeID
	})

	assignments := make(map[string]AssignedQuorumMembership, 2*quorumSize)
	for i, s := range scoredNodes {
		if i >= 2*quorumSize {
			break
		}
		kind := KindFarmer
		if i%2 == 1 {
			kind = KindHarvester
		}
		assignments[s.node.NodeID] = AssignedQuorumMembership{NodeID: s.node.NodeID, Kind: kind}
	}
	return assignments, nil
}
