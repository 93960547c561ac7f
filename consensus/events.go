// Package consensus binds the DKG state machine, quorum election, block
// validation, and certificate aggregation into a single-threaded,
// event-driven actor (spec §4.8, §5).
package consensus

import (
	"github.com/vrrb-network/consensus-core/block"
	"github.com/vrrb-network/consensus-core/certify"
	"github.com/vrrb-network/consensus-core/dkg"
)

// EventKind enumerates the actor's inbound event vocabulary (spec §4.8).
type EventKind int

const (
	EventNodeAddedToPeerList EventKind = iota
	EventQuorumMembershipAssigned
	EventPartCreated
	EventPartAcknowledged
	EventAllAcksHandled
	EventGenerateKeySet
	EventTransactionReady
	EventVoteReceived
	EventTransactionCertificateRequested
	EventTransactionCertificateCreated
	EventProposalBlockMineRequest
	EventConvergenceBlockSignatureRequested
	EventConvergenceBlockPartialSign
	EventPeerConvergenceBlockSign
	EventPrecheckConvergenceBlock
	EventQuorumElectionStarted
	EventMinerElectionStarted
	EventStop
	EventNoOp
)

// Event is the envelope delivered to the actor's single inbox. At most one
// of the typed payload fields is populated, matching Kind; kinds such as
// EventAllAcksHandled, EventGenerateKeySet, EventStop, and EventNoOp carry
// none.
type Event struct {
	Kind EventKind

	NodeAddedToPeerList *NodeAddedToPeerList
	QuorumMembership    *QuorumMembershipAssigned
	PartCreated         *PartCreated
	PartAcknowledged    *PartAcknowledged
	VoteReceived        *VoteReceived
	TxnCertRequested    *TransactionCertificateRequested
	ConvergencePartial  *ConvergenceBlockPartialSign
	PeerConvergence     *PeerConvergenceBlockSign
	Precheck            *PrecheckConvergenceBlock
}

// NodeAddedToPeerList is emitted as peers come online during bootstrap.
type NodeAddedToPeerList struct {
	NodeID    string
	PublicKey []byte
}

// QuorumMembershipAssigned installs a quorum role for a node.
type QuorumMembershipAssigned struct {
	NodeID string
	Kind   dkg.NodeType
}

// PartCreated carries a freshly produced DKG Part from sender.
type PartCreated struct {
	Sender dkg.NodeID
	Part   *dkg.Part
}

// PartAcknowledged carries an Ack produced in response to a Part.
type PartAcknowledged struct {
	Receiver dkg.NodeID
	Sender   dkg.NodeID
	Ack      *dkg.Ack
}

// VoteReceived is a single farmer's vote on a transaction.
type VoteReceived struct {
	TxnID          string
	FarmerQuorumPK string
	Voter          string
	Polarity       bool
	Threshold      int
}

// TransactionCertificateRequested fires once a txn has crossed its vote
// threshold and is not yet certified.
type TransactionCertificateRequested struct {
	TxnID          string
	FarmerQuorumPK string
}

// ConvergenceBlockPartialSign is this node's own share over a convergence
// block, ready to be cached and (conditionally) rebroadcast.
type ConvergenceBlockPartialSign struct {
	BlockHash [32]byte
	Share     certify.Share
}

// PeerConvergenceBlockSign is a share observed from a peer.
type PeerConvergenceBlockSign struct {
	BlockHash [32]byte
	Share     certify.Share
}

// PrecheckConvergenceBlock requests a DAG pre-check before a block is
// considered for certification.
type PrecheckConvergenceBlock struct {
	Candidate *block.Convergence
}

// Outbound is emitted by the actor for other subsystems (networking,
// mining, storage) to consume; this package never sends them anywhere
// itself, it only publishes them on the channel returned by
// Actor.Outbound (spec §1: P2P transport is an external collaborator).
type Outbound struct {
	Kind    string
	Payload interface{}
}
