// Package dkg implements the per-quorum synchronous key generation state
// machine: Idle -> AwaitingParts -> AwaitingAcks -> Ready -> Finalized. It
// wraps the Pedersen dealerless DKG in github.com/drand/kyber/share/dkg
// (Deal/Response/Justification/DistKeyShare), mapping its vocabulary onto
// the Part/Ack terms this module's callers use.
package dkg

import (
	"fmt"
	"sync"
	"time"

	"github.com/drand/kyber"
	dkgkyber "github.com/drand/kyber/share/dkg"
	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"

	"github.com/vrrb-network/consensus-core/bls"
	"github.com/vrrb-network/consensus-core/log"
)

// NodeID identifies a participant within a quorum's new-node list.
type NodeID string

// NodeType gates DKG eligibility: Bootstrap and Miner nodes never
// participate in a quorum's key generation.
type NodeType int

const (
	NodeTypeValidator NodeType = iota
	NodeTypeBootstrap
	NodeTypeMiner
)

// Status is one state in the DKG lifecycle.
type Status int

const (
	Idle Status = iota
	AwaitingParts
	AwaitingAcks
	Ready
	Finalized
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "Idle"
	case AwaitingParts:
		return "AwaitingParts"
	case AwaitingAcks:
		return "AwaitingAcks"
	case Ready:
		return "Ready"
	case Finalized:
		return "Finalized"
	default:
		return "Unknown"
	}
}

// Error is the typed DKG fault taxonomy (spec §7's DkgError).
type Error struct {
	Kind   string
	Sender NodeID
	Acker  NodeID
}

func (e *Error) Error() string {
	switch e.Kind {
	case "BootstrapCannotParticipate":
		return "dkg: bootstrap nodes cannot participate in key generation"
	case "MinerCannotParticipate":
		return "dkg: miner nodes cannot participate in key generation"
	case "NotAMember":
		return "dkg: node is not a registered quorum member"
	case "InvalidPart":
		return fmt.Sprintf("dkg: invalid part from %s", e.Sender)
	case "InvalidAck":
		return fmt.Sprintf("dkg: invalid ack from %s acknowledging %s", e.Acker, e.Sender)
	case "NotReady":
		return "dkg: key set requested before round reached Ready"
	case "AlreadyAssigned":
		return "dkg: node already has a quorum membership assigned"
	case "RoundExpired":
		return "dkg: round deadline passed before completion"
	default:
		return "dkg: " + e.Kind
	}
}

var (
	ErrBootstrapCannotParticipate = &Error{Kind: "BootstrapCannotParticipate"}
	ErrMinerCannotParticipate     = &Error{Kind: "MinerCannotParticipate"}
	ErrNotAMember                 = &Error{Kind: "NotAMember"}
	ErrNotReady                   = &Error{Kind: "NotReady"}
	ErrAlreadyAssigned            = &Error{Kind: "AlreadyAssigned"}
	ErrRoundExpired               = &Error{Kind: "RoundExpired"}
)

// Part is the message a dealer broadcasts to every quorum member: one
// encrypted deal per recipient index, keyed by recipient index in the new
// node list. The dealer's own entry is never present (kyber processes it
// internally when Deals() is called).
type Part struct {
	SenderID NodeID
	Deals    map[int]*dkgkyber.Deal
}

// Ack is a response to a single dealer's Part, addressed back to that
// dealer so it can assemble a Justification if anything was rejected.
type Ack struct {
	DealerID NodeID
	AckerID  NodeID
	Response *dkgkyber.Response
}

type ackKey struct {
	DealerID NodeID
	AckerID  NodeID
}

// KeySet is the result of a completed round: a public key polynomial usable
// by every quorum member to verify partial signatures, and — for
// non-observer participants — a secret key share used to produce them.
type KeySet struct {
	PublicKeySet   *bls.PublicKeySet
	SecretKeyShare *bls.SecretKeyShare
}

// State is one participant's view of a quorum's DKG round. Every method
// takes an internal mutex; the consensus actor owns it exclusively (§5).
type State struct {
	mu sync.Mutex

	selfID    NodeID
	nodeType  NodeType
	threshold int
	clock     clockwork.Clock
	deadline  time.Time
	logger    log.Logger

	participants []kyber.Point
	selfIndex    int
	longterm     kyber.Scalar

	status Status

	generator *dkgkyber.DistKeyGenerator

	partMessages map[NodeID]*Part
	ackMessages  map[ackKey]*Ack
	selfAcks     map[NodeID]*Ack // memoizes handlePart for idempotent replays

	isObserver bool
	keySet     *KeySet
}

// Threshold returns floor(n/2), the round threshold t (spec §4.3).
// certify.Aggregator.TryCertify combines a signature only once more than t
// shares, i.e. at least t+1, have accumulated.
func Threshold(members int) int {
	return members / 2
}

// NewState constructs a fresh, Idle DKG round for selfID among the given
// ordered participant list (participants[i] is the long-term public key of
// the node at index i; selfIndex identifies the caller's own entry).
// longterm is the caller's long-term private key, used only to sign/verify
// Part messages.
func NewState(selfID NodeID, nodeType NodeType, selfIndex int, participants []kyber.Point, longterm kyber.Scalar, clock clockwork.Clock, logger log.Logger) *State {
	if logger == nil {
		logger = log.DefaultLogger()
	}
	return &State{
		selfID:       selfID,
		nodeType:     nodeType,
		clock:        clock,
		logger:       logger.Named("dkg"),
		participants: participants,
		selfIndex:    selfIndex,
		longterm:     longterm,
		status:       Idle,
		partMessages: make(map[NodeID]*Part),
		ackMessages:  make(map[ackKey]*Ack),
		selfAcks:     make(map[NodeID]*Ack),
	}
}

// Status returns the round's current lifecycle state.
func (s *State) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetDeadline arms the round's wall-clock failure deadline (spec §4.3,
// §5 cancellation & timeouts).
func (s *State) SetDeadline(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadline = s.clock.Now().Add(d)
}

// Expired reports whether the round's deadline has passed. Past the
// deadline the round fails and a new DKG is initiated on the next epoch
// boundary; this package only reports the fact, the consensus actor acts
// on it.
func (s *State) Expired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.deadline.IsZero() && s.clock.Now().After(s.deadline)
}

// Threshold returns the round's configured threshold, the value passed to
// GeneratePartialCommitment. Callers combining shares into a certificate
// after the round finalizes need this value; it is zero before the round
// leaves Idle.
func (s *State) Threshold() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threshold
}

// GeneratePartialCommitment is the Idle -> AwaitingParts transition. It
// fails for Bootstrap and Miner nodes, and for a node that has not
// registered its own key in the participant list (such a node is an
// observer and cannot deal).
func (s *State) GeneratePartialCommitment(threshold int) (*Part, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nodeType == NodeTypeBootstrap {
		s.isObserver = true
		return nil, ErrBootstrapCannotParticipate
	}
	if s.nodeType == NodeTypeMiner {
		s.isObserver = true
		return nil, ErrMinerCannotParticipate
	}
	if s.status != Idle {
		return nil, fmt.Errorf("dkg: generate_partial_commitment called in state %s", s.status)
	}

	gen, err := dkgkyber.NewDistKeyGenerator(bls.Default.Suite, s.longterm, s.participants, threshold)
	if err != nil {
		s.isObserver = true
		return nil, &Error{Kind: "InvalidPart", Sender: s.selfID}
	}
	s.threshold = threshold
	s.generator = gen

	deals, err := gen.Deals()
	if err != nil {
		return nil, fmt.Errorf("dkg: deals: %w", err)
	}

	part := &Part{SenderID: s.selfID, Deals: deals}
	s.status = AwaitingParts
	s.logger.Infow("part generated", "self", s.selfID, "recipients", len(deals))
	return part, nil
}

// HandlePart stores part into part_messages[senderID] only if absent
// (first-writer-wins, spec §5) and produces the Ack addressed back to
// senderID. Replaying the same sender's Part returns the originally
// produced Ack rather than reprocessing.
func (s *State) HandlePart(senderID NodeID, part *Part) (*Ack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nodeType == NodeTypeBootstrap {
		return nil, ErrBootstrapCannotParticipate
	}
	if existing, ok := s.partMessages[senderID]; ok {
		_ = existing
		if ack, ok := s.selfAcks[senderID]; ok {
			return ack, nil
		}
		return nil, nil // we are an observer for this dealer; nothing to ack
	}
	s.partMessages[senderID] = part
	if s.status == Idle {
		s.status = AwaitingParts
	}

	deal, ok := part.Deals[s.selfIndex]
	if !ok {
		// Not addressed to us: either we are the dealer or an observer for
		// this particular deal. Either way there is nothing to ack.
		return nil, nil
	}
	if s.generator == nil {
		return nil, &Error{Kind: "InvalidPart", Sender: senderID}
	}
	resp, err := s.generator.ProcessDeal(deal)
	if err != nil {
		return nil, &Error{Kind: "InvalidPart", Sender: senderID}
	}
	ack := &Ack{DealerID: senderID, AckerID: s.selfID, Response: resp}
	s.selfAcks[senderID] = ack
	s.logger.Debugw("ack produced", "dealer", senderID, "acker", s.selfID)
	return ack, nil
}

// HandleAck stores ack into ack_messages[(receiverID, senderID)] only if
// absent, where receiverID is the original dealer and senderID is the
// node that produced the ack.
func (s *State) HandleAck(receiverID, senderID NodeID, ack *Ack) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ackKey{DealerID: receiverID, AckerID: senderID}
	if _, ok := s.ackMessages[key]; ok {
		return nil
	}
	s.ackMessages[key] = ack
	if s.status == AwaitingParts {
		s.status = AwaitingAcks
	}
	return nil
}

// HandleAllAcks drives every ack addressed to this node (i.e. where this
// node was the dealer) through the underlying protocol. Any invalid ack
// produces a DkgError.InvalidAck fault; all faults in the round are
// collected (not just the first) so slashing has the full picture.
func (s *State) HandleAllAcks() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generator == nil {
		return ErrNotReady
	}

	var faults *multierror.Error
	for key, ack := range s.ackMessages {
		if key.DealerID != s.selfID {
			continue
		}
		justification, err := s.generator.ProcessResponse(ack.Response)
		if err != nil {
			faults = multierror.Append(faults, &Error{Kind: "InvalidAck", Sender: key.DealerID, Acker: key.AckerID})
			continue
		}
		if justification != nil {
			if err := s.generator.ProcessJustification(justification); err != nil {
				faults = multierror.Append(faults, &Error{Kind: "InvalidAck", Sender: key.DealerID, Acker: key.AckerID})
			}
		}
	}
	if err := faults.ErrorOrNil(); err != nil {
		return err
	}
	s.status = Ready
	s.logger.Infow("all acks handled", "self", s.selfID)
	return nil
}

// GenerateKeySet is the Ready -> Finalized transition. It produces a
// PublicKeySet for every node and, for non-observers, a SecretKeyShare.
func (s *State) GenerateKeySet() (*KeySet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != Ready {
		return nil, ErrNotReady
	}
	if s.generator == nil {
		return nil, ErrNotReady
	}

	dks, err := s.generator.DistKeyShare()
	if err != nil {
		return nil, fmt.Errorf("dkg: dist key share: %w", err)
	}

	pubPoly := bls.NewPublicKeySet(dks.Commits)
	ks := &KeySet{PublicKeySet: pubPoly}
	if !s.isObserver {
		ks.SecretKeyShare = bls.NewSecretKeyShare(dks.Share)
	}
	s.keySet = ks
	s.status = Finalized
	s.logger.Infow("key set finalized", "self", s.selfID, "observer", s.isObserver)
	return ks, nil
}

// IsObserver reports whether this node never dealt into the round (it had
// not registered its own key, or was Bootstrap/Miner).
func (s *State) IsObserver() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isObserver
}
