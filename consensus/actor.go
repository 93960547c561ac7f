package consensus

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/vrrb-network/consensus-core/block"
	"github.com/vrrb-network/consensus-core/bls"
	"github.com/vrrb-network/consensus-core/certify"
	"github.com/vrrb-network/consensus-core/dkg"
	"github.com/vrrb-network/consensus-core/log"
)

// Error wraps every typed sub-error this package can surface, plus an
// untyped Other case (spec §7's ConsensusError).
type Error struct {
	Cause error
	Other string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return "consensus: " + e.Cause.Error()
	}
	return "consensus: " + e.Other
}

func (e *Error) Unwrap() error { return e.Cause }

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Cause: err}
}

// bootstrapState tracks NodeAddedToPeerList accumulation until all
// expected bootstrap members have reported in (spec §4.8).
type bootstrapState struct {
	expected int
	online   map[string][]byte
}

// certifiedFilter is a minimal bounded bloom filter standing in for the
// original's vrrb_core::bloom::Bloom (spec's SUPPLEMENTED FEATURES): no
// pack example ships a purpose-built bloom filter for this exact role, so
// this is a hand-rolled FNV-1a-indexed bitset with no library behind it.
type certifiedFilter struct {
	bits []uint64
	k    int
}

func newCertifiedFilter(bits int, k int) *certifiedFilter {
	return &certifiedFilter{bits: make([]uint64, (bits+63)/64), k: k}
}

func (f *certifiedFilter) positions(key string) []int {
	out := make([]int, f.k)
	h := fnv1a(key)
	for i := range out {
		h = h*1099511628211 ^ uint64(i)
		out[i] = int(h % uint64(len(f.bits)*64))
	}
	return out
}

func fnv1a(s string) uint64 {
	const offset = 14695981039346656037
	const prime = 1099511628211
	h := uint64(offset)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime
	}
	return h
}

func (f *certifiedFilter) Add(key string) {
	for _, p := range f.positions(key) {
		f.bits[p/64] |= 1 << uint(p%64)
	}
}

func (f *certifiedFilter) Contains(key string) bool {
	for _, p := range f.positions(key) {
		if f.bits[p/64]&(1<<uint(p%64)) == 0 {
			return false
		}
	}
	return true
}

// voteKey identifies one (txn, farmer quorum) pair being voted on.
type voteKey struct {
	TxnID          string
	FarmerQuorumPK string
}

type voteTally struct {
	positive map[string]bool // voter -> polarity true
	negative map[string]bool
}

// Actor is the single-threaded event-driven consensus coordinator binding
// C3-C7 (spec §4.8). It owns the DKG state, the certificate share cache,
// and the certified-transaction filter exclusively; the actor adds no
// locking of its own around that state because only its own goroutine
// touches it (spec §5). dkg.State and certify.Aggregator still take their
// own internal mutexes.
// It also holds a read-only handle to the block DAG, used only to run the
// §4.6 pre-check before a convergence block is considered for
// certification; the actor never writes through it.
type Actor struct {
	ID       uuid.UUID
	SelfID   string
	NodeType dkg.NodeType
	Logger   log.Logger

	inbox chan Event
	out   chan Outbound
	stop  chan struct{}
	once  sync.Once

	dkgState *dkg.State
	dag      block.DAGReader

	quorumAssigned map[string]dkg.NodeType
	quorumMembers  map[string]bool

	bootstrap *bootstrapState
	isBoot    bool

	aggregator       *certify.Aggregator
	certified        *certifiedFilter
	pubKeySet        *bls.PublicKeySet
	certifyThreshold int

	votes map[voteKey]*voteTally
}

// NewActor constructs an Actor. dkgState, aggregator, and dag are supplied
// by the caller since their construction depends on quorum parameters
// (threshold, upper bound) and the node's DAG handle, all resolved at
// bootstrap time. dag may be nil until that point; onPrecheck errors if a
// precheck is requested before it's set.
func NewActor(selfID string, nodeType dkg.NodeType, isBootstrap bool, dkgState *dkg.State, aggregator *certify.Aggregator, dag block.DAGReader, logger log.Logger) *Actor {
	if logger == nil {
		logger = log.DefaultLogger()
	}
	return &Actor{
		ID:             uuid.New(),
		SelfID:         selfID,
		NodeType:       nodeType,
		Logger:         logger.Named("consensus"),
		inbox:          make(chan Event, 256),
		out:            make(chan Outbound, 256),
		stop:           make(chan struct{}),
		dkgState:       dkgState,
		dag:            dag,
		quorumAssigned: make(map[string]dkg.NodeType),
		quorumMembers:  make(map[string]bool),
		isBoot:         isBootstrap,
		aggregator:     aggregator,
		certified:      newCertifiedFilter(1<<16, 4),
		votes:          make(map[voteKey]*voteTally),
	}
}

// Outbound returns the channel the actor publishes outbound events to.
func (a *Actor) Outbound() <-chan Outbound { return a.out }

// Send delivers ev to the actor's inbox, preserving per-sender FIFO order
// (spec §5).
func (a *Actor) Send(ev Event) { a.inbox <- ev }

// Run processes events until a Stop event or Close is observed. It is
// meant to be launched as a single goroutine per actor.
func (a *Actor) Run() {
	for {
		select {
		case ev := <-a.inbox:
			if ev.Kind == EventStop {
				a.Logger.Infow("stopping", "self", a.SelfID)
				return
			}
			if err := a.handle(ev); err != nil {
				a.Logger.Errorw("event handling failed", "kind", ev.Kind, "error", err)
			}
		case <-a.stop:
			return
		}
	}
}

// Close stops Run without requiring a Stop event to traverse the inbox.
func (a *Actor) Close() {
	a.once.Do(func() { close(a.stop) })
}

func (a *Actor) emit(kind string, payload interface{}) {
	select {
	case a.out <- Outbound{Kind: kind, Payload: payload}:
	default:
		a.Logger.Warnw("outbound channel full, dropping event", "kind", kind)
	}
}

func (a *Actor) handle(ev Event) error {
	switch ev.Kind {
	case EventNodeAddedToPeerList:
		return a.onNodeAddedToPeerList(ev.NodeAddedToPeerList)
	case EventQuorumMembershipAssigned:
		return a.onQuorumMembershipAssigned(ev.QuorumMembership)
	case EventPartCreated:
		return a.onPartCreated(ev.PartCreated)
	case EventPartAcknowledged:
		return a.onPartAcknowledged(ev.PartAcknowledged)
	case EventAllAcksHandled:
		return wrap(a.dkgState.HandleAllAcks())
	case EventGenerateKeySet:
		ks, err := a.dkgState.GenerateKeySet()
		if err != nil {
			return wrap(err)
		}
		a.pubKeySet = ks.PublicKeySet
		a.certifyThreshold = a.dkgState.Threshold()
		a.emit("QuorumKeySet", ks)
		return nil
	case EventVoteReceived:
		return a.onVoteReceived(ev.VoteReceived)
	case EventTransactionCertificateRequested:
		return a.onTransactionCertificateRequested(ev.TxnCertRequested)
	case EventConvergenceBlockPartialSign:
		return a.onConvergencePartial(ev.ConvergencePartial, true)
	case EventPeerConvergenceBlockSign:
		return a.onConvergencePartial(ev.PeerConvergence.toSelf(), false)
	case EventPrecheckConvergenceBlock:
		return a.onPrecheck(ev.Precheck)
	case EventNoOp:
		return nil
	default:
		return nil
	}
}

func (p *PeerConvergenceBlockSign) toSelf() *ConvergenceBlockPartialSign {
	return &ConvergenceBlockPartialSign{BlockHash: p.BlockHash, Share: p.Share}
}

func (a *Actor) onNodeAddedToPeerList(n *NodeAddedToPeerList) error {
	if !a.isBoot {
		return nil
	}
	if a.bootstrap == nil {
		return fmt.Errorf("consensus: bootstrap accumulation not initialized")
	}
	a.bootstrap.online[n.NodeID] = n.PublicKey
	if len(a.bootstrap.online) >= a.bootstrap.expected {
		a.emit("AssignPeerListToQuorums", a.bootstrap.online)
	}
	return nil
}

// InitBootstrap arms peer accumulation for a bootstrap node expecting
// `expected` members to report online before quorum assignment triggers.
func (a *Actor) InitBootstrap(expected int) {
	a.bootstrap = &bootstrapState{expected: expected, online: make(map[string][]byte)}
}

func (a *Actor) onQuorumMembershipAssigned(m *QuorumMembershipAssigned) error {
	if a.isBoot {
		return wrap(dkg.ErrNotAMember)
	}
	if _, already := a.quorumAssigned[m.NodeID]; already {
		return wrap(dkg.ErrAlreadyAssigned)
	}
	a.quorumAssigned[m.NodeID] = m.Kind
	a.quorumMembers[m.NodeID] = true
	return nil
}

func (a *Actor) onPartCreated(p *PartCreated) error {
	if !a.quorumMembers[string(p.Sender)] {
		return wrap(dkg.ErrNotAMember)
	}
	ack, err := a.dkgState.HandlePart(p.Sender, p.Part)
	if err != nil {
		return wrap(err)
	}
	if ack != nil {
		a.emit("PartAcknowledged", &PartAcknowledged{Receiver: p.Sender, Sender: dkg.NodeID(a.SelfID), Ack: ack})
	}
	return nil
}

func (a *Actor) onPartAcknowledged(p *PartAcknowledged) error {
	return wrap(a.dkgState.HandleAck(p.Receiver, p.Sender, p.Ack))
}

func (a *Actor) onVoteReceived(v *VoteReceived) error {
	key := voteKey{TxnID: v.TxnID, FarmerQuorumPK: v.FarmerQuorumPK}
	tally, ok := a.votes[key]
	if !ok {
		tally = &voteTally{positive: make(map[string]bool), negative: make(map[string]bool)}
		a.votes[key] = tally
	}
	if v.Polarity {
		tally.positive[v.Voter] = true
	} else {
		tally.negative[v.Voter] = true
	}
	total := len(tally.positive) + len(tally.negative)
	if total >= v.Threshold && !a.certified.Contains(v.TxnID) {
		a.emit("TransactionCertificateRequested", &TransactionCertificateRequested{TxnID: v.TxnID, FarmerQuorumPK: v.FarmerQuorumPK})
	}
	return nil
}

func (a *Actor) onTransactionCertificateRequested(r *TransactionCertificateRequested) error {
	key := voteKey{TxnID: r.TxnID, FarmerQuorumPK: r.FarmerQuorumPK}
	tally, ok := a.votes[key]
	if !ok {
		return fmt.Errorf("consensus: certificate requested for unknown txn %s", r.TxnID)
	}
	polarity := len(tally.positive) >= len(tally.negative)
	voters := tally.negative
	if polarity {
		voters = tally.positive
	}
	a.certified.Add(r.TxnID)
	a.emit("TransactionCertificateCreated", struct {
		TxnID    string
		Polarity bool
		Voters   map[string]bool
	}{TxnID: r.TxnID, Polarity: polarity, Voters: voters})
	return nil
}

// onConvergencePartial caches a partial signature over a convergence block
// and, once a finalized key set is available, attempts to combine the
// accumulated shares into a full certificate (spec §4.8: both
// ConvergenceBlockPartialSign and PeerConvergenceBlockSign "attempt
// certification").
func (a *Actor) onConvergencePartial(p *ConvergenceBlockPartialSign, self bool) error {
	rebroadcast, err := a.aggregator.AddPartial(p.BlockHash, p.Share)
	if err != nil {
		return wrap(err)
	}
	if self && rebroadcast {
		a.emit("RebroadcastConvergenceShare", p)
	}
	if a.pubKeySet == nil {
		return nil
	}
	cert, err := a.aggregator.TryCertify(p.BlockHash, a.certifyThreshold, a.pubKeySet)
	if err != nil {
		return wrap(err)
	}
	if cert != nil {
		a.emit("ConvergenceBlockCertificateCreated", cert)
	}
	return nil
}

// onPrecheck runs the §4.6 DAG pre-check against the actor's own read-only
// DAG handle and emits CheckConflictResolution only when it passes (spec
// §4.8, §8.6: an orphan-referencing candidate must never reach conflict
// resolution).
func (a *Actor) onPrecheck(p *PrecheckConvergenceBlock) error {
	if a.dag == nil {
		return fmt.Errorf("consensus: precheck requested with no DAG reader configured")
	}
	if block.PrecheckConvergence(p.Candidate, a.dag) {
		a.emit("CheckConflictResolution", p.Candidate)
	}
	return nil
}

// CollectDkgFaults is a convenience for callers that want every
// accumulated ack fault reported together rather than one at a time; it
// wraps HandleAllAcks's multierror.
func CollectDkgFaults(err error) []error {
	if err == nil {
		return nil
	}
	if merr, ok := err.(*multierror.Error); ok {
		return merr.Errors
	}
	return []error{err}
}
