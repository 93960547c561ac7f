package dkg_test

import (
	"testing"
	"time"

	"github.com/drand/kyber"
	"github.com/drand/kyber/util/random"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/vrrb-network/consensus-core/bls"
	"github.com/vrrb-network/consensus-core/dkg"
)

const roundSize = 4

type round struct {
	secrets      []kyber.Scalar
	participants []kyber.Point
	states       []*dkg.State
	clock        clockwork.FakeClock
}

func newRound(t *testing.T) *round {
	t.Helper()
	clock := clockwork.NewFakeClock()
	r := &round{clock: clock}
	for i := 0; i < roundSize; i++ {
		secret := bls.Default.KeyGroup.Scalar().Pick(random.New())
		r.secrets = append(r.secrets, secret)
		r.participants = append(r.participants, bls.Default.KeyGroup.Point().Mul(secret, nil))
	}
	for i := 0; i < roundSize; i++ {
		st := dkg.NewState(dkg.NodeID(nodeID(i)), dkg.NodeTypeValidator, i, r.participants, r.secrets[i], clock, nil)
		r.states = append(r.states, st)
	}
	return r
}

func nodeID(i int) string {
	return []string{"0", "1", "2", "3"}[i]
}

// runFullRound drives every node through GeneratePartialCommitment,
// HandlePart, HandleAck, and HandleAllAcks so every node reaches Ready.
func (r *round) runFullRound(t *testing.T) {
	t.Helper()
	threshold := dkg.Threshold(roundSize)

	parts := make([]*dkg.Part, roundSize)
	for i := 0; i < roundSize; i++ {
		part, err := r.states[i].GeneratePartialCommitment(threshold)
		require.NoError(t, err)
		parts[i] = part
	}

	for dealer := 0; dealer < roundSize; dealer++ {
		for acker := 0; acker < roundSize; acker++ {
			ack, err := r.states[acker].HandlePart(dkg.NodeID(nodeID(dealer)), parts[dealer])
			require.NoError(t, err)
			if ack == nil {
				continue
			}
			require.NoError(t, r.states[dealer].HandleAck(dkg.NodeID(nodeID(dealer)), dkg.NodeID(nodeID(acker)), ack))
		}
	}

	for i := 0; i < roundSize; i++ {
		require.NoError(t, r.states[i].HandleAllAcks())
		require.Equal(t, dkg.Ready, r.states[i].Status())
	}
}

func TestFullRoundReachesReady(t *testing.T) {
	r := newRound(t)
	r.runFullRound(t)
}

func TestGenerateKeySetProducesConsistentPublicCommit(t *testing.T) {
	r := newRound(t)
	r.runFullRound(t)

	var firstCommit kyber.Point
	for i := 0; i < roundSize; i++ {
		ks, err := r.states[i].GenerateKeySet()
		require.NoError(t, err)
		require.NotNil(t, ks.SecretKeyShare)
		require.Equal(t, dkg.Finalized, r.states[i].Status())

		commit := ks.PublicKeySet.Poly.Commit()
		if firstCommit == nil {
			firstCommit = commit
		} else {
			require.True(t, commit.Equal(firstCommit), "node %d computed a different joint public key", i)
		}
	}
}

func TestGenerateKeySetFailsBeforeReady(t *testing.T) {
	r := newRound(t)
	threshold := dkg.Threshold(roundSize)
	_, err := r.states[0].GeneratePartialCommitment(threshold)
	require.NoError(t, err)

	_, err = r.states[0].GenerateKeySet()
	require.ErrorIs(t, err, dkg.ErrNotReady)
}

func TestGeneratePartialCommitmentRejectsBootstrap(t *testing.T) {
	clock := clockwork.NewFakeClock()
	secret := bls.Default.KeyGroup.Scalar().Pick(random.New())
	pub := bls.Default.KeyGroup.Point().Mul(secret, nil)
	st := dkg.NewState("bootstrap-0", dkg.NodeTypeBootstrap, 0, []kyber.Point{pub}, secret, clock, nil)

	_, err := st.GeneratePartialCommitment(dkg.Threshold(1))
	require.ErrorIs(t, err, dkg.ErrBootstrapCannotParticipate)
}

func TestGeneratePartialCommitmentRejectsMiner(t *testing.T) {
	clock := clockwork.NewFakeClock()
	secret := bls.Default.KeyGroup.Scalar().Pick(random.New())
	pub := bls.Default.KeyGroup.Point().Mul(secret, nil)
	st := dkg.NewState("miner-0", dkg.NodeTypeMiner, 0, []kyber.Point{pub}, secret, clock, nil)

	_, err := st.GeneratePartialCommitment(dkg.Threshold(1))
	require.ErrorIs(t, err, dkg.ErrMinerCannotParticipate)
}

func TestExpiredReportsPastDeadline(t *testing.T) {
	clock := clockwork.NewFakeClock()
	secret := bls.Default.KeyGroup.Scalar().Pick(random.New())
	pub := bls.Default.KeyGroup.Point().Mul(secret, nil)
	st := dkg.NewState("node-0", dkg.NodeTypeValidator, 0, []kyber.Point{pub}, secret, clock, nil)

	st.SetDeadline(10 * time.Second)
	require.False(t, st.Expired())

	clock.Advance(11 * time.Second)
	require.True(t, st.Expired())
}

func TestHandleAckIsIdempotent(t *testing.T) {
	r := newRound(t)
	threshold := dkg.Threshold(roundSize)
	part0, err := r.states[0].GeneratePartialCommitment(threshold)
	require.NoError(t, err)
	_, err = r.states[1].GeneratePartialCommitment(threshold)
	require.NoError(t, err)

	ack, err := r.states[1].HandlePart(dkg.NodeID(nodeID(0)), part0)
	require.NoError(t, err)
	require.NotNil(t, ack)

	require.NoError(t, r.states[0].HandleAck(dkg.NodeID(nodeID(0)), dkg.NodeID(nodeID(1)), ack))
	// Replaying the same ack must not error or double-count.
	require.NoError(t, r.states[0].HandleAck(dkg.NodeID(nodeID(0)), dkg.NodeID(nodeID(1)), ack))
}
