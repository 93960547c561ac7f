package certify_test

import (
	"testing"

	"github.com/drand/kyber/share"
	"github.com/drand/kyber/util/random"
	"github.com/stretchr/testify/require"

	"github.com/vrrb-network/consensus-core/bls"
	"github.com/vrrb-network/consensus-core/certify"
)

const (
	testN = 7
	testT = testN/2 + 1
)

// quorumFixture builds a (t, n) threshold keyset and a signed partial share
// per participant over blockHash, mirroring a completed DKG round.
func quorumFixture(t *testing.T, blockHash [32]byte) (*share.PriPoly, *bls.PublicKeySet, []certify.Share) {
	t.Helper()
	priPoly := share.NewPriPoly(bls.Default.KeyGroup, testT, nil, random.New())
	pubPoly := priPoly.Commit(bls.Default.KeyGroup.Point().Base())

	priShares := priPoly.Shares(testN)
	shares := make([]certify.Share, 0, testN)
	for _, ps := range priShares {
		sig, err := bls.Default.ThresholdScheme.Sign(ps, blockHash[:])
		require.NoError(t, err)

		pubShare := pubPoly.Eval(ps.I).V
		pubBytes, err := pubShare.MarshalBinary()
		require.NoError(t, err)

		shares = append(shares, certify.Share{NodeIdx: ps.I, PublicKey: pubBytes, Signature: sig})
	}
	return priPoly, &bls.PublicKeySet{Poly: pubPoly}, shares
}

func TestAddPartialAcceptsValidShare(t *testing.T) {
	agg := certify.NewAggregator(testN)
	blockHash := [32]byte{1, 2, 3}
	_, _, shares := quorumFixture(t, blockHash)

	rebroadcast, err := agg.AddPartial(blockHash, shares[0])
	require.NoError(t, err)
	require.True(t, rebroadcast)
	require.Equal(t, 1, agg.Count(blockHash))
}

func TestAddPartialIsIdempotent(t *testing.T) {
	agg := certify.NewAggregator(testN)
	blockHash := [32]byte{4, 5, 6}
	_, _, shares := quorumFixture(t, blockHash)

	_, err := agg.AddPartial(blockHash, shares[0])
	require.NoError(t, err)
	_, err = agg.AddPartial(blockHash, shares[0])
	require.NoError(t, err)
	require.Equal(t, 1, agg.Count(blockHash))
}

func TestAddPartialRejectsBadSignature(t *testing.T) {
	agg := certify.NewAggregator(testN)
	blockHash := [32]byte{7, 8, 9}
	_, _, shares := quorumFixture(t, blockHash)

	tampered := shares[0]
	tampered.Signature = append([]byte{}, tampered.Signature...)
	tampered.Signature[len(tampered.Signature)-1] ^= 0xFF

	_, err := agg.AddPartial(blockHash, tampered)
	require.Error(t, err)
	require.Equal(t, 0, agg.Count(blockHash))
}
