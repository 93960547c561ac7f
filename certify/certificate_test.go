package certify_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vrrb-network/consensus-core/bls"
	"github.com/vrrb-network/consensus-core/certify"
)

func TestTryCertifyReturnsNilBelowThreshold(t *testing.T) {
	agg := certify.NewAggregator(testN)
	blockHash := [32]byte{1}
	_, pubKeySet, shares := quorumFixture(t, blockHash)

	for _, sh := range shares[:testT-1] {
		_, err := agg.AddPartial(blockHash, sh)
		require.NoError(t, err)
	}

	cert, err := agg.TryCertify(blockHash, testT, pubKeySet)
	require.NoError(t, err)
	require.Nil(t, cert)
}

func TestTryCertifyCombinesThresholdShares(t *testing.T) {
	agg := certify.NewAggregator(testN)
	blockHash := [32]byte{2}
	_, pubKeySet, shares := quorumFixture(t, blockHash)

	for _, sh := range shares[:testT+1] {
		_, err := agg.AddPartial(blockHash, sh)
		require.NoError(t, err)
	}

	cert, err := agg.TryCertify(blockHash, testT, pubKeySet)
	require.NoError(t, err)
	require.NotNil(t, cert)
	require.Equal(t, blockHash, cert.BlockHash)

	pub := pubKeySet.Poly.Commit()
	require.NoError(t, bls.Default.ThresholdScheme.VerifyRecovered(pub, blockHash[:], cert.Signature))
}

func TestTryCertifyIsSealedAfterFirstCertificate(t *testing.T) {
	agg := certify.NewAggregator(testN)
	blockHash := [32]byte{3}
	_, pubKeySet, shares := quorumFixture(t, blockHash)

	for _, sh := range shares[:testT+1] {
		_, err := agg.AddPartial(blockHash, sh)
		require.NoError(t, err)
	}
	first, err := agg.TryCertify(blockHash, testT, pubKeySet)
	require.NoError(t, err)
	require.NotNil(t, first)

	// A late straggler share is still accepted...
	_, err = agg.AddPartial(blockHash, shares[testT+1])
	require.NoError(t, err)

	// ...but no second certificate is ever produced for the same hash.
	second, err := agg.TryCertify(blockHash, testT, pubKeySet)
	require.NoError(t, err)
	require.Nil(t, second)
}
