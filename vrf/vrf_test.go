package vrf_test

import (
	"testing"

	"github.com/drand/kyber/util/random"
	"github.com/stretchr/testify/require"

	"github.com/vrrb-network/consensus-core/bls"
	"github.com/vrrb-network/consensus-core/vrf"
)

func TestGenerateSeedVerifies(t *testing.T) {
	secret := bls.Default.KeyGroup.Scalar().Pick(random.New())
	pub := bls.Default.KeyGroup.Point().Mul(secret, nil)
	parentHash := []byte("parent-block-hash")

	seed, proof, err := vrf.GenerateSeed(parentHash, secret)
	require.NoError(t, err)
	require.NotNil(t, proof)

	require.NoError(t, vrf.Verify(parentHash, pub, seed, proof))
}

func TestGenerateSeedIsDeterministic(t *testing.T) {
	secret := bls.Default.KeyGroup.Scalar().Pick(random.New())
	parentHash := []byte("same-parent")

	seed1, proof1, err := vrf.GenerateSeed(parentHash, secret)
	require.NoError(t, err)
	seed2, proof2, err := vrf.GenerateSeed(parentHash, secret)
	require.NoError(t, err)

	require.Equal(t, seed1, seed2)
	require.Equal(t, proof1.Counter, proof2.Counter)
	require.Equal(t, proof1.Signature, proof2.Signature)
}

func TestVerifyRejectsWrongPublicKey(t *testing.T) {
	secret := bls.Default.KeyGroup.Scalar().Pick(random.New())
	other := bls.Default.KeyGroup.Scalar().Pick(random.New())
	otherPub := bls.Default.KeyGroup.Point().Mul(other, nil)
	parentHash := []byte("parent")

	seed, proof, err := vrf.GenerateSeed(parentHash, secret)
	require.NoError(t, err)

	require.ErrorIs(t, vrf.Verify(parentHash, otherPub, seed, proof), vrf.ErrSelfVerificationFailed)
}

func TestVerifyRejectsMismatchedSeed(t *testing.T) {
	secret := bls.Default.KeyGroup.Scalar().Pick(random.New())
	pub := bls.Default.KeyGroup.Point().Mul(secret, nil)
	parentHash := []byte("parent")

	seed, proof, err := vrf.GenerateSeed(parentHash, secret)
	require.NoError(t, err)

	require.ErrorIs(t, vrf.Verify(parentHash, pub, seed+1, proof), vrf.ErrSeedMismatch)
}
