// Package bls bundles the BLS12-381 threshold-signature scheme shared by
// claims, block headers, and certificates. It generalizes the teacher's
// randomness-beacon scheme (drand/crypto) to signing arbitrary consensus
// messages instead of chained beacon rounds.
package bls

import (
	"crypto/cipher"
	"hash"

	"github.com/drand/kyber"
	pairing "github.com/drand/kyber-bls12381"
	"github.com/drand/kyber/share"
	"github.com/drand/kyber/share/dkg"
	"github.com/drand/kyber/sign"
	signBls "github.com/drand/kyber/sign/bls" //nolint:staticcheck // simple signatures only, no aggregation
	"github.com/drand/kyber/sign/tbls"
	"golang.org/x/crypto/blake2b"
)

// SchemeID identifies the single scheme this module supports.
const SchemeID = "bls12381-threshold"

// Scheme bundles the groups and signature schemes used throughout the
// consensus core: a plain BLS scheme for claim and header signatures
// (AuthScheme) and a (t,n) threshold scheme for certificates
// (ThresholdScheme).
type Scheme struct {
	Name string
	// Suite is the key group (G1) wrapped with the pairing suite's hash,
	// XOF, and randomness (see dkgGroupSuite), the form the DKG package
	// needs since it mixes group arithmetic with hashing.
	Suite dkg.Suite
	// KeyGroup is the group private/public keys and key shares live in.
	KeyGroup kyber.Group
	// SigGroup is the group signatures and signature shares live in.
	SigGroup kyber.Group
	// ThresholdScheme combines partial signatures from a DKG keyset into a
	// full threshold signature.
	ThresholdScheme sign.ThresholdScheme
	// AuthScheme signs single messages under a single long-term keypair
	// (claim signatures, block header signatures).
	AuthScheme   sign.Scheme
	IdentityHash func() hash.Hash
}

// PublicKeySet is the public commitment polynomial produced by a completed
// DKG round: evaluating it at a node's index yields that node's public key
// share, used to verify the node's partial signatures.
type PublicKeySet struct {
	Poly *share.PubPoly
}

// NewPublicKeySet builds a PublicKeySet from a DKG round's commitment
// vector, rooted at the key group's base point.
func NewPublicKeySet(commits []kyber.Point) *PublicKeySet {
	return &PublicKeySet{Poly: share.NewPubPoly(Default.KeyGroup, Default.KeyGroup.Point().Base(), commits)}
}

// SecretKeyShare is one participant's share of the quorum's threshold
// private key.
type SecretKeyShare struct {
	Share *share.PriShare
}

// NewSecretKeyShare wraps a raw private share produced by the DKG.
func NewSecretKeyShare(sh *share.PriShare) *SecretKeyShare {
	return &SecretKeyShare{Share: sh}
}

// dkgGroupSuite adapts the key group (G1) of the pairing suite into the
// dkg.Suite shape (kyber.Group + HashFactory + XOFFactory + Random) that
// github.com/drand/kyber/share/dkg requires. G1 alone only gives point and
// scalar arithmetic; the hashing and randomness methods are forwarded from
// the enclosing pairing suite.
type dkgGroupSuite struct {
	kyber.Group
	full pairing.Suite
}

func (s *dkgGroupSuite) Hash() hash.Hash           { return s.full.Hash() }
func (s *dkgGroupSuite) XOF(seed []byte) kyber.XOF { return s.full.XOF(seed) }
func (s *dkgGroupSuite) RandomStream() cipher.Stream {
	return s.full.RandomStream()
}

// New builds the scheme used everywhere in this module: BLS12-381 with
// keys on G1 (48 bytes) and signatures on G2 (96 bytes), matching the
// Certificate wire format in spec §6 (96-byte combined signature, 48-byte
// public key share).
func New() *Scheme {
	suite := pairing.NewBLS12381SuiteWithDST(
		[]byte("BLS_SIG_BLS12381G1_XMD:SHA-256_SSWU_RO_NUL_"),
		[]byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_NUL_"),
	)
	return &Scheme{
		Name:            SchemeID,
		Suite:           &dkgGroupSuite{Group: suite.G1(), full: suite},
		KeyGroup:        suite.G1(),
		SigGroup:        suite.G2(),
		ThresholdScheme: tbls.NewThresholdSchemeOnG2(suite),
		AuthScheme:      signBls.NewSchemeOnG2(suite),
		IdentityHash:    func() hash.Hash { h, _ := blake2b.New256(nil); return h },
	}
}

// Default is the process-wide scheme instance. Every component that needs
// to sign or verify uses this rather than constructing its own, so that
// key material generated by the DKG remains interoperable across
// components.
var Default = New()
