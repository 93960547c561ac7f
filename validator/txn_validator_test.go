package validator_test

import (
	"testing"
	"time"

	"github.com/drand/kyber/util/random"
	"github.com/stretchr/testify/require"

	"github.com/vrrb-network/consensus-core/bls"
	"github.com/vrrb-network/consensus-core/validator"
)

type fakeAccounts struct {
	senders   map[string]bool
	receivers map[string]bool
}

func (f *fakeAccounts) SenderAddressExists(addr string) bool   { return f.senders[addr] }
func (f *fakeAccounts) ReceiverAddressExists(addr string) bool { return f.receivers[addr] }

func validTxn(t *testing.T, now time.Time) (*validator.Txn, *fakeAccounts) {
	t.Helper()
	secret := bls.Default.KeyGroup.Scalar().Pick(random.New())
	pub := bls.Default.KeyGroup.Point().Mul(secret, nil)
	pubBytes, err := pub.MarshalBinary()
	require.NoError(t, err)

	txn := &validator.Txn{
		ID:              "txn-1",
		SenderAddress:   "sender-addr",
		SenderPublicKey: pubBytes,
		ReceiverAddress: "receiver-addr",
		Amount:          10,
		TimestampNanos:  now.UnixNano(),
		Hash:            [32]byte{1, 2, 3},
	}
	sig, err := bls.Default.AuthScheme.Sign(secret, txn.Hash[:])
	require.NoError(t, err)
	txn.Signature = sig

	accounts := &fakeAccounts{
		senders:   map[string]bool{"sender-addr": true},
		receivers: map[string]bool{"receiver-addr": true},
	}
	return txn, accounts
}

func TestValidateAcceptsWellFormedTxn(t *testing.T) {
	now := time.Now()
	txn, accounts := validTxn(t, now)
	require.NoError(t, validator.Validate(txn, accounts, now))
}

func TestValidateRejectsZeroAmount(t *testing.T) {
	now := time.Now()
	txn, accounts := validTxn(t, now)
	txn.Amount = 0
	err := validator.Validate(txn, accounts, now)
	requireKind(t, err, "TxnAmountIncorrect")
}

func TestValidateRejectsBadPublicKey(t *testing.T) {
	now := time.Now()
	txn, accounts := validTxn(t, now)
	txn.SenderPublicKey = []byte("not-a-valid-point")
	err := validator.Validate(txn, accounts, now)
	requireKind(t, err, "SenderPublicKeyIncorrect")
}

func TestValidateRejectsMissingSenderAddress(t *testing.T) {
	now := time.Now()
	txn, accounts := validTxn(t, now)
	txn.SenderAddress = ""
	err := validator.Validate(txn, accounts, now)
	requireKind(t, err, "SenderAddressMissing")
}

func TestValidateRejectsUnknownSenderAddress(t *testing.T) {
	now := time.Now()
	txn, accounts := validTxn(t, now)
	txn.SenderAddress = "unknown"
	err := validator.Validate(txn, accounts, now)
	requireKind(t, err, "SenderAddressIncorrect")
}

func TestValidateRejectsUnknownReceiverAddress(t *testing.T) {
	now := time.Now()
	txn, accounts := validTxn(t, now)
	txn.ReceiverAddress = "unknown"
	err := validator.Validate(txn, accounts, now)
	requireKind(t, err, "ReceiverAddressIncorrect")
}

func TestValidateRejectsBadSignature(t *testing.T) {
	now := time.Now()
	txn, accounts := validTxn(t, now)
	txn.Signature[0] ^= 0xFF
	err := validator.Validate(txn, accounts, now)
	requireKind(t, err, "TxnSignatureIncorrect")
}

func TestValidateRejectsStaleTimestamp(t *testing.T) {
	now := time.Now()
	txn, accounts := validTxn(t, now)
	txn.TimestampNanos = now.Add(-time.Hour).UnixNano()
	// No re-signing is needed: timestamp isn't part of Hash in this minimal
	// surface, so the signature stays valid while the timestamp is stale.
	err := validator.Validate(txn, accounts, now)
	requireKind(t, err, "OutOfBoundsTimestamp")
}

func requireKind(t *testing.T, err error, want string) {
	t.Helper()
	require.Error(t, err)
	vErr, ok := err.(*validator.Error)
	require.True(t, ok, "expected *validator.Error, got %T", err)
	require.Equal(t, want, vErr.Kind)
}
