// Package validator implements per-transaction structural validation and
// the bounded worker pool that runs it across a batch.
package validator

import (
	"fmt"
	"time"

	"github.com/vrrb-network/consensus-core/bls"
)

// Error is the typed per-transaction fault taxonomy (spec §7's
// TxnValidatorError).
type Error struct {
	Kind string
	Low  int64
	High int64
}

func (e *Error) Error() string {
	switch e.Kind {
	case "SenderAddressMissing":
		return "validator: sender address missing"
	case "SenderAddressIncorrect":
		return "validator: sender address incorrect"
	case "SenderPublicKeyIncorrect":
		return "validator: sender public key incorrect"
	case "ReceiverAddressMissing":
		return "validator: receiver address missing"
	case "ReceiverAddressIncorrect":
		return "validator: receiver address incorrect"
	case "OutOfBoundsTimestamp":
		return fmt.Sprintf("validator: timestamp out of bounds [%d, %d]", e.Low, e.High)
	case "TxnAmountIncorrect":
		return "validator: amount incorrect"
	case "TxnSignatureIncorrect":
		return "validator: signature incorrect"
	case "AccountNotFound":
		return "validator: account not found"
	default:
		return "validator: " + e.Kind
	}
}

// Txn is the minimal transaction surface validated here; full transaction
// semantics (payload building, fee computation) belong to the mempool
// collaborator (spec §1).
type Txn struct {
	ID              string
	SenderAddress   string
	SenderPublicKey []byte
	ReceiverAddress string
	Amount          uint64
	TimestampNanos  int64
	Signature       []byte
	Hash            [32]byte
}

// AccountReader resolves the account state a transaction claims to spend
// from; it is an external collaborator (the state store), consumed only
// through this narrow interface.
type AccountReader interface {
	SenderAddressExists(addr string) bool
	ReceiverAddressExists(addr string) bool
}

const maxClockSkew = 5 * time.Second

// Validate runs the structural checks in the order spec §4.6/§7 implies:
// amount, sender public key, sender address, receiver address, signature,
// timestamp.
func Validate(t *Txn, accounts AccountReader, now time.Time) error {
	if t.Amount == 0 {
		return &Error{Kind: "TxnAmountIncorrect"}
	}
	pub := bls.Default.KeyGroup.Point()
	if err := pub.UnmarshalBinary(t.SenderPublicKey); err != nil {
		return &Error{Kind: "SenderPublicKeyIncorrect"}
	}
	if t.SenderAddress == "" {
		return &Error{Kind: "SenderAddressMissing"}
	}
	if !accounts.SenderAddressExists(t.SenderAddress) {
		return &Error{Kind: "SenderAddressIncorrect"}
	}
	if t.ReceiverAddress == "" {
		return &Error{Kind: "ReceiverAddressMissing"}
	}
	if !accounts.ReceiverAddressExists(t.ReceiverAddress) {
		return &Error{Kind: "ReceiverAddressIncorrect"}
	}
	if err := bls.Default.AuthScheme.Verify(pub, t.Hash[:], t.Signature); err != nil {
		return &Error{Kind: "TxnSignatureIncorrect"}
	}
	low := now.Add(-maxClockSkew).UnixNano()
	high := now.Add(maxClockSkew).UnixNano()
	if t.TimestampNanos < low || t.TimestampNanos > high {
		return &Error{Kind: "OutOfBoundsTimestamp", Low: low, High: high}
	}
	return nil
}
