package validator_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vrrb-network/consensus-core/validator"
)

func TestCoreManagerValidatesWholeBatch(t *testing.T) {
	now := time.Now()
	var txns []*validator.Txn
	var accountsList []*fakeAccounts
	for i := 0; i < 8; i++ {
		txn, accounts := validTxn(t, now)
		txns = append(txns, txn)
		accountsList = append(accountsList, accounts)
	}

	merged := &fakeAccounts{senders: map[string]bool{}, receivers: map[string]bool{}}
	for _, a := range accountsList {
		for k := range a.senders {
			merged.senders[k] = true
		}
		for k := range a.receivers {
			merged.receivers[k] = true
		}
	}

	cm := validator.NewCoreManager(4, merged)
	defer cm.Close()

	results := cm.Validate(txns)
	require.Len(t, results, len(txns))
	for _, r := range results {
		require.NoError(t, r.Err)
	}
}

func TestCoreManagerCloneIsIndependent(t *testing.T) {
	accounts := &fakeAccounts{senders: map[string]bool{}, receivers: map[string]bool{}}
	cm := validator.NewCoreManager(2, accounts)
	clone := cm.Clone()
	defer clone.Close()
	cm.Close()

	// The clone must still be usable after the original is closed.
	results := clone.Validate(nil)
	require.Len(t, results, 0)
}
