package txn

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/summa-ledger/summa/common/mmodel"
)

func TestTransactionPostedEvent_WireShape(t *testing.T) {
	accID, sysID := uuid.New(), uuid.New()
	postedAt := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	before, after := int64(10_000), int64(9_500)

	txnRow := &mmodel.Transaction{ID: uuid.New(), PostedAt: &postedAt}
	entries := []*mmodel.Entry{
		{AccountID: &accID, EntryType: mmodel.EntryDebit, Amount: 500, BalanceBefore: &before, BalanceAfter: &after},
		{SystemAccountID: &sysID, EntryType: mmodel.EntryCredit, Amount: 500, IsHotAccount: true},
	}

	data := transactionPostedEvent(txnRow, entries)

	assert.Equal(t, postedAt.Format(time.RFC3339Nano), data["postedAt"])

	legs, ok := data["entries"].([]any)
	require.True(t, ok)
	require.Len(t, legs, 2)

	first, ok := legs[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, accID.String(), first["accountId"])
	assert.Equal(t, "DEBIT", first["entryType"])
	assert.Equal(t, int64(500), first["amount"])
	assert.Equal(t, int64(10_000), first["balanceBefore"])
	assert.Equal(t, int64(9_500), first["balanceAfter"])

	second, ok := legs[1].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, sysID.String(), second["accountId"])
	assert.Equal(t, "CREDIT", second["entryType"])
	assert.Contains(t, second, "balanceBefore", "hot-account legs carry no balance snapshot")
	assert.Nil(t, second["balanceBefore"])
	assert.Contains(t, second, "balanceAfter")
	assert.Nil(t, second["balanceAfter"])
}
