package txn

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/summa-ledger/summa/common/mmodel"
	"github.com/summa-ledger/summa/internal/balance"
	"github.com/summa-ledger/summa/internal/enginetest"
	"github.com/summa-ledger/summa/internal/eventstore"
	"github.com/summa-ledger/summa/internal/hotaccount"
	"github.com/summa-ledger/summa/internal/idempotency"
	"github.com/summa-ledger/summa/pkg/adapter"
	"github.com/summa-ledger/summa/pkg/merrors"
)

func newTestManager(db *enginetest.FakeDB) *Manager {
	resolver := adapter.NewTableResolver("summa")

	return New(db, resolver,
		balance.NewManager(resolver, balance.LockWait, balance.RetryPolicy{}, nil),
		eventstore.New(resolver, nil),
		idempotency.New(resolver, 0),
		hotaccount.New(resolver, 0),
		nil, nil, Config{})
}

// entrySumsBalance checks invariant E1 for one transaction: debit and
// credit entry totals match.
func entrySumsBalance(t *testing.T, db *enginetest.FakeDB, txnID uuid.UUID) {
	t.Helper()

	var debits, credits int64

	for _, e := range db.Entries {
		if e.TransactionID != txnID {
			continue
		}

		if e.EntryType == mmodel.EntryDebit {
			debits += e.Amount
		} else {
			credits += e.Amount
		}
	}

	assert.Equal(t, debits, credits, "transaction %s entries must balance", txnID)
}

func TestCreditThenDebit_BalancesAndZeroSum(t *testing.T) {
	db := enginetest.NewFakeDB()
	m := newTestManager(db)
	ctx := context.Background()

	ledger, world := uuid.New(), uuid.New()
	alice := db.SeedAccount(ledger, 0)

	creditTxn, _, err := m.Credit(ctx, CreditInput{
		LedgerID: ledger, AccountID: alice, Amount: 25_000, Currency: "USD",
		Reference: "credit-1", WorldAccountID: world,
	})
	require.NoError(t, err)

	debitTxn, _, err := m.Debit(ctx, DebitInput{
		LedgerID: ledger, AccountID: alice, Amount: 10_000, Currency: "USD",
		Reference: "debit-1", WorldAccountID: world,
	})
	require.NoError(t, err)

	acc := db.Accounts[alice]
	assert.Equal(t, int64(15_000), acc.Balance)
	assert.Equal(t, int64(25_000), acc.CreditBalance)
	assert.Equal(t, int64(10_000), acc.DebitBalance)
	assert.Equal(t, int64(15_000), acc.Balance-acc.PendingDebit, "available balance")

	// Global zero sum: user balances plus pending hot entries net to zero.
	assert.Equal(t, int64(0), db.UserBalanceSum()+db.HotPendingSum())

	require.Len(t, db.Transactions, 2)
	require.Len(t, db.Entries, 4)
	entrySumsBalance(t, db, creditTxn.ID)
	entrySumsBalance(t, db, debitTxn.ID)

	assert.Len(t, db.EventsFor(creditTxn.ID), 1)
	assert.Len(t, db.EventsFor(debitTxn.ID), 1)
}

func TestPost_DuplicateReference_Conflict(t *testing.T) {
	db := enginetest.NewFakeDB()
	m := newTestManager(db)
	ctx := context.Background()

	ledger := uuid.New()
	alice := db.SeedAccount(ledger, 10_000)
	bob := db.SeedAccount(ledger, 0)

	_, _, err := m.Transfer(ctx, TransferInput{
		LedgerID: ledger, SourceAccountID: alice, DestinationAccountID: bob,
		Amount: 500, Currency: "USD", Reference: "r1",
	})
	require.NoError(t, err)

	_, _, err = m.Transfer(ctx, TransferInput{
		LedgerID: ledger, SourceAccountID: alice, DestinationAccountID: bob,
		Amount: 500, Currency: "USD", Reference: "r1",
	})
	require.Error(t, err)
	assert.Equal(t, merrors.Conflict, merrors.CodeOf(err))

	assert.Equal(t, int64(9_500), db.Accounts[alice].Balance, "second call must not move money")
	assert.Equal(t, int64(500), db.Accounts[bob].Balance)
	assert.Len(t, db.Transactions, 1)
}

func TestPost_IdempotentReplay_ReturnsCachedResult(t *testing.T) {
	db := enginetest.NewFakeDB()
	m := newTestManager(db)
	ctx := context.Background()

	ledger := uuid.New()
	alice := db.SeedAccount(ledger, 10_000)
	bob := db.SeedAccount(ledger, 0)

	key := "k1"

	in := TransferInput{
		LedgerID: ledger, SourceAccountID: alice, DestinationAccountID: bob,
		Amount: 500, Currency: "USD", Reference: "r1", IdempotencyKey: &key,
	}

	first, _, err := m.Transfer(ctx, in)
	require.NoError(t, err)

	second, _, err := m.Transfer(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "replay returns the original transaction id")
	assert.Len(t, db.Transactions, 1, "replay produces no new rows")
	assert.Equal(t, int64(9_500), db.Accounts[alice].Balance, "balances applied exactly once")
}

func TestPost_IdempotencyKeyReuse_DifferentReference_Conflict(t *testing.T) {
	db := enginetest.NewFakeDB()
	m := newTestManager(db)
	ctx := context.Background()

	ledger := uuid.New()
	alice := db.SeedAccount(ledger, 10_000)
	bob := db.SeedAccount(ledger, 0)

	key := "k1"

	_, _, err := m.Transfer(ctx, TransferInput{
		LedgerID: ledger, SourceAccountID: alice, DestinationAccountID: bob,
		Amount: 500, Currency: "USD", Reference: "r1", IdempotencyKey: &key,
	})
	require.NoError(t, err)

	_, _, err = m.Transfer(ctx, TransferInput{
		LedgerID: ledger, SourceAccountID: alice, DestinationAccountID: bob,
		Amount: 500, Currency: "USD", Reference: "r2", IdempotencyKey: &key,
	})
	require.Error(t, err)
	assert.Equal(t, merrors.Conflict, merrors.CodeOf(err))
}

func TestMultiTransfer_LocksSourceFirstThenDestinationsAscending(t *testing.T) {
	db := enginetest.NewFakeDB()
	m := newTestManager(db)
	ctx := context.Background()

	ledger := uuid.New()
	src := db.SeedAccount(ledger, 10_000)
	d1 := db.SeedAccount(ledger, 0)
	d2 := db.SeedAccount(ledger, 0)
	d3 := db.SeedAccount(ledger, 0)

	asc := []uuid.UUID{d1, d2, d3}
	for i := 0; i < len(asc); i++ {
		for j := i + 1; j < len(asc); j++ {
			if asc[j].String() < asc[i].String() {
				asc[i], asc[j] = asc[j], asc[i]
			}
		}
	}

	// Destinations handed over in descending order; the lock sequence must
	// still be source first, then ascending UUID.
	_, _, err := m.MultiTransfer(ctx, MultiTransferInput{
		LedgerID:        ledger,
		SourceAccountID: src,
		Destinations: []MultiTransferDestination{
			{AccountID: &asc[2], Amount: amt64(100)},
			{AccountID: &asc[1], Amount: amt64(200)},
			{AccountID: &asc[0]},
		},
		Amount: 1_000, Currency: "USD", Reference: "fan-1",
	})
	require.NoError(t, err)

	require.Len(t, db.LockOrder, 4)
	assert.Equal(t, src, db.LockOrder[0])
	assert.Equal(t, []uuid.UUID{asc[0], asc[1], asc[2]}, db.LockOrder[1:])

	assert.Equal(t, int64(9_000), db.Accounts[src].Balance)
	assert.Equal(t, int64(700), db.Accounts[asc[0]].Balance, "open destination receives the remainder")
	assert.Equal(t, int64(200), db.Accounts[asc[1]].Balance)
	assert.Equal(t, int64(100), db.Accounts[asc[2]].Balance)
}

func TestJournal_UnbalancedLegs_Rejected(t *testing.T) {
	db := enginetest.NewFakeDB()
	m := newTestManager(db)
	ctx := context.Background()

	ledger := uuid.New()
	a := db.SeedAccount(ledger, 1_000)
	b := db.SeedAccount(ledger, 0)

	_, _, err := m.Journal(ctx, JournalInput{
		LedgerID: ledger, Currency: "USD", Reference: "j1",
		Legs: []JournalLeg{
			{AccountID: &a, Direction: balance.Debit, Amount: 100},
			{AccountID: &b, Direction: balance.Credit, Amount: 50},
		},
	})
	require.Error(t, err)
	assert.Equal(t, merrors.InvalidArgument, merrors.CodeOf(err))
	assert.Empty(t, db.Transactions)
}

func TestCredit_FrozenAccount_RejectedAndRolledBack(t *testing.T) {
	db := enginetest.NewFakeDB()
	m := newTestManager(db)
	ctx := context.Background()

	ledger, world := uuid.New(), uuid.New()
	alice := db.SeedAccount(ledger, 0)
	db.Accounts[alice].Status = mmodel.StatusFrozen

	_, _, err := m.Credit(ctx, CreditInput{
		LedgerID: ledger, AccountID: alice, Amount: 1_000, Currency: "USD",
		Reference: "credit-1", WorldAccountID: world,
	})
	require.Error(t, err)
	assert.Equal(t, merrors.AccountFrozen, merrors.CodeOf(err))

	assert.Empty(t, db.Transactions)
	assert.Empty(t, db.Events)
	assert.Empty(t, db.HotEntries, "the world leg enqueued before the failure must roll back")
	assert.Equal(t, int64(0), db.Accounts[alice].Balance)
}

func TestSelfTransfer_Rejected(t *testing.T) {
	db := enginetest.NewFakeDB()
	m := newTestManager(db)

	ledger := uuid.New()
	alice := db.SeedAccount(ledger, 1_000)

	_, _, err := m.Transfer(context.Background(), TransferInput{
		LedgerID: ledger, SourceAccountID: alice, DestinationAccountID: alice,
		Amount: 100, Currency: "USD", Reference: "r1",
	})
	require.Error(t, err)
	assert.Equal(t, merrors.InvalidArgument, merrors.CodeOf(err))
}

func TestTransfer_ThenRefund_RestoresBalances(t *testing.T) {
	db := enginetest.NewFakeDB()
	m := newTestManager(db)
	ctx := context.Background()

	ledger := uuid.New()
	alice := db.SeedAccount(ledger, 10_000)
	bob := db.SeedAccount(ledger, 2_000)

	original, _, err := m.Transfer(ctx, TransferInput{
		LedgerID: ledger, SourceAccountID: alice, DestinationAccountID: bob,
		Amount: 500, Currency: "USD", Reference: "t1",
	})
	require.NoError(t, err)

	refund, _, err := m.Refund(ctx, RefundInput{
		LedgerID: ledger, OriginalTransactionID: original.ID, Reference: "t1-refund",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(10_000), db.Accounts[alice].Balance)
	assert.Equal(t, int64(2_000), db.Accounts[bob].Balance)

	assert.True(t, refund.IsReversal)
	require.NotNil(t, refund.ParentID)
	assert.Equal(t, original.ID, *refund.ParentID)
	assert.Equal(t, mmodel.TransactionRefund, refund.Type)

	entrySumsBalance(t, db, refund.ID)
}

func TestCorrect_ReversesAndRepostsAtCorrectedAmount(t *testing.T) {
	db := enginetest.NewFakeDB()
	m := newTestManager(db)
	ctx := context.Background()

	ledger := uuid.New()
	alice := db.SeedAccount(ledger, 10_000)
	bob := db.SeedAccount(ledger, 0)

	original, _, err := m.Transfer(ctx, TransferInput{
		LedgerID: ledger, SourceAccountID: alice, DestinationAccountID: bob,
		Amount: 500, Currency: "USD", Reference: "t1",
	})
	require.NoError(t, err)

	corrected, _, err := m.Correct(ctx, CorrectInput{
		LedgerID:              ledger,
		OriginalTransactionID: original.ID,
		CorrectedAmount:       400,
		Reference:             "c1",
	})
	require.NoError(t, err)

	// Net effect: the 500 transfer was undone and re-posted as 400.
	assert.Equal(t, int64(9_600), db.Accounts[alice].Balance)
	assert.Equal(t, int64(400), db.Accounts[bob].Balance)

	require.Len(t, db.Transactions, 3, "original, reversal, corrected re-post")

	var reversal *enginetest.TransactionState

	for _, tr := range db.Transactions {
		if tr.Reference == "c1-reversal" {
			reversal = tr
		}
	}

	require.NotNil(t, reversal)
	assert.True(t, reversal.IsReversal)
	require.NotNil(t, reversal.ParentID)
	assert.Equal(t, original.ID, *reversal.ParentID)

	assert.Equal(t, mmodel.TransactionCorrection, corrected.Type)
	assert.False(t, corrected.IsReversal)
	require.NotNil(t, corrected.ParentID)
	assert.Equal(t, original.ID, *corrected.ParentID)
	assert.Equal(t, int64(400), corrected.Amount)
	assert.Equal(t, reversal.CorrelationID, corrected.CorrelationID, "both halves of the fix share one correlation id")

	entrySumsBalance(t, db, reversal.ID)
	entrySumsBalance(t, db, corrected.ID)
}

func TestCorrect_RequiresCorrectedAmounts(t *testing.T) {
	db := enginetest.NewFakeDB()
	m := newTestManager(db)
	ctx := context.Background()

	ledger := uuid.New()
	alice := db.SeedAccount(ledger, 10_000)
	bob := db.SeedAccount(ledger, 0)

	original, _, err := m.Transfer(ctx, TransferInput{
		LedgerID: ledger, SourceAccountID: alice, DestinationAccountID: bob,
		Amount: 500, Currency: "USD", Reference: "t1",
	})
	require.NoError(t, err)

	_, _, err = m.Correct(ctx, CorrectInput{
		LedgerID:              ledger,
		OriginalTransactionID: original.ID,
		Reference:             "c1",
	})
	require.Error(t, err)
	assert.Equal(t, merrors.InvalidArgument, merrors.CodeOf(err))
	assert.Len(t, db.Transactions, 1, "nothing posts without corrected amounts")
}

func amt64(v int64) *int64 { return &v }
