package hold

import (
	"context"
	"testing"
	"time"

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
		nil)
}

func TestHoldLifecycle_CreateThenPartialCommit(t *testing.T) {
	db := enginetest.NewFakeDB()
	m := newTestManager(db)
	ctx := context.Background()

	ledger := uuid.New()
	alice := db.SeedAccount(ledger, 10_000)
	bob := db.SeedAccount(ledger, 0)

	h, err := m.Create(ctx, CreateInput{
		LedgerID: ledger, SourceAccountID: alice, Amount: 4_000, Currency: "USD", Reference: "hold-1",
	})
	require.NoError(t, err)

	acc := db.Accounts[alice]
	assert.Equal(t, int64(10_000), acc.Balance, "creating a hold never moves the balance")
	assert.Equal(t, int64(4_000), acc.PendingDebit)
	assert.Equal(t, int64(6_000), acc.Balance-acc.PendingDebit, "available balance")
	assert.Equal(t, mmodel.HoldInflight, db.Holds[h.ID].Status)

	res, err := m.Commit(ctx, CommitInput{
		LedgerID: ledger, HoldID: h.ID, CommittedAmount: amt(3_000),
		Destinations: []mmodel.HoldDestination{{AccountID: &bob}},
		Reference:    "commit-1",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(7_000), db.Accounts[alice].Balance)
	assert.Equal(t, int64(0), db.Accounts[alice].PendingDebit, "the full held amount is released on commit")
	assert.Equal(t, int64(3_000), db.Accounts[bob].Balance)

	stored := db.Holds[h.ID]
	assert.Equal(t, mmodel.HoldPosted, stored.Status)
	require.NotNil(t, stored.CommittedAmount)
	assert.Equal(t, int64(3_000), *stored.CommittedAmount)

	assert.Equal(t, mmodel.TransactionTransfer, res.Transaction.Type)

	var debits, credits int64

	for _, e := range res.Entries {
		if e.EntryType == mmodel.EntryDebit {
			debits += e.Amount
		} else {
			credits += e.Amount
		}
	}

	assert.Equal(t, int64(3_000), debits)
	assert.Equal(t, int64(3_000), credits)

	events := db.EventsFor(h.ID)
	require.Len(t, events, 2)
	assert.Equal(t, mmodel.EventHoldCreated, events[0].EventType)
	assert.Equal(t, mmodel.EventHoldCommitted, events[1].EventType)
}

func TestHoldCommit_FullAmount_MatchesDirectTransferDeltas(t *testing.T) {
	db := enginetest.NewFakeDB()
	m := newTestManager(db)
	ctx := context.Background()

	ledger := uuid.New()
	alice := db.SeedAccount(ledger, 10_000)
	bob := db.SeedAccount(ledger, 0)

	h, err := m.Create(ctx, CreateInput{
		LedgerID: ledger, SourceAccountID: alice, Amount: 4_000, Currency: "USD", Reference: "hold-1",
	})
	require.NoError(t, err)

	_, err = m.Commit(ctx, CommitInput{
		LedgerID: ledger, HoldID: h.ID,
		Destinations: []mmodel.HoldDestination{{AccountID: &bob}},
		Reference:    "commit-1",
	})
	require.NoError(t, err)

	// Same end state a direct 4000 transfer would produce.
	assert.Equal(t, int64(6_000), db.Accounts[alice].Balance)
	assert.Equal(t, int64(0), db.Accounts[alice].PendingDebit)
	assert.Equal(t, int64(4_000), db.Accounts[bob].Balance)
	require.NotNil(t, db.Holds[h.ID].CommittedAmount)
	assert.Equal(t, int64(4_000), *db.Holds[h.ID].CommittedAmount)
}

func TestHoldCommit_DefaultsToDestinationRecordedAtCreate(t *testing.T) {
	db := enginetest.NewFakeDB()
	m := newTestManager(db)
	ctx := context.Background()

	ledger := uuid.New()
	alice := db.SeedAccount(ledger, 10_000)
	bob := db.SeedAccount(ledger, 0)

	h, err := m.Create(ctx, CreateInput{
		LedgerID: ledger, SourceAccountID: alice, DestinationAccountID: &bob,
		Amount: 1_000, Currency: "USD", Reference: "hold-1",
	})
	require.NoError(t, err)

	_, err = m.Commit(ctx, CommitInput{LedgerID: ledger, HoldID: h.ID, Reference: "commit-1"})
	require.NoError(t, err)

	assert.Equal(t, int64(1_000), db.Accounts[bob].Balance)
}

func TestHoldCommit_LocksDestinationsInAscendingOrder(t *testing.T) {
	db := enginetest.NewFakeDB()
	m := newTestManager(db)
	ctx := context.Background()

	ledger := uuid.New()
	alice := db.SeedAccount(ledger, 10_000)
	d1 := db.SeedAccount(ledger, 0)
	d2 := db.SeedAccount(ledger, 0)

	lo, hi := d1, d2
	if hi.String() < lo.String() {
		lo, hi = hi, lo
	}

	h, err := m.Create(ctx, CreateInput{
		LedgerID: ledger, SourceAccountID: alice, Amount: 1_000, Currency: "USD", Reference: "hold-1",
	})
	require.NoError(t, err)

	// Destinations handed over in descending order.
	_, err = m.Commit(ctx, CommitInput{
		LedgerID: ledger, HoldID: h.ID,
		Destinations: []mmodel.HoldDestination{
			{AccountID: &hi, Amount: amt(400)},
			{AccountID: &lo, Amount: amt(600)},
		},
		Reference: "commit-1",
	})
	require.NoError(t, err)

	// Create locked the source once; Commit locks source, then the
	// destinations ascending regardless of caller order.
	require.Len(t, db.LockOrder, 4)
	assert.Equal(t, []uuid.UUID{alice, alice, lo, hi}, db.LockOrder)

	assert.Equal(t, int64(600), db.Accounts[lo].Balance)
	assert.Equal(t, int64(400), db.Accounts[hi].Balance)
}

func TestHoldVoid_RestoresPendingDebit(t *testing.T) {
	db := enginetest.NewFakeDB()
	m := newTestManager(db)
	ctx := context.Background()

	ledger := uuid.New()
	alice := db.SeedAccount(ledger, 10_000)

	h, err := m.Create(ctx, CreateInput{
		LedgerID: ledger, SourceAccountID: alice, Amount: 4_000, Currency: "USD", Reference: "hold-1",
	})
	require.NoError(t, err)

	voided, err := m.Void(ctx, VoidInput{LedgerID: ledger, HoldID: h.ID, Reason: "customer cancelled"})
	require.NoError(t, err)

	assert.Equal(t, mmodel.HoldVoided, voided.Status)
	assert.Equal(t, int64(0), db.Accounts[alice].PendingDebit)
	assert.Equal(t, int64(10_000), db.Accounts[alice].Balance, "balance untouched by void")
	assert.Contains(t, string(db.Holds[h.ID].Metadata), "customer cancelled", "void reason is persisted")

	events := db.EventsFor(h.ID)
	require.Len(t, events, 2)
	assert.Equal(t, mmodel.EventHoldVoided, events[1].EventType)
}

func TestHoldVoid_AfterCommit_Conflict(t *testing.T) {
	db := enginetest.NewFakeDB()
	m := newTestManager(db)
	ctx := context.Background()

	ledger := uuid.New()
	alice := db.SeedAccount(ledger, 10_000)
	bob := db.SeedAccount(ledger, 0)

	h, err := m.Create(ctx, CreateInput{
		LedgerID: ledger, SourceAccountID: alice, Amount: 1_000, Currency: "USD", Reference: "hold-1",
	})
	require.NoError(t, err)

	_, err = m.Commit(ctx, CommitInput{
		LedgerID: ledger, HoldID: h.ID,
		Destinations: []mmodel.HoldDestination{{AccountID: &bob}},
		Reference:    "commit-1",
	})
	require.NoError(t, err)

	_, err = m.Void(ctx, VoidInput{LedgerID: ledger, HoldID: h.ID, Reason: "too late"})
	require.Error(t, err)
	assert.Equal(t, merrors.Conflict, merrors.CodeOf(err))
}

func TestHoldCreate_InsufficientAvailable_Rejected(t *testing.T) {
	db := enginetest.NewFakeDB()
	m := newTestManager(db)
	ctx := context.Background()

	ledger := uuid.New()
	alice := db.SeedAccount(ledger, 1_000)

	_, err := m.Create(ctx, CreateInput{
		LedgerID: ledger, SourceAccountID: alice, Amount: 1_001, Currency: "USD", Reference: "hold-1",
	})
	require.Error(t, err)
	assert.Equal(t, merrors.InsufficientBalance, merrors.CodeOf(err))
	assert.Equal(t, int64(0), db.Accounts[alice].PendingDebit)
	assert.Empty(t, db.Holds)
}

func TestExpireHolds_IsIdempotent(t *testing.T) {
	db := enginetest.NewFakeDB()
	m := newTestManager(db)
	ctx := context.Background()

	ledger := uuid.New()
	alice := db.SeedAccount(ledger, 10_000)

	past := time.Now().UTC().Add(-time.Minute)

	h, err := m.Create(ctx, CreateInput{
		LedgerID: ledger, SourceAccountID: alice, Amount: 4_000, Currency: "USD",
		Reference: "hold-1", ExpiresAt: &past,
	})
	require.NoError(t, err)

	expired, err := m.ExpireHolds(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	assert.Equal(t, mmodel.HoldExpired, db.Holds[h.ID].Status)
	assert.Equal(t, int64(0), db.Accounts[alice].PendingDebit)
	assert.Equal(t, int64(10_000), db.Accounts[alice].Balance)

	events := db.EventsFor(h.ID)
	require.Len(t, events, 2)
	assert.Equal(t, mmodel.EventHoldExpired, events[1].EventType)

	// Running the sweep again finds nothing and changes nothing.
	expired, err = m.ExpireHolds(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, expired)
	assert.Equal(t, mmodel.HoldExpired, db.Holds[h.ID].Status)
	assert.Len(t, db.EventsFor(h.ID), 2)
}
