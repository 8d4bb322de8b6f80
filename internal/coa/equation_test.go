package coa

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/summa-ledger/summa/common/mmodel"
	"github.com/summa-ledger/summa/pkg/adapter"
	"github.com/summa-ledger/summa/pkg/dialect"
)

// balanceRow is one row the equation query would return: a classification
// joined with the account's raw balance and normal-balance sign.
type balanceRow struct {
	classification mmodel.Classification
	balance        int64
	normalBalance  mmodel.NormalBalance
}

// fakeRows is a minimal adapter.Rows backed by an in-memory slice, letting
// the equation math be exercised without a database (Validate only ever
// calls Query, never QueryRow, for this report).
type fakeRows struct {
	data []balanceRow
	idx  int
}

func (f *fakeRows) Next() bool {
	f.idx++
	return f.idx <= len(f.data)
}

func (f *fakeRows) Scan(dest ...any) error {
	row := f.data[f.idx-1]

	*dest[0].(*mmodel.Classification) = row.classification
	*dest[1].(*int64) = row.balance
	*dest[2].(*mmodel.NormalBalance) = row.normalBalance

	return nil
}

func (f *fakeRows) Err() error   { return nil }
func (f *fakeRows) Close() error { return nil }

// fakeAdapter implements adapter.Adapter, serving Query from a fixed row set
// and treating every other method as unused for this test.
type fakeAdapter struct {
	rows []balanceRow
}

func (a *fakeAdapter) Query(ctx context.Context, sqlText string, args ...any) (adapter.Rows, error) {
	return &fakeRows{data: a.rows}, nil
}

func (a *fakeAdapter) QueryRow(ctx context.Context, sqlText string, args ...any) adapter.Row { return nil }
func (a *fakeAdapter) Mutate(ctx context.Context, sqlText string, args ...any) (adapter.Result, error) {
	return nil, nil
}
func (a *fakeAdapter) Transaction(ctx context.Context, fn adapter.TxFn) error { return fn(ctx, a) }
func (a *fakeAdapter) AdvisoryLock(ctx context.Context, key int64) error      { return nil }
func (a *fakeAdapter) SetStatementTimeout(ctx context.Context, ms int64) error { return nil }
func (a *fakeAdapter) SetLockTimeout(ctx context.Context, ms int64) error      { return nil }
func (a *fakeAdapter) InTransaction() bool                                    { return true }
func (a *fakeAdapter) Dialect() dialect.Dialect                               { return dialect.Postgres{} }

func TestValidator_Validate_BalancedEquation(t *testing.T) {
	rows := []balanceRow{
		{mmodel.ClassificationAsset, 10_000, mmodel.NormalBalanceDebit},
		{mmodel.ClassificationLiability, 4_000, mmodel.NormalBalanceCredit},
		{mmodel.ClassificationEquity, 6_000, mmodel.NormalBalanceCredit},
	}

	v := NewValidator(adapter.NewTableResolver("summa"))
	report, err := v.Validate(context.Background(), &fakeAdapter{rows: rows}, uuid.New())
	require.NoError(t, err)

	assert.True(t, report.Balanced)
	assert.Equal(t, int64(0), report.Difference)
}

func TestValidator_Validate_UnbalancedEquation(t *testing.T) {
	rows := []balanceRow{
		{mmodel.ClassificationAsset, 10_000, mmodel.NormalBalanceDebit},
		{mmodel.ClassificationLiability, 4_000, mmodel.NormalBalanceCredit},
		// missing equity leg: assets (10000) != liabilities (4000)
	}

	v := NewValidator(adapter.NewTableResolver("summa"))
	report, err := v.Validate(context.Background(), &fakeAdapter{rows: rows}, uuid.New())
	require.NoError(t, err)

	assert.False(t, report.Balanced)
	assert.Equal(t, int64(6_000), report.Difference)
}

func TestValidator_Validate_RevenueAndExpenseSigns(t *testing.T) {
	rows := []balanceRow{
		{mmodel.ClassificationAsset, 1_000, mmodel.NormalBalanceDebit},
		{mmodel.ClassificationRevenue, 1_500, mmodel.NormalBalanceCredit},
		{mmodel.ClassificationExpense, 500, mmodel.NormalBalanceDebit},
	}

	v := NewValidator(adapter.NewTableResolver("summa"))
	report, err := v.Validate(context.Background(), &fakeAdapter{rows: rows}, uuid.New())
	require.NoError(t, err)

	// assets(1000) - liabilities(0) - equity(0) - revenue(1500) + expense(500) = 0
	assert.True(t, report.Balanced)
}

func TestValidator_Validate_EmptyLedgerIsBalanced(t *testing.T) {
	v := NewValidator(adapter.NewTableResolver("summa"))
	report, err := v.Validate(context.Background(), &fakeAdapter{}, uuid.New())
	require.NoError(t, err)

	assert.True(t, report.Balanced)
	assert.Len(t, report.Balances, 5, "every classification is reported even with zero accounts")
}
