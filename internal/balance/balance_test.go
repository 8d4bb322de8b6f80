package balance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/summa-ledger/summa/common/mmodel"
	"github.com/summa-ledger/summa/pkg/merrors"
)

func creditNormal() *mmodel.Account {
	return &mmodel.Account{Balance: 10_000, CreditBalance: 25_000, DebitBalance: 15_000}
}

func TestCheckOverdraft_NoOverdraftAllowed(t *testing.T) {
	acc := &mmodel.Account{Balance: 5_000}

	require.NoError(t, CheckOverdraft(acc, 5_000))

	err := CheckOverdraft(acc, 5_001)
	require.Error(t, err)
	assert.Equal(t, merrors.InsufficientBalance, merrors.CodeOf(err))
}

func TestCheckOverdraft_UnlimitedOverdraft(t *testing.T) {
	acc := &mmodel.Account{Balance: 0, AllowOverdraft: true, OverdraftLimit: 0}

	require.NoError(t, CheckOverdraft(acc, 1_000_000))
}

func TestCheckOverdraft_BoundedOverdraft(t *testing.T) {
	acc := &mmodel.Account{Balance: 1_000, AllowOverdraft: true, OverdraftLimit: 500}

	require.NoError(t, CheckOverdraft(acc, 1_500))

	err := CheckOverdraft(acc, 1_501)
	require.Error(t, err)
	assert.Equal(t, merrors.InsufficientBalance, merrors.CodeOf(err))
}

func TestCheckOverdraft_PendingDebitReducesAvailable(t *testing.T) {
	acc := &mmodel.Account{Balance: 1_000, PendingDebit: 400}

	require.NoError(t, CheckOverdraft(acc, 600))

	err := CheckOverdraft(acc, 601)
	require.Error(t, err)
}

func TestApplyLeg_Credit(t *testing.T) {
	acc := creditNormal()

	d, err := ApplyLeg(acc, Credit, 1_000)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), d.BalanceBefore)
	assert.Equal(t, int64(11_000), d.BalanceAfter)
	assert.Equal(t, int64(26_000), d.CreditBalanceAfter)
	assert.Equal(t, int64(15_000), d.DebitBalanceAfter)

	// acc itself is never mutated by ApplyLeg.
	assert.Equal(t, int64(10_000), acc.Balance)
}

func TestApplyLeg_Debit(t *testing.T) {
	acc := creditNormal()

	d, err := ApplyLeg(acc, Debit, 1_000)
	require.NoError(t, err)
	assert.Equal(t, int64(9_000), d.BalanceAfter)
	assert.Equal(t, int64(16_000), d.DebitBalanceAfter)
	assert.Equal(t, int64(25_000), d.CreditBalanceAfter)
}

func TestApplyLeg_DebitNormalAccountFlipsSign(t *testing.T) {
	debitNormal := mmodel.NormalBalanceDebit
	acc := &mmodel.Account{Balance: 10_000, NormalBalance: &debitNormal}

	d, err := ApplyLeg(acc, Debit, 1_000)
	require.NoError(t, err)
	// A debit-normal account's Balance increases on a DEBIT leg, so Balance
	// itself reads as the holder's natural balance.
	assert.Equal(t, int64(11_000), d.BalanceAfter)

	d2, err := ApplyLeg(acc, Credit, 1_000)
	require.NoError(t, err)
	assert.Equal(t, int64(9_000), d2.BalanceAfter)
}

func TestApplyLeg_RejectsNonPositiveAmount(t *testing.T) {
	acc := creditNormal()

	_, err := ApplyLeg(acc, Credit, 0)
	require.Error(t, err)
	assert.Equal(t, merrors.InvalidArgument, merrors.CodeOf(err))

	_, err = ApplyLeg(acc, Debit, -5)
	require.Error(t, err)
	assert.Equal(t, merrors.InvalidArgument, merrors.CodeOf(err))
}

func TestApplyLeg_RejectsUnknownDirection(t *testing.T) {
	acc := creditNormal()

	_, err := ApplyLeg(acc, Direction("sideways"), 100)
	require.Error(t, err)
	assert.Equal(t, merrors.InvalidArgument, merrors.CodeOf(err))
}

func TestApplyLeg_InsufficientBalancePropagates(t *testing.T) {
	acc := &mmodel.Account{Balance: 100}

	_, err := ApplyLeg(acc, Debit, 101)
	require.Error(t, err)
	assert.Equal(t, merrors.InsufficientBalance, merrors.CodeOf(err))
}

func TestApplyLegForce_BypassesOverdraft(t *testing.T) {
	acc := &mmodel.Account{Balance: 100, AllowOverdraft: false}

	d, err := ApplyLegForce(acc, 10_000)
	require.NoError(t, err)
	assert.Equal(t, int64(-9_900), d.BalanceAfter)
	assert.Equal(t, int64(10_000), d.DebitBalanceAfter)
}

func TestApplyLegForce_RejectsNonPositiveAmount(t *testing.T) {
	acc := creditNormal()

	_, err := ApplyLegForce(acc, 0)
	require.Error(t, err)
	assert.Equal(t, merrors.InvalidArgument, merrors.CodeOf(err))
}

func TestPlaceHoldAndReleaseHold_RoundTrip(t *testing.T) {
	acc := &mmodel.Account{Balance: 10_000, PendingDebit: 0}

	placed := PlaceHold(acc, 4_000)
	assert.Equal(t, int64(10_000), placed.BalanceAfter)
	assert.Equal(t, int64(4_000), placed.PendingDebitAfter)

	// apply the placement before releasing, mirroring how the hold manager
	// re-reads the locked row between the two steps.
	acc.PendingDebit = placed.PendingDebitAfter

	released := ReleaseHold(acc, 4_000)
	assert.Equal(t, int64(10_000), released.BalanceAfter)
	assert.Equal(t, int64(0), released.PendingDebitAfter)
}

func TestReleaseHold_DoesNotTouchBalance(t *testing.T) {
	acc := &mmodel.Account{Balance: 5_000, PendingDebit: 2_000}

	d := ReleaseHold(acc, 2_000)
	assert.Equal(t, acc.Balance, d.BalanceBefore)
	assert.Equal(t, acc.Balance, d.BalanceAfter)
	assert.Equal(t, int64(0), d.PendingDebitAfter)
}
