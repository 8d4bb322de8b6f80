package mmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccount_AvailableBalance(t *testing.T) {
	a := &Account{Balance: 1_000, PendingDebit: 300}
	assert.Equal(t, int64(700), a.AvailableBalance())
}

func TestAccount_AvailableBalance_NoPending(t *testing.T) {
	a := &Account{Balance: 1_000}
	assert.Equal(t, int64(1_000), a.AvailableBalance())
}

func TestAccount_SignedBalance_CreditNormalDefault(t *testing.T) {
	a := &Account{Balance: 500}
	assert.Equal(t, int64(500), a.SignedBalance())
}

func TestAccount_SignedBalance_DebitNormalFlipsSign(t *testing.T) {
	debit := NormalBalanceDebit
	a := &Account{Balance: 500, NormalBalance: &debit}
	assert.Equal(t, int64(-500), a.SignedBalance())
}

func TestAccount_SignedBalance_CreditNormalExplicit(t *testing.T) {
	credit := NormalBalanceCredit
	a := &Account{Balance: 500, NormalBalance: &credit}
	assert.Equal(t, int64(500), a.SignedBalance())
}

func TestAccount_IsActive(t *testing.T) {
	assert.True(t, (&Account{Status: StatusActive}).IsActive())
	assert.False(t, (&Account{Status: StatusFrozen}).IsActive())
	assert.False(t, (&Account{Status: StatusClosed}).IsActive())
}

func TestAccountStatus_IsActive(t *testing.T) {
	assert.True(t, StatusActive.IsActive())
	assert.False(t, StatusFrozen.IsActive())
	assert.False(t, StatusClosed.IsActive())
}
