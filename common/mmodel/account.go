package mmodel

import (
	"time"

	"github.com/google/uuid"
)

// HolderType identifies what kind of entity owns an account.
type HolderType string

const (
	HolderIndividual   HolderType = "individual"
	HolderOrganization HolderType = "organization"
	HolderSystem       HolderType = "system"
)

// NormalBalance flips the sign used by invariant A1 when a chart of
// accounts is in use: credit-normal accounts increase on CREDIT, debit-normal
// accounts increase on DEBIT.
type NormalBalance string

const (
	NormalBalanceCredit NormalBalance = "credit"
	NormalBalanceDebit  NormalBalance = "debit"
)

// Account is a user-owned ledger account.
type Account struct {
	ID               uuid.UUID      `json:"id"`
	LedgerID         uuid.UUID      `json:"ledgerId"`
	HolderID         uuid.UUID      `json:"holderId"`
	HolderType       HolderType     `json:"holderType"`
	Status           AccountStatus  `json:"status"`
	Currency         string         `json:"currency"`
	Balance          int64          `json:"balance"`
	CreditBalance    int64          `json:"creditBalance"`
	DebitBalance     int64          `json:"debitBalance"`
	PendingCredit    int64          `json:"pendingCredit"`
	PendingDebit     int64          `json:"pendingDebit"`
	AllowOverdraft   bool           `json:"allowOverdraft"`
	OverdraftLimit   int64          `json:"overdraftLimit"`
	AccountType      *string        `json:"accountType,omitempty"`
	NormalBalance    *NormalBalance `json:"normalBalance,omitempty"`
	ParentAccountID  *uuid.UUID     `json:"parentAccountId,omitempty"`
	Indicator        *string        `json:"indicator,omitempty"`
	LockVersion      int64          `json:"lockVersion"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
	FrozenAt         *time.Time     `json:"frozenAt,omitempty"`
	FrozenBy         *string        `json:"frozenBy,omitempty"`
	FrozenReason     *string        `json:"frozenReason,omitempty"`
	ClosedAt         *time.Time     `json:"closedAt,omitempty"`
	ClosedBy         *string        `json:"closedBy,omitempty"`
	ClosedReason     *string        `json:"closedReason,omitempty"`
}

// AvailableBalance subtracts outstanding holds from the posted balance.
func (a *Account) AvailableBalance() int64 {
	return a.Balance - a.PendingDebit
}

// SignedBalance returns the account's balance in credit-minus-debit terms.
// Balance itself already reads as the holder's natural balance (a
// debit-normal account's Balance rises on DEBIT legs), so for a debit-normal
// account SignedBalance is the negation of Balance.
func (a *Account) SignedBalance() int64 {
	if a.NormalBalance != nil && *a.NormalBalance == NormalBalanceDebit {
		return -a.Balance
	}

	return a.Balance
}

// IsActive reports whether the account accepts mutating operations.
func (a *Account) IsActive() bool {
	return a.Status == StatusActive
}

// CreateAccountInput encapsulates the payload to provision a new account.
type CreateAccountInput struct {
	HolderID        uuid.UUID      `json:"holderId" validate:"required"`
	HolderType      HolderType     `json:"holderType" validate:"required,oneof=individual organization system"`
	Currency        string         `json:"currency" validate:"required,len=3"`
	AllowOverdraft  bool           `json:"allowOverdraft"`
	OverdraftLimit  int64          `json:"overdraftLimit" validate:"gte=0"`
	AccountType     *string        `json:"accountType,omitempty"`
	NormalBalance   *NormalBalance `json:"normalBalance,omitempty" validate:"omitempty,oneof=credit debit"`
	ParentAccountID *uuid.UUID     `json:"parentAccountId,omitempty"`
	Indicator       *string        `json:"indicator,omitempty"`
	Metadata        map[string]any `json:"metadata" validate:"dive,keys,keymax=100,endkeys,nonested,valuemax=2000"`
}

// SystemAccount is a ledger-owned counter-party account used as the
// world/suspense/revenue leg for money entering or leaving the system.
// It has no row-level lock on the hot path: mutations flow through the
// hot-account pipeline (see internal/hotaccount).
type SystemAccount struct {
	ID         uuid.UUID      `json:"id"`
	LedgerID   uuid.UUID      `json:"ledgerId"`
	Identifier string         `json:"identifier"` // must begin with "@"
	Currency   string         `json:"currency"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}
