package mmodel

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType enumerates the transaction manager operations.
type TransactionType string

const (
	TransactionCredit     TransactionType = "credit"
	TransactionDebit      TransactionType = "debit"
	TransactionTransfer   TransactionType = "transfer"
	TransactionJournal    TransactionType = "journal"
	TransactionRefund     TransactionType = "refund"
	TransactionCorrection TransactionType = "correction"
	TransactionAdjustment TransactionType = "adjustment"
)

// TransactionStatus is the lifecycle state of a transaction row.
type TransactionStatus string

const (
	TxStatusPending  TransactionStatus = "pending"
	TxStatusInflight TransactionStatus = "inflight"
	TxStatusPosted   TransactionStatus = "posted"
	TxStatusExpired  TransactionStatus = "expired"
	TxStatusVoided   TransactionStatus = "voided"
	TxStatusReversed TransactionStatus = "reversed"
)

// Transaction is the header row for a posted ledger movement. Once Status
// is posted the row is immutable; reversals
// create a new row carrying ParentID.
type Transaction struct {
	ID                   uuid.UUID         `json:"id"`
	LedgerID             uuid.UUID         `json:"ledgerId"`
	Reference            string            `json:"reference"`
	Type                 TransactionType    `json:"type"`
	Status               TransactionStatus `json:"status"`
	Amount               int64             `json:"amount"`
	Currency             string            `json:"currency"`
	Description          string            `json:"description,omitempty"`
	SourceAccountID      *uuid.UUID        `json:"sourceAccountId,omitempty"`
	DestinationAccountID *uuid.UUID        `json:"destinationAccountId,omitempty"`
	CorrelationID        uuid.UUID         `json:"correlationId"`
	IsReversal           bool              `json:"isReversal"`
	ParentID             *uuid.UUID        `json:"parentId,omitempty"`
	Metadata             map[string]any    `json:"metadata,omitempty"`
	CreatedAt            time.Time         `json:"createdAt"`
	PostedAt             *time.Time        `json:"postedAt,omitempty"`
	EffectiveDate        time.Time         `json:"effectiveDate"`
}

// EntryType is a debit or a credit leg.
type EntryType string

const (
	EntryDebit  EntryType = "DEBIT"
	EntryCredit EntryType = "CREDIT"
)

// Entry is a single leg of a transaction. Exactly one of AccountID /
// SystemAccountID is set.
type Entry struct {
	ID                 uuid.UUID      `json:"id"`
	LedgerID           uuid.UUID      `json:"ledgerId"`
	TransactionID      uuid.UUID      `json:"transactionId"`
	AccountID          *uuid.UUID     `json:"accountId,omitempty"`
	SystemAccountID    *uuid.UUID     `json:"systemAccountId,omitempty"`
	EntryType          EntryType      `json:"entryType"`
	Amount             int64          `json:"amount"`
	Currency           string         `json:"currency"`
	BalanceBefore      *int64         `json:"balanceBefore,omitempty"`
	BalanceAfter       *int64         `json:"balanceAfter,omitempty"`
	AccountLockVersion *int64         `json:"accountLockVersion,omitempty"`
	IsHotAccount       bool           `json:"isHotAccount"`
	OriginalAmount     *int64         `json:"originalAmount,omitempty"`
	OriginalCurrency   *string        `json:"originalCurrency,omitempty"`
	ExchangeRate       *int64         `json:"exchangeRate,omitempty"` // ×1_000_000
	CreatedAt          time.Time      `json:"createdAt"`
}

// IsUserLeg reports whether this entry touches a user account row (and so
// must be locked FOR UPDATE) rather than a system account (hot-account path).
func (e *Entry) IsUserLeg() bool {
	return e.AccountID != nil
}
