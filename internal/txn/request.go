// Package txn implements the double-entry transaction manager: credit,
// debit, transfer, multi-leg journal, refund, correction, adjust — with
// idempotency, deterministic lock ordering, overdraft policy, and event
// emission, all running inside one canonical transaction shape.
package txn

import (
	"github.com/google/uuid"

	"github.com/summa-ledger/summa/common/mmodel"
	"github.com/summa-ledger/summa/internal/balance"
)

// leg is one internal debit/credit posting instruction, built by each public
// operation before being handed to Manager.post. amount is denominated in
// currency (the account's native currency); a leg that was produced by FX
// conversion carries the pre-conversion originalAmount/originalCurrency and
// the integer exchangeRate used.
type leg struct {
	accountID        *uuid.UUID
	systemAccountID  *uuid.UUID
	dir              balance.Direction
	amount           int64
	currency         string // defaults to the header currency when empty
	originalAmount   *int64
	originalCurrency *string
	exchangeRate     *int64
}

// postRequest is the canonical-shape input shared by every transaction
// manager operation.
type postRequest struct {
	LedgerID             uuid.UUID
	Type                 mmodel.TransactionType
	Reference            string
	IdempotencyKey       *string
	Amount               int64
	Currency             string
	Description          string
	SourceAccountID      *uuid.UUID
	DestinationAccountID *uuid.UUID
	ParentID             *uuid.UUID
	IsReversal           bool
	Metadata             map[string]any
	Legs                 []leg
	ForceOverdraft       bool // ForceDebit: bypass the overdraft policy
	ForceLockFirst       *uuid.UUID
	CorrelationID        *uuid.UUID
}

// CreditInput is the payload for Manager.Credit.
type CreditInput struct {
	LedgerID       uuid.UUID
	AccountID      uuid.UUID
	Amount         int64
	Currency       string
	Reference      string
	Description    string
	IdempotencyKey *string
	WorldAccountID uuid.UUID // system account representing money entering the ledger
	Metadata       map[string]any
}

// DebitInput is the payload for Manager.Debit / Manager.ForceDebit.
type DebitInput struct {
	LedgerID       uuid.UUID
	AccountID      uuid.UUID
	Amount         int64
	Currency       string
	Reference      string
	Description    string
	IdempotencyKey *string
	WorldAccountID uuid.UUID
	Metadata       map[string]any
}

// TransferInput is the payload for Manager.Transfer.
type TransferInput struct {
	LedgerID             uuid.UUID
	SourceAccountID      uuid.UUID
	DestinationAccountID uuid.UUID
	Amount               int64
	Currency             string
	DestinationCurrency  string // defaults to Currency when empty
	Reference            string
	Description          string
	IdempotencyKey       *string
	Metadata             map[string]any
}

// MultiTransferDestination is one fan-out leg. Amount is nil for at most one
// destination, which receives the remainder.
type MultiTransferDestination struct {
	AccountID       *uuid.UUID
	SystemAccountID *uuid.UUID
	Amount          *int64
}

// MultiTransferInput is the payload for Manager.MultiTransfer.
type MultiTransferInput struct {
	LedgerID        uuid.UUID
	SourceAccountID uuid.UUID
	Destinations    []MultiTransferDestination
	Amount          int64
	Currency        string
	Reference       string
	Description     string
	IdempotencyKey  *string
	Metadata        map[string]any
}

// JournalLeg is one leg of a general-ledger entry.
type JournalLeg struct {
	AccountID       *uuid.UUID
	SystemAccountID *uuid.UUID
	Direction       balance.Direction
	Amount          int64
	Currency        string // defaults to JournalInput.Currency when empty
}

// JournalInput is the payload for Manager.Journal.
type JournalInput struct {
	LedgerID       uuid.UUID
	Legs           []JournalLeg
	Currency       string
	Reference      string
	Description    string
	IdempotencyKey *string
	Metadata       map[string]any
}

// RefundInput is the payload for Manager.Refund: a full reversal of a
// previously posted transaction.
type RefundInput struct {
	LedgerID              uuid.UUID
	OriginalTransactionID uuid.UUID
	Reference             string
	Description           string
	IdempotencyKey        *string
	Metadata              map[string]any
}

// CorrectInput is the payload for Manager.Correct: an immutable correction
// that reverses the original transaction and re-posts it at the corrected
// amounts, both inside one database transaction. Exactly one of
// CorrectedAmount and CorrectedLegs must be supplied.
type CorrectInput struct {
	LedgerID              uuid.UUID
	OriginalTransactionID uuid.UUID
	// CorrectedAmount re-posts the original's leg structure at this amount.
	// Only valid when every original leg carries the header amount (credit,
	// debit, transfer); corrections that reshape a journal use CorrectedLegs.
	CorrectedAmount int64
	// CorrectedLegs replaces the re-posted leg set entirely, validated the
	// same way Journal legs are.
	CorrectedLegs  []JournalLeg
	Reference      string
	Description    string
	IdempotencyKey *string
	Metadata       map[string]any
}

// AdjustmentType names why an administrative Adjust was made.
type AdjustmentType string

// AdjustInput is the payload for Manager.Adjust.
type AdjustInput struct {
	LedgerID        uuid.UUID
	AccountID       uuid.UUID
	Amount          int64 // signed: positive credits the account, negative debits it
	Currency        string
	AdjustmentType  AdjustmentType
	SuspenseAccount uuid.UUID
	Reference       string
	Description     string
	IdempotencyKey  *string
	Metadata        map[string]any
}
