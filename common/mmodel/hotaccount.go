package mmodel

import (
	"time"

	"github.com/google/uuid"
)

// HotAccountEntryStatus tracks batch-aggregation progress.
type HotAccountEntryStatus string

const (
	HotEntryPending   HotAccountEntryStatus = "pending"
	HotEntryProcessed HotAccountEntryStatus = "processed"
)

// HotAccountEntry is a single leg posted against a high-velocity system
// account, absorbed by the batch-aggregation pipeline instead of a row lock.
type HotAccountEntry struct {
	ID             uuid.UUID             `json:"id"`
	SequenceNumber int64                 `json:"sequenceNumber"`
	AccountID      uuid.UUID             `json:"accountId"`
	Amount         int64                 `json:"amount"` // signed: credit=+, debit=-
	EntryType      EntryType             `json:"entryType"`
	TransactionID  uuid.UUID             `json:"transactionId"`
	Status         HotAccountEntryStatus `json:"status"`
	Attempts       int                   `json:"attempts"`
	CreatedAt      time.Time             `json:"createdAt"`
	ProcessedAt    *time.Time            `json:"processedAt,omitempty"`
}

// SystemAccountVersion is an append-only balance snapshot for a system
// account, advanced by batch aggregation. The "current" balance is always the
// row with the highest Version.
type SystemAccountVersion struct {
	ID              uuid.UUID `json:"id"`
	SystemAccountID uuid.UUID `json:"systemAccountId"`
	Version         int64     `json:"version"`
	Balance         int64     `json:"balance"`
	CreditBalance   int64     `json:"creditBalance"`
	DebitBalance    int64     `json:"debitBalance"`
	ChangeType      string    `json:"changeType"`
	CreatedAt       time.Time `json:"createdAt"`
}

// WorkerLease asserts exclusive ownership of a periodic task for a bounded
// duration.
type WorkerLease struct {
	WorkerID   string    `json:"workerId"`
	Holder     string    `json:"holder"`
	AcquiredAt time.Time `json:"acquiredAt"`
	LeaseUntil time.Time `json:"leaseUntil"`
}
