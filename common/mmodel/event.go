package mmodel

import (
	"time"

	"github.com/google/uuid"
)

// AggregateType identifies which kind of aggregate owns an event stream.
type AggregateType string

const (
	AggregateAccount     AggregateType = "account"
	AggregateTransaction AggregateType = "transaction"
	AggregateHold        AggregateType = "hold"
	AggregateScheduledTx AggregateType = "scheduled_transaction"
)

// EventType enumerates the stable wire event types.
type EventType string

const (
	EventAccountCreated     EventType = "AccountCreated"
	EventAccountFrozen      EventType = "AccountFrozen"
	EventAccountUnfrozen    EventType = "AccountUnfrozen"
	EventAccountClosed      EventType = "AccountClosed"
	EventTransactionPosted  EventType = "TransactionPosted"
	EventHoldCreated        EventType = "HoldCreated"
	EventHoldCommitted      EventType = "HoldCommitted"
	EventHoldVoided         EventType = "HoldVoided"
	EventHoldExpired        EventType = "HoldExpired"
)

// Event is one row in the append-only per-aggregate hash-chained log.
type Event struct {
	ID               uuid.UUID      `json:"id"`
	LedgerID         uuid.UUID      `json:"ledgerId"`
	SequenceNumber   int64          `json:"sequenceNumber"`
	AggregateType    AggregateType  `json:"aggregateType"`
	AggregateID      uuid.UUID      `json:"aggregateId"`
	AggregateVersion int64          `json:"aggregateVersion"`
	EventType        EventType      `json:"eventType"`
	EventData        map[string]any `json:"eventData"`
	CorrelationID    uuid.UUID      `json:"correlationId"`
	Hash             string         `json:"hash"`
	PrevHash         *string        `json:"prevHash,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
}

// ChainVerificationResult is the outcome of verifying an aggregate's hash
// chain end to end.
type ChainVerificationResult struct {
	Valid          bool   `json:"valid"`
	EventsChecked  int    `json:"eventsChecked"`
	BrokenAtVersion *int64 `json:"brokenAtVersion,omitempty"`
}

// HashSnapshot is a cached anchor enabling O(entries-since-snapshot) chain
// verification.
type HashSnapshot struct {
	LedgerID       uuid.UUID `json:"ledgerId"`
	AccountID      uuid.UUID `json:"accountId"`
	SnapshotVersion int64    `json:"snapshotVersion"`
	SnapshotHash    string   `json:"snapshotHash"`
	EntryCount      int64    `json:"entryCount"`
	CreatedAt       time.Time `json:"createdAt"`
}
