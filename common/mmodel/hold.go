package mmodel

import (
	"time"

	"github.com/google/uuid"
)

// HoldStatus is the lifecycle state of a two-phase reservation.
type HoldStatus string

const (
	HoldInflight HoldStatus = "inflight"
	HoldPosted   HoldStatus = "posted"
	HoldVoided   HoldStatus = "voided"
	HoldExpired  HoldStatus = "expired"
)

// Hold is a two-phase reservation that earmarks funds without moving them.
type Hold struct {
	ID                   uuid.UUID      `json:"id"`
	LedgerID             uuid.UUID      `json:"ledgerId"`
	SourceAccountID      uuid.UUID      `json:"sourceAccountId"`
	DestinationAccountID *uuid.UUID     `json:"destinationAccountId,omitempty"`
	Amount               int64          `json:"amount"`
	CommittedAmount      *int64         `json:"committedAmount,omitempty"`
	Currency             string         `json:"currency"`
	Status               HoldStatus     `json:"status"`
	Reference            string         `json:"reference"`
	Description          string         `json:"description,omitempty"`
	Metadata             map[string]any `json:"metadata,omitempty"`
	ExpiresAt            *time.Time     `json:"expiresAt,omitempty"`
	CreatedAt            time.Time      `json:"createdAt"`
}

// HoldDestination is one leg of a multi-destination hold commit.
// At most one destination in a commit request may omit Amount, in which case
// it receives the remainder of CommittedAmount after the explicit legs.
type HoldDestination struct {
	AccountID       *uuid.UUID `json:"accountId,omitempty"`
	SystemAccountID *uuid.UUID `json:"systemAccountId,omitempty"`
	Amount          *int64     `json:"amount,omitempty"`
}
