package mmodel

import (
	"time"

	"github.com/google/uuid"
)

// Ledger is a tenant boundary. Every other entity in the engine carries a
// LedgerID. A ledger is created once and never mutated or deleted.
type Ledger struct {
	ID        uuid.UUID      `json:"id"`
	Name      string         `json:"name"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// CreateLedgerInput encapsulates the payload for provisioning a new ledger.
type CreateLedgerInput struct {
	Name     string         `json:"name" validate:"required,max=256"`
	Metadata map[string]any `json:"metadata" validate:"dive,keys,keymax=100,endkeys,nonested,valuemax=2000"`
}
