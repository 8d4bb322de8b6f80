package mmodel

import (
	"time"

	"github.com/google/uuid"
)

// IdempotencyRecord caches the result of a mutation keyed by a caller-supplied
// token, scoped to a ledger.
type IdempotencyRecord struct {
	Key        string         `json:"key"`
	LedgerID   uuid.UUID      `json:"ledgerId"`
	Reference  string         `json:"reference"`
	ResultData map[string]any `json:"resultData"`
	ExpiresAt  time.Time      `json:"expiresAt"`
}
