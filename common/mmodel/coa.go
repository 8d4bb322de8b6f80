package mmodel

import (
	"time"

	"github.com/google/uuid"
)

// Classification buckets an account type into one of the five accounting
// equation terms.
type Classification string

const (
	ClassificationAsset     Classification = "asset"
	ClassificationLiability Classification = "liability"
	ClassificationEquity    Classification = "equity"
	ClassificationRevenue   Classification = "revenue"
	ClassificationExpense   Classification = "expense"
)

// NaturalNormalBalance returns the normal balance side conventionally
// associated with a classification: assets and expenses are debit-normal,
// liabilities, equity and revenue are credit-normal.
func (c Classification) NaturalNormalBalance() NormalBalance {
	switch c {
	case ClassificationAsset, ClassificationExpense:
		return NormalBalanceDebit
	default:
		return NormalBalanceCredit
	}
}

// ChartOfAccountType is a ledger-scoped account type definition.
// Accounts reference one by KeyValue; the referenced type's NormalBalance
// and Classification govern how the account's raw balance is interpreted.
type ChartOfAccountType struct {
	ID             uuid.UUID      `json:"id"`
	LedgerID       uuid.UUID      `json:"ledgerId"`
	KeyValue       string         `json:"keyValue"`
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	Classification Classification `json:"classification"`
	NormalBalance  NormalBalance  `json:"normalBalance"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// CreateChartOfAccountTypeInput is the payload to register a new account
// type on a ledger.
type CreateChartOfAccountTypeInput struct {
	KeyValue       string         `json:"keyValue" validate:"required,max=100"`
	Name           string         `json:"name" validate:"required,max=256"`
	Description    string         `json:"description"`
	Classification Classification `json:"classification" validate:"required,oneof=asset liability equity revenue expense"`
	Metadata       map[string]any `json:"metadata"`
}

// ClassificationBalance is one line of an EquationReport: the summed signed
// balance of every account under a classification.
type ClassificationBalance struct {
	Classification Classification `json:"classification"`
	Total          int64          `json:"total"`
	AccountCount   int            `json:"accountCount"`
}

// EquationReport is the result of validating the accounting equation
// (Assets = Liabilities + Equity + Revenue - Expenses) for one ledger at a
// point in time.
type EquationReport struct {
	LedgerID    uuid.UUID               `json:"ledgerId"`
	GeneratedAt time.Time               `json:"generatedAt"`
	Balances    []ClassificationBalance `json:"balances"`
	Difference  int64                   `json:"difference"` // assets - (liabilities + equity + revenue - expenses)
	Balanced    bool                    `json:"balanced"`
}
