package coa

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/summa-ledger/summa/common/mmodel"
	"github.com/summa-ledger/summa/pkg/adapter"
	"github.com/summa-ledger/summa/pkg/merrors"
)

// Validator runs the periodic accounting-equation check: Assets =
// Liabilities + Equity + Revenue - Expenses, evaluated over every account
// whose account_type resolves to a registered chart-of-accounts
// classification. Accounts with no account_type are outside the chart of
// accounts and are excluded, since normal_balance is optional on an account.
type Validator struct {
	resolver *adapter.TableResolver
}

// NewValidator builds a Validator.
func NewValidator(resolver *adapter.TableResolver) *Validator {
	return &Validator{resolver: resolver}
}

// Validate computes an EquationReport for ledgerID as of now.
func (v *Validator) Validate(ctx context.Context, tx adapter.Adapter, ledgerID uuid.UUID) (*mmodel.EquationReport, error) {
	rows, err := tx.Query(ctx, `SELECT t.classification, a.balance, a.normal_balance
		FROM `+v.resolver.Table("account_balance")+` a
		JOIN `+v.resolver.Table("chart_of_account_type")+` t
		  ON t.ledger_id = a.ledger_id AND t.key_value = a.account_type
		WHERE a.ledger_id = $1`, ledgerID)
	if err != nil {
		return nil, merrors.FromPG(err, "account_balance", nil)
	}
	defer rows.Close()

	totals := map[mmodel.Classification]*mmodel.ClassificationBalance{}

	for rows.Next() {
		var (
			classification mmodel.Classification
			balance        int64
			normalBalance  mmodel.NormalBalance
		)

		if err := rows.Scan(&classification, &balance, &normalBalance); err != nil {
			return nil, merrors.FromPG(err, "account_balance", nil)
		}

		// The stored balance already reads as the account's natural balance:
		// debit-normal rows are sign-flipped when legs are applied.
		signed := balance

		cb, ok := totals[classification]
		if !ok {
			cb = &mmodel.ClassificationBalance{Classification: classification}
			totals[classification] = cb
		}

		cb.Total += signed
		cb.AccountCount++
	}

	if err := rows.Err(); err != nil {
		return nil, merrors.FromPG(err, "account_balance", nil)
	}

	report := &mmodel.EquationReport{
		LedgerID:    ledgerID,
		GeneratedAt: time.Now().UTC(),
	}

	order := []mmodel.Classification{
		mmodel.ClassificationAsset, mmodel.ClassificationLiability, mmodel.ClassificationEquity,
		mmodel.ClassificationRevenue, mmodel.ClassificationExpense,
	}

	for _, c := range order {
		cb, ok := totals[c]
		if !ok {
			cb = &mmodel.ClassificationBalance{Classification: c}
		}

		report.Balances = append(report.Balances, *cb)
	}

	get := func(c mmodel.Classification) int64 {
		if cb, ok := totals[c]; ok {
			return cb.Total
		}

		return 0
	}

	report.Difference = get(mmodel.ClassificationAsset) -
		get(mmodel.ClassificationLiability) -
		get(mmodel.ClassificationEquity) -
		get(mmodel.ClassificationRevenue) +
		get(mmodel.ClassificationExpense)

	report.Balanced = report.Difference == 0

	return report, nil
}
