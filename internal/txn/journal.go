package txn

import (
	"context"

	"github.com/summa-ledger/summa/common"
	"github.com/summa-ledger/summa/common/mmodel"
	"github.com/summa-ledger/summa/internal/balance"
	"github.com/summa-ledger/summa/pkg/merrors"
)

// buildJournalLegs validates journal-style legs and converts them into
// internal posting legs, returning the header amount (the balanced debit
// total expressed in headerCurrency). Shared by Journal and Correct.
func (m *Manager) buildJournalLegs(ctx context.Context, jls []JournalLeg, headerCurrency string) ([]leg, int64, error) {
	if len(jls) < 2 {
		return nil, 0, merrors.New(merrors.InvalidArgument, "a journal entry requires at least two legs")
	}

	var debitSum, creditSum int64

	legs := make([]leg, 0, len(jls))

	for _, jl := range jls {
		if jl.AccountID == nil && jl.SystemAccountID == nil {
			return nil, 0, merrors.New(merrors.InvalidArgument, "each journal leg must carry an account or system account")
		}

		if jl.Amount <= 0 {
			return nil, 0, merrors.New(merrors.InvalidArgument, "journal leg amount must be a positive integer")
		}

		if !common.Contains([]balance.Direction{balance.Debit, balance.Credit}, jl.Direction) {
			return nil, 0, merrors.Newf(merrors.InvalidArgument, "unknown journal leg direction %q", jl.Direction)
		}

		currency := jl.Currency
		if currency == "" {
			currency = headerCurrency
		}

		l := leg{
			accountID:       jl.AccountID,
			systemAccountID: jl.SystemAccountID,
			dir:             jl.Direction,
			amount:          jl.Amount,
			currency:        currency,
		}

		// The balance check runs in the header currency; foreign legs are
		// normalized through the FX resolver and keep the rate used, so the
		// entries stay auditable after the fact.
		normalized := jl.Amount

		if currency != headerCurrency {
			converted, rate, err := m.convert(ctx, currency, headerCurrency, jl.Amount)
			if err != nil {
				return nil, 0, err
			}

			normalized = converted
			l.exchangeRate = &rate
		}

		if jl.Direction == balance.Debit {
			debitSum += normalized
		} else {
			creditSum += normalized
		}

		legs = append(legs, l)
	}

	if debitSum != creditSum {
		return nil, 0, merrors.Newf(merrors.InvalidArgument, "journal legs do not balance: debits %d, credits %d", debitSum, creditSum)
	}

	return legs, debitSum, nil
}

// Journal posts an arbitrary multi-leg general-ledger entry, rejecting any
// set of legs whose normalized debits and credits do not balance.
func (m *Manager) Journal(ctx context.Context, in JournalInput) (*mmodel.Transaction, []*mmodel.Entry, error) {
	legs, amount, err := m.buildJournalLegs(ctx, in.Legs, in.Currency)
	if err != nil {
		return nil, nil, err
	}

	return m.post(ctx, postRequest{
		LedgerID:       in.LedgerID,
		Type:           mmodel.TransactionJournal,
		Reference:      in.Reference,
		IdempotencyKey: in.IdempotencyKey,
		Amount:         amount,
		Currency:       in.Currency,
		Description:    in.Description,
		Metadata:       in.Metadata,
		Legs:           legs,
	})
}
