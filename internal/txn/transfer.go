package txn

import (
	"context"

	"github.com/summa-ledger/summa/common/mmodel"
	"github.com/summa-ledger/summa/internal/balance"
	"github.com/summa-ledger/summa/pkg/merrors"
)

// Transfer moves money from one user account to another, converting via the
// configured FXResolver when the destination currency differs.
func (m *Manager) Transfer(ctx context.Context, in TransferInput) (*mmodel.Transaction, []*mmodel.Entry, error) {
	if in.SourceAccountID == in.DestinationAccountID {
		return nil, nil, merrors.New(merrors.InvalidArgument, "source and destination accounts must differ")
	}

	destCurrency := in.DestinationCurrency
	if destCurrency == "" {
		destCurrency = in.Currency
	}

	destLeg := leg{accountID: &in.DestinationAccountID, dir: balance.Credit, amount: in.Amount, currency: in.Currency}

	if destCurrency != in.Currency {
		converted, rate, err := m.convert(ctx, in.Currency, destCurrency, in.Amount)
		if err != nil {
			return nil, nil, err
		}

		origAmount, origCurrency := in.Amount, in.Currency
		destLeg = leg{
			accountID:        &in.DestinationAccountID,
			dir:              balance.Credit,
			amount:           converted,
			currency:         destCurrency,
			originalAmount:   &origAmount,
			originalCurrency: &origCurrency,
			exchangeRate:     &rate,
		}
	}

	return m.post(ctx, postRequest{
		LedgerID:             in.LedgerID,
		Type:                 mmodel.TransactionTransfer,
		Reference:            in.Reference,
		IdempotencyKey:       in.IdempotencyKey,
		Amount:               in.Amount,
		Currency:             in.Currency,
		Description:          in.Description,
		SourceAccountID:      &in.SourceAccountID,
		DestinationAccountID: &in.DestinationAccountID,
		Metadata:             in.Metadata,
		Legs: []leg{
			{accountID: &in.SourceAccountID, dir: balance.Debit, amount: in.Amount, currency: in.Currency},
			destLeg,
		},
	})
}

// MultiTransfer fans a single source debit out across N destinations. At
// most one destination may omit its amount; that destination receives
// whatever remains of Amount after the explicit destinations are
// subtracted.
func (m *Manager) MultiTransfer(ctx context.Context, in MultiTransferInput) (*mmodel.Transaction, []*mmodel.Entry, error) {
	if len(in.Destinations) == 0 {
		return nil, nil, merrors.New(merrors.InvalidArgument, "multiTransfer requires at least one destination")
	}

	var (
		explicitSum int64
		remainderIdx = -1
	)

	for i, d := range in.Destinations {
		if d.AccountID == nil && d.SystemAccountID == nil {
			return nil, nil, merrors.New(merrors.InvalidArgument, "each destination must carry an account or system account")
		}

		if d.Amount == nil {
			if remainderIdx != -1 {
				return nil, nil, merrors.New(merrors.InvalidArgument, "at most one destination may omit its amount")
			}

			remainderIdx = i

			continue
		}

		if *d.Amount < 0 {
			return nil, nil, merrors.New(merrors.InvalidArgument, "destination amount must be a non-negative integer")
		}

		explicitSum += *d.Amount
	}

	amounts := make([]int64, len(in.Destinations))

	for i, d := range in.Destinations {
		if d.Amount != nil {
			amounts[i] = *d.Amount
			continue
		}

		remainder := in.Amount - explicitSum
		if remainder <= 0 {
			return nil, nil, merrors.New(merrors.InvalidArgument, "explicit destination amounts leave no remainder for the open destination")
		}

		amounts[i] = remainder
	}

	if remainderIdx == -1 && explicitSum != in.Amount {
		return nil, nil, merrors.Newf(merrors.InvalidArgument, "destination amounts sum to %d, expected %d", explicitSum, in.Amount)
	}

	legs := make([]leg, 0, len(in.Destinations)+1)
	legs = append(legs, leg{accountID: &in.SourceAccountID, dir: balance.Debit, amount: in.Amount, currency: in.Currency})

	for i, d := range in.Destinations {
		legs = append(legs, leg{
			accountID:       d.AccountID,
			systemAccountID: d.SystemAccountID,
			dir:             balance.Credit,
			amount:          amounts[i],
			currency:        in.Currency,
		})
	}

	forceFirst := in.SourceAccountID

	return m.post(ctx, postRequest{
		LedgerID:        in.LedgerID,
		Type:            mmodel.TransactionTransfer,
		Reference:       in.Reference,
		IdempotencyKey:  in.IdempotencyKey,
		Amount:          in.Amount,
		Currency:        in.Currency,
		Description:     in.Description,
		SourceAccountID: &in.SourceAccountID,
		Metadata:        in.Metadata,
		Legs:            legs,
		ForceLockFirst:  &forceFirst,
	})
}
