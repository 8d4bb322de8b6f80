package txn

import (
	"context"

	"github.com/summa-ledger/summa/common/mmodel"
	"github.com/summa-ledger/summa/internal/balance"
)

// Credit posts money into accountID from the ledger's world system account:
// the world account is debited, the target account is credited.
func (m *Manager) Credit(ctx context.Context, in CreditInput) (*mmodel.Transaction, []*mmodel.Entry, error) {
	return m.post(ctx, postRequest{
		LedgerID:        in.LedgerID,
		Type:            mmodel.TransactionCredit,
		Reference:       in.Reference,
		IdempotencyKey:  in.IdempotencyKey,
		Amount:          in.Amount,
		Currency:        in.Currency,
		Description:     in.Description,
		SourceAccountID: &in.WorldAccountID,
		Metadata:        in.Metadata,
		Legs: []leg{
			{systemAccountID: &in.WorldAccountID, dir: balance.Debit, amount: in.Amount, currency: in.Currency},
			{accountID: &in.AccountID, dir: balance.Credit, amount: in.Amount, currency: in.Currency},
		},
	})
}

// Debit posts money out of accountID into the ledger's world system account,
// enforcing the overdraft policy.
func (m *Manager) Debit(ctx context.Context, in DebitInput) (*mmodel.Transaction, []*mmodel.Entry, error) {
	return m.post(ctx, postRequest{
		LedgerID:             in.LedgerID,
		Type:                 mmodel.TransactionDebit,
		Reference:            in.Reference,
		IdempotencyKey:       in.IdempotencyKey,
		Amount:               in.Amount,
		Currency:             in.Currency,
		Description:          in.Description,
		DestinationAccountID: &in.WorldAccountID,
		Metadata:             in.Metadata,
		Legs: []leg{
			{accountID: &in.AccountID, dir: balance.Debit, amount: in.Amount, currency: in.Currency},
			{systemAccountID: &in.WorldAccountID, dir: balance.Credit, amount: in.Amount, currency: in.Currency},
		},
	})
}

// ForceDebit behaves like Debit but bypasses the overdraft policy, for
// administrative negative-balance corrections.
func (m *Manager) ForceDebit(ctx context.Context, in DebitInput) (*mmodel.Transaction, []*mmodel.Entry, error) {
	return m.post(ctx, postRequest{
		LedgerID:             in.LedgerID,
		Type:                 mmodel.TransactionDebit,
		Reference:            in.Reference,
		IdempotencyKey:       in.IdempotencyKey,
		Amount:               in.Amount,
		Currency:             in.Currency,
		Description:          in.Description,
		DestinationAccountID: &in.WorldAccountID,
		Metadata:             in.Metadata,
		ForceOverdraft:       true,
		Legs: []leg{
			{accountID: &in.AccountID, dir: balance.Debit, amount: in.Amount, currency: in.Currency},
			{systemAccountID: &in.WorldAccountID, dir: balance.Credit, amount: in.Amount, currency: in.Currency},
		},
	})
}
