package account

import (
	"context"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/summa-ledger/summa/common"
	"github.com/summa-ledger/summa/common/mmodel"
	"github.com/summa-ledger/summa/pkg/adapter"
	"github.com/summa-ledger/summa/pkg/merrors"
)

// ListFilter narrows a ListAccounts call. Zero-valued fields are omitted
// from the WHERE clause.
type ListFilter struct {
	HolderID    *uuid.UUID
	Status      *mmodel.AccountStatus
	Currency    string
	AccountType *string
	Limit       int
	Offset      int
}

const defaultListLimit = 100

// ListAccounts returns accounts in ledgerID matching filter, most recently
// created first.
func (s *Service) ListAccounts(ctx context.Context, tx adapter.Adapter, ledgerID uuid.UUID, filter ListFilter) ([]*mmodel.Account, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	builder := squirrel.Select(
		"id", "ledger_id", "holder_id", "holder_type", "status", "currency", "balance",
		"credit_balance", "debit_balance", "pending_credit", "pending_debit", "allow_overdraft",
		"overdraft_limit", "account_type", "normal_balance", "parent_account_id", "indicator",
		"lock_version", "created_at", "updated_at",
	).
		From(s.resolver.Table("account_balance")).
		Where(squirrel.Eq{"ledger_id": ledgerID}).
		OrderBy("created_at DESC").
		Limit(common.SafeIntToUint64(limit)).
		Offset(common.SafeIntToUint64(filter.Offset))

	if filter.HolderID != nil {
		builder = builder.Where(squirrel.Eq{"holder_id": *filter.HolderID})
	}

	if filter.Status != nil {
		builder = builder.Where(squirrel.Eq{"status": *filter.Status})
	}

	if filter.Currency != "" {
		builder = builder.Where(squirrel.Eq{"currency": filter.Currency})
	}

	if filter.AccountType != nil {
		builder = builder.Where(squirrel.Eq{"account_type": *filter.AccountType})
	}

	query, args, err := builder.PlaceholderFormat(squirrel.Dollar).ToSql()
	if err != nil {
		return nil, merrors.Wrap(merrors.Internal, "failed to build account list query", err)
	}

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, merrors.FromPG(err, "account", nil)
	}
	defer rows.Close()

	var accounts []*mmodel.Account

	for rows.Next() {
		a := &mmodel.Account{}

		if err := rows.Scan(&a.ID, &a.LedgerID, &a.HolderID, &a.HolderType, &a.Status, &a.Currency, &a.Balance,
			&a.CreditBalance, &a.DebitBalance, &a.PendingCredit, &a.PendingDebit, &a.AllowOverdraft,
			&a.OverdraftLimit, &a.AccountType, &a.NormalBalance, &a.ParentAccountID, &a.Indicator,
			&a.LockVersion, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, merrors.FromPG(err, "account", nil)
		}

		accounts = append(accounts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, merrors.FromPG(err, "account", nil)
	}

	return accounts, nil
}
