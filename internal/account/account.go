// Package account implements ledger and account provisioning plus the
// freeze/unfreeze/close lifecycle for Account and SystemAccount entities.
package account

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/summa-ledger/summa/common"
	"github.com/summa-ledger/summa/common/mmodel"
	"github.com/summa-ledger/summa/internal/coa"
	"github.com/summa-ledger/summa/internal/eventstore"
	"github.com/summa-ledger/summa/pkg/adapter"
	"github.com/summa-ledger/summa/pkg/jsonutil"
	"github.com/summa-ledger/summa/pkg/merrors"
	"github.com/summa-ledger/summa/pkg/validate"
)

// mapToJSON marshals metadata for a jsonb column, falling back to an empty
// object on the (practically unreachable) case of unmarshalable metadata
// rather than threading an extra error return through every insert.
func mapToJSON(m map[string]any) []byte {
	b, err := jsonutil.Marshal(m)
	if err != nil {
		return []byte("{}")
	}

	return b
}

// Service provisions ledgers and accounts and runs the account lifecycle
// operations. It holds no connection of its own; every call runs inside the
// caller's transaction.
type Service struct {
	resolver *adapter.TableResolver
	events   *eventstore.Store
	chart    *coa.Registry
}

// New builds an account Service. chart may be nil, in which case accounts
// without an explicit NormalBalance are created with none set (plain
// credit/debit bookkeeping, no chart-of-accounts sign flip).
func New(resolver *adapter.TableResolver, events *eventstore.Store, chart *coa.Registry) *Service {
	return &Service{resolver: resolver, events: events, chart: chart}
}

// CreateLedger provisions a new tenant boundary. A ledger is created once
// and never mutated or deleted.
func (s *Service) CreateLedger(ctx context.Context, tx adapter.Adapter, input mmodel.CreateLedgerInput) (*mmodel.Ledger, error) {
	if err := validate.Struct(input); err != nil {
		return nil, err
	}

	if strings.TrimSpace(input.Name) == "" {
		return nil, merrors.New(merrors.InvalidArgument, "ledger name is required")
	}

	l := &mmodel.Ledger{
		ID:        common.GenerateUUIDv7(),
		Name:      input.Name,
		Metadata:  input.Metadata,
		CreatedAt: time.Now().UTC(),
	}

	_, err := tx.Mutate(ctx, `INSERT INTO `+s.resolver.Table("ledger")+`
		(id, name, metadata, created_at) VALUES ($1, $2, $3, $4)`,
		l.ID, l.Name, mapToJSON(l.Metadata), l.CreatedAt)
	if err != nil {
		return nil, merrors.FromPG(err, "ledger", nil)
	}

	return l, nil
}

// CreateSystemAccount provisions a ledger-owned counter-party account.
// identifier must begin with "@".
func (s *Service) CreateSystemAccount(ctx context.Context, tx adapter.Adapter, ledgerID uuid.UUID, identifier, currency string) (*mmodel.SystemAccount, error) {
	normalized, err := common.RemoveAccents(identifier)
	if err != nil {
		return nil, merrors.Wrap(merrors.InvalidArgument, "invalid system account identifier", err)
	}

	identifier = common.RemoveSpaces(normalized)

	if !strings.HasPrefix(identifier, "@") {
		return nil, merrors.New(merrors.InvalidArgument, "system account identifier must begin with '@'")
	}

	if err := common.ValidateCurrency(currency); err != nil {
		return nil, err
	}

	sa := &mmodel.SystemAccount{
		ID:         common.GenerateUUIDv7(),
		LedgerID:   ledgerID,
		Identifier: identifier,
		Currency:   currency,
		CreatedAt:  time.Now().UTC(),
	}

	_, err = tx.Mutate(ctx, `INSERT INTO `+s.resolver.Table("system_account")+`
		(id, ledger_id, identifier, currency, metadata, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		sa.ID, sa.LedgerID, sa.Identifier, sa.Currency, mapToJSON(sa.Metadata), sa.CreatedAt)
	if err != nil {
		return nil, merrors.FromPG(err, "system_account", nil)
	}

	_, err = tx.Mutate(ctx, `INSERT INTO `+s.resolver.Table("system_account_version")+`
		(id, system_account_id, version, balance, credit_balance, debit_balance, change_type, created_at)
		VALUES ($1, $2, 1, 0, 0, 0, 'created', $3)`,
		common.GenerateUUIDv7(), sa.ID, sa.CreatedAt)
	if err != nil {
		return nil, merrors.FromPG(err, "system_account_version", nil)
	}

	return sa, nil
}

// CreateAccount provisions a user-owned account (unique per ledger_id,
// holder_id) and appends its AccountCreated event.
func (s *Service) CreateAccount(ctx context.Context, tx adapter.Adapter, ledgerID uuid.UUID, input mmodel.CreateAccountInput) (*mmodel.Account, error) {
	if err := validate.Struct(input); err != nil {
		return nil, err
	}

	if err := common.ValidateCurrency(input.Currency); err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	normalBalance := input.NormalBalance
	if normalBalance == nil && s.chart != nil {
		resolved, err := s.chart.ResolveNormalBalance(ctx, tx, ledgerID, input.AccountType)
		if err != nil {
			return nil, err
		}

		normalBalance = resolved
	}

	a := &mmodel.Account{
		ID:              common.GenerateUUIDv7(),
		LedgerID:        ledgerID,
		HolderID:        input.HolderID,
		HolderType:      input.HolderType,
		Status:          mmodel.StatusActive,
		Currency:        input.Currency,
		AllowOverdraft:  input.AllowOverdraft,
		OverdraftLimit:  input.OverdraftLimit,
		AccountType:     input.AccountType,
		NormalBalance:   normalBalance,
		ParentAccountID: input.ParentAccountID,
		Indicator:       input.Indicator,
		LockVersion:     1,
		Metadata:        input.Metadata,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	_, err := tx.Mutate(ctx, `INSERT INTO `+s.resolver.Table("account_balance")+`
		(id, ledger_id, holder_id, holder_type, status, currency, balance, credit_balance, debit_balance,
		 pending_credit, pending_debit, allow_overdraft, overdraft_limit, account_type, normal_balance,
		 parent_account_id, indicator, lock_version, metadata, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,0,0,0,0,0,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		a.ID, a.LedgerID, a.HolderID, a.HolderType, a.Status, a.Currency,
		a.AllowOverdraft, a.OverdraftLimit, a.AccountType, a.NormalBalance,
		a.ParentAccountID, a.Indicator, a.LockVersion, mapToJSON(a.Metadata), a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return nil, merrors.FromPG(err, "account", map[string]merrors.Code{
			"account_balance_ledger_id_holder_id_key": merrors.Conflict,
		})
	}

	eventData := map[string]any{
		"holderId":       a.HolderID.String(),
		"holderType":     string(a.HolderType),
		"currency":       a.Currency,
		"allowOverdraft": a.AllowOverdraft,
	}
	if a.Indicator != nil {
		eventData["indicator"] = *a.Indicator
	}

	if _, err := s.events.Append(ctx, tx, ledgerID, mmodel.AggregateAccount, a.ID, mmodel.EventAccountCreated, eventData, common.GenerateUUIDv7()); err != nil {
		return nil, err
	}

	return a, nil
}

// lockAccount reads and FOR UPDATE-locks an account row inside tx.
func (s *Service) lockAccount(ctx context.Context, tx adapter.Adapter, ledgerID, accountID uuid.UUID) (*mmodel.Account, error) {
	row := tx.QueryRow(ctx, `SELECT id, ledger_id, holder_id, holder_type, status, currency, balance,
		credit_balance, debit_balance, pending_credit, pending_debit, allow_overdraft, overdraft_limit,
		lock_version FROM `+s.resolver.Table("account_balance")+`
		WHERE id = $1 AND ledger_id = $2 `+tx.Dialect().ForUpdate(), accountID, ledgerID)

	a := &mmodel.Account{}

	err := row.Scan(&a.ID, &a.LedgerID, &a.HolderID, &a.HolderType, &a.Status, &a.Currency, &a.Balance,
		&a.CreditBalance, &a.DebitBalance, &a.PendingCredit, &a.PendingDebit, &a.AllowOverdraft,
		&a.OverdraftLimit, &a.LockVersion)

	switch {
	case err == nil:
		return a, nil
	case merrors.IsNoRows(err):
		return nil, merrors.New(merrors.NotFound, "account not found").WithEntity("account")
	default:
		return nil, merrors.FromPG(err, "account", nil)
	}
}

// Freeze marks an account frozen, rejecting further mutating operations and
// appending an AccountFrozen event.
func (s *Service) Freeze(ctx context.Context, tx adapter.Adapter, ledgerID, accountID uuid.UUID, by, reason string) (*mmodel.Account, error) {
	a, err := s.lockAccount(ctx, tx, ledgerID, accountID)
	if err != nil {
		return nil, err
	}

	if a.Status == mmodel.StatusClosed {
		return nil, merrors.New(merrors.AccountClosed, "account is closed").WithEntity("account")
	}

	now := time.Now().UTC()

	_, err = tx.Mutate(ctx, `UPDATE `+s.resolver.Table("account_balance")+`
		SET status = $1, frozen_at = $2, frozen_by = $3, frozen_reason = $4, updated_at = $5
		WHERE id = $6 AND ledger_id = $7`,
		mmodel.StatusFrozen, now, by, reason, now, accountID, ledgerID)
	if err != nil {
		return nil, merrors.FromPG(err, "account", nil)
	}

	if _, err := s.events.Append(ctx, tx, ledgerID, mmodel.AggregateAccount, accountID, mmodel.EventAccountFrozen,
		map[string]any{"frozenBy": by, "reason": reason}, common.GenerateUUIDv7()); err != nil {
		return nil, err
	}

	a.Status = mmodel.StatusFrozen

	return a, nil
}

// Unfreeze restores an account to active status.
func (s *Service) Unfreeze(ctx context.Context, tx adapter.Adapter, ledgerID, accountID uuid.UUID, by, reason string) (*mmodel.Account, error) {
	a, err := s.lockAccount(ctx, tx, ledgerID, accountID)
	if err != nil {
		return nil, err
	}

	if a.Status != mmodel.StatusFrozen {
		return nil, merrors.Newf(merrors.Conflict, "account is not frozen (status=%s)", a.Status).WithEntity("account")
	}

	now := time.Now().UTC()

	_, err = tx.Mutate(ctx, `UPDATE `+s.resolver.Table("account_balance")+`
		SET status = $1, frozen_at = NULL, frozen_by = NULL, frozen_reason = NULL, updated_at = $2
		WHERE id = $3 AND ledger_id = $4`,
		mmodel.StatusActive, now, accountID, ledgerID)
	if err != nil {
		return nil, merrors.FromPG(err, "account", nil)
	}

	if _, err := s.events.Append(ctx, tx, ledgerID, mmodel.AggregateAccount, accountID, mmodel.EventAccountUnfrozen,
		map[string]any{"unfrozenBy": by, "reason": reason}, common.GenerateUUIDv7()); err != nil {
		return nil, err
	}

	a.Status = mmodel.StatusActive

	return a, nil
}

// SweepFunc moves an account's final balance to a destination account as
// part of Close, avoiding a package cycle between account and the
// transaction manager that implements transfers.
type SweepFunc func(ctx context.Context, tx adapter.Adapter, sourceAccountID, destinationAccountID uuid.UUID, amount int64) (uuid.UUID, error)

// Close closes an account. If sweepTo is non-nil and the account carries a
// nonzero balance, sweep is invoked to move the balance there first; sweep
// may be nil only when the caller has already verified the balance is zero.
func (s *Service) Close(ctx context.Context, tx adapter.Adapter, ledgerID, accountID uuid.UUID, by, reason string, sweepTo *uuid.UUID, sweep SweepFunc) (*mmodel.Account, error) {
	a, err := s.lockAccount(ctx, tx, ledgerID, accountID)
	if err != nil {
		return nil, err
	}

	if a.Status == mmodel.StatusClosed {
		return nil, merrors.New(merrors.Conflict, "account already closed").WithEntity("account")
	}

	var sweepTxnID *uuid.UUID

	if a.Balance != 0 {
		if sweepTo == nil || sweep == nil {
			return nil, merrors.New(merrors.InvalidArgument, "account has a nonzero balance and no sweep destination was given")
		}

		amount := a.Balance
		if amount < 0 {
			amount = -amount
		}

		var source, dest = accountID, *sweepTo
		if a.Balance < 0 {
			source, dest = *sweepTo, accountID
		}

		id, err := sweep(ctx, tx, source, dest, amount)
		if err != nil {
			return nil, err
		}

		sweepTxnID = &id
	}

	now := time.Now().UTC()

	_, err = tx.Mutate(ctx, `UPDATE `+s.resolver.Table("account_balance")+`
		SET status = $1, closed_at = $2, closed_by = $3, closed_reason = $4, updated_at = $5
		WHERE id = $6 AND ledger_id = $7`,
		mmodel.StatusClosed, now, by, reason, now, accountID, ledgerID)
	if err != nil {
		return nil, merrors.FromPG(err, "account", nil)
	}

	eventData := map[string]any{"closedBy": by, "reason": reason, "finalBalance": a.Balance}
	if sweepTxnID != nil {
		eventData["sweepTransactionId"] = sweepTxnID.String()
	}

	if _, err := s.events.Append(ctx, tx, ledgerID, mmodel.AggregateAccount, accountID, mmodel.EventAccountClosed, eventData, common.GenerateUUIDv7()); err != nil {
		return nil, err
	}

	a.Status = mmodel.StatusClosed

	return a, nil
}
