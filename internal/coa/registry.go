// Package coa implements the chart-of-accounts registry and the
// accounting-equation validator, giving ledgers an optional, chart-of-
// accounts-aware interpretation of an account's NormalBalance.
package coa

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/summa-ledger/summa/common"
	"github.com/summa-ledger/summa/common/mmodel"
	"github.com/summa-ledger/summa/pkg/adapter"
	"github.com/summa-ledger/summa/pkg/jsonutil"
	"github.com/summa-ledger/summa/pkg/merrors"
	"github.com/summa-ledger/summa/pkg/validate"
)

// Registry manages per-ledger account type definitions. Like the other
// services it holds no connection of its own; every call runs inside the
// caller's transaction.
type Registry struct {
	resolver *adapter.TableResolver
}

// New builds a Registry.
func New(resolver *adapter.TableResolver) *Registry {
	return &Registry{resolver: resolver}
}

// Create registers a new account type on a ledger (invariant: KeyValue is
// unique per ledger, enforced by chart_of_account_type_ledger_id_key_value_key).
func (r *Registry) Create(ctx context.Context, tx adapter.Adapter, ledgerID uuid.UUID, in mmodel.CreateChartOfAccountTypeInput) (*mmodel.ChartOfAccountType, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}

	keyValue := strings.TrimSpace(in.KeyValue)
	if keyValue == "" {
		return nil, merrors.New(merrors.InvalidArgument, "keyValue is required")
	}

	t := &mmodel.ChartOfAccountType{
		ID:             common.GenerateUUIDv7(),
		LedgerID:       ledgerID,
		KeyValue:       keyValue,
		Name:           in.Name,
		Description:    in.Description,
		Classification: in.Classification,
		NormalBalance:  in.Classification.NaturalNormalBalance(),
		Metadata:       in.Metadata,
		CreatedAt:      time.Now().UTC(),
	}

	metadata, err := jsonutil.Marshal(t.Metadata)
	if err != nil {
		return nil, merrors.Wrap(merrors.Internal, "failed to encode account type metadata", err)
	}

	_, err = tx.Mutate(ctx, `INSERT INTO `+r.resolver.Table("chart_of_account_type")+`
		(id, ledger_id, key_value, name, description, classification, normal_balance, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.LedgerID, t.KeyValue, t.Name, t.Description, t.Classification, t.NormalBalance, metadata, t.CreatedAt)
	if err != nil {
		return nil, merrors.FromPG(err, "chart_of_account_type", map[string]merrors.Code{
			"chart_of_account_type_ledger_id_key_value_key": merrors.Conflict,
		})
	}

	return t, nil
}

// Get resolves an account type by its ledger-scoped key.
func (r *Registry) Get(ctx context.Context, tx adapter.Adapter, ledgerID uuid.UUID, keyValue string) (*mmodel.ChartOfAccountType, error) {
	row := tx.QueryRow(ctx, `SELECT id, ledger_id, key_value, name, description, classification, normal_balance, created_at
		FROM `+r.resolver.Table("chart_of_account_type")+` WHERE ledger_id = $1 AND key_value = $2`, ledgerID, keyValue)

	t := &mmodel.ChartOfAccountType{}

	err := row.Scan(&t.ID, &t.LedgerID, &t.KeyValue, &t.Name, &t.Description, &t.Classification, &t.NormalBalance, &t.CreatedAt)

	switch {
	case err == nil:
		return t, nil
	case merrors.IsNoRows(err):
		return nil, merrors.Newf(merrors.NotFound, "account type %q not found", keyValue).WithEntity("chart_of_account_type")
	default:
		return nil, merrors.FromPG(err, "chart_of_account_type", nil)
	}
}

// List returns every account type registered on a ledger.
func (r *Registry) List(ctx context.Context, tx adapter.Adapter, ledgerID uuid.UUID) ([]*mmodel.ChartOfAccountType, error) {
	rows, err := tx.Query(ctx, `SELECT id, ledger_id, key_value, name, description, classification, normal_balance, created_at
		FROM `+r.resolver.Table("chart_of_account_type")+` WHERE ledger_id = $1 ORDER BY key_value`, ledgerID)
	if err != nil {
		return nil, merrors.FromPG(err, "chart_of_account_type", nil)
	}
	defer rows.Close()

	var types []*mmodel.ChartOfAccountType

	for rows.Next() {
		t := &mmodel.ChartOfAccountType{}
		if err := rows.Scan(&t.ID, &t.LedgerID, &t.KeyValue, &t.Name, &t.Description, &t.Classification, &t.NormalBalance, &t.CreatedAt); err != nil {
			return nil, merrors.FromPG(err, "chart_of_account_type", nil)
		}

		types = append(types, t)
	}

	return types, rows.Err()
}

// ResolveNormalBalance looks up the NormalBalance an account should carry
// given its AccountType key, for callers (internal/account.CreateAccount)
// that want the chart of accounts, rather than the caller, to be
// authoritative over invariant A1's sign convention. A nil accountType
// leaves normal_balance unset (plain credit/debit bookkeeping, no
// chart-of-accounts flip).
func (r *Registry) ResolveNormalBalance(ctx context.Context, tx adapter.Adapter, ledgerID uuid.UUID, accountType *string) (*mmodel.NormalBalance, error) {
	if common.IsNilOrEmpty(accountType) {
		return nil, nil
	}

	t, err := r.Get(ctx, tx, ledgerID, *accountType)
	if err != nil {
		return nil, err
	}

	nb := t.NormalBalance

	return &nb, nil
}
