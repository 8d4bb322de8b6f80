package txn

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/summa-ledger/summa/common/mmodel"
	"github.com/summa-ledger/summa/internal/balance"
	"github.com/summa-ledger/summa/internal/eventstore"
	"github.com/summa-ledger/summa/internal/hotaccount"
	"github.com/summa-ledger/summa/internal/idempotency"
	"github.com/summa-ledger/summa/internal/plugin"
	"github.com/summa-ledger/summa/pkg/adapter"
	"github.com/summa-ledger/summa/pkg/merrors"
)

// DefaultMaxTransactionAmount bounds a single transaction's header amount.
const DefaultMaxTransactionAmount = 100_000_000_000

// Config tunes the transaction manager's validation and timeout defaults.
type Config struct {
	MaxTransactionAmount int64
	StatementTimeoutMs   int64
	LockTimeoutMs        int64
}

// withDefaults fills zero-valued fields with the manager's defaults.
func (c Config) withDefaults() Config {
	if c.MaxTransactionAmount <= 0 {
		c.MaxTransactionAmount = DefaultMaxTransactionAmount
	}

	if c.StatementTimeoutMs <= 0 {
		c.StatementTimeoutMs = 30_000
	}

	if c.LockTimeoutMs <= 0 {
		c.LockTimeoutMs = 3_000
	}

	return c
}

// Manager implements the transaction operations: one canonical posting shape
// shared by credit, debit, transfer, multi-leg journal, refund, correction,
// and administrative adjustment.
type Manager struct {
	db        adapter.Adapter
	resolver  *adapter.TableResolver
	balances  *balance.Manager
	events    *eventstore.Store
	idemp     *idempotency.Service
	hot       *hotaccount.Pipeline
	hooks     *plugin.Registry
	fx        balance.FXResolver
	cfg       Config
}

// New builds a transaction Manager. fx and hooks may be nil: without an fx
// resolver, cross-currency legs are rejected; without hooks, no plugin runs.
func New(
	db adapter.Adapter,
	resolver *adapter.TableResolver,
	balances *balance.Manager,
	events *eventstore.Store,
	idemp *idempotency.Service,
	hot *hotaccount.Pipeline,
	hooks *plugin.Registry,
	fx balance.FXResolver,
	cfg Config,
) *Manager {
	return &Manager{
		db:       db,
		resolver: resolver,
		balances: balances,
		events:   events,
		idemp:    idemp,
		hot:      hot,
		hooks:    hooks,
		fx:       fx,
		cfg:      cfg.withDefaults(),
	}
}

func validateHeaderAmount(amount, max int64) error {
	if amount <= 0 {
		return merrors.New(merrors.InvalidArgument, "amount must be a positive integer")
	}

	if amount > max {
		return merrors.Newf(merrors.InvalidArgument, "amount %d exceeds the maximum transaction amount %d", amount, max)
	}

	return nil
}

// lockOrdered locks every account in ids under a single deterministic order
// (ascending UUID) to avoid cross-transaction deadlock. first, when
// non-nil, is locked ahead of the rest regardless of its position in sort
// order, so a transfer's source account locks first.
func (m *Manager) lockOrdered(ctx context.Context, tx adapter.Adapter, ledgerID uuid.UUID, ids []uuid.UUID, first *uuid.UUID) (map[uuid.UUID]*mmodel.Account, error) {
	seen := map[uuid.UUID]bool{}

	ordered := make([]uuid.UUID, 0, len(ids))

	if first != nil {
		ordered = append(ordered, *first)
		seen[*first] = true
	}

	rest := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}

		seen[id] = true

		rest = append(rest, id)
	}

	sort.Slice(rest, func(i, j int) bool { return rest[i].String() < rest[j].String() })

	ordered = append(ordered, rest...)

	accounts := make(map[uuid.UUID]*mmodel.Account, len(ordered))

	for _, id := range ordered {
		acc, err := m.balances.LockAccount(ctx, tx, ledgerID, id)
		if err != nil {
			return nil, err
		}

		accounts[id] = acc
	}

	return accounts, nil
}

// convert resolves from→to and applies the rate to amount. With no
// FXResolver configured, a currency mismatch is rejected outright.
func (m *Manager) convert(ctx context.Context, from, to string, amount int64) (converted, rate int64, err error) {
	if m.fx == nil {
		return 0, 0, merrors.Newf(merrors.InvalidArgument, "currencies %s and %s differ and no FX resolver is configured", from, to)
	}

	r, ferr := m.fx.Resolve(ctx, from, to)
	if ferr != nil {
		return 0, 0, merrors.Wrap(merrors.Internal, "fx resolution failed", ferr)
	}

	c, cerr := balance.ConvertAmount(amount, r)
	if cerr != nil {
		return 0, 0, cerr
	}

	return c, r, nil
}
