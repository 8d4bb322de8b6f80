// Package hold implements the two-phase reservation manager: Create
// earmarks funds without moving them, Commit posts the real movement for
// some or all of the reserved amount, and Void or ExpireHolds release a
// reservation back to available balance.
package hold

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/summa-ledger/summa/common"
	"github.com/summa-ledger/summa/common/mmodel"
	"github.com/summa-ledger/summa/internal/balance"
	"github.com/summa-ledger/summa/internal/eventstore"
	"github.com/summa-ledger/summa/internal/hotaccount"
	"github.com/summa-ledger/summa/internal/idempotency"
	"github.com/summa-ledger/summa/internal/plugin"
	"github.com/summa-ledger/summa/pkg/adapter"
	"github.com/summa-ledger/summa/pkg/jsonutil"
	"github.com/summa-ledger/summa/pkg/merrors"
)

// Manager implements the hold lifecycle on top of the same balance and
// event-store primitives the transaction manager uses.
type Manager struct {
	db       adapter.Adapter
	resolver *adapter.TableResolver
	balances *balance.Manager
	events   *eventstore.Store
	idemp    *idempotency.Service
	hot      *hotaccount.Pipeline
	hooks    *plugin.Registry
}

// New builds a hold Manager.
func New(
	db adapter.Adapter,
	resolver *adapter.TableResolver,
	balances *balance.Manager,
	events *eventstore.Store,
	idemp *idempotency.Service,
	hot *hotaccount.Pipeline,
	hooks *plugin.Registry,
) *Manager {
	return &Manager{db: db, resolver: resolver, balances: balances, events: events, idemp: idemp, hot: hot, hooks: hooks}
}

// CreateInput is the payload for Manager.Create.
type CreateInput struct {
	LedgerID             uuid.UUID
	SourceAccountID      uuid.UUID
	DestinationAccountID *uuid.UUID // optional intended destination, settled at commit
	Amount               int64
	Currency             string
	Reference            string
	Description          string
	ExpiresAt            *time.Time
	IdempotencyKey       *string
	Metadata             map[string]any
}

// Create reserves Amount against the source account's available balance
// without moving money.
func (m *Manager) Create(ctx context.Context, in CreateInput) (*mmodel.Hold, error) {
	if in.Amount <= 0 {
		return nil, merrors.New(merrors.InvalidArgument, "hold amount must be a positive integer")
	}

	if in.Reference == "" {
		return nil, merrors.New(merrors.InvalidArgument, "reference is required")
	}

	if err := common.ValidateCurrency(in.Currency); err != nil {
		return nil, err
	}

	if err := common.CheckMetadataKeyAndValueLength(100, in.Metadata); err != nil {
		return nil, err
	}

	var result *mmodel.Hold

	err := m.db.Transaction(ctx, func(ctx context.Context, tx adapter.Adapter) error {
		idemKey := ""
		if in.IdempotencyKey != nil {
			idemKey = *in.IdempotencyKey
		}

		cached, found, err := m.idemp.Check(ctx, tx, in.LedgerID, in.IdempotencyKey, in.Reference)
		if err != nil {
			return err
		}

		if found {
			h, derr := decodeHold(cached)
			if derr != nil {
				return derr
			}

			result = h

			return nil
		}

		var hookOp *plugin.Operation
		if m.hooks != nil {
			hookOp = &plugin.Operation{Type: plugin.OpHoldCreate, LedgerID: in.LedgerID}
			if err := m.hooks.Before(ctx, hookOp); err != nil {
				return err
			}
		}

		acc, err := m.balances.LockAccount(ctx, tx, in.LedgerID, in.SourceAccountID)
		if err != nil {
			return err
		}

		if !acc.IsActive() {
			code := merrors.AccountFrozen
			if acc.Status == mmodel.StatusClosed {
				code = merrors.AccountClosed
			}

			return merrors.Newf(code, "account %s is not active (status=%s)", acc.ID, acc.Status).WithEntity("account")
		}

		if err := balance.CheckOverdraft(acc, in.Amount); err != nil {
			return err
		}

		delta := balance.PlaceHold(acc, in.Amount)

		if _, err := m.balances.ApplyHold(ctx, tx, acc, delta, "hold_create"); err != nil {
			return err
		}

		h := &mmodel.Hold{
			ID:                   common.GenerateUUIDv7(),
			LedgerID:             in.LedgerID,
			SourceAccountID:      in.SourceAccountID,
			DestinationAccountID: in.DestinationAccountID,
			Amount:               in.Amount,
			Currency:             in.Currency,
			Status:               mmodel.HoldInflight,
			Reference:            in.Reference,
			Description:          in.Description,
			Metadata:             in.Metadata,
			ExpiresAt:            in.ExpiresAt,
			CreatedAt:            time.Now().UTC(),
		}

		if err := m.insertHold(ctx, tx, h); err != nil {
			return err
		}

		if _, err := m.events.Append(ctx, tx, in.LedgerID, mmodel.AggregateHold, h.ID, mmodel.EventHoldCreated, holdCreatedEvent(h), common.GenerateUUIDv7()); err != nil {
			return err
		}

		encoded, err := jsonRoundTrip(h)
		if err != nil {
			return err
		}

		if err := m.idemp.Upsert(ctx, tx, in.LedgerID, idemKey, in.Reference, encoded); err != nil {
			return err
		}

		result = h

		if m.hooks != nil {
			hookOp.Hold = h
			adapter.QueueAfterCommit(ctx, func(ctx context.Context) { m.hooks.After(ctx, hookOp) })
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (m *Manager) insertHold(ctx context.Context, tx adapter.Adapter, h *mmodel.Hold) error {
	metadata, err := jsonutil.Marshal(h.Metadata)
	if err != nil {
		return merrors.Wrap(merrors.Internal, "failed to encode hold metadata", err)
	}

	_, err = tx.Mutate(ctx, `INSERT INTO `+m.resolver.Table("hold")+`
		(id, ledger_id, source_account_id, destination_account_id, amount, committed_amount, currency,
		 status, reference, description, metadata, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		h.ID, h.LedgerID, h.SourceAccountID, h.DestinationAccountID, h.Amount, h.CommittedAmount, h.Currency,
		h.Status, h.Reference, h.Description, metadata, h.ExpiresAt, h.CreatedAt)
	if err != nil {
		return merrors.FromPG(err, "hold", map[string]merrors.Code{
			"hold_ledger_id_reference_key": merrors.Conflict,
		})
	}

	return nil
}

