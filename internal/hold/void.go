package hold

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/summa-ledger/summa/common"
	"github.com/summa-ledger/summa/common/mmodel"
	"github.com/summa-ledger/summa/internal/balance"
	"github.com/summa-ledger/summa/internal/plugin"
	"github.com/summa-ledger/summa/pkg/adapter"
	"github.com/summa-ledger/summa/pkg/merrors"
)

// VoidInput is the payload for Manager.Void.
type VoidInput struct {
	LedgerID uuid.UUID
	HoldID   uuid.UUID
	Reason   string
}

// Void releases a hold's full reserved amount back to the source account's
// available balance without posting any movement.
func (m *Manager) Void(ctx context.Context, in VoidInput) (*mmodel.Hold, error) {
	var result *mmodel.Hold

	err := m.db.Transaction(ctx, func(ctx context.Context, tx adapter.Adapter) error {
		h, err := m.lockHold(ctx, tx, in.LedgerID, in.HoldID)
		if err != nil {
			return err
		}

		if h.Status != mmodel.HoldInflight {
			return merrors.Newf(merrors.Conflict, "hold %s is not inflight (status=%s)", h.ID, h.Status).WithEntity("hold")
		}

		var hookOp *plugin.Operation
		if m.hooks != nil {
			hookOp = &plugin.Operation{Type: plugin.OpHoldVoid, LedgerID: in.LedgerID, Hold: h}
			if err := m.hooks.Before(ctx, hookOp); err != nil {
				return err
			}
		}

		acc, err := m.balances.LockAccount(ctx, tx, in.LedgerID, h.SourceAccountID)
		if err != nil {
			return err
		}

		delta := balance.ReleaseHold(acc, h.Amount)
		if _, err := m.balances.ApplyHold(ctx, tx, acc, delta, "hold_void"); err != nil {
			return err
		}

		h.Status = mmodel.HoldVoided

		if h.Metadata == nil {
			h.Metadata = map[string]any{}
		}

		h.Metadata["voidReason"] = in.Reason

		if err := m.updateHoldStatus(ctx, tx, h); err != nil {
			return err
		}

		if _, err := m.events.Append(ctx, tx, in.LedgerID, mmodel.AggregateHold, h.ID, mmodel.EventHoldVoided, holdVoidedEvent(in.Reason), common.GenerateUUIDv7()); err != nil {
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

// ExpireHolds releases every inflight hold whose expiry has passed,
// claiming a bounded batch per call so the worker runner (internal/worker)
// can invoke it on a fixed interval. It returns the number of holds
// expired.
func (m *Manager) ExpireHolds(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 200
	}

	type candidate struct {
		id       uuid.UUID
		ledgerID uuid.UUID
	}

	var candidates []candidate

	rows, err := m.db.Query(ctx, `SELECT id, ledger_id FROM `+m.resolver.Table("hold")+`
		WHERE status = 'inflight' AND expires_at IS NOT NULL AND expires_at < $1
		ORDER BY expires_at ASC LIMIT $2`, time.Now().UTC(), batchSize)
	if err != nil {
		return 0, merrors.FromPG(err, "hold", nil)
	}

	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.ledgerID); err != nil {
			rows.Close()
			return 0, merrors.FromPG(err, "hold", nil)
		}

		candidates = append(candidates, c)
	}

	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, merrors.FromPG(err, "hold", nil)
	}

	rows.Close()

	// One transaction per hold: a failing void rolls back only itself, and
	// row locks are released hold by hold. The candidate read above is an
	// unlocked snapshot; each transaction re-claims its hold with SKIP
	// LOCKED and re-checks status, so concurrent runners expire disjoint
	// holds and a hold committed or voided in the meantime is skipped.
	expired := 0

	var firstErr error

	for _, c := range candidates {
		err := m.db.Transaction(ctx, func(ctx context.Context, tx adapter.Adapter) error {
			row := tx.QueryRow(ctx, `SELECT id, ledger_id, source_account_id, amount, status FROM `+m.resolver.Table("hold")+`
				WHERE id = $1 AND ledger_id = $2 `+tx.Dialect().ForUpdateSkipLocked(), c.id, c.ledgerID)

			h := &mmodel.Hold{}

			switch err := row.Scan(&h.ID, &h.LedgerID, &h.SourceAccountID, &h.Amount, &h.Status); {
			case err == nil:
			case merrors.IsNoRows(err):
				return nil // claimed by another runner, or gone
			default:
				return merrors.FromPG(err, "hold", nil)
			}

			if h.Status != mmodel.HoldInflight {
				return nil
			}

			acc, err := m.balances.LockAccount(ctx, tx, c.ledgerID, h.SourceAccountID)
			if err != nil {
				return err
			}

			delta := balance.ReleaseHold(acc, h.Amount)
			if _, err := m.balances.ApplyHold(ctx, tx, acc, delta, "hold_expire"); err != nil {
				return err
			}

			h.Status = mmodel.HoldExpired

			if _, err := tx.Mutate(ctx, `UPDATE `+m.resolver.Table("hold")+`
				SET status = $1 WHERE id = $2 AND ledger_id = $3`, h.Status, h.ID, h.LedgerID); err != nil {
				return merrors.FromPG(err, "hold", nil)
			}

			if _, err := m.events.Append(ctx, tx, c.ledgerID, mmodel.AggregateHold, h.ID, mmodel.EventHoldExpired, holdExpiredEvent(time.Now().UTC()), common.GenerateUUIDv7()); err != nil {
				return err
			}

			expired++

			return nil
		})
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return expired, firstErr
}
