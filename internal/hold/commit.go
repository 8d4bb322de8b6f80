package hold

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/summa-ledger/summa/common"
	"github.com/summa-ledger/summa/common/mmodel"
	"github.com/summa-ledger/summa/internal/balance"
	"github.com/summa-ledger/summa/internal/plugin"
	"github.com/summa-ledger/summa/pkg/adapter"
	"github.com/summa-ledger/summa/pkg/jsonutil"
	"github.com/summa-ledger/summa/pkg/merrors"
)

// CommitInput is the payload for Manager.Commit.
type CommitInput struct {
	LedgerID        uuid.UUID
	HoldID          uuid.UUID
	CommittedAmount *int64 // defaults to the full held amount
	Destinations    []mmodel.HoldDestination
	Reference       string
	Description     string
	IdempotencyKey  *string
	Metadata        map[string]any
}

// CommitResult bundles everything produced by a hold commit, used both as
// the return value and as the idempotency-cached payload.
type CommitResult struct {
	Transaction *mmodel.Transaction `json:"transaction"`
	Entries     []*mmodel.Entry     `json:"entries"`
	Hold        *mmodel.Hold        `json:"hold"`
}

func resolveDestinationAmounts(destinations []mmodel.HoldDestination, total int64) ([]int64, error) {
	if len(destinations) == 0 {
		return nil, merrors.New(merrors.InvalidArgument, "commitHold requires at least one destination")
	}

	var explicitSum int64

	remainderIdx := -1

	for i, d := range destinations {
		if d.AccountID == nil && d.SystemAccountID == nil {
			return nil, merrors.New(merrors.InvalidArgument, "each destination must carry an account or system account")
		}

		if d.Amount == nil {
			if remainderIdx != -1 {
				return nil, merrors.New(merrors.InvalidArgument, "at most one destination may omit its amount")
			}

			remainderIdx = i

			continue
		}

		if *d.Amount < 0 {
			return nil, merrors.New(merrors.InvalidArgument, "destination amount must be a non-negative integer")
		}

		explicitSum += *d.Amount
	}

	amounts := make([]int64, len(destinations))

	for i, d := range destinations {
		if d.Amount != nil {
			amounts[i] = *d.Amount
			continue
		}

		remainder := total - explicitSum
		if remainder <= 0 {
			return nil, merrors.New(merrors.InvalidArgument, "explicit destination amounts leave no remainder for the open destination")
		}

		amounts[i] = remainder
	}

	if remainderIdx == -1 && explicitSum != total {
		return nil, merrors.Newf(merrors.InvalidArgument, "destination amounts sum to %d, expected %d", explicitSum, total)
	}

	return amounts, nil
}

// sortDestinations orders destinations (and their resolved amounts) by
// ascending account UUID, the same deterministic global lock order every
// multi-account posting uses. The source row is locked ahead of these by
// Commit itself; without a fixed order here, two commits crediting the same
// accounts in opposite caller-supplied order could deadlock.
func sortDestinations(destinations []mmodel.HoldDestination, amounts []int64) ([]mmodel.HoldDestination, []int64) {
	idx := make([]int, len(destinations))
	for i := range idx {
		idx[i] = i
	}

	key := func(d mmodel.HoldDestination) string {
		if d.AccountID != nil {
			return d.AccountID.String()
		}

		return d.SystemAccountID.String()
	}

	sort.SliceStable(idx, func(a, b int) bool {
		return key(destinations[idx[a]]) < key(destinations[idx[b]])
	})

	sortedDests := make([]mmodel.HoldDestination, len(destinations))
	sortedAmounts := make([]int64, len(amounts))

	for i, j := range idx {
		sortedDests[i] = destinations[j]
		sortedAmounts[i] = amounts[j]
	}

	return sortedDests, sortedAmounts
}

func (m *Manager) lockHold(ctx context.Context, tx adapter.Adapter, ledgerID, holdID uuid.UUID) (*mmodel.Hold, error) {
	row := tx.QueryRow(ctx, `SELECT id, ledger_id, source_account_id, destination_account_id, amount, committed_amount,
		currency, status, reference, description, metadata, expires_at, created_at FROM `+m.resolver.Table("hold")+`
		WHERE id = $1 AND ledger_id = $2 `+tx.Dialect().ForUpdate(), holdID, ledgerID)

	h := &mmodel.Hold{}

	var metadata []byte

	err := row.Scan(&h.ID, &h.LedgerID, &h.SourceAccountID, &h.DestinationAccountID, &h.Amount, &h.CommittedAmount,
		&h.Currency, &h.Status, &h.Reference, &h.Description, &metadata, &h.ExpiresAt, &h.CreatedAt)

	switch {
	case err == nil:
	case merrors.IsNoRows(err):
		return nil, merrors.New(merrors.NotFound, "hold not found").WithEntity("hold")
	default:
		return nil, merrors.FromPG(err, "hold", nil)
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &h.Metadata); err != nil {
			return nil, merrors.Wrap(merrors.Internal, "failed to decode hold metadata", err)
		}
	}

	return h, nil
}

func (m *Manager) updateHoldStatus(ctx context.Context, tx adapter.Adapter, h *mmodel.Hold) error {
	metadata, err := jsonutil.Marshal(h.Metadata)
	if err != nil {
		return merrors.Wrap(merrors.Internal, "failed to encode hold metadata", err)
	}

	_, err = tx.Mutate(ctx, `UPDATE `+m.resolver.Table("hold")+`
		SET status = $1, committed_amount = $2, metadata = $3 WHERE id = $4 AND ledger_id = $5`,
		h.Status, h.CommittedAmount, metadata, h.ID, h.LedgerID)
	if err != nil {
		return merrors.FromPG(err, "hold", nil)
	}

	return nil
}

// Commit posts the real movement for some or all of a held amount: it fans
// the committed amount out across one or more destinations, releasing any
// uncommitted remainder back to the source account's available balance.
func (m *Manager) Commit(ctx context.Context, in CommitInput) (*CommitResult, error) {
	var result *CommitResult

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
			r, derr := decodeCommitResult(cached)
			if derr != nil {
				return derr
			}

			result = r

			return nil
		}

		h, err := m.lockHold(ctx, tx, in.LedgerID, in.HoldID)
		if err != nil {
			return err
		}

		if h.Status != mmodel.HoldInflight {
			return merrors.Newf(merrors.Conflict, "hold %s is not inflight (status=%s)", h.ID, h.Status).WithEntity("hold")
		}

		committed := h.Amount
		if in.CommittedAmount != nil {
			committed = *in.CommittedAmount
		}

		if committed <= 0 || committed > h.Amount {
			return merrors.Newf(merrors.InvalidArgument, "committed amount %d must be in (0, %d]", committed, h.Amount).WithEntity("hold")
		}

		destinations := in.Destinations
		if len(destinations) == 0 && h.DestinationAccountID != nil {
			destinations = []mmodel.HoldDestination{{AccountID: h.DestinationAccountID}}
		}

		amounts, err := resolveDestinationAmounts(destinations, committed)
		if err != nil {
			return err
		}

		destinations, amounts = sortDestinations(destinations, amounts)

		var hookOp *plugin.Operation
		if m.hooks != nil {
			hookOp = &plugin.Operation{Type: plugin.OpHoldCommit, LedgerID: in.LedgerID, Hold: h}
			if err := m.hooks.Before(ctx, hookOp); err != nil {
				return err
			}
		}

		source, err := m.balances.LockAccount(ctx, tx, in.LedgerID, h.SourceAccountID)
		if err != nil {
			return err
		}

		releaseDelta := balance.ReleaseHold(source, h.Amount)
		if _, err := m.balances.ApplyHold(ctx, tx, source, releaseDelta, "hold_release"); err != nil {
			return err
		}

		debitDelta, err := m.balances.Apply(ctx, tx, source, balance.Debit, committed)
		if err != nil {
			return err
		}

		txnID := common.GenerateUUIDv7()
		correlationID := common.GenerateUUIDv7()
		now := time.Now().UTC()

		entries := []*mmodel.Entry{{
			ID:                 common.GenerateUUIDv7(),
			LedgerID:           in.LedgerID,
			TransactionID:      txnID,
			AccountID:          &h.SourceAccountID,
			EntryType:          mmodel.EntryDebit,
			Amount:             committed,
			Currency:           h.Currency,
			BalanceBefore:      &debitDelta.BalanceBefore,
			BalanceAfter:       &debitDelta.BalanceAfter,
			AccountLockVersion: &source.LockVersion,
			CreatedAt:          now,
		}}

		for i, d := range destinations {
			entry := &mmodel.Entry{
				ID:            common.GenerateUUIDv7(),
				LedgerID:      in.LedgerID,
				TransactionID: txnID,
				Currency:      h.Currency,
				EntryType:     mmodel.EntryCredit,
				Amount:        amounts[i],
				CreatedAt:     now,
			}

			switch {
			case d.SystemAccountID != nil:
				entry.SystemAccountID = d.SystemAccountID
				entry.IsHotAccount = true

				if err := m.hot.Enqueue(ctx, tx, *d.SystemAccountID, txnID, mmodel.EntryCredit, amounts[i]); err != nil {
					return err
				}
			case d.AccountID != nil:
				entry.AccountID = d.AccountID

				acc, err := m.balances.LockAccount(ctx, tx, in.LedgerID, *d.AccountID)
				if err != nil {
					return err
				}

				delta, err := m.balances.Apply(ctx, tx, acc, balance.Credit, amounts[i])
				if err != nil {
					return err
				}

				before, after, lockVersion := delta.BalanceBefore, delta.BalanceAfter, acc.LockVersion
				entry.BalanceBefore = &before
				entry.BalanceAfter = &after
				entry.AccountLockVersion = &lockVersion
			}

			entries = append(entries, entry)
		}

		txnRow := &mmodel.Transaction{
			ID:              txnID,
			LedgerID:        in.LedgerID,
			Reference:       in.Reference,
			Type:            mmodel.TransactionTransfer,
			Status:          mmodel.TxStatusPosted,
			Amount:          committed,
			Currency:        h.Currency,
			Description:     in.Description,
			SourceAccountID: &h.SourceAccountID,
			CorrelationID:   correlationID,
			Metadata:        in.Metadata,
			CreatedAt:       now,
			PostedAt:        &now,
			EffectiveDate:   now,
		}

		if err := m.insertTransaction(ctx, tx, txnRow); err != nil {
			return err
		}

		if err := m.insertEntries(ctx, tx, entries); err != nil {
			return err
		}

		h.Status = mmodel.HoldPosted
		h.CommittedAmount = &committed

		if err := m.updateHoldStatus(ctx, tx, h); err != nil {
			return err
		}

		if _, err := m.events.Append(ctx, tx, in.LedgerID, mmodel.AggregateHold, h.ID, mmodel.EventHoldCommitted, holdCommittedEvent(committed, h.Amount), correlationID); err != nil {
			return err
		}

		r := &CommitResult{Transaction: txnRow, Entries: entries, Hold: h}

		encoded, err := encodeCommitResult(r)
		if err != nil {
			return err
		}

		if err := m.idemp.Upsert(ctx, tx, in.LedgerID, idemKey, in.Reference, encoded); err != nil {
			return err
		}

		result = r

		if m.hooks != nil {
			hookOp.Hold = h
			hookOp.Transaction = txnRow
			hookOp.Entries = entries

			adapter.QueueAfterCommit(ctx, func(ctx context.Context) { m.hooks.After(ctx, hookOp) })
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (m *Manager) insertTransaction(ctx context.Context, tx adapter.Adapter, t *mmodel.Transaction) error {
	metadata, err := jsonutil.Marshal(t.Metadata)
	if err != nil {
		return merrors.Wrap(merrors.Internal, "failed to encode transaction metadata", err)
	}

	_, err = tx.Mutate(ctx, `INSERT INTO `+m.resolver.Table("transaction_record")+`
		(id, ledger_id, reference, type, status, amount, currency, description, source_account_id,
		 destination_account_id, correlation_id, is_reversal, parent_id, metadata, created_at, posted_at, effective_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		t.ID, t.LedgerID, t.Reference, t.Type, t.Status, t.Amount, t.Currency, t.Description,
		t.SourceAccountID, t.DestinationAccountID, t.CorrelationID, t.IsReversal, t.ParentID,
		metadata, t.CreatedAt, t.PostedAt, t.EffectiveDate)
	if err != nil {
		return merrors.FromPG(err, "transaction", map[string]merrors.Code{
			"transaction_record_ledger_id_reference_key": merrors.Conflict,
		})
	}

	return nil
}

func (m *Manager) insertEntries(ctx context.Context, tx adapter.Adapter, entries []*mmodel.Entry) error {
	for _, e := range entries {
		_, err := tx.Mutate(ctx, `INSERT INTO `+m.resolver.Table("entry_record")+`
			(id, ledger_id, transaction_id, account_id, system_account_id, entry_type, amount, currency,
			 balance_before, balance_after, account_lock_version, is_hot_account, original_amount,
			 original_currency, exchange_rate, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
			e.ID, e.LedgerID, e.TransactionID, e.AccountID, e.SystemAccountID, e.EntryType, e.Amount, e.Currency,
			e.BalanceBefore, e.BalanceAfter, e.AccountLockVersion, e.IsHotAccount, e.OriginalAmount,
			e.OriginalCurrency, e.ExchangeRate, e.CreatedAt)
		if err != nil {
			return merrors.FromPG(err, "entry", nil)
		}
	}

	return nil
}
