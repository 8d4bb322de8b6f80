package txn

import (
	"context"
	"encoding/json"
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

// post runs the canonical transaction shape shared by every public
// operation: validate, idempotency check, lock accounts in deterministic
// order, apply legs, persist the header and entries, append the
// TransactionPosted event, record the idempotency result, and — after
// commit — fire the afterTransaction hooks.
func (m *Manager) post(ctx context.Context, req postRequest) (*mmodel.Transaction, []*mmodel.Entry, error) {
	var (
		resultTxn     *mmodel.Transaction
		resultEntries []*mmodel.Entry
	)

	err := m.db.Transaction(ctx, func(ctx context.Context, tx adapter.Adapter) error {
		t, entries, err := m.postIn(ctx, tx, req)
		if err != nil {
			return err
		}

		resultTxn, resultEntries = t, entries

		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return resultTxn, resultEntries, nil
}

// postIn is post's body, running inside the caller's open transaction so an
// operation like Correct can chain several postings atomically.
func (m *Manager) postIn(ctx context.Context, tx adapter.Adapter, req postRequest) (*mmodel.Transaction, []*mmodel.Entry, error) {
	if err := validateHeaderAmount(req.Amount, m.cfg.MaxTransactionAmount); err != nil {
		return nil, nil, err
	}

	if req.Reference == "" {
		return nil, nil, merrors.New(merrors.InvalidArgument, "reference is required")
	}

	if err := common.ValidateCurrency(req.Currency); err != nil {
		return nil, nil, err
	}

	if err := common.CheckMetadataKeyAndValueLength(100, req.Metadata); err != nil {
		return nil, nil, err
	}

	if len(req.Legs) == 0 {
		return nil, nil, merrors.New(merrors.InvalidArgument, "a transaction must have at least one leg")
	}

	for _, lg := range req.Legs {
		if lg.currency != "" && lg.currency != req.Currency {
			if err := common.ValidateCurrency(lg.currency); err != nil {
				return nil, nil, err
			}
		}
	}

	correlationID := common.GenerateUUIDv7()
	if req.CorrelationID != nil {
		correlationID = *req.CorrelationID
	}

	if err := tx.SetStatementTimeout(ctx, m.cfg.StatementTimeoutMs); err != nil {
		return nil, nil, err
	}

	if err := tx.SetLockTimeout(ctx, m.cfg.LockTimeoutMs); err != nil {
		return nil, nil, err
	}

	var idemKey *string
	if req.IdempotencyKey != nil && *req.IdempotencyKey != "" {
		idemKey = req.IdempotencyKey
	}

	cached, found, err := m.idemp.Check(ctx, tx, req.LedgerID, idemKey, req.Reference)
	if err != nil {
		return nil, nil, err
	}

	if found {
		return decodeResult(cached)
	}

	var hookOp *plugin.Operation

	if m.hooks != nil {
		hookOp = &plugin.Operation{Type: plugin.OpTransaction, LedgerID: req.LedgerID, CorrelationID: correlationID}
		if err := m.hooks.Before(ctx, hookOp); err != nil {
			return nil, nil, err
		}
	}

	ids := make([]uuid.UUID, 0, len(req.Legs))
	for _, lg := range req.Legs {
		if lg.accountID != nil {
			ids = append(ids, *lg.accountID)
		}
	}

	locked, err := m.lockOrdered(ctx, tx, req.LedgerID, ids, req.ForceLockFirst)
	if err != nil {
		return nil, nil, err
	}

	txnID := common.GenerateUUIDv7()
	now := time.Now().UTC()

	entries := make([]*mmodel.Entry, 0, len(req.Legs))

	for _, lg := range req.Legs {
		currency := lg.currency
		if currency == "" {
			currency = req.Currency
		}

		entry := &mmodel.Entry{
			ID:               common.GenerateUUIDv7(),
			LedgerID:         req.LedgerID,
			TransactionID:    txnID,
			Currency:         currency,
			OriginalAmount:   lg.originalAmount,
			OriginalCurrency: lg.originalCurrency,
			ExchangeRate:     lg.exchangeRate,
			CreatedAt:        now,
		}

		if lg.dir == balance.Credit {
			entry.EntryType = mmodel.EntryCredit
		} else {
			entry.EntryType = mmodel.EntryDebit
		}

		entry.Amount = lg.amount

		switch {
		case lg.systemAccountID != nil:
			entry.SystemAccountID = lg.systemAccountID
			entry.IsHotAccount = true

			if err := m.hot.Enqueue(ctx, tx, *lg.systemAccountID, txnID, entry.EntryType, lg.amount); err != nil {
				return nil, nil, err
			}
		case lg.accountID != nil:
			entry.AccountID = lg.accountID

			acc := locked[*lg.accountID]

			var (
				delta balance.Delta
				derr  error
			)

			if req.ForceOverdraft && lg.dir == balance.Debit {
				delta, derr = m.balances.ApplyForce(ctx, tx, acc, lg.amount)
			} else {
				delta, derr = m.balances.Apply(ctx, tx, acc, lg.dir, lg.amount)
			}

			if derr != nil {
				return nil, nil, derr
			}

			before, after, lockVersion := delta.BalanceBefore, delta.BalanceAfter, acc.LockVersion
			entry.BalanceBefore = &before
			entry.BalanceAfter = &after
			entry.AccountLockVersion = &lockVersion
		default:
			return nil, nil, merrors.New(merrors.InvalidArgument, "leg must carry either an account or a system account")
		}

		entries = append(entries, entry)
	}

	txnRow := &mmodel.Transaction{
		ID:                   txnID,
		LedgerID:             req.LedgerID,
		Reference:            req.Reference,
		Type:                 req.Type,
		Status:               mmodel.TxStatusPosted,
		Amount:               req.Amount,
		Currency:             req.Currency,
		Description:          req.Description,
		SourceAccountID:      req.SourceAccountID,
		DestinationAccountID: req.DestinationAccountID,
		CorrelationID:        correlationID,
		IsReversal:           req.IsReversal,
		ParentID:             req.ParentID,
		Metadata:             req.Metadata,
		CreatedAt:            now,
		PostedAt:             &now,
		EffectiveDate:        now,
	}

	if err := m.insertTransaction(ctx, tx, txnRow); err != nil {
		return nil, nil, err
	}

	if err := m.insertEntries(ctx, tx, entries); err != nil {
		return nil, nil, err
	}

	if _, err := m.events.Append(ctx, tx, req.LedgerID, mmodel.AggregateTransaction, txnID, mmodel.EventTransactionPosted, transactionPostedEvent(txnRow, entries), correlationID); err != nil {
		return nil, nil, err
	}

	encoded, err := encodeResult(txnRow, entries)
	if err != nil {
		return nil, nil, err
	}

	key := ""
	if idemKey != nil {
		key = *idemKey
	}

	if err := m.idemp.Upsert(ctx, tx, req.LedgerID, key, req.Reference, encoded); err != nil {
		return nil, nil, err
	}

	if m.hooks != nil {
		hookOp.Transaction = txnRow
		hookOp.Entries = entries

		adapter.QueueAfterCommit(ctx, func(ctx context.Context) {
			m.hooks.After(ctx, hookOp)
		})
	}

	return txnRow, entries, nil
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

// transactionPostedEvent builds the stable TransactionPosted wire payload:
// postedAt plus one record per leg with its account, direction, amount, and
// balance movement. Hot-account legs have no balance snapshot, so their
// balanceBefore/balanceAfter are null.
func transactionPostedEvent(t *mmodel.Transaction, entries []*mmodel.Entry) map[string]any {
	legs := make([]any, 0, len(entries))

	for _, e := range entries {
		accountID := ""
		if e.AccountID != nil {
			accountID = e.AccountID.String()
		} else if e.SystemAccountID != nil {
			accountID = e.SystemAccountID.String()
		}

		legRecord := map[string]any{
			"accountId":     accountID,
			"entryType":     string(e.EntryType),
			"amount":        e.Amount,
			"balanceBefore": nil,
			"balanceAfter":  nil,
		}

		if e.BalanceBefore != nil {
			legRecord["balanceBefore"] = *e.BalanceBefore
		}

		if e.BalanceAfter != nil {
			legRecord["balanceAfter"] = *e.BalanceAfter
		}

		legs = append(legs, legRecord)
	}

	return map[string]any{
		"postedAt": t.PostedAt.UTC().Format(time.RFC3339Nano),
		"entries":  legs,
	}
}

func transactionEventData(t *mmodel.Transaction, entries []*mmodel.Entry) (map[string]any, error) {
	payload, err := json.Marshal(struct {
		Transaction *mmodel.Transaction `json:"transaction"`
		Entries     []*mmodel.Entry     `json:"entries"`
	}{t, entries})
	if err != nil {
		return nil, merrors.Wrap(merrors.Internal, "failed to encode transaction event data", err)
	}

	var data map[string]any
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, merrors.Wrap(merrors.Internal, "failed to decode transaction event data", err)
	}

	return data, nil
}

// encodeResult/decodeResult round-trip a transaction+entries pair through
// JSON so a replayed idempotent call can reconstruct the original response
// without re-reading the database.
func encodeResult(t *mmodel.Transaction, entries []*mmodel.Entry) (map[string]any, error) {
	return transactionEventData(t, entries)
}

func decodeResult(data map[string]any) (*mmodel.Transaction, []*mmodel.Entry, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, nil, merrors.Wrap(merrors.Internal, "failed to re-encode cached idempotency result", err)
	}

	var decoded struct {
		Transaction *mmodel.Transaction `json:"transaction"`
		Entries     []*mmodel.Entry     `json:"entries"`
	}

	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, nil, merrors.Wrap(merrors.Internal, "failed to decode cached idempotency result", err)
	}

	return decoded.Transaction, decoded.Entries, nil
}
