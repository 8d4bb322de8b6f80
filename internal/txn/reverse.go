package txn

import (
	"context"

	"github.com/google/uuid"

	"github.com/summa-ledger/summa/common"
	"github.com/summa-ledger/summa/common/mmodel"
	"github.com/summa-ledger/summa/internal/balance"
	"github.com/summa-ledger/summa/pkg/adapter"
	"github.com/summa-ledger/summa/pkg/merrors"
)

// loadTransaction reads a posted transaction's header and entries outside
// any lock, used only to build the reversed leg set for Refund/Correct. The
// reversal itself re-locks every touched account inside Manager.post.
func (m *Manager) loadTransaction(ctx context.Context, ledgerID, id uuid.UUID) (*mmodel.Transaction, []*mmodel.Entry, error) {
	row := m.db.QueryRow(ctx, `SELECT id, ledger_id, reference, type, status, amount, currency, description,
		source_account_id, destination_account_id, correlation_id, is_reversal, parent_id, created_at, posted_at, effective_date
		FROM `+m.resolver.Table("transaction_record")+` WHERE id = $1 AND ledger_id = $2`, id, ledgerID)

	t := &mmodel.Transaction{}

	err := row.Scan(&t.ID, &t.LedgerID, &t.Reference, &t.Type, &t.Status, &t.Amount, &t.Currency, &t.Description,
		&t.SourceAccountID, &t.DestinationAccountID, &t.CorrelationID, &t.IsReversal, &t.ParentID,
		&t.CreatedAt, &t.PostedAt, &t.EffectiveDate)

	switch {
	case err == nil:
	case merrors.IsNoRows(err):
		return nil, nil, merrors.New(merrors.NotFound, "transaction not found").WithEntity("transaction")
	default:
		return nil, nil, merrors.FromPG(err, "transaction", nil)
	}

	if t.Status != mmodel.TxStatusPosted {
		return nil, nil, merrors.Newf(merrors.InvalidArgument, "transaction %s is not in posted status (status=%s)", t.ID, t.Status).WithEntity("transaction")
	}

	rows, err := m.db.Query(ctx, `SELECT account_id, system_account_id, entry_type, amount, currency
		FROM `+m.resolver.Table("entry_record")+` WHERE transaction_id = $1 ORDER BY created_at ASC`, id)
	if err != nil {
		return nil, nil, merrors.FromPG(err, "entry", nil)
	}
	defer rows.Close()

	var entries []*mmodel.Entry

	for rows.Next() {
		e := &mmodel.Entry{}
		if err := rows.Scan(&e.AccountID, &e.SystemAccountID, &e.EntryType, &e.Amount, &e.Currency); err != nil {
			return nil, nil, merrors.FromPG(err, "entry", nil)
		}

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, nil, merrors.FromPG(err, "entry", nil)
	}

	return t, entries, nil
}

func reversedLegs(entries []*mmodel.Entry) []leg {
	legs := make([]leg, 0, len(entries))

	for _, e := range entries {
		dir := balance.Debit
		if e.EntryType == mmodel.EntryDebit {
			dir = balance.Credit
		}

		legs = append(legs, leg{
			accountID:       e.AccountID,
			systemAccountID: e.SystemAccountID,
			dir:             dir,
			amount:          e.Amount,
			currency:        e.Currency,
		})
	}

	return legs
}

func (m *Manager) reverse(ctx context.Context, txType mmodel.TransactionType, ledgerID, originalID uuid.UUID, reference, description string, idempotencyKey *string, metadata map[string]any) (*mmodel.Transaction, []*mmodel.Entry, error) {
	original, entries, err := m.loadTransaction(ctx, ledgerID, originalID)
	if err != nil {
		return nil, nil, err
	}

	return m.post(ctx, postRequest{
		LedgerID:       ledgerID,
		Type:           txType,
		Reference:      reference,
		IdempotencyKey: idempotencyKey,
		Amount:         original.Amount,
		Currency:       original.Currency,
		Description:    description,
		ParentID:       &original.ID,
		IsReversal:     true,
		Metadata:       metadata,
		Legs:           reversedLegs(entries),
	})
}

// Refund fully reverses a previously posted transaction, inverting every
// leg's direction and posting it as a new, linked transaction — the
// original row is never mutated.
func (m *Manager) Refund(ctx context.Context, in RefundInput) (*mmodel.Transaction, []*mmodel.Entry, error) {
	return m.reverse(ctx, mmodel.TransactionRefund, in.LedgerID, in.OriginalTransactionID, in.Reference, in.Description, in.IdempotencyKey, in.Metadata)
}

// Correct records an immutable correction: the original transaction is
// fully reversed and then re-posted at the corrected amounts, both legs of
// the fix committing atomically and sharing one correlation id. The
// reversal takes the caller's reference with a "-reversal" suffix; the
// corrected re-post carries the reference itself and the idempotency key,
// so a replayed call returns the corrected transaction.
func (m *Manager) Correct(ctx context.Context, in CorrectInput) (*mmodel.Transaction, []*mmodel.Entry, error) {
	original, originalEntries, err := m.loadTransaction(ctx, in.LedgerID, in.OriginalTransactionID)
	if err != nil {
		return nil, nil, err
	}

	var (
		correctedLegs   []leg
		correctedAmount int64
	)

	switch {
	case len(in.CorrectedLegs) > 0:
		correctedLegs, correctedAmount, err = m.buildJournalLegs(ctx, in.CorrectedLegs, original.Currency)
		if err != nil {
			return nil, nil, err
		}
	case in.CorrectedAmount > 0:
		for _, e := range originalEntries {
			if e.Amount != original.Amount {
				return nil, nil, merrors.New(merrors.InvalidArgument, "original legs do not all carry the header amount; supply CorrectedLegs instead of CorrectedAmount")
			}
		}

		correctedAmount = in.CorrectedAmount

		for _, e := range originalEntries {
			dir := balance.Credit
			if e.EntryType == mmodel.EntryDebit {
				dir = balance.Debit
			}

			correctedLegs = append(correctedLegs, leg{
				accountID:       e.AccountID,
				systemAccountID: e.SystemAccountID,
				dir:             dir,
				amount:          in.CorrectedAmount,
				currency:        e.Currency,
			})
		}
	default:
		return nil, nil, merrors.New(merrors.InvalidArgument, "a correction requires CorrectedAmount or CorrectedLegs")
	}

	correlationID := common.GenerateUUIDv7()

	reversalReq := postRequest{
		LedgerID:      in.LedgerID,
		Type:          mmodel.TransactionCorrection,
		Reference:     in.Reference + "-reversal",
		Amount:        original.Amount,
		Currency:      original.Currency,
		Description:   in.Description,
		ParentID:      &original.ID,
		IsReversal:    true,
		Legs:          reversedLegs(originalEntries),
		CorrelationID: &correlationID,
	}

	correctedReq := postRequest{
		LedgerID:             in.LedgerID,
		Type:                 mmodel.TransactionCorrection,
		Reference:            in.Reference,
		IdempotencyKey:       in.IdempotencyKey,
		Amount:               correctedAmount,
		Currency:             original.Currency,
		Description:          in.Description,
		SourceAccountID:      original.SourceAccountID,
		DestinationAccountID: original.DestinationAccountID,
		ParentID:             &original.ID,
		Metadata:             in.Metadata,
		Legs:                 correctedLegs,
		CorrelationID:        &correlationID,
	}

	var (
		resultTxn     *mmodel.Transaction
		resultEntries []*mmodel.Entry
	)

	err = m.db.Transaction(ctx, func(ctx context.Context, tx adapter.Adapter) error {
		// Replay check on the correction reference up front: a retried call
		// must short-circuit here rather than trip over its own already
		// posted "-reversal" reference.
		cached, found, err := m.idemp.Check(ctx, tx, in.LedgerID, in.IdempotencyKey, in.Reference)
		if err != nil {
			return err
		}

		if found {
			t, entries, derr := decodeResult(cached)
			if derr != nil {
				return derr
			}

			resultTxn, resultEntries = t, entries

			return nil
		}

		if _, _, err := m.postIn(ctx, tx, reversalReq); err != nil {
			return err
		}

		t, entries, err := m.postIn(ctx, tx, correctedReq)
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

// Adjust posts an administrative balance adjustment against a suspense
// account. A positive Amount credits AccountID; a negative Amount
// force-debits it, bypassing the overdraft policy since adjustments are
// operator-authorized out-of-band.
func (m *Manager) Adjust(ctx context.Context, in AdjustInput) (*mmodel.Transaction, []*mmodel.Entry, error) {
	if in.Amount == 0 {
		return nil, nil, merrors.New(merrors.InvalidArgument, "adjustment amount must not be zero")
	}

	magnitude := in.Amount
	forceOverdraft := false

	var legs []leg

	if in.Amount > 0 {
		legs = []leg{
			{accountID: &in.SuspenseAccount, dir: balance.Debit, amount: magnitude, currency: in.Currency},
			{accountID: &in.AccountID, dir: balance.Credit, amount: magnitude, currency: in.Currency},
		}
	} else {
		magnitude = -magnitude
		forceOverdraft = true
		legs = []leg{
			{accountID: &in.AccountID, dir: balance.Debit, amount: magnitude, currency: in.Currency},
			{accountID: &in.SuspenseAccount, dir: balance.Credit, amount: magnitude, currency: in.Currency},
		}
	}

	metadata := in.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	metadata["adjustmentType"] = string(in.AdjustmentType)

	return m.post(ctx, postRequest{
		LedgerID:        in.LedgerID,
		Type:            mmodel.TransactionAdjustment,
		Reference:       in.Reference,
		IdempotencyKey:  in.IdempotencyKey,
		Amount:          magnitude,
		Currency:        in.Currency,
		Description:     in.Description,
		SourceAccountID: &in.AccountID,
		Metadata:        metadata,
		ForceOverdraft:  forceOverdraft,
		Legs:            legs,
	})
}
