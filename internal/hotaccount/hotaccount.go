// Package hotaccount implements the deferred batch-posting pipeline for
// high-velocity system accounts: legs land in hot_account_entry without
// locking the account row, and a periodic worker aggregates them into
// system_account_version so the account's balance never becomes a point of
// write contention.
package hotaccount

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/summa-ledger/summa/common"
	"github.com/summa-ledger/summa/common/mmodel"
	"github.com/summa-ledger/summa/pkg/adapter"
	"github.com/summa-ledger/summa/pkg/merrors"
)

// DefaultBatchSize bounds a single processing cycle's FOR UPDATE SKIP LOCKED
// claim.
const DefaultBatchSize = 500

// Pipeline absorbs per-leg system-account writes into hot_account_entry and
// periodically aggregates them into system_account_version rows.
type Pipeline struct {
	resolver  *adapter.TableResolver
	batchSize int
}

// New builds a Pipeline. A batchSize <= 0 falls back to DefaultBatchSize.
func New(resolver *adapter.TableResolver, batchSize int) *Pipeline {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return &Pipeline{resolver: resolver, batchSize: batchSize}
}

// Enqueue records one leg against a system account without locking its row.
// amount is the entry's unsigned magnitude; Enqueue derives the signed delta
// from entryType.
func (p *Pipeline) Enqueue(ctx context.Context, tx adapter.Adapter, systemAccountID, transactionID uuid.UUID, entryType mmodel.EntryType, amount int64) error {
	signed := amount
	if entryType == mmodel.EntryDebit {
		signed = -amount
	}

	_, err := tx.Mutate(ctx, `INSERT INTO `+p.resolver.Table("hot_account_entry")+`
		(id, sequence_number, account_id, amount, entry_type, transaction_id, status, created_at)
		VALUES ($1, nextval('`+p.resolver.Table("hot_account_entry_seq")+`'), $2, $3, $4, $5, 'pending', $6)`,
		common.GenerateUUIDv7(), systemAccountID, signed, entryType, transactionID, time.Now().UTC())
	if err != nil {
		return merrors.FromPG(err, "hot_account_entry", nil)
	}

	return nil
}

// batchGroup is the per-account aggregate computed from one cycle's claimed
// pending entries.
type batchGroup struct {
	accountID    uuid.UUID
	netDelta     int64
	creditDelta  int64
	debitDelta   int64
	entryIDs     []uuid.UUID
}

// ProcessBatch runs one aggregation cycle inside a single transaction. It
// returns the number of hot_account_entry rows advanced to processed. On any
// failure the whole transaction rolls back and entries stay pending for the
// next cycle.
func (p *Pipeline) ProcessBatch(ctx context.Context, tx adapter.Adapter) (int, error) {
	rows, err := tx.Query(ctx, `SELECT id, account_id, amount, entry_type FROM `+p.resolver.Table("hot_account_entry")+`
		WHERE status = 'pending' ORDER BY sequence_number LIMIT $1 `+tx.Dialect().ForUpdateSkipLocked(), p.batchSize)
	if err != nil {
		return 0, merrors.FromPG(err, "hot_account_entry", nil)
	}

	groups := map[uuid.UUID]*batchGroup{}

	for rows.Next() {
		var (
			id        uuid.UUID
			accountID uuid.UUID
			amount    int64
			entryType mmodel.EntryType
		)

		if err := rows.Scan(&id, &accountID, &amount, &entryType); err != nil {
			rows.Close()
			return 0, merrors.FromPG(err, "hot_account_entry", nil)
		}

		g, ok := groups[accountID]
		if !ok {
			g = &batchGroup{accountID: accountID}
			groups[accountID] = g
		}

		g.netDelta += amount
		g.entryIDs = append(g.entryIDs, id)

		if entryType == mmodel.EntryCredit {
			g.creditDelta += amount
		} else {
			g.debitDelta += -amount
		}
	}

	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, merrors.FromPG(err, "hot_account_entry", nil)
	}

	rows.Close()

	processed := 0

	for _, g := range groups {
		if err := p.applyGroup(ctx, tx, g); err != nil {
			return 0, err
		}

		processed += len(g.entryIDs)
	}

	return processed, nil
}

func (p *Pipeline) applyGroup(ctx context.Context, tx adapter.Adapter, g *batchGroup) error {
	row := tx.QueryRow(ctx, `SELECT version, balance, credit_balance, debit_balance FROM `+p.resolver.Table("system_account_version")+`
		WHERE system_account_id = $1 ORDER BY version DESC LIMIT 1 `+tx.Dialect().ForUpdate(), g.accountID)

	var (
		prevVersion int64
		prevBalance, prevCredit, prevDebit int64
	)

	if err := row.Scan(&prevVersion, &prevBalance, &prevCredit, &prevDebit); err != nil {
		return merrors.FromPG(err, "system_account_version", nil)
	}

	newVersion := prevVersion + 1

	_, err := tx.Mutate(ctx, `INSERT INTO `+p.resolver.Table("system_account_version")+`
		(id, system_account_id, version, balance, credit_balance, debit_balance, change_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'batch_aggregate', $7)`,
		common.GenerateUUIDv7(), g.accountID, newVersion, prevBalance+g.netDelta,
		prevCredit+g.creditDelta, prevDebit+g.debitDelta, time.Now().UTC())
	if err != nil {
		return merrors.FromPG(err, "system_account_version", nil)
	}

	ids := make([]string, len(g.entryIDs))
	for i, id := range g.entryIDs {
		ids[i] = id.String()
	}

	_, err = tx.Mutate(ctx, `UPDATE `+p.resolver.Table("hot_account_entry")+`
		SET status = 'processed', processed_at = $1 WHERE id = ANY($2::uuid[])`,
		time.Now().UTC(), pq.Array(ids))
	if err != nil {
		return merrors.FromPG(err, "hot_account_entry", nil)
	}

	return nil
}

// CleanupProcessed deletes processed entries older than retention.
func (p *Pipeline) CleanupProcessed(ctx context.Context, tx adapter.Adapter, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)

	res, err := tx.Mutate(ctx, `DELETE FROM `+p.resolver.Table("hot_account_entry")+`
		WHERE status = 'processed' AND processed_at < $1`, cutoff)
	if err != nil {
		return 0, merrors.FromPG(err, "hot_account_entry", nil)
	}

	return res.RowsAffected()
}

// DefaultMaxAttempts bounds how many failed aggregation cycles a system
// account's pending entries tolerate before Quarantine moves them to the
// dead-letter table.
const DefaultMaxAttempts = 10

// IncrementAttempts bumps the attempt counter for every pending entry
// belonging to accountID, for use after a ProcessBatch cycle rolled back for
// reasons attributable to that account (e.g. a missing
// system_account_version row), so that Quarantine can later move a poisoned
// account's entries aside. None of the engine's registered workers calls
// IncrementAttempts or Quarantine.
func (p *Pipeline) IncrementAttempts(ctx context.Context, tx adapter.Adapter, accountID uuid.UUID) error {
	_, err := tx.Mutate(ctx, `UPDATE `+p.resolver.Table("hot_account_entry")+`
		SET attempts = attempts + 1 WHERE account_id = $1 AND status = 'pending'`, accountID)
	if err != nil {
		return merrors.FromPG(err, "hot_account_entry", nil)
	}

	return nil
}

// Quarantine moves pending entries whose attempts have reached maxAttempts
// into hot_account_failed_sequence, unblocking the rest of the batch from a
// single stuck account. It returns the number of entries quarantined.
func (p *Pipeline) Quarantine(ctx context.Context, tx adapter.Adapter, maxAttempts int, reason string) (int64, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	res, err := tx.Mutate(ctx, `INSERT INTO `+p.resolver.Table("hot_account_failed_sequence")+`
		(id, original_id, sequence_number, account_id, amount, entry_type, transaction_id, attempts, reason, failed_at)
		SELECT `+tx.Dialect().GenerateUUID()+`, id, sequence_number, account_id, amount, entry_type, transaction_id, attempts, $2, $3
		FROM `+p.resolver.Table("hot_account_entry")+`
		WHERE status = 'pending' AND attempts >= $1`, maxAttempts, reason, time.Now().UTC())
	if err != nil {
		return 0, merrors.FromPG(err, "hot_account_failed_sequence", nil)
	}

	moved, err := res.RowsAffected()
	if err != nil {
		return 0, merrors.Wrap(merrors.Internal, "failed to read rows affected", err)
	}

	if moved == 0 {
		return 0, nil
	}

	if _, err := tx.Mutate(ctx, `DELETE FROM `+p.resolver.Table("hot_account_entry")+`
		WHERE status = 'pending' AND attempts >= $1`, maxAttempts); err != nil {
		return 0, merrors.FromPG(err, "hot_account_entry", nil)
	}

	return moved, nil
}

// PendingSum returns the sum of pending hot-entry amounts for accountID,
// used by the global zero-sum check.
func (p *Pipeline) PendingSum(ctx context.Context, tx adapter.Adapter, accountID uuid.UUID) (int64, error) {
	row := tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM `+p.resolver.Table("hot_account_entry")+`
		WHERE account_id = $1 AND status = 'pending'`, accountID)

	var sum int64
	if err := row.Scan(&sum); err != nil {
		return 0, merrors.FromPG(err, "hot_account_entry", nil)
	}

	return sum, nil
}
