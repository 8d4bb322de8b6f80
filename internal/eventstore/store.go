// Package eventstore implements the append-only, hash-chained per-aggregate
// event log.
package eventstore

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"hash/fnv"
	"time"

	"github.com/google/uuid"

	"github.com/summa-ledger/summa/common"
	"github.com/summa-ledger/summa/common/mmodel"
	"github.com/summa-ledger/summa/pkg/adapter"
	"github.com/summa-ledger/summa/pkg/merrors"
)

// Store appends events and verifies hash chains. It holds no database
// connection of its own — every call takes the caller's scoped Adapter so
// appends run inside the caller's transaction.
type Store struct {
	resolver   *adapter.TableResolver
	hmacSecret []byte
}

// New builds a Store. hmacSecret is optional; when non-empty, hashes are
// HMAC-SHA256 instead of plain SHA256 — a single secret per deployment, with
// no key-rotation support.
func New(resolver *adapter.TableResolver, hmacSecret []byte) *Store {
	return &Store{resolver: resolver, hmacSecret: hmacSecret}
}

func (s *Store) digest(prevHash *string, canonical []byte) string {
	prefix := ""
	if prevHash != nil {
		prefix = *prevHash
	}

	payload := append([]byte(prefix), canonical...)

	if len(s.hmacSecret) > 0 {
		mac := hmac.New(sha256.New, s.hmacSecret)
		mac.Write(payload)

		return hex.EncodeToString(mac.Sum(nil))
	}

	sum := sha256.Sum256(payload)

	return hex.EncodeToString(sum[:])
}

// advisoryKey hashes (ledgerID, aggregateType, aggregateID) down to a 64-bit
// signed key for pg_advisory_xact_lock.
func advisoryKey(ledgerID uuid.UUID, aggregateType mmodel.AggregateType, aggregateID uuid.UUID) int64 {
	h := fnv.New64a()
	h.Write([]byte(ledgerID.String()))
	h.Write([]byte{':'})
	h.Write([]byte(aggregateType))
	h.Write([]byte{':'})
	h.Write([]byte(aggregateID.String()))

	return int64(h.Sum64())
}

// Append writes the next event for an aggregate. tx must already be inside
// an open transaction; Append acquires the advisory lock itself.
func (s *Store) Append(
	ctx context.Context,
	tx adapter.Adapter,
	ledgerID uuid.UUID,
	aggregateType mmodel.AggregateType,
	aggregateID uuid.UUID,
	eventType mmodel.EventType,
	eventData map[string]any,
	correlationID uuid.UUID,
) (*mmodel.Event, error) {
	if !tx.InTransaction() {
		return nil, merrors.New(merrors.Internal, "Append must run inside a transaction")
	}

	if err := tx.AdvisoryLock(ctx, advisoryKey(ledgerID, aggregateType, aggregateID)); err != nil {
		return nil, err
	}

	var (
		prevVersion int64
		prevHash    *string
	)

	row := tx.QueryRow(ctx, `SELECT aggregate_version, hash FROM `+s.resolver.Table("ledger_event")+`
		WHERE ledger_id = $1 AND aggregate_type = $2 AND aggregate_id = $3
		ORDER BY aggregate_version DESC LIMIT 1`, ledgerID, aggregateType, aggregateID)

	switch err := row.Scan(&prevVersion, &prevHash); {
	case err == nil:
		// existing stream, prevVersion/prevHash populated
	case merrors.IsNoRows(err):
		prevVersion = 0
		prevHash = nil
	default:
		return nil, merrors.FromPG(err, "ledger_event", nil)
	}

	canonical, err := canonicalJSON(eventData)
	if err != nil {
		return nil, merrors.Wrap(merrors.Internal, "failed to canonicalize event data", err)
	}

	newHash := s.digest(prevHash, canonical)
	newVersion := prevVersion + 1

	id := common.GenerateUUIDv7()

	var sequenceNumber int64

	seqRow := tx.QueryRow(ctx, `INSERT INTO `+s.resolver.Table("ledger_event")+`
		(id, ledger_id, sequence_number, aggregate_type, aggregate_id, aggregate_version,
		 event_type, event_data, correlation_id, hash, prev_hash, created_at)
		VALUES ($1, $2, nextval('`+s.resolver.Table("ledger_event_seq")+`'), $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING sequence_number`,
		id, ledgerID, aggregateType, aggregateID, newVersion,
		eventType, json.RawMessage(canonical), correlationID, newHash, prevHash, time.Now().UTC())

	if err := seqRow.Scan(&sequenceNumber); err != nil {
		mapped := merrors.FromPG(err, "ledger_event", map[string]merrors.Code{
			"ledger_event_ledger_id_aggregate_type_aggregate_id_aggregate__key": merrors.ConcurrencyConflict,
		})
		if mapped.Code == merrors.Conflict {
			mapped.Code = merrors.ConcurrencyConflict
		}

		return nil, mapped
	}

	return &mmodel.Event{
		ID:               id,
		LedgerID:         ledgerID,
		SequenceNumber:   sequenceNumber,
		AggregateType:    aggregateType,
		AggregateID:      aggregateID,
		AggregateVersion: newVersion,
		EventType:        eventType,
		EventData:        eventData,
		CorrelationID:    correlationID,
		Hash:             newHash,
		PrevHash:         prevHash,
		CreatedAt:        time.Now().UTC(),
	}, nil
}

// VerifyChain recomputes the hash chain for an aggregate end to end and
// reports the first version at which the stored and recomputed hashes
// diverge.
func (s *Store) VerifyChain(
	ctx context.Context,
	tx adapter.Adapter,
	ledgerID uuid.UUID,
	aggregateType mmodel.AggregateType,
	aggregateID uuid.UUID,
) (*mmodel.ChainVerificationResult, error) {
	return s.verifyFrom(ctx, tx, ledgerID, aggregateType, aggregateID, 0, nil)
}

// VerifyFromSnapshot verifies only the events after the latest hash snapshot
// for accountID, seeding prevHash from the snapshot.
func (s *Store) VerifyFromSnapshot(
	ctx context.Context,
	tx adapter.Adapter,
	ledgerID, accountID uuid.UUID,
) (*mmodel.ChainVerificationResult, error) {
	var (
		snapVersion int64
		snapHash    string
	)

	row := tx.QueryRow(ctx, `SELECT snapshot_version, snapshot_hash FROM `+s.resolver.Table("hash_snapshot")+`
		WHERE ledger_id = $1 AND account_id = $2 ORDER BY snapshot_version DESC LIMIT 1`, ledgerID, accountID)

	switch err := row.Scan(&snapVersion, &snapHash); {
	case err == nil:
		return s.verifyFrom(ctx, tx, ledgerID, mmodel.AggregateAccount, accountID, snapVersion, &snapHash)
	case merrors.IsNoRows(err):
		return s.verifyFrom(ctx, tx, ledgerID, mmodel.AggregateAccount, accountID, 0, nil)
	default:
		return nil, merrors.FromPG(err, "hash_snapshot", nil)
	}
}

// Snapshot captures the current chain anchor for accountID as a new
// hash_snapshot row, so a later VerifyFromSnapshot only has to recompute
// events past this point. It reads the latest
// event for the account without locking — callers that need a consistent
// anchor should run Snapshot inside the same transaction as the event that
// produced the state they want to anchor.
func (s *Store) Snapshot(ctx context.Context, tx adapter.Adapter, ledgerID, accountID uuid.UUID) (*mmodel.HashSnapshot, error) {
	row := tx.QueryRow(ctx, `SELECT aggregate_version, hash FROM `+s.resolver.Table("ledger_event")+`
		WHERE ledger_id = $1 AND aggregate_type = $2 AND aggregate_id = $3
		ORDER BY aggregate_version DESC LIMIT 1`, ledgerID, mmodel.AggregateAccount, accountID)

	var (
		version int64
		hash    string
	)

	switch err := row.Scan(&version, &hash); {
	case err == nil:
	case merrors.IsNoRows(err):
		return nil, merrors.New(merrors.NotFound, "account has no events to snapshot").WithEntity("account")
	default:
		return nil, merrors.FromPG(err, "ledger_event", nil)
	}

	snap := &mmodel.HashSnapshot{
		LedgerID:        ledgerID,
		AccountID:       accountID,
		SnapshotVersion: version,
		SnapshotHash:    hash,
		EntryCount:      version,
		CreatedAt:       time.Now().UTC(),
	}

	_, err := tx.Mutate(ctx, `INSERT INTO `+s.resolver.Table("hash_snapshot")+`
		(ledger_id, account_id, snapshot_version, snapshot_hash, entry_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (ledger_id, account_id, snapshot_version) DO NOTHING`,
		snap.LedgerID, snap.AccountID, snap.SnapshotVersion, snap.SnapshotHash, snap.EntryCount, snap.CreatedAt)
	if err != nil {
		return nil, merrors.FromPG(err, "hash_snapshot", nil)
	}

	return snap, nil
}

func (s *Store) verifyFrom(
	ctx context.Context,
	tx adapter.Adapter,
	ledgerID uuid.UUID,
	aggregateType mmodel.AggregateType,
	aggregateID uuid.UUID,
	fromVersion int64,
	seedHash *string,
) (*mmodel.ChainVerificationResult, error) {
	rows, err := tx.Query(ctx, `SELECT aggregate_version, event_data, hash FROM `+s.resolver.Table("ledger_event")+`
		WHERE ledger_id = $1 AND aggregate_type = $2 AND aggregate_id = $3 AND aggregate_version > $4
		ORDER BY aggregate_version ASC`, ledgerID, aggregateType, aggregateID, fromVersion)
	if err != nil {
		return nil, merrors.FromPG(err, "ledger_event", nil)
	}
	defer rows.Close()

	prevHash := seedHash
	checked := 0

	for rows.Next() {
		var (
			version     int64
			rawData     json.RawMessage
			storedHash  string
			eventData   map[string]any
		)

		if err := rows.Scan(&version, &rawData, &storedHash); err != nil {
			return nil, merrors.FromPG(err, "ledger_event", nil)
		}

		if err := json.Unmarshal(rawData, &eventData); err != nil {
			return nil, merrors.Wrap(merrors.Internal, "failed to decode event_data", err)
		}

		canonical, err := canonicalJSON(eventData)
		if err != nil {
			return nil, merrors.Wrap(merrors.Internal, "failed to canonicalize event data", err)
		}

		recomputed := s.digest(prevHash, canonical)
		checked++

		if recomputed != storedHash {
			v := version

			return &mmodel.ChainVerificationResult{
				Valid:           false,
				EventsChecked:   checked,
				BrokenAtVersion: &v,
			}, nil
		}

		prevHash = &storedHash
	}

	if err := rows.Err(); err != nil {
		return nil, merrors.FromPG(err, "ledger_event", nil)
	}

	return &mmodel.ChainVerificationResult{Valid: true, EventsChecked: checked}, nil
}
