// Package idempotency implements key+reference dedupe and TTL cleanup for
// ledger mutations.
package idempotency

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/summa-ledger/summa/pkg/adapter"
	"github.com/summa-ledger/summa/pkg/merrors"
)

// DefaultTTL is the idempotency-record lifetime when none is configured.
const DefaultTTL = 24 * time.Hour

// Service implements the dedupe algorithm. It is stateless beyond its TTL
// and table resolver; every call runs inside the caller's transaction.
type Service struct {
	resolver *adapter.TableResolver
	ttl      time.Duration
}

// New builds a Service. A zero ttl falls back to DefaultTTL.
func New(resolver *adapter.TableResolver, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Service{resolver: resolver, ttl: ttl}
}

// Check runs the dedupe lookup before any effects. If a cached result is
// found for a matching idempotency key, found=true and result carries the
// replayed payload; the caller must return it verbatim without re-running
// the operation, so a replayed call produces no new database rows.
func (s *Service) Check(
	ctx context.Context,
	tx adapter.Adapter,
	ledgerID uuid.UUID,
	idempotencyKey *string,
	reference string,
) (result map[string]any, found bool, err error) {
	if idempotencyKey != nil && *idempotencyKey != "" {
		var (
			storedReference string
			resultData      json.RawMessage
			expiresAt       time.Time
		)

		row := tx.QueryRow(ctx, `SELECT reference, result_data, expires_at FROM `+s.resolver.Table("idempotency_key")+`
			WHERE ledger_id = $1 AND key = $2`, ledgerID, *idempotencyKey)

		switch err := row.Scan(&storedReference, &resultData, &expiresAt); {
		case err == nil:
			if expiresAt.After(time.Now().UTC()) {
				if storedReference != reference {
					return nil, false, merrors.New(merrors.Conflict, "idempotency key reused for a different operation").WithEntity("idempotency_key")
				}

				var decoded map[string]any
				if err := json.Unmarshal(resultData, &decoded); err != nil {
					return nil, false, merrors.Wrap(merrors.Internal, "failed to decode cached idempotency result", err)
				}

				return decoded, true, nil
			}
			// expired: fall through to the duplicate-reference check below
		case merrors.IsNoRows(err):
			// not found: fall through
		default:
			return nil, false, merrors.FromPG(err, "idempotency_key", nil)
		}
	}

	var exists bool

	row := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM `+s.resolver.Table("transaction_record")+`
		WHERE ledger_id = $1 AND reference = $2)`, ledgerID, reference)
	if err := row.Scan(&exists); err != nil {
		return nil, false, merrors.FromPG(err, "transaction_record", nil)
	}

	if exists {
		return nil, false, merrors.New(merrors.Conflict, "duplicate reference").WithEntity("transaction")
	}

	return nil, false, nil
}

// Upsert records the idempotency result at the end of a successful
// operation.
func (s *Service) Upsert(
	ctx context.Context,
	tx adapter.Adapter,
	ledgerID uuid.UUID,
	idempotencyKey, reference string,
	result map[string]any,
) error {
	if idempotencyKey == "" {
		return nil
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return merrors.Wrap(merrors.Internal, "failed to encode idempotency result", err)
	}

	expiresAt := time.Now().UTC().Add(s.ttl)

	_, err = tx.Mutate(ctx, `INSERT INTO `+s.resolver.Table("idempotency_key")+`
		(key, ledger_id, reference, result_data, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (ledger_id, key) DO UPDATE SET
			reference = EXCLUDED.reference,
			result_data = EXCLUDED.result_data,
			expires_at = EXCLUDED.expires_at`,
		idempotencyKey, ledgerID, reference, payload, expiresAt)
	if err != nil {
		return merrors.FromPG(err, "idempotency_key", nil)
	}

	return nil
}

// CleanupExpired removes idempotency records past their TTL. It returns the
// number of rows removed.
func (s *Service) CleanupExpired(ctx context.Context, tx adapter.Adapter) (int64, error) {
	res, err := tx.Mutate(ctx, `DELETE FROM `+s.resolver.Table("idempotency_key")+` WHERE expires_at < $1`, time.Now().UTC())
	if err != nil {
		return 0, merrors.FromPG(err, "idempotency_key", nil)
	}

	return res.RowsAffected()
}
