package merrors

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// IsNoRows reports whether err is database/sql's no-rows sentinel, letting
// callers distinguish "stream has no prior event" from a real query failure
// without importing database/sql themselves.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// Postgres SQLSTATE codes relevant to the engine's concurrency model.
const (
	sqlstateUniqueViolation     = "23505"
	sqlstateForeignKeyViolation = "23503"
	sqlstateCheckViolation      = "23514"
	sqlstateLockNotAvailable    = "55P03"
	sqlstateQueryCanceled       = "57014"
	sqlstateSerializationFail   = "40001"
	sqlstateDeadlockDetected    = "40P01"
)

// FromPG classifies a raw database error into the engine's tagged error
// type. entity names the aggregate the caller was operating on, constraint
// maps a specific unique/check constraint name to a code (e.g.
// "idempotency_key_pkey" -> Conflict); unmatched constraints fall back to a
// generic classification by SQLSTATE.
func FromPG(err error, entity string, constraint map[string]Code) *Error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(LockTimeout, "statement timed out", err).WithEntity(entity)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return Wrap(Internal, "unexpected database error", err).WithEntity(entity)
	}

	if code, ok := constraint[pgErr.ConstraintName]; ok {
		return Wrap(code, pgErr.ConstraintName, err).WithEntity(entity)
	}

	switch pgErr.Code {
	case sqlstateUniqueViolation:
		return Wrap(Conflict, pgErr.ConstraintName, err).WithEntity(entity)
	case sqlstateForeignKeyViolation, sqlstateCheckViolation:
		return Wrap(InvalidArgument, pgErr.ConstraintName, err).WithEntity(entity)
	case sqlstateLockNotAvailable, sqlstateQueryCanceled:
		return Wrap(LockTimeout, "lock wait exceeded", err).WithEntity(entity)
	case sqlstateSerializationFail, sqlstateDeadlockDetected:
		return Wrap(ConcurrencyConflict, "transaction could not serialize", err).WithEntity(entity)
	default:
		return Wrap(Internal, pgErr.Message, err).WithEntity(entity)
	}
}
