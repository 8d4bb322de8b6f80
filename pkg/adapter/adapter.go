// Package adapter is the engine's sole I/O boundary: connection pooling,
// transaction scoping, advisory locks, and dialect-aware SQL execution.
// Every other package in the engine depends on the Adapter interface, never
// on database/sql or pgx directly.
package adapter

import (
	"context"

	"github.com/summa-ledger/summa/pkg/dialect"
)

// Rows is the minimal cursor surface the engine needs from a query result.
// It is satisfied by *sql.Rows; callers Scan into destinations and Close
// when done (mirroring database/sql so no translation layer is needed).
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// Row is the single-row counterpart of Rows, satisfied by *sql.Row. A
// missing row surfaces as sql.ErrNoRows from Scan, same as database/sql.
type Row interface {
	Scan(dest ...any) error
}

// Result mirrors database/sql.Result for mutate calls.
type Result interface {
	RowsAffected() (int64, error)
}

// TxFn is the body executed inside an Adapter transaction. Returning an
// error rolls back; returning nil commits. Adapter passed to fn is scoped to
// the open transaction — nested Transaction calls reuse it rather than
// opening a new one.
type TxFn func(ctx context.Context, tx Adapter) error

// Adapter is the engine's database contract. A conforming implementation may
// run reads against a replica pool when not already inside a transaction
// (see Router in router.go); every write, every FOR UPDATE, and every call
// made from inside an open transaction must go to the primary so callers
// always read their own writes.
type Adapter interface {
	// Query runs a SELECT and returns a cursor.
	Query(ctx context.Context, sqlText string, args ...any) (Rows, error)

	// QueryRow runs a SELECT expected to return at most one row.
	QueryRow(ctx context.Context, sqlText string, args ...any) Row

	// Mutate runs an INSERT/UPDATE/DELETE and returns the affected-row count.
	Mutate(ctx context.Context, sqlText string, args ...any) (Result, error)

	// Transaction opens a transaction, invokes fn with a scoped Adapter, and
	// commits on success or rolls back on error. A Transaction call made
	// from inside an already-open transaction is a no-op wrapper: it reuses
	// the caller's transaction rather than nesting.
	Transaction(ctx context.Context, fn TxFn) error

	// AdvisoryLock takes a transaction-scoped PostgreSQL advisory lock
	// (pg_advisory_xact_lock), released automatically on commit/rollback.
	// Must be called from inside a Transaction; calling it outside one is a
	// programmer error and returns INTERNAL.
	AdvisoryLock(ctx context.Context, key int64) error

	// SetStatementTimeout applies statement_timeout for the remainder of the
	// current transaction.
	SetStatementTimeout(ctx context.Context, ms int64) error

	// SetLockTimeout applies lock_timeout for the remainder of the current
	// transaction.
	SetLockTimeout(ctx context.Context, ms int64) error

	// InTransaction reports whether this Adapter value is already scoped to
	// an open transaction.
	InTransaction() bool

	// Dialect returns the SQL dialect this adapter was constructed with.
	Dialect() dialect.Dialect
}

// QueueAfterCommit registers cb to run after the current transaction commits
// successfully. Callbacks run sequentially
// in registration order once the surrounding Transaction call's commit
// succeeds; a callback that panics is recovered and logged, and never rolls
// back the already-committed transaction. Calling it outside a transaction
// runs cb immediately, since there is nothing to wait on.
func QueueAfterCommit(ctx context.Context, cb func(ctx context.Context)) {
	if q, ok := ctx.Value(postCommitKey{}).(*postCommitQueue); ok && q != nil {
		q.mu.Lock()
		q.callbacks = append(q.callbacks, cb)
		q.mu.Unlock()

		return
	}

	cb(ctx)
}
