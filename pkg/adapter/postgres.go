package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/bxcodec/dbresolver/v2"

	"github.com/summa-ledger/summa/common/mlog"
	"github.com/summa-ledger/summa/pkg/dialect"
	"github.com/summa-ledger/summa/pkg/merrors"
)

// execer is the subset of database/sql that both dbresolver.DB (top-level)
// and *sql.Tx (scoped) satisfy, letting Postgres reuse one method set for
// both states instead of branching on every call site.
type execer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type postCommitKey struct{}

type postCommitQueue struct {
	mu        sync.Mutex
	callbacks []func(ctx context.Context)
}

func (q *postCommitQueue) drain(ctx context.Context, logger mlog.Logger) {
	q.mu.Lock()
	cbs := q.callbacks
	q.callbacks = nil
	q.mu.Unlock()

	for _, cb := range cbs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("post-commit callback panicked: %v", r)
				}
			}()

			cb(ctx)
		}()
	}
}

// Postgres is the production Adapter implementation: a pgx-backed
// database/sql pool wrapped in a dbresolver.DB for primary/replica routing.
// A root value (built by NewPostgres) wraps the top-level pool; a transaction-scoped value wraps
// an *sql.Tx and is handed
// to the caller's TxFn — any nested Transaction call on it reuses the same
// *sql.Tx instead of opening a new one.
type Postgres struct {
	pool   dbresolver.DB
	exec   execer
	tx     dbresolver.Tx
	dia    dialect.Dialect
	logger mlog.Logger
}

var _ Adapter = (*Postgres)(nil)

// NewPostgres builds a root Postgres adapter over an already-connected
// dbresolver.DB (see common/mpostgres.PostgresConnection.Connect).
func NewPostgres(pool dbresolver.DB, logger mlog.Logger) *Postgres {
	return &Postgres{pool: pool, exec: pool, dia: dialect.Postgres{}, logger: logger}
}

func (p *Postgres) Dialect() dialect.Dialect { return p.dia }
func (p *Postgres) InTransaction() bool      { return p.tx != nil }

func (p *Postgres) Query(ctx context.Context, sqlText string, args ...any) (Rows, error) {
	rows, err := p.exec.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, merrors.FromPG(err, "query", nil)
	}

	return rows, nil
}

func (p *Postgres) QueryRow(ctx context.Context, sqlText string, args ...any) Row {
	return p.exec.QueryRowContext(ctx, sqlText, args...)
}

func (p *Postgres) Mutate(ctx context.Context, sqlText string, args ...any) (Result, error) {
	res, err := p.exec.ExecContext(ctx, sqlText, args...)
	if err != nil {
		return nil, merrors.FromPG(err, "mutate", nil)
	}

	return res, nil
}

// Transaction opens a SQL transaction and hands fn a Postgres scoped to it.
// Called from inside an already-open transaction, it reuses that same
// *sql.Tx rather than nesting.
func (p *Postgres) Transaction(ctx context.Context, fn TxFn) error {
	if p.tx != nil {
		return fn(ctx, p)
	}

	tx, err := p.pool.BeginTx(ctx, nil)
	if err != nil {
		return merrors.Wrap(merrors.Internal, "failed to open transaction", err)
	}

	scoped := &Postgres{pool: p.pool, exec: tx, tx: tx, dia: p.dia, logger: p.logger}

	queue := &postCommitQueue{}
	ctx = context.WithValue(ctx, postCommitKey{}, queue)

	if err := fn(ctx, scoped); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && p.logger != nil {
			p.logger.Errorf("rollback after error failed: %v", rbErr)
		}

		return err
	}

	if err := tx.Commit(); err != nil {
		return merrors.FromPG(err, "transaction", nil)
	}

	queue.drain(ctx, p.loggerOrNone())

	return nil
}

func (p *Postgres) loggerOrNone() mlog.Logger {
	if p.logger != nil {
		return p.logger
	}

	return &mlog.NoneLogger{}
}

// AdvisoryLock acquires a transaction-scoped advisory lock
// (pg_advisory_xact_lock), released automatically on commit/rollback.
func (p *Postgres) AdvisoryLock(ctx context.Context, key int64) error {
	if p.tx == nil {
		return merrors.New(merrors.Internal, "AdvisoryLock called outside a transaction")
	}

	if _, err := p.tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", key); err != nil {
		return merrors.FromPG(err, "advisory_lock", nil)
	}

	return nil
}

// SetStatementTimeout applies statement_timeout for the remainder of the
// current transaction.
func (p *Postgres) SetStatementTimeout(ctx context.Context, ms int64) error {
	if p.tx == nil {
		return merrors.New(merrors.Internal, "SetStatementTimeout called outside a transaction")
	}

	_, err := p.tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", ms))
	if err != nil {
		return merrors.FromPG(err, "statement_timeout", nil)
	}

	return nil
}

// SetLockTimeout applies lock_timeout for the remainder of the current
// transaction.
func (p *Postgres) SetLockTimeout(ctx context.Context, ms int64) error {
	if p.tx == nil {
		return merrors.New(merrors.Internal, "SetLockTimeout called outside a transaction")
	}

	_, err := p.tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", ms))
	if err != nil {
		return merrors.FromPG(err, "lock_timeout", nil)
	}

	return nil
}
