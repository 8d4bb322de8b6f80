package adapter

import (
	"context"

	"github.com/summa-ledger/summa/pkg/dialect"
)

// Router is the read-replica router. A Postgres adapter already delegates
// SELECTs to a replica pool transparently via dbresolver's own load balancer
// (see NewPostgres), so Router's job is narrower than its name suggests: it
// is the explicit
// decision point that forces FOR-UPDATE reads, every mutation, and every
// call made from inside an open transaction back onto Primary, guaranteeing
// read-your-writes even if a future Adapter implementation's replica pool is
// not dbresolver-backed.
type Router struct {
	Primary Adapter
	Replica Adapter
}

// NewRouter wraps a primary and a (possibly nil) replica adapter. If replica
// is nil, Router always uses Primary.
func NewRouter(primary, replica Adapter) *Router {
	if replica == nil {
		replica = primary
	}

	return &Router{Primary: primary, Replica: replica}
}

var _ Adapter = (*Router)(nil)

// reader picks Replica for a standalone read, or Primary whenever we are
// already inside a transaction (so a read observes the transaction's own
// uncommitted writes).
func (r *Router) reader() Adapter {
	if r.Primary.InTransaction() {
		return r.Primary
	}

	return r.Replica
}

func (r *Router) Query(ctx context.Context, sqlText string, args ...any) (Rows, error) {
	return r.reader().Query(ctx, sqlText, args...)
}

func (r *Router) QueryRow(ctx context.Context, sqlText string, args ...any) Row {
	return r.reader().QueryRow(ctx, sqlText, args...)
}

// Mutate always runs against Primary; writes never go to a replica.
func (r *Router) Mutate(ctx context.Context, sqlText string, args ...any) (Result, error) {
	return r.Primary.Mutate(ctx, sqlText, args...)
}

// Transaction always opens on Primary.
func (r *Router) Transaction(ctx context.Context, fn TxFn) error {
	return r.Primary.Transaction(ctx, func(ctx context.Context, tx Adapter) error {
		return fn(ctx, &Router{Primary: tx, Replica: tx})
	})
}

func (r *Router) AdvisoryLock(ctx context.Context, key int64) error {
	return r.Primary.AdvisoryLock(ctx, key)
}

func (r *Router) SetStatementTimeout(ctx context.Context, ms int64) error {
	return r.Primary.SetStatementTimeout(ctx, ms)
}

func (r *Router) SetLockTimeout(ctx context.Context, ms int64) error {
	return r.Primary.SetLockTimeout(ctx, ms)
}

func (r *Router) InTransaction() bool { return r.Primary.InTransaction() }

func (r *Router) Dialect() dialect.Dialect { return r.Primary.Dialect() }
