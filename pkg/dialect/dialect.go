// Package dialect supplies the small set of SQL fragments that vary across
// database engines, so the adapter and the engine packages built on top of
// it never hand-write engine-specific SQL inline.
package dialect

import "fmt"

// Dialect supplies the SQL fragments the engine needs to stay portable across
// database engines. Only Postgres is wired into the core engine, since it
// relies on advisory locks and FOR UPDATE SKIP LOCKED for hot-account
// contention; MySQL and SQLite dialects are out of scope here.
type Dialect interface {
	// Name identifies the dialect, e.g. "postgres".
	Name() string

	// Now returns the SQL fragment for the current transaction timestamp.
	Now() string

	// GenerateUUID returns the SQL fragment that generates a random UUID
	// server-side, or "" if the dialect has no native generator and the
	// caller must supply one as a bound parameter.
	GenerateUUID() string

	// ForUpdate returns the row-locking clause for a blocking lock.
	ForUpdate() string

	// ForUpdateNoWait returns the row-locking clause that fails fast instead
	// of blocking, used by the balance manager's "nowait" lock mode.
	ForUpdateNoWait() string

	// ForUpdateSkipLocked returns the row-locking clause used by the
	// hot-account batch consumer and competing worker leases.
	ForUpdateSkipLocked() string

	// OnConflictDoNothing returns the upsert-noop clause for the given
	// conflict target columns.
	OnConflictDoNothing(conflictCols ...string) string

	// Returning returns the RETURNING clause for the given columns.
	Returning(cols ...string) string

	// Placeholder returns the bound-parameter placeholder for position n
	// (1-indexed), e.g. "$1" for Postgres or "?" for MySQL/SQLite.
	Placeholder(n int) string

	// IntervalLiteral returns a SQL interval literal for the given number of
	// milliseconds, e.g. "'30000 milliseconds'::interval".
	IntervalLiteral(ms int64) string

	// CountAsInt casts an aggregate COUNT(*) result to a plain integer type,
	// since some drivers return COUNT as a different width.
	CountAsInt(expr string) string
}

// Postgres is the sole production Dialect implementation.
type Postgres struct{}

var _ Dialect = Postgres{}

func (Postgres) Name() string         { return "postgres" }
func (Postgres) Now() string          { return "now()" }
func (Postgres) GenerateUUID() string { return "gen_random_uuid()" }
func (Postgres) ForUpdate() string    { return "FOR UPDATE" }
func (Postgres) ForUpdateNoWait() string      { return "FOR UPDATE NOWAIT" }
func (Postgres) ForUpdateSkipLocked() string  { return "FOR UPDATE SKIP LOCKED" }

func (Postgres) OnConflictDoNothing(conflictCols ...string) string {
	if len(conflictCols) == 0 {
		return "ON CONFLICT DO NOTHING"
	}

	cols := ""
	for i, c := range conflictCols {
		if i > 0 {
			cols += ", "
		}
		cols += c
	}

	return fmt.Sprintf("ON CONFLICT (%s) DO NOTHING", cols)
}

func (Postgres) Returning(cols ...string) string {
	out := "RETURNING "
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c
	}

	return out
}

func (Postgres) Placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func (Postgres) IntervalLiteral(ms int64) string {
	return fmt.Sprintf("'%d milliseconds'::interval", ms)
}

func (Postgres) CountAsInt(expr string) string {
	return fmt.Sprintf("%s::bigint", expr)
}
