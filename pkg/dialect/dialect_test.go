package dialect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPostgres_LockFragments(t *testing.T) {
	p := Postgres{}

	assert.Equal(t, "FOR UPDATE", p.ForUpdate())
	assert.Equal(t, "FOR UPDATE NOWAIT", p.ForUpdateNoWait())
	assert.Equal(t, "FOR UPDATE SKIP LOCKED", p.ForUpdateSkipLocked())
}

func TestPostgres_OnConflictDoNothing(t *testing.T) {
	p := Postgres{}

	assert.Equal(t, "ON CONFLICT DO NOTHING", p.OnConflictDoNothing())
	assert.Equal(t, "ON CONFLICT (id) DO NOTHING", p.OnConflictDoNothing("id"))
	assert.Equal(t, "ON CONFLICT (ledger_id, key) DO NOTHING", p.OnConflictDoNothing("ledger_id", "key"))
}

func TestPostgres_Returning(t *testing.T) {
	p := Postgres{}

	assert.Equal(t, "RETURNING id", p.Returning("id"))
	assert.Equal(t, "RETURNING id, created_at", p.Returning("id", "created_at"))
	assert.Equal(t, "RETURNING ", p.Returning())
}

func TestPostgres_Placeholder(t *testing.T) {
	p := Postgres{}

	assert.Equal(t, "$1", p.Placeholder(1))
	assert.Equal(t, "$12", p.Placeholder(12))
}

func TestPostgres_IntervalLiteral(t *testing.T) {
	p := Postgres{}

	assert.Equal(t, "'30000 milliseconds'::interval", p.IntervalLiteral(30_000))
}

func TestPostgres_CountAsInt(t *testing.T) {
	p := Postgres{}

	assert.Equal(t, "COUNT(*)::bigint", p.CountAsInt("COUNT(*)"))
}

func TestPostgres_NameAndNow(t *testing.T) {
	p := Postgres{}

	assert.Equal(t, "postgres", p.Name())
	assert.Equal(t, "now()", p.Now())
	assert.Equal(t, "gen_random_uuid()", p.GenerateUUID())
}
