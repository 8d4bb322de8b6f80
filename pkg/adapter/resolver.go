package adapter

import "strings"

// TableResolver prefixes every table name with the configured schema. The
// default schema is "summa"; "public" (or an empty string) skips the prefix
// so the engine can run unprefixed in a dedicated database.
type TableResolver struct {
	schema string
}

// NewTableResolver builds a resolver for the given schema name.
func NewTableResolver(schema string) *TableResolver {
	return &TableResolver{schema: strings.TrimSpace(schema)}
}

// Table returns name prefixed with the resolver's schema, e.g.
// "summa.account_balance" or just "account_balance" under "public".
func (r *TableResolver) Table(name string) string {
	if r == nil || r.schema == "" || r.schema == "public" {
		return name
	}

	return r.schema + "." + name
}
