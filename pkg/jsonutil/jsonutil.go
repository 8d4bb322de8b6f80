// Package jsonutil centralizes the JSON marshaling helpers the engine uses
// when writing schemaless metadata/event_data bags to jsonb columns.
package jsonutil

import "encoding/json"

// Marshal encodes v, treating a nil map as an empty JSON object rather than
// SQL NULL so jsonb columns declared NOT NULL always get a value.
func Marshal(v map[string]any) ([]byte, error) {
	if v == nil {
		v = map[string]any{}
	}

	return json.Marshal(v)
}
