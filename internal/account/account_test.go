package account

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapToJSON_NilBecomesEmptyObject(t *testing.T) {
	assert.JSONEq(t, "{}", string(mapToJSON(nil)))
}

func TestMapToJSON_RoundTrips(t *testing.T) {
	in := map[string]any{"department": "payroll", "priority": float64(1)}

	out := mapToJSON(in)

	var decoded map[string]any
	err := json.Unmarshal(out, &decoded)
	assert.NoError(t, err)
	assert.Equal(t, in, decoded)
}
