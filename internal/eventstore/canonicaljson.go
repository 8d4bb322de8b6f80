package eventstore

import (
	"encoding/json"

	"github.com/gowebpki/jcs"
)

// canonicalJSON serializes v through RFC 8785 JSON Canonicalization (JCS) so
// hashing is stable across language runtimes and independent of Go map
// iteration order.
func canonicalJSON(v map[string]any) ([]byte, error) {
	if v == nil {
		v = map[string]any{}
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	canon, err := jcs.Transform(raw)
	if err != nil {
		return nil, err
	}

	return canon, nil
}
