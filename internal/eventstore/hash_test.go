package eventstore

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/summa-ledger/summa/common/mmodel"
)

func TestCanonicalJSON_KeyOrderIndependent(t *testing.T) {
	a, err := canonicalJSON(map[string]any{"b": 1, "a": 2, "c": 3})
	require.NoError(t, err)

	b, err := canonicalJSON(map[string]any{"c": 3, "a": 2, "b": 1})
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestCanonicalJSON_NilMapIsEmptyObject(t *testing.T) {
	out, err := canonicalJSON(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(out))
}

func TestStore_Digest_Deterministic(t *testing.T) {
	s := New(nil, nil)

	payload, err := canonicalJSON(map[string]any{"amount": int64(100)})
	require.NoError(t, err)

	h1 := s.digest(nil, payload)
	h2 := s.digest(nil, payload)
	assert.Equal(t, h1, h2)
}

func TestStore_Digest_ChainsPrevHash(t *testing.T) {
	s := New(nil, nil)

	payload1, err := canonicalJSON(map[string]any{"amount": int64(100)})
	require.NoError(t, err)
	h1 := s.digest(nil, payload1)

	payload2, err := canonicalJSON(map[string]any{"amount": int64(200)})
	require.NoError(t, err)

	h2WithPrev := s.digest(&h1, payload2)
	h2WithoutPrev := s.digest(nil, payload2)

	assert.NotEqual(t, h2WithPrev, h2WithoutPrev, "hash must depend on prev_hash")
}

func TestStore_Digest_HMACDiffersFromPlain(t *testing.T) {
	plain := New(nil, nil)
	keyed := New(nil, []byte("top-secret"))

	payload, err := canonicalJSON(map[string]any{"x": 1})
	require.NoError(t, err)

	plainHash := plain.digest(nil, payload)
	keyedHash := keyed.digest(nil, payload)

	assert.NotEqual(t, plainHash, keyedHash)
}

func TestStore_Digest_TamperedPayloadBreaksChain(t *testing.T) {
	s := New(nil, nil)

	original, err := canonicalJSON(map[string]any{"amount": int64(100)})
	require.NoError(t, err)

	tampered, err := canonicalJSON(map[string]any{"amount": int64(999)})
	require.NoError(t, err)

	assert.NotEqual(t, s.digest(nil, original), s.digest(nil, tampered))
}

func TestAdvisoryKey_StableForSameInputs(t *testing.T) {
	ledgerID := uuid.New()
	accountID := uuid.New()

	k1 := advisoryKey(ledgerID, mmodel.AggregateAccount, accountID)
	k2 := advisoryKey(ledgerID, mmodel.AggregateAccount, accountID)

	assert.Equal(t, k1, k2)
}

func TestAdvisoryKey_DiffersAcrossAggregates(t *testing.T) {
	ledgerID := uuid.New()
	accountID := uuid.New()

	accKey := advisoryKey(ledgerID, mmodel.AggregateAccount, accountID)
	txnKey := advisoryKey(ledgerID, mmodel.AggregateTransaction, accountID)

	assert.NotEqual(t, accKey, txnKey)
}

func TestAdvisoryKey_DiffersAcrossLedgers(t *testing.T) {
	accountID := uuid.New()

	k1 := advisoryKey(uuid.New(), mmodel.AggregateAccount, accountID)
	k2 := advisoryKey(uuid.New(), mmodel.AggregateAccount, accountID)

	assert.NotEqual(t, k1, k2)
}
