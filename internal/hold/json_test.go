package hold

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/summa-ledger/summa/common/mmodel"
)

func TestHoldCreatedEvent_WireShape(t *testing.T) {
	src, dst := uuid.New(), uuid.New()
	expires := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	h := &mmodel.Hold{
		SourceAccountID:      src,
		DestinationAccountID: &dst,
		Amount:               4_000,
		Reference:            "hold-r1",
		ExpiresAt:            &expires,
	}

	data := holdCreatedEvent(h)

	assert.Equal(t, src.String(), data["sourceAccountId"])
	assert.Equal(t, dst.String(), data["destinationAccountId"])
	assert.Equal(t, int64(4_000), data["amount"])
	assert.Equal(t, "hold-r1", data["reference"])
	assert.Equal(t, expires.Format(time.RFC3339Nano), data["expiresAt"])
}

func TestHoldCreatedEvent_OmitsAbsentOptionals(t *testing.T) {
	h := &mmodel.Hold{SourceAccountID: uuid.New(), Amount: 100, Reference: "r"}

	data := holdCreatedEvent(h)

	assert.NotContains(t, data, "destinationAccountId")
	assert.NotContains(t, data, "expiresAt")
}

func TestHoldCommittedEvent_WireShape(t *testing.T) {
	data := holdCommittedEvent(3_000, 4_000)

	assert.Equal(t, int64(3_000), data["committedAmount"])
	assert.Equal(t, int64(4_000), data["originalAmount"])
}

func TestHoldVoidedAndExpiredEvents_WireShape(t *testing.T) {
	assert.Equal(t, map[string]any{"reason": "customer cancelled"}, holdVoidedEvent("customer cancelled"))

	at := time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC)
	data := holdExpiredEvent(at)
	assert.Equal(t, at.Format(time.RFC3339Nano), data["expiredAt"])
}

func TestDecodeHold_RoundTripsCachedResult(t *testing.T) {
	src := uuid.New()
	h := &mmodel.Hold{
		ID:              uuid.New(),
		SourceAccountID: src,
		Amount:          4_000,
		Currency:        "USD",
		Status:          mmodel.HoldInflight,
		Reference:       "hold-r1",
	}

	encoded, err := jsonRoundTrip(h)
	require.NoError(t, err)

	decoded, err := decodeHold(encoded)
	require.NoError(t, err)

	assert.Equal(t, h.ID, decoded.ID)
	assert.Equal(t, h.SourceAccountID, decoded.SourceAccountID)
	assert.Equal(t, h.Amount, decoded.Amount)
	assert.Equal(t, h.Status, decoded.Status)
}
