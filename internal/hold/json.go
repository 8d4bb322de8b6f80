package hold

import (
	"encoding/json"
	"time"

	"github.com/summa-ledger/summa/common/mmodel"
	"github.com/summa-ledger/summa/pkg/merrors"
)

// The hold event payloads below are a stable wire format; field names and
// shapes must not drift with the internal Hold struct.

func holdCreatedEvent(h *mmodel.Hold) map[string]any {
	data := map[string]any{
		"sourceAccountId": h.SourceAccountID.String(),
		"amount":          h.Amount,
		"reference":       h.Reference,
	}

	if h.DestinationAccountID != nil {
		data["destinationAccountId"] = h.DestinationAccountID.String()
	}

	if h.ExpiresAt != nil {
		data["expiresAt"] = h.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}

	return data
}

func holdCommittedEvent(committedAmount, originalAmount int64) map[string]any {
	return map[string]any{
		"committedAmount": committedAmount,
		"originalAmount":  originalAmount,
	}
}

func holdVoidedEvent(reason string) map[string]any {
	return map[string]any{"reason": reason}
}

func holdExpiredEvent(expiredAt time.Time) map[string]any {
	return map[string]any{"expiredAt": expiredAt.UTC().Format(time.RFC3339Nano)}
}

func jsonRoundTrip(h *mmodel.Hold) (map[string]any, error) {
	payload, err := json.Marshal(h)
	if err != nil {
		return nil, merrors.Wrap(merrors.Internal, "failed to encode hold", err)
	}

	var data map[string]any
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, merrors.Wrap(merrors.Internal, "failed to decode hold", err)
	}

	return data, nil
}

func decodeHold(data map[string]any) (*mmodel.Hold, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, merrors.Wrap(merrors.Internal, "failed to re-encode cached hold", err)
	}

	h := &mmodel.Hold{}
	if err := json.Unmarshal(payload, h); err != nil {
		return nil, merrors.Wrap(merrors.Internal, "failed to decode cached hold", err)
	}

	return h, nil
}

func encodeCommitResult(r *CommitResult) (map[string]any, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, merrors.Wrap(merrors.Internal, "failed to encode hold commit result", err)
	}

	var data map[string]any
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, merrors.Wrap(merrors.Internal, "failed to decode hold commit result", err)
	}

	return data, nil
}

func decodeCommitResult(data map[string]any) (*CommitResult, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, merrors.Wrap(merrors.Internal, "failed to re-encode cached hold commit result", err)
	}

	r := &CommitResult{}
	if err := json.Unmarshal(payload, r); err != nil {
		return nil, merrors.Wrap(merrors.Internal, "failed to decode cached hold commit result", err)
	}

	return r, nil
}
