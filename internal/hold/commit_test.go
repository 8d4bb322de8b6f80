package hold

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/summa-ledger/summa/common/mmodel"
	"github.com/summa-ledger/summa/pkg/merrors"
)

func amt(v int64) *int64 { return &v }

func acctDest(v int64) mmodel.HoldDestination {
	id := uuid.New()
	return mmodel.HoldDestination{AccountID: &id, Amount: amt(v)}
}

func TestResolveDestinationAmounts_SingleDestinationNoAmountTakesAll(t *testing.T) {
	id := uuid.New()
	dests := []mmodel.HoldDestination{{AccountID: &id}}

	amounts, err := resolveDestinationAmounts(dests, 1_000)
	require.NoError(t, err)
	assert.Equal(t, []int64{1_000}, amounts)
}

func TestResolveDestinationAmounts_ExplicitAmountsMustSumToTotal(t *testing.T) {
	dests := []mmodel.HoldDestination{acctDest(400), acctDest(600)}

	amounts, err := resolveDestinationAmounts(dests, 1_000)
	require.NoError(t, err)
	assert.Equal(t, []int64{400, 600}, amounts)
}

func TestResolveDestinationAmounts_ExplicitAmountsMismatchRejected(t *testing.T) {
	dests := []mmodel.HoldDestination{acctDest(400), acctDest(500)}

	_, err := resolveDestinationAmounts(dests, 1_000)
	require.Error(t, err)
	assert.Equal(t, merrors.InvalidArgument, merrors.CodeOf(err))
}

func TestResolveDestinationAmounts_OneOpenDestinationGetsRemainder(t *testing.T) {
	id := uuid.New()
	dests := []mmodel.HoldDestination{acctDest(300), {AccountID: &id}}

	amounts, err := resolveDestinationAmounts(dests, 1_000)
	require.NoError(t, err)
	assert.Equal(t, []int64{300, 700}, amounts)
}

func TestResolveDestinationAmounts_AtMostOneOpenDestination(t *testing.T) {
	id1, id2 := uuid.New(), uuid.New()
	dests := []mmodel.HoldDestination{{AccountID: &id1}, {AccountID: &id2}}

	_, err := resolveDestinationAmounts(dests, 1_000)
	require.Error(t, err)
	assert.Equal(t, merrors.InvalidArgument, merrors.CodeOf(err))
}

func TestResolveDestinationAmounts_NoRemainderLeftForOpenDestination(t *testing.T) {
	id := uuid.New()
	dests := []mmodel.HoldDestination{acctDest(1_000), {AccountID: &id}}

	_, err := resolveDestinationAmounts(dests, 1_000)
	require.Error(t, err)
	assert.Equal(t, merrors.InvalidArgument, merrors.CodeOf(err))
}

func TestResolveDestinationAmounts_RejectsNegativeExplicitAmount(t *testing.T) {
	dests := []mmodel.HoldDestination{acctDest(-1)}

	_, err := resolveDestinationAmounts(dests, 1_000)
	require.Error(t, err)
	assert.Equal(t, merrors.InvalidArgument, merrors.CodeOf(err))
}

func TestResolveDestinationAmounts_AllowsZeroExplicitAmount(t *testing.T) {
	dests := []mmodel.HoldDestination{acctDest(0), acctDest(1_000)}

	amounts, err := resolveDestinationAmounts(dests, 1_000)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1_000}, amounts)
}

func TestResolveDestinationAmounts_RejectsEmptyDestinations(t *testing.T) {
	_, err := resolveDestinationAmounts(nil, 1_000)
	require.Error(t, err)
	assert.Equal(t, merrors.InvalidArgument, merrors.CodeOf(err))
}

func TestResolveDestinationAmounts_RejectsDestinationWithNoAccountReference(t *testing.T) {
	dests := []mmodel.HoldDestination{{Amount: amt(1_000)}}

	_, err := resolveDestinationAmounts(dests, 1_000)
	require.Error(t, err)
	assert.Equal(t, merrors.InvalidArgument, merrors.CodeOf(err))
}

func TestResolveDestinationAmounts_SystemAccountDestinationAllowed(t *testing.T) {
	sysID := uuid.New()
	dests := []mmodel.HoldDestination{{SystemAccountID: &sysID, Amount: amt(1_000)}}

	amounts, err := resolveDestinationAmounts(dests, 1_000)
	require.NoError(t, err)
	assert.Equal(t, []int64{1_000}, amounts)
}
