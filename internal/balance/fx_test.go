package balance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/summa-ledger/summa/pkg/merrors"
)

func TestConvertAmount_IdentityRate(t *testing.T) {
	out, err := ConvertAmount(25_000, RatePrecision)
	require.NoError(t, err)
	assert.Equal(t, int64(25_000), out)
}

func TestConvertAmount_AppliesRate(t *testing.T) {
	// 100.00 at a rate of 0.85 converts to 85.00.
	out, err := ConvertAmount(10_000, 850_000)
	require.NoError(t, err)
	assert.Equal(t, int64(8_500), out)
}

func TestConvertAmount_RoundsHalfAwayFromZero(t *testing.T) {
	// 1 minor unit at 0.5 sits exactly on the rounding boundary.
	out, err := ConvertAmount(1, 500_000)
	require.NoError(t, err)
	assert.Equal(t, int64(1), out)

	// 1 minor unit at 0.4999 rounds down.
	out, err = ConvertAmount(1, 499_900)
	require.NoError(t, err)
	assert.Equal(t, int64(0), out)
}

func TestConvertAmount_LargeAmountsDoNotOverflow(t *testing.T) {
	// 1e11 minor units at a high rate overflows int64 multiplication; the
	// big.Int path must still produce the exact product/quotient.
	out, err := ConvertAmount(100_000_000_000, 150_000_000)
	require.NoError(t, err)
	assert.Equal(t, int64(15_000_000_000_000), out)
}

func TestConvertAmount_RejectsNegativeAmount(t *testing.T) {
	_, err := ConvertAmount(-1, RatePrecision)
	require.Error(t, err)
	assert.Equal(t, merrors.InvalidArgument, merrors.CodeOf(err))
}

func TestConvertAmount_RejectsNonPositiveRate(t *testing.T) {
	_, err := ConvertAmount(100, 0)
	require.Error(t, err)
	assert.Equal(t, merrors.InvalidArgument, merrors.CodeOf(err))

	_, err = ConvertAmount(100, -RatePrecision)
	require.Error(t, err)
	assert.Equal(t, merrors.InvalidArgument, merrors.CodeOf(err))
}
