package balance

import (
	"context"
	"math/big"

	"github.com/summa-ledger/summa/pkg/merrors"
)

// FXResolver resolves an integer exchange rate (scaled by RatePrecision)
// between two currencies. The engine invokes it only when a transaction's
// legs cross currencies; no resolver ships with the core.
type FXResolver interface {
	Resolve(ctx context.Context, from, to string) (rate int64, err error)
}

// RatePrecision is the fixed-point scale for exchange rates: an integer with
// six decimal places of precision.
const RatePrecision = 1_000_000

// ConvertAmount applies an integer exchange rate (scaled by RatePrecision)
// to a source-currency amount, returning the destination-currency amount
// rounded half-away-from-zero.
func ConvertAmount(sourceAmount, exchangeRate int64) (int64, error) {
	if sourceAmount < 0 {
		return 0, merrors.New(merrors.InvalidArgument, "amount must not be negative")
	}

	if exchangeRate <= 0 {
		return 0, merrors.New(merrors.InvalidArgument, "exchange rate must be positive")
	}

	product := new(big.Int).Mul(big.NewInt(sourceAmount), big.NewInt(exchangeRate))
	divisor := big.NewInt(RatePrecision)

	quotient, remainder := new(big.Int).QuoRem(product, divisor, new(big.Int))

	half := new(big.Int).Rsh(divisor, 1)
	if new(big.Int).Abs(remainder).Cmp(half) >= 0 {
		quotient.Add(quotient, big.NewInt(1))
	}

	return quotient.Int64(), nil
}
