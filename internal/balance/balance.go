// Package balance applies deltas to account rows under a row lock and
// enforces the overdraft policy, including the scale-aware amount
// arithmetic a multi-currency transaction needs when converting a leg into
// the account's native currency.
package balance

import (
	"github.com/summa-ledger/summa/common/mmodel"
	"github.com/summa-ledger/summa/pkg/merrors"
)

// Direction is which side of the ledger a delta moves.
type Direction string

const (
	Debit  Direction = "DEBIT"
	Credit Direction = "CREDIT"
)

// Delta is the result of applying one leg to an account's balance fields.
// BalanceAfter/PendingDebitAfter are written verbatim into the account row
// and into account_balance_version; the caller is responsible for the row
// lock and for incrementing lock_version.
type Delta struct {
	BalanceBefore      int64
	BalanceAfter       int64
	CreditBalanceAfter int64
	DebitBalanceAfter  int64
	PendingDebitAfter  int64
}

// CheckOverdraft enforces the overdraft policy against the account's current
// available balance (balance − pending_debit) before a debit of amount is
// applied. It never mutates acc.
func CheckOverdraft(acc *mmodel.Account, amount int64) error {
	available := acc.AvailableBalance()

	if !acc.AllowOverdraft {
		if available < amount {
			return merrors.Newf(merrors.InsufficientBalance, "available balance %d is less than requested %d", available, amount).WithEntity("account")
		}

		return nil
	}

	if acc.OverdraftLimit > 0 && available-amount < -acc.OverdraftLimit {
		return merrors.Newf(merrors.InsufficientBalance, "debit of %d would exceed overdraft limit %d", amount, acc.OverdraftLimit).WithEntity("account")
	}

	return nil
}

// ApplyLeg computes the post-state for one DEBIT or CREDIT leg against acc.
// It does not mutate acc or check status; callers run status/overdraft
// checks and persist the row themselves inside the locked transaction.
func ApplyLeg(acc *mmodel.Account, dir Direction, amount int64) (Delta, error) {
	if amount <= 0 {
		return Delta{}, merrors.New(merrors.InvalidArgument, "amount must be a positive integer")
	}

	d := Delta{
		BalanceBefore:      acc.Balance,
		CreditBalanceAfter: acc.CreditBalance,
		DebitBalanceAfter:  acc.DebitBalance,
		PendingDebitAfter:  acc.PendingDebit,
	}

	switch dir {
	case Debit:
		if err := CheckOverdraft(acc, amount); err != nil {
			return Delta{}, err
		}

		d.DebitBalanceAfter += amount
		d.BalanceAfter = acc.Balance - signedDelta(acc, amount)
	case Credit:
		d.CreditBalanceAfter += amount
		d.BalanceAfter = acc.Balance + signedDelta(acc, amount)
	default:
		return Delta{}, merrors.Newf(merrors.InvalidArgument, "unknown entry direction %q", dir)
	}

	return d, nil
}

// ApplyLegForce computes a DEBIT leg's post-state without the overdraft
// check, for an administrative override that bypasses the overdraft policy.
// Credits never need a force variant since CheckOverdraft only guards
// debits.
func ApplyLegForce(acc *mmodel.Account, amount int64) (Delta, error) {
	if amount <= 0 {
		return Delta{}, merrors.New(merrors.InvalidArgument, "amount must be a positive integer")
	}

	d := Delta{
		BalanceBefore:      acc.Balance,
		CreditBalanceAfter: acc.CreditBalance,
		DebitBalanceAfter:  acc.DebitBalance + amount,
		PendingDebitAfter:  acc.PendingDebit,
	}

	d.BalanceAfter = acc.Balance - signedDelta(acc, amount)

	return d, nil
}

// signedDelta flips the sign of amount for debit-normal accounts, so that
// Balance always reads as "what the holder thinks they have" (invariant A1).
func signedDelta(acc *mmodel.Account, amount int64) int64 {
	if acc.NormalBalance != nil && *acc.NormalBalance == mmodel.NormalBalanceDebit {
		return -amount
	}

	return amount
}

// ReleaseHold computes the delta for decrementing pending_debit by amount
// without touching balance (used by voidHold/expireHolds and the
// pending_debit release half of commitHold).
func ReleaseHold(acc *mmodel.Account, amount int64) Delta {
	return Delta{
		BalanceBefore:      acc.Balance,
		BalanceAfter:       acc.Balance,
		CreditBalanceAfter: acc.CreditBalance,
		DebitBalanceAfter:  acc.DebitBalance,
		PendingDebitAfter:  acc.PendingDebit - amount,
	}
}

// PlaceHold computes the delta for incrementing pending_debit by amount
// without touching balance (createHold step 3).
func PlaceHold(acc *mmodel.Account, amount int64) Delta {
	return Delta{
		BalanceBefore:      acc.Balance,
		BalanceAfter:       acc.Balance,
		CreditBalanceAfter: acc.CreditBalance,
		DebitBalanceAfter:  acc.DebitBalance,
		PendingDebitAfter:  acc.PendingDebit + amount,
	}
}
