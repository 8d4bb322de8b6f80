package balance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/summa-ledger/summa/common"
	"github.com/summa-ledger/summa/common/mmodel"
	"github.com/summa-ledger/summa/pkg/adapter"
	"github.com/summa-ledger/summa/pkg/merrors"
)

// LockMode selects how the balance manager acquires the account row lock.
type LockMode string

const (
	LockWait       LockMode = "wait"
	LockNoWait     LockMode = "nowait"
	LockOptimistic LockMode = "optimistic" // reserved for a future optimistic-concurrency path
)

// RetryPolicy configures the nowait lock mode's caller-side retry loop:
// a bounded count of attempts with exponential backoff and jitter.
type RetryPolicy struct {
	Count         int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
}

// DefaultRetryPolicy is the manager's out-of-the-box retry tuning.
var DefaultRetryPolicy = RetryPolicy{Count: 5, BaseDelay: 10 * time.Millisecond, MaxDelay: 500 * time.Millisecond}

// Manager applies balance mutations under a row lock and records a
// versioned audit row for every mutation.
type Manager struct {
	resolver       *adapter.TableResolver
	lockMode       LockMode
	retry          RetryPolicy
	checksumSecret []byte
}

// NewManager builds a balance Manager. checksumSecret is optional; when
// non-empty an HMAC balance checksum is stored alongside every versioned
// balance row.
func NewManager(resolver *adapter.TableResolver, lockMode LockMode, retry RetryPolicy, checksumSecret []byte) *Manager {
	if lockMode == "" {
		lockMode = LockWait
	}

	if retry.Count == 0 {
		retry = DefaultRetryPolicy
	}

	return &Manager{resolver: resolver, lockMode: lockMode, retry: retry, checksumSecret: checksumSecret}
}

// LockAccount locks and returns the account row identified by (ledgerID,
// accountID), retrying per Manager.retry when lockMode is LockNoWait and the
// row is already locked elsewhere.
func (m *Manager) LockAccount(ctx context.Context, tx adapter.Adapter, ledgerID, accountID uuid.UUID) (*mmodel.Account, error) {
	clause := tx.Dialect().ForUpdate()
	if m.lockMode == LockNoWait {
		clause = tx.Dialect().ForUpdateNoWait()
	}

	if m.lockMode != LockNoWait {
		return m.selectForUpdate(ctx, tx, ledgerID, accountID, clause)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = m.retry.BaseDelay
	eb.MaxInterval = m.retry.MaxDelay
	eb.MaxElapsedTime = 0 // bounded by WithMaxRetries below, not wall-clock

	bo := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(m.retry.Count)), ctx)

	var acc *mmodel.Account

	err := backoff.Retry(func() error {
		a, err := m.selectForUpdate(ctx, tx, ledgerID, accountID, clause)
		if err != nil {
			if merrors.Is(err, merrors.LockTimeout) {
				return err // retryable
			}

			return backoff.Permanent(err)
		}

		acc = a

		return nil
	}, bo)
	if err != nil {
		var perm *backoff.PermanentError
		if asPermanent(err, &perm) {
			return nil, perm.Err
		}

		return nil, err
	}

	return acc, nil
}

func asPermanent(err error, target **backoff.PermanentError) bool {
	pe, ok := err.(*backoff.PermanentError)
	if ok {
		*target = pe
	}

	return ok
}

func (m *Manager) selectForUpdate(ctx context.Context, tx adapter.Adapter, ledgerID, accountID uuid.UUID, clause string) (*mmodel.Account, error) {
	row := tx.QueryRow(ctx, `SELECT id, ledger_id, holder_id, holder_type, status, currency, balance,
		credit_balance, debit_balance, pending_credit, pending_debit, allow_overdraft, overdraft_limit,
		normal_balance, lock_version FROM `+m.resolver.Table("account_balance")+`
		WHERE id = $1 AND ledger_id = $2 `+clause, accountID, ledgerID)

	a := &mmodel.Account{}

	err := row.Scan(&a.ID, &a.LedgerID, &a.HolderID, &a.HolderType, &a.Status, &a.Currency, &a.Balance,
		&a.CreditBalance, &a.DebitBalance, &a.PendingCredit, &a.PendingDebit, &a.AllowOverdraft,
		&a.OverdraftLimit, &a.NormalBalance, &a.LockVersion)

	switch {
	case err == nil:
		return a, nil
	case merrors.IsNoRows(err):
		return nil, merrors.New(merrors.NotFound, "account not found").WithEntity("account")
	default:
		return nil, merrors.FromPG(err, "account", nil)
	}
}

// Apply validates status, applies dir/amount to acc, persists the row and a
// versioned audit row, and returns the computed Delta. acc must already be
// locked via LockAccount; Apply mutates acc in place so
// callers can chain further legs against the updated state.
func (m *Manager) Apply(ctx context.Context, tx adapter.Adapter, acc *mmodel.Account, dir Direction, amount int64) (Delta, error) {
	if !acc.IsActive() {
		code := merrors.AccountFrozen
		if acc.Status == mmodel.StatusClosed {
			code = merrors.AccountClosed
		}

		return Delta{}, merrors.Newf(code, "account %s is not active (status=%s)", acc.ID, acc.Status).WithEntity("account")
	}

	delta, err := ApplyLeg(acc, dir, amount)
	if err != nil {
		return Delta{}, err
	}

	return m.persist(ctx, tx, acc, delta, "posting")
}

// ApplyForce debits acc bypassing the overdraft policy. acc must already be
// locked via LockAccount.
func (m *Manager) ApplyForce(ctx context.Context, tx adapter.Adapter, acc *mmodel.Account, amount int64) (Delta, error) {
	if !acc.IsActive() {
		code := merrors.AccountFrozen
		if acc.Status == mmodel.StatusClosed {
			code = merrors.AccountClosed
		}

		return Delta{}, merrors.Newf(code, "account %s is not active (status=%s)", acc.ID, acc.Status).WithEntity("account")
	}

	delta, err := ApplyLegForce(acc, amount)
	if err != nil {
		return Delta{}, err
	}

	return m.persist(ctx, tx, acc, delta, "posting_forced")
}

// ApplyHold applies a pending_debit-only delta (createHold / voidHold /
// expireHolds / commitHold's release half) without touching balance.
func (m *Manager) ApplyHold(ctx context.Context, tx adapter.Adapter, acc *mmodel.Account, delta Delta, changeType string) (Delta, error) {
	return m.persist(ctx, tx, acc, delta, changeType)
}

func (m *Manager) persist(ctx context.Context, tx adapter.Adapter, acc *mmodel.Account, delta Delta, changeType string) (Delta, error) {
	newVersion := acc.LockVersion + 1
	now := time.Now().UTC()

	res, err := tx.Mutate(ctx, `UPDATE `+m.resolver.Table("account_balance")+`
		SET balance = $1, credit_balance = $2, debit_balance = $3, pending_debit = $4,
		    lock_version = $5, updated_at = $6
		WHERE id = $7 AND ledger_id = $8 AND lock_version = $9`,
		delta.BalanceAfter, delta.CreditBalanceAfter, delta.DebitBalanceAfter, delta.PendingDebitAfter,
		newVersion, now, acc.ID, acc.LedgerID, acc.LockVersion)
	if err != nil {
		return Delta{}, merrors.FromPG(err, "account", nil)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return Delta{}, merrors.Wrap(merrors.Internal, "failed to read rows affected", err)
	}

	if affected == 0 {
		return Delta{}, merrors.New(merrors.ConcurrencyConflict, "account lock_version changed concurrently").WithEntity("account")
	}

	checksum := m.checksum(acc.ID, delta.BalanceAfter, newVersion)

	_, err = tx.Mutate(ctx, `INSERT INTO `+m.resolver.Table("account_balance_version")+`
		(id, account_id, ledger_id, version, balance, credit_balance, debit_balance, pending_debit,
		 change_type, checksum, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		common.GenerateUUIDv7(), acc.ID, acc.LedgerID, newVersion, delta.BalanceAfter,
		delta.CreditBalanceAfter, delta.DebitBalanceAfter, delta.PendingDebitAfter, changeType, checksum, now)
	if err != nil {
		return Delta{}, merrors.FromPG(err, "account_balance_version", nil)
	}

	acc.Balance = delta.BalanceAfter
	acc.CreditBalance = delta.CreditBalanceAfter
	acc.DebitBalance = delta.DebitBalanceAfter
	acc.PendingDebit = delta.PendingDebitAfter
	acc.LockVersion = newVersion
	acc.UpdatedAt = now

	return delta, nil
}

func (m *Manager) checksum(accountID uuid.UUID, balance, version int64) string {
	if len(m.checksumSecret) == 0 {
		return ""
	}

	mac := hmac.New(sha256.New, m.checksumSecret)
	mac.Write([]byte(fmt.Sprintf("%s:%d:%d", accountID, balance, version)))

	return hex.EncodeToString(mac.Sum(nil))
}
