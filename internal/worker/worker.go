// Package worker implements the background task runner: named workers tick
// on their own interval, optionally gated by a lease so only one process
// instance in a fleet runs a given task at a time.
package worker

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/summa-ledger/summa/common/mlog"
	"github.com/summa-ledger/summa/pkg/adapter"
	"github.com/summa-ledger/summa/pkg/merrors"
)

// Spec registers one periodic task with the runner.
type Spec struct {
	ID            string
	Description   string
	Interval      time.Duration
	LeaseRequired bool
	// LeaseDuration bounds how long a lease grant for this worker is valid
	// before another holder may reclaim it. Zero derives the default of
	// 2x Interval at Register time.
	LeaseDuration time.Duration
	Handler       func(ctx context.Context) error
}

// DefaultLeaseDuration is the lease fallback for a Spec registered without
// an interval, where the 2x-interval derivation has nothing to double.
const DefaultLeaseDuration = 5 * time.Minute

var intervalPattern = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s?(s|m|h|d)$`)

// ParseInterval parses a human interval string like "30s", "5m", "1.5h", or
// "1d".
func ParseInterval(s string) (time.Duration, error) {
	m := intervalPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, merrors.Newf(merrors.InvalidArgument, "invalid interval %q: expected a number followed by s, m, h, or d", s)
	}

	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, merrors.Newf(merrors.InvalidArgument, "invalid interval %q: %v", s, err)
	}

	var unit time.Duration

	switch m[2] {
	case "s":
		unit = time.Second
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	}

	return time.Duration(value * float64(unit)), nil
}

// Runner ticks every registered Spec on its own interval, independently of
// the others, and never starts a new tick for a worker before the previous
// one has returned.
type Runner struct {
	db            adapter.Adapter
	resolver      *adapter.TableResolver
	holder        string
	leaseDuration time.Duration
	logger        mlog.Logger

	mu     sync.Mutex
	specs  []Spec
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Runner. holder identifies this process instance for lease
// ownership, typically a hostname-pid or UUID. leaseDuration, when positive,
// overrides the per-spec 2x-interval lease derivation for every registered
// worker.
func New(db adapter.Adapter, resolver *adapter.TableResolver, holder string, leaseDuration time.Duration, logger mlog.Logger) *Runner {
	return &Runner{db: db, resolver: resolver, holder: holder, leaseDuration: leaseDuration, logger: logger}
}

// Register adds spec to the runner. Call before Start; registering after
// Start has no effect on already-running ticks. A spec without its own
// LeaseDuration gets the runner-wide override when one was configured, and
// 2x its own interval otherwise.
func (r *Runner) Register(spec Spec) {
	if spec.LeaseDuration <= 0 {
		switch {
		case r.leaseDuration > 0:
			spec.LeaseDuration = r.leaseDuration
		case spec.Interval > 0:
			spec.LeaseDuration = 2 * spec.Interval
		default:
			spec.LeaseDuration = DefaultLeaseDuration
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.specs = append(r.specs, spec)
}

// Start launches one goroutine per registered worker. It returns
// immediately; call Stop to shut the runner down.
func (r *Runner) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.mu.Lock()
	specs := append([]Spec(nil), r.specs...)
	r.mu.Unlock()

	for _, spec := range specs {
		if r.logger != nil {
			r.logger.Infof("worker runner: scheduling %s every %s (lease=%t): %s",
				spec.ID, spec.Interval, spec.LeaseRequired, spec.Description)
		}

		r.wg.Add(1)

		go r.run(ctx, spec)
	}
}

// Stop cancels every running worker, waits for in-flight ticks to return,
// and releases any leases still held by this holder. Stop is idempotent:
// calling it again after the runner has already stopped is a no-op.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}

	r.wg.Wait()

	if err := r.releaseHeldLeases(context.Background()); err != nil {
		r.logf("worker runner: failed to release leases on stop: %v", err)
	}
}

// releaseHeldLeases deletes every worker_lease row currently held by this
// runner's holder, so another instance can acquire it immediately instead
// of waiting out the remaining lease TTL.
func (r *Runner) releaseHeldLeases(ctx context.Context) error {
	return r.db.Transaction(ctx, func(ctx context.Context, tx adapter.Adapter) error {
		_, err := tx.Mutate(ctx, `DELETE FROM `+r.resolver.Table("worker_lease")+` WHERE holder = $1`, r.holder)
		if err != nil {
			return merrors.FromPG(err, "worker_lease", nil)
		}

		return nil
	})
}

func (r *Runner) run(ctx context.Context, spec Spec) {
	defer r.wg.Done()

	ticker := time.NewTicker(spec.Interval)
	defer ticker.Stop()

	var inFlight int32

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// Ticks never overlap per worker: a tick that arrives while the
		// previous handler is still running is skipped, not queued.
		if !atomic.CompareAndSwapInt32(&inFlight, 0, 1) {
			r.warnf("worker %s: previous tick still running, skipping", spec.ID)
			continue
		}

		r.wg.Add(1)

		go func() {
			defer r.wg.Done()
			defer atomic.StoreInt32(&inFlight, 0)

			r.tick(ctx, spec)
		}()
	}
}

func (r *Runner) tick(ctx context.Context, spec Spec) {
	if spec.LeaseRequired {
		acquired, err := r.tryAcquireLease(ctx, spec.ID, spec.LeaseDuration)
		if err != nil {
			r.logf("worker %s: lease acquisition failed: %v", spec.ID, err)
			return
		}

		if !acquired {
			return
		}
	}

	if err := spec.Handler(ctx); err != nil {
		r.logf("worker %s: tick failed: %v", spec.ID, err)
	}
}

func (r *Runner) logf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Errorf(format, args...)
		return
	}

	fmt.Printf(format+"\n", args...)
}

func (r *Runner) warnf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Warnf(format, args...)
		return
	}

	fmt.Printf(format+"\n", args...)
}

// tryAcquireLease attempts to claim or renew the lease for workerID. It
// returns false, nil when another holder currently owns a non-expired
// lease.
func (r *Runner) tryAcquireLease(ctx context.Context, workerID string, ttl time.Duration) (bool, error) {
	acquired := false

	err := r.db.Transaction(ctx, func(ctx context.Context, tx adapter.Adapter) error {
		row := tx.QueryRow(ctx, `SELECT holder, lease_until FROM `+r.resolver.Table("worker_lease")+`
			WHERE worker_id = $1 `+tx.Dialect().ForUpdate(), workerID)

		var (
			holder     string
			leaseUntil time.Time
		)

		now := time.Now().UTC()

		switch err := row.Scan(&holder, &leaseUntil); {
		case merrors.IsNoRows(err):
			if _, err := tx.Mutate(ctx, `INSERT INTO `+r.resolver.Table("worker_lease")+`
				(worker_id, holder, acquired_at, lease_until) VALUES ($1, $2, $3, $4)`,
				workerID, r.holder, now, now.Add(ttl)); err != nil {
				return merrors.FromPG(err, "worker_lease", nil)
			}

			acquired = true

			return nil
		case err != nil:
			return merrors.FromPG(err, "worker_lease", nil)
		}

		if holder != r.holder && leaseUntil.After(now) {
			return nil // another holder's lease is still valid
		}

		if _, err := tx.Mutate(ctx, `UPDATE `+r.resolver.Table("worker_lease")+`
			SET holder = $1, acquired_at = $2, lease_until = $3 WHERE worker_id = $4`,
			r.holder, now, now.Add(ttl), workerID); err != nil {
			return merrors.FromPG(err, "worker_lease", nil)
		}

		acquired = true

		return nil
	})
	if err != nil {
		return false, err
	}

	return acquired, nil
}

// CleanupStaleLeases deletes lease rows whose lease_until is older than
// staleAfter, so a crashed holder's lease doesn't block other instances
// forever past its own expiry bookkeeping.
func (r *Runner) CleanupStaleLeases(ctx context.Context, staleAfter time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-staleAfter)

	var affected int64

	err := r.db.Transaction(ctx, func(ctx context.Context, tx adapter.Adapter) error {
		res, err := tx.Mutate(ctx, `DELETE FROM `+r.resolver.Table("worker_lease")+` WHERE lease_until < $1`, cutoff)
		if err != nil {
			return merrors.FromPG(err, "worker_lease", nil)
		}

		affected, err = res.RowsAffected()

		return err
	})

	return affected, err
}
