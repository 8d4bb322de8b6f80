// Package summa is the embedding entrypoint for the ledger engine: it
// assembles the event store, balance manager, transaction manager, hold
// manager, hot-account pipeline, chart-of-accounts validator, and the
// background worker fleet into one Engine, and adapts that fleet into a
// common.App so a host process can run it through a common.Host alongside
// its own lifecycle logging.
package summa

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/summa-ledger/summa/common"
	"github.com/summa-ledger/summa/common/mlog"
	"github.com/summa-ledger/summa/common/mmodel"
	"github.com/summa-ledger/summa/internal/account"
	"github.com/summa-ledger/summa/internal/balance"
	"github.com/summa-ledger/summa/internal/coa"
	"github.com/summa-ledger/summa/internal/eventstore"
	"github.com/summa-ledger/summa/internal/hold"
	"github.com/summa-ledger/summa/internal/hotaccount"
	"github.com/summa-ledger/summa/internal/idempotency"
	"github.com/summa-ledger/summa/internal/plugin"
	"github.com/summa-ledger/summa/internal/txn"
	"github.com/summa-ledger/summa/internal/worker"
	"github.com/summa-ledger/summa/pkg/adapter"
	"github.com/summa-ledger/summa/pkg/merrors"
)

// integrityError builds the INTEGRITY_VIOLATION error surfaced when a chain
// verification finds a mismatch.
func integrityError(accountID uuid.UUID, result *mmodel.ChainVerificationResult) error {
	return merrors.Newf(merrors.IntegrityViolation, "hash chain broken at version %d", *result.BrokenAtVersion).WithEntity("account")
}

// defaultHoldExpiryBatchSize bounds one hold-expiry tick's candidate claim.
const defaultHoldExpiryBatchSize = 500

// Config assembles every tunable the engine's components expose. Zero
// values fall back to each component's own defaults.
type Config struct {
	Schema             string
	HMACSecret         []byte
	BalanceChecksumKey []byte
	LockMode           balance.LockMode
	RetryPolicy        balance.RetryPolicy
	IdempotencyTTL     time.Duration
	HotBatchSize       int
	Txn                txn.Config
	FX                 balance.FXResolver
	WorkerHolder       string
	LeaseDuration      time.Duration
}

// Engine bundles the ledger's public managers. Applications embed it
// directly and call its methods instead of reimplementing posting logic.
type Engine struct {
	Accounts        *account.Service
	Transactions    *txn.Manager
	Holds           *hold.Manager
	HotAccounts     *hotaccount.Pipeline
	Balances        *balance.Manager
	Events          *eventstore.Store
	Idempotency     *idempotency.Service
	ChartOfAccounts *coa.Registry
	Equation        *coa.Validator
	Hooks           *plugin.Registry
	Worker          *worker.Runner

	resolver     *adapter.TableResolver
	logger       mlog.Logger
	verifyCursor uuid.UUID
}

// New wires every component over a single Adapter (typically a
// pkg/adapter.Router splitting primary/replica traffic) and registers the
// engine's maintenance tasks (hold expiry, idempotency cleanup, hot-account
// flush, chain verification) on the returned worker.Runner.
// Callers still call Worker.Start/Stop themselves, or run it through
// AsApp.
func New(db adapter.Adapter, cfg Config, hooks *plugin.Registry, logger mlog.Logger) *Engine {
	if logger == nil {
		logger = &mlog.GoLogger{Level: mlog.InfoLevel}
	}

	if cfg.Schema == "" {
		cfg.Schema = "summa"
	}

	if cfg.WorkerHolder == "" {
		cfg.WorkerHolder = common.GenerateUUIDv7().String()
	}

	if hooks == nil {
		hooks = plugin.NewRegistry(logger)
	}

	resolver := adapter.NewTableResolver(cfg.Schema)
	events := eventstore.New(resolver, cfg.HMACSecret)
	chart := coa.New(resolver)
	idemp := idempotency.New(resolver, cfg.IdempotencyTTL)
	hot := hotaccount.New(resolver, cfg.HotBatchSize)
	balances := balance.NewManager(resolver, cfg.LockMode, cfg.RetryPolicy, cfg.BalanceChecksumKey)
	transactions := txn.New(db, resolver, balances, events, idemp, hot, hooks, cfg.FX, cfg.Txn)
	holds := hold.New(db, resolver, balances, events, idemp, hot, hooks)
	accounts := account.New(resolver, events, chart)
	equation := coa.NewValidator(resolver)
	runner := worker.New(db, resolver, cfg.WorkerHolder, cfg.LeaseDuration, logger)

	e := &Engine{
		Accounts:        accounts,
		Transactions:    transactions,
		Holds:           holds,
		HotAccounts:     hot,
		Balances:        balances,
		Events:          events,
		Idempotency:     idemp,
		ChartOfAccounts: chart,
		Equation:        equation,
		Hooks:           hooks,
		Worker:          runner,
		resolver:        resolver,
		logger:          logger,
	}

	e.registerMaintenanceWorkers(db)
	e.registerPluginWorkers(logger)

	return e
}

// registerPluginWorkers schedules every worker declared by a registered
// plugin. Interval strings are parsed up front; an invalid interval is fatal
// at startup rather than silently skipped.
func (e *Engine) registerPluginWorkers(logger mlog.Logger) {
	for _, p := range e.Hooks.Plugins() {
		for _, w := range p.Workers {
			interval, err := worker.ParseInterval(w.Interval)
			if err != nil {
				logger.Fatalf("plugin %s worker %s: invalid interval %q: %v", p.ID, w.ID, w.Interval, err)
			}

			e.Worker.Register(worker.Spec{
				ID:            w.ID,
				Description:   w.Description,
				Interval:      interval,
				LeaseRequired: w.LeaseRequired,
				Handler:       w.Handler,
			})
		}
	}
}

// registerMaintenanceWorkers registers the engine's periodic maintenance
// tasks against the worker runner: hold expiry, idempotency cleanup,
// hot-account flush and cleanup, lease cleanup, and the chain-verification
// sweep. Most run lease-gated so only one instance in a fleet executes them
// per tick; hold expiry, hot-account flush, and lease cleanup are safe to
// run everywhere (SKIP LOCKED claims and idempotent deletes).
func (e *Engine) registerMaintenanceWorkers(db adapter.Adapter) {
	// Hold expiry runs unleased: candidates are claimed with SKIP LOCKED and
	// each void re-checks status under lock, so concurrent runners expire
	// disjoint holds.
	e.Worker.Register(worker.Spec{
		ID:            "hold-expiry",
		Description:   "releases holds past their expiresAt back to available balance",
		Interval:      time.Minute,
		LeaseRequired: false,
		Handler: func(ctx context.Context) error {
			_, err := e.Holds.ExpireHolds(ctx, defaultHoldExpiryBatchSize)
			return err
		},
	})

	e.Worker.Register(worker.Spec{
		ID:            "idempotency-cleanup",
		Description:   "deletes idempotency_key rows past expires_at",
		Interval:      time.Hour,
		LeaseRequired: true,
		Handler: func(ctx context.Context) error {
			return db.Transaction(ctx, func(ctx context.Context, tx adapter.Adapter) error {
				_, err := e.Idempotency.CleanupExpired(ctx, tx)
				return err
			})
		},
	})

	e.Worker.Register(worker.Spec{
		ID:            "hot-account-flush",
		Description:   "aggregates pending hot_account_entry rows into system_account_version",
		Interval:      5 * time.Second,
		LeaseRequired: false,
		Handler: func(ctx context.Context) error {
			return db.Transaction(ctx, func(ctx context.Context, tx adapter.Adapter) error {
				_, err := e.HotAccounts.ProcessBatch(ctx, tx)
				return err
			})
		},
	})

	e.Worker.Register(worker.Spec{
		ID:            "hot-account-cleanup",
		Description:   "deletes processed hot_account_entry rows past retention",
		Interval:      24 * time.Hour,
		LeaseRequired: true,
		Handler: func(ctx context.Context) error {
			return db.Transaction(ctx, func(ctx context.Context, tx adapter.Adapter) error {
				_, err := e.HotAccounts.CleanupProcessed(ctx, tx, 7*24*time.Hour)
				return err
			})
		},
	})

	e.Worker.Register(worker.Spec{
		ID:            "lease-cleanup",
		Description:   "removes worker leases expired for over an hour (likely dead holders)",
		Interval:      time.Hour,
		LeaseRequired: false,
		Handler: func(ctx context.Context) error {
			_, err := e.Worker.CleanupStaleLeases(ctx, time.Hour)
			return err
		},
	})

	e.Worker.Register(worker.Spec{
		ID:            "chain-verification",
		Description:   "sweeps account event chains, verifying from the latest hash snapshot",
		Interval:      time.Hour,
		LeaseRequired: true,
		Handler: func(ctx context.Context) error {
			return e.verifyChainBatch(ctx, db)
		},
	})
}

// chainVerifyBatchSize bounds how many accounts one chain-verification tick
// covers; the cursor carries over so successive ticks sweep the whole table.
const chainVerifyBatchSize = 50

// verifyChainBatch verifies the next chainVerifyBatchSize account chains
// past the sweep cursor, wrapping back to the start once the table is
// exhausted. Every broken chain in the batch is logged; the first one is
// also returned so the tick registers as failed.
func (e *Engine) verifyChainBatch(ctx context.Context, db adapter.Adapter) error {
	type target struct {
		ledgerID  uuid.UUID
		accountID uuid.UUID
	}

	var targets []target

	err := db.Transaction(ctx, func(ctx context.Context, tx adapter.Adapter) error {
		rows, err := tx.Query(ctx, `SELECT id, ledger_id FROM `+e.resolver.Table("account_balance")+`
			WHERE id > $1 ORDER BY id LIMIT $2`, e.verifyCursor, chainVerifyBatchSize)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var t target
			if err := rows.Scan(&t.accountID, &t.ledgerID); err != nil {
				return err
			}

			targets = append(targets, t)
		}

		return rows.Err()
	})
	if err != nil {
		return err
	}

	if len(targets) < chainVerifyBatchSize {
		e.verifyCursor = uuid.Nil
	} else {
		e.verifyCursor = targets[len(targets)-1].accountID
	}

	var firstErr error

	for _, t := range targets {
		if err := e.VerifyAccountChain(ctx, db, t.ledgerID, t.accountID); err != nil {
			e.logger.Errorf("chain verification failed for account %s: %v", t.accountID, err)

			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

// VerifyAccountChain runs chain verification for a single account. The
// chain-verification worker sweeps accounts through it on its own cadence;
// it is also exposed directly for callers that need an on-demand audit of
// one account.
func (e *Engine) VerifyAccountChain(ctx context.Context, db adapter.Adapter, ledgerID, accountID uuid.UUID) error {
	var err error

	txErr := db.Transaction(ctx, func(ctx context.Context, tx adapter.Adapter) error {
		result, verr := e.Events.VerifyFromSnapshot(ctx, tx, ledgerID, accountID)
		if verr != nil {
			return verr
		}

		if !result.Valid {
			err = integrityError(accountID, result)
		}

		return nil
	})
	if txErr != nil {
		return txErr
	}

	return err
}

// WorkerApp adapts a *worker.Runner into a common.App so it can be handed
// to a common.Host instead of having its Start/Stop called directly.
type WorkerApp struct {
	runner *worker.Runner
	stop   chan struct{}
}

// AsApp wraps the engine's worker runner as a common.App. Call the returned
// app's Stop to shut the worker fleet down and let Host.Run's WaitGroup
// release.
func (e *Engine) AsApp() *WorkerApp {
	return &WorkerApp{runner: e.Worker, stop: make(chan struct{})}
}

// Run starts every registered worker and blocks until Stop is called.
func (a *WorkerApp) Run(h *common.Host) error {
	a.runner.Start(context.Background())

	<-a.stop

	a.runner.Stop()

	return nil
}

// Stop signals Run to shut the worker fleet down. Safe to call once.
func (a *WorkerApp) Stop() {
	close(a.stop)
}
