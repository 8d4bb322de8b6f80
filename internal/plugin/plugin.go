// Package plugin implements the hook dispatch and schema-extension surface
// that lets callers surround the engine without touching its core
// invariants. Hook kinds are pre-grouped at registration time so the hot
// path dispatches in O(1) instead of scanning every plugin on every call.
package plugin

import (
	"context"

	"github.com/google/uuid"

	"github.com/summa-ledger/summa/common/mlog"
	"github.com/summa-ledger/summa/common/mmodel"
)

// OperationType tags a generic before/after hook dispatch by the kind of
// engine call that triggered it.
type OperationType string

const (
	OpTransaction   OperationType = "transaction"
	OpAccountCreate OperationType = "account_create"
	OpHoldCreate    OperationType = "hold_create"
	OpHoldCommit    OperationType = "hold_commit"
	OpHoldVoid      OperationType = "hold_void"
)

// Operation is the tagged sum-type record dispatched to plugins. Only the
// fields relevant to Type are populated.
type Operation struct {
	Type          OperationType
	LedgerID      uuid.UUID
	CorrelationID uuid.UUID
	Transaction   *mmodel.Transaction
	Entries       []*mmodel.Entry
	Account       *mmodel.Account
	Hold          *mmodel.Hold
}

// HookFunc is a single registered hook callback. Before-hooks that return an
// error abort the operation; after-hooks' errors are logged and never roll
// back the already-committed effect.
type HookFunc func(ctx context.Context, op *Operation) error

// SchemaExtension names a table/column set a plugin owns, merged alongside
// the core schema at migration time.
type SchemaExtension struct {
	Table   string
	Columns []string
}

// WorkerSpec mirrors the worker registration shape consumed by
// internal/worker, re-declared here to avoid a package cycle: a plugin's
// Workers slice is handed to the worker runner by the engine at startup,
// never invoked by the plugin package itself.
type WorkerSpec struct {
	ID             string
	Description    string
	Interval       string
	LeaseRequired  bool
	Handler        func(ctx context.Context) error
}

// Plugin is a value carrying optional schema extensions, workers, and
// lifecycle/operation hooks.
type Plugin struct {
	ID                string
	Schema            []SchemaExtension
	Workers           []WorkerSpec
	BeforeTransaction HookFunc
	AfterTransaction  HookFunc
	BeforeAccountCreate HookFunc
	AfterAccountCreate  HookFunc
	BeforeHoldCreate    HookFunc
	AfterHoldCommit     HookFunc
	BeforeOperation     HookFunc
	AfterOperation      HookFunc
}

// Registry holds plugins in registration order and pre-groups their hooks by
// kind for hot-path dispatch.
type Registry struct {
	plugins []Plugin
	logger  mlog.Logger

	before map[OperationType][]HookFunc
	after  map[OperationType][]HookFunc
}

// NewRegistry builds a Registry from plugins, registered in the given order.
func NewRegistry(logger mlog.Logger, plugins ...Plugin) *Registry {
	r := &Registry{
		plugins: plugins,
		logger:  logger,
		before:  map[OperationType][]HookFunc{},
		after:   map[OperationType][]HookFunc{},
	}

	for _, p := range plugins {
		if p.BeforeTransaction != nil {
			r.before[OpTransaction] = append(r.before[OpTransaction], p.BeforeTransaction)
		}

		if p.AfterTransaction != nil {
			r.after[OpTransaction] = append(r.after[OpTransaction], p.AfterTransaction)
		}

		if p.BeforeAccountCreate != nil {
			r.before[OpAccountCreate] = append(r.before[OpAccountCreate], p.BeforeAccountCreate)
		}

		if p.AfterAccountCreate != nil {
			r.after[OpAccountCreate] = append(r.after[OpAccountCreate], p.AfterAccountCreate)
		}

		if p.BeforeHoldCreate != nil {
			r.before[OpHoldCreate] = append(r.before[OpHoldCreate], p.BeforeHoldCreate)
		}

		if p.AfterHoldCommit != nil {
			r.after[OpHoldCommit] = append(r.after[OpHoldCommit], p.AfterHoldCommit)
		}

		if p.BeforeOperation != nil {
			for _, ops := range []OperationType{OpTransaction, OpAccountCreate, OpHoldCreate, OpHoldCommit, OpHoldVoid} {
				r.before[ops] = append(r.before[ops], p.BeforeOperation)
			}
		}

		if p.AfterOperation != nil {
			for _, ops := range []OperationType{OpTransaction, OpAccountCreate, OpHoldCreate, OpHoldCommit, OpHoldVoid} {
				r.after[ops] = append(r.after[ops], p.AfterOperation)
			}
		}
	}

	return r
}

// Plugins returns the registered plugins in registration order, exposing
// their Schema and Workers to the engine's migration and worker-runner setup.
func (r *Registry) Plugins() []Plugin {
	return r.plugins
}

// Before runs every before-hook registered for op.Type in registration
// order. The first error aborts and is returned to the caller.
func (r *Registry) Before(ctx context.Context, op *Operation) error {
	for _, h := range r.before[op.Type] {
		if err := h(ctx, op); err != nil {
			return err
		}
	}

	return nil
}

// After runs every after-hook registered for op.Type in registration order.
// Errors are logged and swallowed; after-hooks are fire-and-forget.
func (r *Registry) After(ctx context.Context, op *Operation) {
	for _, h := range r.after[op.Type] {
		if err := h(ctx, op); err != nil && r.logger != nil {
			r.logger.Errorf("after-hook failed for operation %s: %v", op.Type, err)
		}
	}
}
