// Package enginetest provides a hand-written in-memory adapter.Adapter fake
// for behavioral tests of the posting and hold flows. It understands only
// the SQL shapes the engine actually issues, keyed by table name; anything
// unrecognized fails loudly so tests drift with the SQL instead of silently
// passing. It is test support only — nothing outside _test.go files may
// depend on it.
package enginetest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/summa-ledger/summa/common/mmodel"
	"github.com/summa-ledger/summa/pkg/adapter"
	"github.com/summa-ledger/summa/pkg/dialect"
)

// AccountState mirrors one account_balance row.
type AccountState struct {
	ID             uuid.UUID
	LedgerID       uuid.UUID
	HolderID       uuid.UUID
	HolderType     mmodel.HolderType
	Status         mmodel.AccountStatus
	Currency       string
	Balance        int64
	CreditBalance  int64
	DebitBalance   int64
	PendingCredit  int64
	PendingDebit   int64
	AllowOverdraft bool
	OverdraftLimit int64
	NormalBalance  *mmodel.NormalBalance
	LockVersion    int64
}

// TransactionState mirrors one transaction_record row.
type TransactionState struct {
	ID                   uuid.UUID
	LedgerID             uuid.UUID
	Reference            string
	Type                 mmodel.TransactionType
	Status               mmodel.TransactionStatus
	Amount               int64
	Currency             string
	Description          string
	SourceAccountID      *uuid.UUID
	DestinationAccountID *uuid.UUID
	CorrelationID        uuid.UUID
	IsReversal           bool
	ParentID             *uuid.UUID
	CreatedAt            time.Time
	PostedAt             *time.Time
	EffectiveDate        time.Time
}

// EntryState mirrors one entry_record row.
type EntryState struct {
	ID              uuid.UUID
	LedgerID        uuid.UUID
	TransactionID   uuid.UUID
	AccountID       *uuid.UUID
	SystemAccountID *uuid.UUID
	EntryType       mmodel.EntryType
	Amount          int64
	Currency        string
	BalanceBefore   *int64
	BalanceAfter    *int64
}

// EventState mirrors one ledger_event row.
type EventState struct {
	ID               uuid.UUID
	LedgerID         uuid.UUID
	SequenceNumber   int64
	AggregateType    mmodel.AggregateType
	AggregateID      uuid.UUID
	AggregateVersion int64
	EventType        mmodel.EventType
	EventData        []byte
	CorrelationID    uuid.UUID
	Hash             string
	PrevHash         *string
}

// HoldState mirrors one hold row.
type HoldState struct {
	ID                   uuid.UUID
	LedgerID             uuid.UUID
	SourceAccountID      uuid.UUID
	DestinationAccountID *uuid.UUID
	Amount               int64
	CommittedAmount      *int64
	Currency             string
	Status               mmodel.HoldStatus
	Reference            string
	Description          string
	Metadata             []byte
	ExpiresAt            *time.Time
	CreatedAt            time.Time
}

// HotEntryState mirrors one hot_account_entry row.
type HotEntryState struct {
	ID              uuid.UUID
	SequenceNumber  int64
	SystemAccountID uuid.UUID
	Amount          int64 // signed
	EntryType       mmodel.EntryType
	TransactionID   uuid.UUID
	Status          mmodel.HotAccountEntryStatus
}

// BalanceVersionState mirrors one account_balance_version row.
type BalanceVersionState struct {
	AccountID    uuid.UUID
	Version      int64
	Balance      int64
	PendingDebit int64
	ChangeType   string
}

// IdempotencyState mirrors one idempotency_key row.
type IdempotencyState struct {
	Reference  string
	ResultData []byte
	ExpiresAt  time.Time
}

// FakeDB is the in-memory adapter. Transaction snapshots state and restores
// it when fn errors, so rollback semantics hold; LockOrder accumulates the
// sequence of FOR UPDATE account locks across the fake's whole lifetime so
// tests can assert the deterministic-lock-order invariant.
type FakeDB struct {
	Accounts        map[uuid.UUID]*AccountState
	Transactions    []*TransactionState
	Entries         []*EntryState
	Events          []*EventState
	Holds           map[uuid.UUID]*HoldState
	HotEntries      []*HotEntryState
	BalanceVersions []*BalanceVersionState
	Idempotency     map[string]*IdempotencyState

	LockOrder []uuid.UUID

	eventSeq int64
	hotSeq   int64
	inTx     bool
}

var _ adapter.Adapter = (*FakeDB)(nil)

// NewFakeDB builds an empty fake.
func NewFakeDB() *FakeDB {
	return &FakeDB{
		Accounts:    map[uuid.UUID]*AccountState{},
		Holds:       map[uuid.UUID]*HoldState{},
		Idempotency: map[string]*IdempotencyState{},
	}
}

// SeedAccount registers an active account with the given balance, mirroring
// a prior credit (credit_balance carries the seeded amount so invariant A1
// holds on the seeded row).
func (f *FakeDB) SeedAccount(ledgerID uuid.UUID, balance int64) uuid.UUID {
	id := uuid.New()
	f.Accounts[id] = &AccountState{
		ID:            id,
		LedgerID:      ledgerID,
		HolderID:      uuid.New(),
		HolderType:    mmodel.HolderIndividual,
		Status:        mmodel.StatusActive,
		Currency:      "USD",
		Balance:       balance,
		CreditBalance: balance,
		LockVersion:   1,
	}

	return id
}

// UserBalanceSum totals every seeded account's balance.
func (f *FakeDB) UserBalanceSum() int64 {
	var sum int64
	for _, a := range f.Accounts {
		sum += a.Balance
	}

	return sum
}

// HotPendingSum totals pending hot entries, the system-account side of the
// global zero-sum check while no aggregation cycle has run.
func (f *FakeDB) HotPendingSum() int64 {
	var sum int64
	for _, e := range f.HotEntries {
		if e.Status == mmodel.HotEntryPending {
			sum += e.Amount
		}
	}

	return sum
}

// EventsFor returns the event stream of one aggregate in version order.
func (f *FakeDB) EventsFor(aggregateID uuid.UUID) []*EventState {
	var out []*EventState

	for _, e := range f.Events {
		if e.AggregateID == aggregateID {
			out = append(out, e)
		}
	}

	return out
}

func pgUnique(constraint string) error {
	return &pgconn.PgError{Code: "23505", ConstraintName: constraint, Message: "duplicate key value violates unique constraint"}
}

// assign copies val into the scan destination, allocating for
// pointer-to-pointer destinations and converting across named types the way
// database/sql's convertAssign would.
func assign(dest, val any) {
	dv := reflect.ValueOf(dest).Elem()

	if val == nil {
		dv.Set(reflect.Zero(dv.Type()))
		return
	}

	vv := reflect.ValueOf(val)

	if dv.Kind() == reflect.Pointer && vv.Type() != dv.Type() {
		p := reflect.New(dv.Type().Elem())
		p.Elem().Set(vv.Convert(dv.Type().Elem()))
		dv.Set(p)

		return
	}

	dv.Set(vv.Convert(dv.Type()))
}

func deref[T any](p *T) any {
	if p == nil {
		return nil
	}

	return *p
}

type fakeRow struct {
	vals []any
	err  error
}

func (r *fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}

	for i, d := range dest {
		assign(d, r.vals[i])
	}

	return nil
}

type fakeRows struct {
	rows [][]any
	idx  int
}

func (r *fakeRows) Next() bool {
	r.idx++
	return r.idx <= len(r.rows)
}

func (r *fakeRows) Scan(dest ...any) error {
	for i, d := range dest {
		assign(d, r.rows[r.idx-1][i])
	}

	return nil
}

func (r *fakeRows) Err() error   { return nil }
func (r *fakeRows) Close() error { return nil }

type fakeResult struct{ n int64 }

func (r fakeResult) RowsAffected() (int64, error) { return r.n, nil }

func (f *FakeDB) Dialect() dialect.Dialect { return dialect.Postgres{} }
func (f *FakeDB) InTransaction() bool      { return f.inTx }

func (f *FakeDB) AdvisoryLock(ctx context.Context, key int64) error { return nil }

func (f *FakeDB) SetStatementTimeout(ctx context.Context, ms int64) error { return nil }
func (f *FakeDB) SetLockTimeout(ctx context.Context, ms int64) error      { return nil }

func (f *FakeDB) Transaction(ctx context.Context, fn adapter.TxFn) error {
	if f.inTx {
		return fn(ctx, f)
	}

	snap := f.snapshot()
	f.inTx = true

	err := fn(ctx, f)

	f.inTx = false

	if err != nil {
		f.restore(snap)
		return err
	}

	return nil
}

type snapshotState struct {
	accounts        map[uuid.UUID]*AccountState
	transactions    []*TransactionState
	entries         []*EntryState
	events          []*EventState
	holds           map[uuid.UUID]*HoldState
	hotEntries      []*HotEntryState
	balanceVersions []*BalanceVersionState
	idempotency     map[string]*IdempotencyState
}

func (f *FakeDB) snapshot() snapshotState {
	s := snapshotState{
		accounts:    make(map[uuid.UUID]*AccountState, len(f.Accounts)),
		holds:       make(map[uuid.UUID]*HoldState, len(f.Holds)),
		idempotency: make(map[string]*IdempotencyState, len(f.Idempotency)),
	}

	for k, v := range f.Accounts {
		cp := *v
		s.accounts[k] = &cp
	}

	for k, v := range f.Holds {
		cp := *v
		s.holds[k] = &cp
	}

	for k, v := range f.Idempotency {
		cp := *v
		s.idempotency[k] = &cp
	}

	s.transactions = append(s.transactions, f.Transactions...)
	s.entries = append(s.entries, f.Entries...)
	s.events = append(s.events, f.Events...)
	s.hotEntries = append(s.hotEntries, f.HotEntries...)
	s.balanceVersions = append(s.balanceVersions, f.BalanceVersions...)

	return s
}

func (f *FakeDB) restore(s snapshotState) {
	f.Accounts = s.accounts
	f.Holds = s.holds
	f.Idempotency = s.idempotency
	f.Transactions = s.transactions
	f.Entries = s.entries
	f.Events = s.events
	f.HotEntries = s.hotEntries
	f.BalanceVersions = s.balanceVersions
}

func (f *FakeDB) QueryRow(ctx context.Context, sqlText string, args ...any) adapter.Row {
	q := sqlText

	switch {
	case strings.Contains(q, "INSERT INTO") && strings.Contains(q, "ledger_event"):
		return f.insertEvent(args)

	case strings.Contains(q, "ledger_event"):
		// latest (version, hash) for one aggregate
		ledgerID, aggType, aggID := args[0].(uuid.UUID), args[1].(mmodel.AggregateType), args[2].(uuid.UUID)

		var last *EventState

		for _, e := range f.Events {
			if e.LedgerID == ledgerID && e.AggregateType == aggType && e.AggregateID == aggID {
				if last == nil || e.AggregateVersion > last.AggregateVersion {
					last = e
				}
			}
		}

		if last == nil {
			return &fakeRow{err: sql.ErrNoRows}
		}

		return &fakeRow{vals: []any{last.AggregateVersion, last.Hash}}

	case strings.Contains(q, "hash_snapshot"):
		return &fakeRow{err: sql.ErrNoRows}

	case strings.Contains(q, "SELECT EXISTS"):
		ledgerID, reference := args[0].(uuid.UUID), args[1].(string)

		exists := false

		for _, t := range f.Transactions {
			if t.LedgerID == ledgerID && t.Reference == reference {
				exists = true
			}
		}

		return &fakeRow{vals: []any{exists}}

	case strings.Contains(q, "idempotency_key"):
		ledgerID, key := args[0].(uuid.UUID), args[1].(string)

		rec, ok := f.Idempotency[ledgerID.String()+"|"+key]
		if !ok {
			return &fakeRow{err: sql.ErrNoRows}
		}

		return &fakeRow{vals: []any{rec.Reference, rec.ResultData, rec.ExpiresAt}}

	case strings.Contains(q, "account_balance"):
		accountID, ledgerID := args[0].(uuid.UUID), args[1].(uuid.UUID)

		a, ok := f.Accounts[accountID]
		if !ok || a.LedgerID != ledgerID {
			return &fakeRow{err: sql.ErrNoRows}
		}

		if strings.Contains(q, "FOR UPDATE") {
			f.LockOrder = append(f.LockOrder, accountID)
		}

		return &fakeRow{vals: []any{
			a.ID, a.LedgerID, a.HolderID, a.HolderType, a.Status, a.Currency, a.Balance,
			a.CreditBalance, a.DebitBalance, a.PendingCredit, a.PendingDebit, a.AllowOverdraft,
			a.OverdraftLimit, deref(a.NormalBalance), a.LockVersion,
		}}

	case strings.Contains(q, "hold") && strings.Contains(q, "SKIP LOCKED"):
		holdID, ledgerID := args[0].(uuid.UUID), args[1].(uuid.UUID)

		h, ok := f.Holds[holdID]
		if !ok || h.LedgerID != ledgerID {
			return &fakeRow{err: sql.ErrNoRows}
		}

		return &fakeRow{vals: []any{h.ID, h.LedgerID, h.SourceAccountID, h.Amount, h.Status}}

	case strings.Contains(q, `FROM`) && strings.Contains(q, "hold"):
		holdID, ledgerID := args[0].(uuid.UUID), args[1].(uuid.UUID)

		h, ok := f.Holds[holdID]
		if !ok || h.LedgerID != ledgerID {
			return &fakeRow{err: sql.ErrNoRows}
		}

		return &fakeRow{vals: []any{
			h.ID, h.LedgerID, h.SourceAccountID, deref(h.DestinationAccountID), h.Amount,
			deref(h.CommittedAmount), h.Currency, h.Status, h.Reference, h.Description,
			h.Metadata, deref(h.ExpiresAt), h.CreatedAt,
		}}

	case strings.Contains(q, "transaction_record"):
		id, ledgerID := args[0].(uuid.UUID), args[1].(uuid.UUID)

		for _, t := range f.Transactions {
			if t.ID == id && t.LedgerID == ledgerID {
				return &fakeRow{vals: []any{
					t.ID, t.LedgerID, t.Reference, t.Type, t.Status, t.Amount, t.Currency, t.Description,
					deref(t.SourceAccountID), deref(t.DestinationAccountID), t.CorrelationID, t.IsReversal,
					deref(t.ParentID), t.CreatedAt, deref(t.PostedAt), t.EffectiveDate,
				}}
			}
		}

		return &fakeRow{err: sql.ErrNoRows}

	default:
		return &fakeRow{err: fmt.Errorf("enginetest: unrecognized QueryRow: %s", q)}
	}
}

func (f *FakeDB) insertEvent(args []any) adapter.Row {
	e := &EventState{
		ID:               args[0].(uuid.UUID),
		LedgerID:         args[1].(uuid.UUID),
		AggregateType:    args[2].(mmodel.AggregateType),
		AggregateID:      args[3].(uuid.UUID),
		AggregateVersion: args[4].(int64),
		EventType:        args[5].(mmodel.EventType),
		EventData:        []byte(args[6].(json.RawMessage)),
		CorrelationID:    args[7].(uuid.UUID),
		Hash:             args[8].(string),
	}

	if p, _ := args[9].(*string); p != nil {
		v := *p
		e.PrevHash = &v
	}

	for _, existing := range f.Events {
		if existing.LedgerID == e.LedgerID && existing.AggregateType == e.AggregateType &&
			existing.AggregateID == e.AggregateID && existing.AggregateVersion == e.AggregateVersion {
			return &fakeRow{err: pgUnique("ledger_event_ledger_id_aggregate_type_aggregate_id_aggregate__key")}
		}
	}

	f.eventSeq++
	e.SequenceNumber = f.eventSeq
	f.Events = append(f.Events, e)

	return &fakeRow{vals: []any{e.SequenceNumber}}
}

func (f *FakeDB) Query(ctx context.Context, sqlText string, args ...any) (adapter.Rows, error) {
	q := sqlText

	switch {
	case strings.Contains(q, "entry_record"):
		txnID := args[0].(uuid.UUID)

		rows := &fakeRows{}

		for _, e := range f.Entries {
			if e.TransactionID == txnID {
				rows.rows = append(rows.rows, []any{
					deref(e.AccountID), deref(e.SystemAccountID), e.EntryType, e.Amount, e.Currency,
				})
			}
		}

		return rows, nil

	case strings.Contains(q, "hold") && strings.Contains(q, "'inflight'"):
		now := args[0].(time.Time)

		rows := &fakeRows{}

		for _, h := range f.Holds {
			if h.Status == mmodel.HoldInflight && h.ExpiresAt != nil && h.ExpiresAt.Before(now) {
				rows.rows = append(rows.rows, []any{h.ID, h.LedgerID})
			}
		}

		return rows, nil

	default:
		return nil, fmt.Errorf("enginetest: unrecognized Query: %s", q)
	}
}

func (f *FakeDB) Mutate(ctx context.Context, sqlText string, args ...any) (adapter.Result, error) {
	q := sqlText

	switch {
	case strings.Contains(q, "UPDATE") && strings.Contains(q, "account_balance"):
		accountID, ledgerID := args[6].(uuid.UUID), args[7].(uuid.UUID)

		a, ok := f.Accounts[accountID]
		if !ok || a.LedgerID != ledgerID || a.LockVersion != args[8].(int64) {
			return fakeResult{0}, nil
		}

		a.Balance = args[0].(int64)
		a.CreditBalance = args[1].(int64)
		a.DebitBalance = args[2].(int64)
		a.PendingDebit = args[3].(int64)
		a.LockVersion = args[4].(int64)

		return fakeResult{1}, nil

	case strings.Contains(q, "account_balance_version"):
		f.BalanceVersions = append(f.BalanceVersions, &BalanceVersionState{
			AccountID:    args[1].(uuid.UUID),
			Version:      args[3].(int64),
			Balance:      args[4].(int64),
			PendingDebit: args[7].(int64),
			ChangeType:   args[8].(string),
		})

		return fakeResult{1}, nil

	case strings.Contains(q, "transaction_record"):
		t := &TransactionState{
			ID:            args[0].(uuid.UUID),
			LedgerID:      args[1].(uuid.UUID),
			Reference:     args[2].(string),
			Type:          args[3].(mmodel.TransactionType),
			Status:        args[4].(mmodel.TransactionStatus),
			Amount:        args[5].(int64),
			Currency:      args[6].(string),
			Description:   args[7].(string),
			CorrelationID: args[10].(uuid.UUID),
			IsReversal:    args[11].(bool),
			CreatedAt:     args[14].(time.Time),
			EffectiveDate: args[16].(time.Time),
		}

		t.SourceAccountID, _ = args[8].(*uuid.UUID)
		t.DestinationAccountID, _ = args[9].(*uuid.UUID)
		t.ParentID, _ = args[12].(*uuid.UUID)
		t.PostedAt, _ = args[15].(*time.Time)

		for _, existing := range f.Transactions {
			if existing.LedgerID == t.LedgerID && existing.Reference == t.Reference {
				return nil, pgUnique("transaction_record_ledger_id_reference_key")
			}
		}

		f.Transactions = append(f.Transactions, t)

		return fakeResult{1}, nil

	case strings.Contains(q, "entry_record"):
		e := &EntryState{
			ID:            args[0].(uuid.UUID),
			LedgerID:      args[1].(uuid.UUID),
			TransactionID: args[2].(uuid.UUID),
			EntryType:     args[5].(mmodel.EntryType),
			Amount:        args[6].(int64),
			Currency:      args[7].(string),
		}

		e.AccountID, _ = args[3].(*uuid.UUID)
		e.SystemAccountID, _ = args[4].(*uuid.UUID)
		e.BalanceBefore, _ = args[8].(*int64)
		e.BalanceAfter, _ = args[9].(*int64)

		f.Entries = append(f.Entries, e)

		return fakeResult{1}, nil

	case strings.Contains(q, "hot_account_entry"):
		f.hotSeq++
		f.HotEntries = append(f.HotEntries, &HotEntryState{
			ID:              args[0].(uuid.UUID),
			SequenceNumber:  f.hotSeq,
			SystemAccountID: args[1].(uuid.UUID),
			Amount:          args[2].(int64),
			EntryType:       args[3].(mmodel.EntryType),
			TransactionID:   args[4].(uuid.UUID),
			Status:          mmodel.HotEntryPending,
		})

		return fakeResult{1}, nil

	case strings.Contains(q, "idempotency_key"):
		key, ledgerID := args[0].(string), args[1].(uuid.UUID)

		f.Idempotency[ledgerID.String()+"|"+key] = &IdempotencyState{
			Reference:  args[2].(string),
			ResultData: args[3].([]byte),
			ExpiresAt:  args[4].(time.Time),
		}

		return fakeResult{1}, nil

	case strings.Contains(q, "INSERT INTO") && strings.Contains(q, "hold"):
		h := &HoldState{
			ID:              args[0].(uuid.UUID),
			LedgerID:        args[1].(uuid.UUID),
			SourceAccountID: args[2].(uuid.UUID),
			Amount:          args[4].(int64),
			Currency:        args[6].(string),
			Status:          args[7].(mmodel.HoldStatus),
			Reference:       args[8].(string),
			Description:     args[9].(string),
			Metadata:        args[10].([]byte),
			CreatedAt:       args[12].(time.Time),
		}

		h.DestinationAccountID, _ = args[3].(*uuid.UUID)
		h.CommittedAmount, _ = args[5].(*int64)
		h.ExpiresAt, _ = args[11].(*time.Time)

		for _, existing := range f.Holds {
			if existing.LedgerID == h.LedgerID && existing.Reference == h.Reference {
				return nil, pgUnique("hold_ledger_id_reference_key")
			}
		}

		f.Holds[h.ID] = h

		return fakeResult{1}, nil

	case strings.Contains(q, "UPDATE") && strings.Contains(q, "hold") && strings.Contains(q, "committed_amount"):
		h, ok := f.Holds[args[3].(uuid.UUID)]
		if !ok {
			return fakeResult{0}, nil
		}

		h.Status = args[0].(mmodel.HoldStatus)
		h.CommittedAmount, _ = args[1].(*int64)
		h.Metadata = args[2].([]byte)

		return fakeResult{1}, nil

	case strings.Contains(q, "UPDATE") && strings.Contains(q, "hold"):
		h, ok := f.Holds[args[1].(uuid.UUID)]
		if !ok {
			return fakeResult{0}, nil
		}

		h.Status = args[0].(mmodel.HoldStatus)

		return fakeResult{1}, nil

	default:
		return nil, fmt.Errorf("enginetest: unrecognized Mutate: %s", q)
	}
}
