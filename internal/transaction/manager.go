// Package transaction implements Consensus Commit: multi-record transactions over storage that
// only offers single-record conditional writes.
package transaction

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ASHISH26940/helioscommit/internal/coordinator"
	"github.com/ASHISH26940/helioscommit/internal/storage"
)

// StartOption overrides the configured defaults of one transaction.
type StartOption func(*startOptions)

type startOptions struct {
	id        string
	isolation Isolation
	strategy  Strategy
}

// WithID starts the transaction under a caller-supplied id.
func WithID(id string) StartOption {
	return func(o *startOptions) { o.id = id }
}

func WithIsolation(i Isolation) StartOption {
	return func(o *startOptions) { o.isolation = i }
}

func WithStrategy(s Strategy) StartOption {
	return func(o *startOptions) { o.strategy = s }
}

// core is what both managers share: one ledger handle, one metadata cache and one instance of
// each handler.
type core struct {
	storage     storage.Storage
	cfg         Config
	coordinator *coordinator.Coordinator
	metadata    *MetadataManager
	recovery    *RecoveryHandler
	commit      *CommitHandler
	logger      *zap.Logger
}

func newCore(st storage.Storage, admin storage.Admin, cfg Config, opts []HandlerOption) *core {
	opts = append([]HandlerOption{withReadRetries(cfg.ReadRetries)}, opts...)
	o := newHandlerOptions(opts)
	namespace := cfg.CoordinatorNamespace
	if namespace == "" {
		namespace = coordinator.DefaultNamespace
	}
	coord := coordinator.New(st,
		coordinator.WithNamespace(namespace),
		coordinator.WithReadRetries(o.readRetries),
		coordinator.WithClock(o.now),
		coordinator.WithLogger(o.logger),
	)
	md := NewMetadataManager(admin, cfg.MetadataCacheSize, cfg.MetadataCacheTTL)
	return &core{
		storage:     st,
		cfg:         cfg,
		coordinator: coord,
		metadata:    md,
		recovery:    NewRecoveryHandler(st, coord, cfg.LeaseWindow, opts...),
		commit:      NewCommitHandler(st, coord, md, cfg.ParallelPrepare, cfg.ParallelCommit, opts...),
		logger:      o.logger,
	}
}

func (c *core) options(opts []StartOption) (startOptions, error) {
	o := startOptions{isolation: c.cfg.Isolation, strategy: c.cfg.Strategy}
	for _, opt := range opts {
		opt(&o)
	}
	if o.isolation != IsolationSnapshot && o.isolation != IsolationSerializable {
		return o, newError(ErrIllegalArgument, o.id, "unknown isolation level", nil)
	}
	if o.strategy != StrategyExtraRead && o.strategy != StrategyExtraWrite {
		return o, newError(ErrIllegalArgument, o.id, "unknown serializable strategy", nil)
	}
	if o.id == "" {
		o.id = uuid.NewString()
	}
	return o, nil
}

func (c *core) newBase(o startOptions) base {
	snap := NewSnapshot(o.id, o.isolation, o.strategy)
	return base{
		snapshot: snap,
		crud: &crudHandler{
			storage:     c.storage,
			metadata:    c.metadata,
			recovery:    c.recovery,
			snapshot:    snap,
			readRetries: c.recovery.readRetries,
		},
		commit: c.commit,
		status: StatusActive,
		logger: c.logger,
	}
}

// GetState returns the recorded decision for id: COMMITTED, ABORTED, or UNKNOWN when there is
// none yet or the ledger cannot be read.
func (c *core) GetState(ctx context.Context, id string) (coordinator.TransactionState, error) {
	s, err := c.coordinator.GetState(ctx, id)
	if err != nil {
		return coordinator.StateUnknown, err
	}
	if s == nil {
		return coordinator.StateUnknown, nil
	}
	return s.Status, nil
}

// Abort records the ABORTED decision for id unless another decision exists already, and
// returns the decision that holds.
func (c *core) Abort(ctx context.Context, id string) (coordinator.TransactionState, error) {
	return c.commit.Abort(ctx, id)
}

// Rollback is Abort.
func (c *core) Rollback(ctx context.Context, id string) (coordinator.TransactionState, error) {
	return c.Abort(ctx, id)
}

func (c *core) CommitHandler() *CommitHandler     { return c.commit }
func (c *core) RecoveryHandler() *RecoveryHandler { return c.recovery }
func (c *core) Coordinator() *coordinator.Coordinator {
	return c.coordinator
}

// Manager creates one-phase transactions.
type Manager struct {
	*core
}

func NewManager(st storage.Storage, admin storage.Admin, cfg Config, opts ...HandlerOption) *Manager {
	return &Manager{core: newCore(st, admin, cfg, opts)}
}

// Begin starts a transaction with a fresh id and the configured isolation. It panics when the
// manager's Config names an unknown isolation level or strategy; use Start to get the error.
func (m *Manager) Begin() *Transaction {
	tx, err := m.Start()
	if err != nil {
		panic("transaction: invalid manager config: " + err.Error())
	}
	return tx
}

func (m *Manager) BeginWithID(id string) (*Transaction, error) {
	if id == "" {
		return nil, newError(ErrIllegalArgument, "", "transaction id must not be empty", nil)
	}
	return m.Start(WithID(id))
}

func (m *Manager) Start(opts ...StartOption) (*Transaction, error) {
	o, err := m.options(opts)
	if err != nil {
		return nil, err
	}
	return &Transaction{base: m.newBase(o)}, nil
}

// TwoPhaseManager creates participants of transactions that span call or process boundaries.
// Suspended participants wait in a registry keyed by transaction id.
type TwoPhaseManager struct {
	*core

	mu        sync.Mutex
	suspended map[string]*TwoPhaseTransaction
}

func NewTwoPhaseManager(st storage.Storage, admin storage.Admin, cfg Config, opts ...HandlerOption) *TwoPhaseManager {
	return &TwoPhaseManager{
		core:      newCore(st, admin, cfg, opts),
		suspended: make(map[string]*TwoPhaseTransaction),
	}
}

// Begin starts a transaction as its coordinating participant. Like Manager.Begin it panics
// on an invalid Config.
func (m *TwoPhaseManager) Begin() *TwoPhaseTransaction {
	tx, err := m.Start()
	if err != nil {
		panic("transaction: invalid manager config: " + err.Error())
	}
	return tx
}

func (m *TwoPhaseManager) BeginWithID(id string) (*TwoPhaseTransaction, error) {
	if id == "" {
		return nil, newError(ErrIllegalArgument, "", "transaction id must not be empty", nil)
	}
	return m.Start(WithID(id))
}

func (m *TwoPhaseManager) Start(opts ...StartOption) (*TwoPhaseTransaction, error) {
	o, err := m.options(opts)
	if err != nil {
		return nil, err
	}
	return &TwoPhaseTransaction{base: m.newBase(o), manager: m}, nil
}

// Join creates a new participant of the transaction id with an empty snapshot of its own.
func (m *TwoPhaseManager) Join(id string, opts ...StartOption) (*TwoPhaseTransaction, error) {
	if id == "" {
		return nil, newError(ErrIllegalArgument, "", "transaction id must not be empty", nil)
	}
	return m.Start(append(opts, WithID(id))...)
}

// Suspend parks tx in the registry until Resume. Only one participant per id can be parked.
func (m *TwoPhaseManager) Suspend(tx *TwoPhaseTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.suspended[tx.ID()]; ok {
		return newError(ErrIllegalState, tx.ID(), "a participant of the transaction is already suspended", nil)
	}
	m.suspended[tx.ID()] = tx
	return nil
}

// Resume takes the participant parked under id out of the registry.
func (m *TwoPhaseManager) Resume(id string) (*TwoPhaseTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.suspended[id]
	if !ok {
		return nil, newError(ErrTransactionNotFound, id, "no suspended participant", nil)
	}
	delete(m.suspended, id)
	return tx, nil
}

// forget drops tx from the registry if it is the participant parked there.
func (m *TwoPhaseManager) forget(tx *TwoPhaseTransaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.suspended[tx.ID()] == tx {
		delete(m.suspended, tx.ID())
	}
}

// Abort records the ABORTED decision for id. A participant suspended under id is removed and,
// when the decision is ABORTED, its prepared records are rolled back.
func (m *TwoPhaseManager) Abort(ctx context.Context, id string) (coordinator.TransactionState, error) {
	m.mu.Lock()
	tx := m.suspended[id]
	delete(m.suspended, id)
	m.mu.Unlock()

	state, err := m.core.Abort(ctx, id)
	if tx != nil && state == coordinator.StateAborted {
		m.commit.RollbackRecords(ctx, tx.snapshot)
		tx.status = StatusAborted
	}
	return state, err
}

func (m *TwoPhaseManager) Rollback(ctx context.Context, id string) (coordinator.TransactionState, error) {
	return m.Abort(ctx, id)
}
