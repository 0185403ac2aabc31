// Package coordinator implements the transaction ledger: one record per transaction id holding
// the final COMMITTED or ABORTED decision. It is the only source of truth for the outcome of a
// transaction. Every operation is a single-record storage operation.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ASHISH26940/helioscommit/internal/storage"
)

const (
	DefaultNamespace = "coordinator"
	TableName        = "state"

	ColumnID        = "tx_id"
	ColumnState     = "tx_state"
	ColumnCreatedAt = "tx_created_at"
)

// TransactionState is shared by ledger entries and transactional records.
type TransactionState int

const (
	StatePrepared TransactionState = iota + 1
	StateDeleted
	StateCommitted
	StateAborted
	StateUnknown
)

func (s TransactionState) String() string {
	switch s {
	case StatePrepared:
		return "PREPARED"
	case StateDeleted:
		return "DELETED"
	case StateCommitted:
		return "COMMITTED"
	case StateAborted:
		return "ABORTED"
	case StateUnknown:
		return "UNKNOWN"
	}
	return fmt.Sprintf("TransactionState(%d)", int(s))
}

// ErrCoordinatorConflict is returned when a different decision is already recorded.
var ErrCoordinatorConflict = errors.New("coordinator: a different decision is already recorded")

// ConflictError carries the decision that won.
type ConflictError struct {
	TxID      string
	Existing  TransactionState
	Attempted TransactionState
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("coordinator: transaction %s is already %v, cannot record %v", e.TxID, e.Existing, e.Attempted)
}

func (e *ConflictError) Unwrap() error { return ErrCoordinatorConflict }

// State is a ledger entry. CreatedAt is in milliseconds since the epoch.
type State struct {
	TxID      string
	Status    TransactionState
	CreatedAt int64
}

// Coordinator reads and writes ledger entries.
type Coordinator struct {
	storage     storage.Storage
	table       storage.TableRef
	readRetries int
	now         func() time.Time
	logger      *zap.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithNamespace places the ledger table in namespace.
func WithNamespace(namespace string) Option {
	return func(c *Coordinator) { c.table.Namespace = namespace }
}

// WithReadRetries bounds the attempts of a ledger read that fails transiently.
func WithReadRetries(n int) Option {
	return func(c *Coordinator) { c.readRetries = n }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithClock overrides the source of CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func New(st storage.Storage, opts ...Option) *Coordinator {
	c := &Coordinator{
		storage:     st,
		table:       storage.TableRef{Namespace: DefaultNamespace, Table: TableName},
		readRetries: 3,
		now:         time.Now,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Metadata is the layout of the ledger table.
func Metadata() *storage.TableMetadata {
	return &storage.TableMetadata{
		PartitionKeys: []string{ColumnID},
		Columns: map[string]storage.DataType{
			ColumnID:        storage.TypeText,
			ColumnState:     storage.TypeInt,
			ColumnCreatedAt: storage.TypeBigInt,
		},
	}
}

// CreateTable bootstraps the ledger table in namespace. It is a no-op when the table exists.
func CreateTable(ctx context.Context, admin storage.Admin, namespace string) error {
	ref := storage.TableRef{Namespace: namespace, Table: TableName}
	md, err := admin.TableMetadata(ctx, ref)
	if err != nil {
		return pkgerrors.Wrap(err, "look up coordinator table")
	}
	if md != nil {
		return nil
	}
	return pkgerrors.Wrap(admin.CreateTable(ctx, ref, Metadata()), "create coordinator table")
}

func (c *Coordinator) key(id string) storage.Key {
	return storage.Key{storage.Col(ColumnID, storage.TextValue(id))}
}

// GetState returns the decision recorded for id, or nil when there is none yet.
func (c *Coordinator) GetState(ctx context.Context, id string) (*State, error) {
	var rec *storage.Record
	err := storage.RetryRead(ctx, c.readRetries, func() error {
		var err error
		rec, err = c.storage.Get(ctx, &storage.Get{Table: c.table, Partition: c.key(id)})
		return err
	})
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "get state of %s", id)
	}
	if rec == nil {
		return nil, nil
	}
	return &State{
		TxID:      id,
		Status:    TransactionState(rec.Values[ColumnState].Int),
		CreatedAt: rec.Values[ColumnCreatedAt].Int,
	}, nil
}

// PutState records a decision. The first writer wins: when a decision already exists, PutState
// succeeds if it is the same one and fails with a *ConflictError otherwise. The write itself is
// never retried.
func (c *Coordinator) PutState(ctx context.Context, s State) error {
	if s.Status != StateCommitted && s.Status != StateAborted {
		return pkgerrors.Errorf("coordinator: %v is not a decision", s.Status)
	}
	createdAt := s.CreatedAt
	if createdAt == 0 {
		createdAt = c.now().UnixMilli()
	}
	err := c.storage.Put(ctx, &storage.Put{
		Table:     c.table,
		Partition: c.key(s.TxID),
		Values: storage.Columns{
			ColumnState:     storage.IntValue(int32(s.Status)),
			ColumnCreatedAt: storage.BigIntValue(createdAt),
		},
		Condition: storage.PutIfNotExists(),
	})
	if err == nil {
		c.logger.Debug("recorded decision", zap.String("tx_id", s.TxID), zap.Stringer("state", s.Status))
		return nil
	}
	if !errors.Is(err, storage.ErrNoMutation) {
		return pkgerrors.Wrapf(err, "put state of %s", s.TxID)
	}

	existing, gerr := c.GetState(ctx, s.TxID)
	if gerr != nil {
		return pkgerrors.Wrapf(gerr, "read back state of %s", s.TxID)
	}
	if existing == nil {
		return pkgerrors.Errorf("coordinator: state of %s vanished after a conflicting write", s.TxID)
	}
	if existing.Status == s.Status {
		return nil
	}
	return &ConflictError{TxID: s.TxID, Existing: existing.Status, Attempted: s.Status}
}
