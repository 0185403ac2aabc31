package transaction

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/ASHISH26940/helioscommit/internal/storage"
)

// Status is the position of a transaction in its life cycle.
type Status int

const (
	StatusActive Status = iota
	StatusPrepared
	StatusValidated
	StatusCommitted
	StatusAborted
	// StatusUnknown follows a commit whose decision could not be confirmed.
	StatusUnknown
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusPrepared:
		return "PREPARED"
	case StatusValidated:
		return "VALIDATED"
	case StatusCommitted:
		return "COMMITTED"
	case StatusAborted:
		return "ABORTED"
	}
	return "UNKNOWN"
}

// base holds what one-phase and two-phase transactions share.
type base struct {
	snapshot *Snapshot
	crud     *crudHandler
	commit   *CommitHandler
	status   Status
	// failed is set when prepare or validation failed. Only rollback is allowed afterwards.
	failed bool
	logger *zap.Logger
}

func (b *base) ID() string { return b.snapshot.id }

func (b *base) Status() Status { return b.status }

func (b *base) illegal(op string) error {
	return newError(ErrIllegalState, b.snapshot.id, op+" is not allowed in state "+b.status.String(), nil)
}

func (b *base) checkActive(op string) error {
	if b.status != StatusActive || b.failed {
		return b.illegal(op)
	}
	return nil
}

// Get reads one record. It returns nil when the record does not exist.
func (b *base) Get(ctx context.Context, get *storage.Get) (*Result, error) {
	if err := b.checkActive("get"); err != nil {
		return nil, err
	}
	return b.crud.get(ctx, get)
}

func (b *base) Scan(ctx context.Context, scan *storage.Scan) ([]*Result, error) {
	if err := b.checkActive("scan"); err != nil {
		return nil, err
	}
	return b.crud.scan(ctx, scan)
}

// Put buffers a write. Nothing reaches storage before prepare.
func (b *base) Put(ctx context.Context, put *storage.Put) error {
	if err := b.checkActive("put"); err != nil {
		return err
	}
	return b.crud.put(ctx, put)
}

func (b *base) Delete(ctx context.Context, del *storage.Delete) error {
	if err := b.checkActive("delete"); err != nil {
		return err
	}
	return b.crud.delete(ctx, del)
}

func (b *base) Mutate(ctx context.Context, mutations []storage.Mutation) error {
	if err := b.checkActive("mutate"); err != nil {
		return err
	}
	return b.crud.mutate(ctx, mutations)
}

// decide writes the COMMITTED decision and applies the prepared records.
func (b *base) decide(ctx context.Context) error {
	if err := b.commit.CommitState(ctx, b.snapshot); err != nil {
		if errors.Is(err, ErrCommitConflict) {
			b.status = StatusAborted
			b.commit.metrics.Transaction("aborted")
		} else {
			b.status = StatusUnknown
		}
		return err
	}
	b.commit.CommitRecords(ctx, b.snapshot)
	b.status = StatusCommitted
	b.commit.metrics.Transaction("committed")
	return nil
}

func (b *base) rollback(ctx context.Context, always bool) error {
	switch b.status {
	case StatusAborted:
		return nil
	case StatusCommitted, StatusUnknown:
		return b.illegal("rollback")
	}
	if err := b.commit.Rollback(ctx, b.snapshot, always); err != nil {
		return err
	}
	b.status = StatusAborted
	b.commit.metrics.Transaction("aborted")
	return nil
}

// Transaction is a one-phase transaction: Commit prepares, validates and decides in one call.
type Transaction struct {
	base
}

// Commit prepares every buffered write, validates the reads of a serializable transaction and
// records the decision. A conflict rolls the transaction back before the error is returned.
func (t *Transaction) Commit(ctx context.Context) error {
	if err := t.checkActive("commit"); err != nil {
		return err
	}
	if err := t.commit.Prepare(ctx, t.snapshot); err != nil {
		return t.abortAfter(ctx, err)
	}
	if err := t.commit.Validate(ctx, t.snapshot); err != nil {
		return t.abortAfter(ctx, err)
	}
	if len(t.snapshot.prepared) == 0 {
		t.status = StatusCommitted
		t.commit.metrics.Transaction("committed")
		return nil
	}
	return t.decide(ctx)
}

func (t *Transaction) abortAfter(ctx context.Context, cause error) error {
	t.failed = true
	if err := t.rollback(ctx, false); err != nil {
		t.logger.Warn("rollback after a failed commit did not complete, leaving records to recovery",
			zap.String("tx_id", t.ID()), zap.Error(err))
	}
	return cause
}

// Rollback discards the transaction. Before prepare it leaves no trace.
func (t *Transaction) Rollback(ctx context.Context) error {
	return t.rollback(ctx, false)
}

// TwoPhaseTransaction is one participant of a transaction that may span several participants
// sharing an id. Every participant must prepare before any commits.
type TwoPhaseTransaction struct {
	base
	manager *TwoPhaseManager
}

func (t *TwoPhaseTransaction) Prepare(ctx context.Context) error {
	if err := t.checkActive("prepare"); err != nil {
		return err
	}
	if err := t.commit.Prepare(ctx, t.snapshot); err != nil {
		t.failed = true
		return err
	}
	t.status = StatusPrepared
	return nil
}

// Validate checks the reads of a serializable transaction. It is a no-op for other isolation
// levels but still has to follow Prepare.
func (t *TwoPhaseTransaction) Validate(ctx context.Context) error {
	if t.status != StatusPrepared || t.failed {
		return t.illegal("validate")
	}
	if err := t.commit.Validate(ctx, t.snapshot); err != nil {
		t.failed = true
		return err
	}
	t.status = StatusValidated
	return nil
}

// Commit records the decision and applies this participant's records. The first participant
// to commit writes the decision; the others observe it.
func (t *TwoPhaseTransaction) Commit(ctx context.Context) error {
	if t.failed || (t.status != StatusPrepared && t.status != StatusValidated) {
		return t.illegal("commit")
	}
	if t.snapshot.serializableWith(StrategyExtraRead) && t.status != StatusValidated {
		return newError(ErrIllegalState, t.ID(), "a serializable transaction must validate before commit", nil)
	}
	defer t.manager.forget(t)
	return t.decide(ctx)
}

// Rollback records the ABORTED decision and undoes this participant's records.
func (t *TwoPhaseTransaction) Rollback(ctx context.Context) error {
	if err := t.rollback(ctx, true); err != nil {
		return err
	}
	t.manager.forget(t)
	return nil
}
