// Package transaction_test contains the unit tests for the transaction package.
package transaction

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ASHISH26940/helioscommit/internal/coordinator"
)

func TestManager(t *testing.T) {
	f := newFixture(t)
	m := f.manager()

	// 1. Begin a new transaction
	tx1 := m.Begin()
	if tx1.ID() == "" {
		t.Fatal("expected a transaction ID, but it was empty")
	}
	if tx1.Status() != StatusActive {
		t.Errorf("expected a new transaction to be active, got %v", tx1.Status())
	}

	// 2. Begin another transaction to ensure IDs are unique
	tx2 := m.Begin()
	if tx1.ID() == tx2.ID() {
		t.Fatal("expected transaction IDs to be unique")
	}

	// 3. Start with a caller-supplied id and isolation
	tx3, err := m.Start(WithID("my-tx"), WithIsolation(IsolationSerializable), WithStrategy(StrategyExtraWrite))
	require.NoError(t, err)
	if tx3.ID() != "my-tx" {
		t.Errorf("expected id my-tx, got %s", tx3.ID())
	}
	assert.Equal(t, IsolationSerializable, tx3.snapshot.Isolation())
	assert.Equal(t, StrategyExtraWrite, tx3.snapshot.Strategy())

	_, err = m.BeginWithID("")
	assert.True(t, errors.Is(err, ErrIllegalArgument))
	_, err = m.Start(WithIsolation(Isolation(7)))
	assert.True(t, errors.Is(err, ErrIllegalArgument))

	// 4. Transactions share the handlers of their manager
	if tx1.commit != tx2.commit || tx1.crud.recovery != tx2.crud.recovery {
		t.Error("expected transactions to share the commit and recovery handlers")
	}
	if tx1.commit != m.CommitHandler() || tx1.crud.recovery != m.RecoveryHandler() {
		t.Error("expected the manager's handlers to be used")
	}
}

func TestManager_BeginPanicsOnInvalidConfig(t *testing.T) {
	f := newFixture(t)
	cfg := f.config()
	cfg.Isolation = Isolation(7)

	m := NewManager(f.st, f.st, cfg)
	_, err := m.Start()
	assert.True(t, errors.Is(err, ErrIllegalArgument))
	assert.Panics(t, func() { m.Begin() })
	assert.Panics(t, func() { NewTwoPhaseManager(f.st, f.st, cfg).Begin() })
}

func TestManager_GetStateAndAbort(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, 1, 0, 100, 3)
	m := f.manager()

	assert.Equal(t, coordinator.StateUnknown, ledger(t, m, "missing"))

	state, err := m.Abort(ctx, "aborted-tx")
	require.NoError(t, err)
	assert.Equal(t, coordinator.StateAborted, state)
	assert.Equal(t, coordinator.StateAborted, ledger(t, m, "aborted-tx"))

	tx := m.Begin()
	_, err = tx.Get(ctx, getAccount(1))
	require.NoError(t, err)
	require.NoError(t, tx.Put(ctx, putBalance(1, 1)))
	require.NoError(t, tx.Commit(ctx))

	state, err = m.Rollback(ctx, tx.ID())
	require.NoError(t, err)
	assert.Equal(t, coordinator.StateCommitted, state, "a recorded decision is never replaced")
}

func TestManager_GetStateFailureIsUnknown(t *testing.T) {
	f := newFixture(t)
	m := NewManager(&flakyReads{Storage: f.st, failures: 100}, f.st, f.config())
	state, err := m.GetState(context.Background(), "tx")
	assert.Error(t, err)
	assert.Equal(t, coordinator.StateUnknown, state)
}

func TestTwoPhase_SuspendResume(t *testing.T) {
	tm := newFixture(t).twoPhase()

	tx := tm.Begin()
	require.NoError(t, tm.Suspend(tx))
	assert.True(t, errors.Is(tm.Suspend(tx), ErrIllegalState), "an id can only be suspended once")

	resumed, err := tm.Resume(tx.ID())
	require.NoError(t, err)
	assert.Same(t, tx, resumed)

	_, err = tm.Resume(tx.ID())
	assert.True(t, errors.Is(err, ErrTransactionNotFound), "resume removes the entry")
	_, err = tm.Join("")
	assert.True(t, errors.Is(err, ErrIllegalArgument))
}

func TestTwoPhase_SuspendResumeConcurrently(t *testing.T) {
	tm := newFixture(t).twoPhase()
	tx := tm.Begin()
	require.NoError(t, tm.Suspend(tx))

	var wg sync.WaitGroup
	var mu sync.Mutex
	resumed := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tm.Resume(tx.ID()); err == nil {
				mu.Lock()
				resumed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, resumed)
}

// TestTwoPhase_ParticipantsCommitTogether runs one transaction over two participants, each in
// its own manager, handing the coordinator's participant over through the registry.
func TestTwoPhase_ParticipantsCommitTogether(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, 1, 0, 100, 3)
	f.seed(t, 2, 0, 200, 3)
	tmA, tmB := f.twoPhase(), f.twoPhase()

	a := tmA.Begin()
	b, err := tmB.Join(a.ID())
	require.NoError(t, err)
	assert.Equal(t, a.ID(), b.ID())

	_, err = a.Get(ctx, getAccount(1))
	require.NoError(t, err)
	require.NoError(t, a.Put(ctx, putBalance(1, 70)))
	require.NoError(t, tmA.Suspend(a))

	_, err = b.Get(ctx, getAccount(2))
	require.NoError(t, err)
	require.NoError(t, b.Put(ctx, putBalance(2, 230)))

	a, err = tmA.Resume(a.ID())
	require.NoError(t, err)
	for _, p := range []*TwoPhaseTransaction{a, b} {
		require.NoError(t, p.Prepare(ctx))
	}
	for _, p := range []*TwoPhaseTransaction{a, b} {
		require.NoError(t, p.Validate(ctx))
	}
	for _, p := range []*TwoPhaseTransaction{a, b} {
		require.NoError(t, p.Commit(ctx))
	}

	assert.Equal(t, int64(70), balanceOf(f.raw(t, 1, 0)))
	assert.Equal(t, int64(230), balanceOf(f.raw(t, 2, 0)))
	assert.Equal(t, coordinator.StateCommitted, f.raw(t, 2, 0).State())
	assert.Equal(t, coordinator.StateCommitted, ledger(t, tmB, a.ID()))
	assert.True(t, errors.Is(a.Put(ctx, putBalance(1, 0)), ErrIllegalState))
}

// TestTwoPhase_SiblingWriteIsNotAValidationConflict has one participant read a record that
// another participant of the same transaction writes.
func TestTwoPhase_SiblingWriteIsNotAValidationConflict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, 1, 0, 100, 3)
	tmA, tmB := f.twoPhase(), f.twoPhase()

	a, err := tmA.Start(WithIsolation(IsolationSerializable))
	require.NoError(t, err)
	b, err := tmB.Join(a.ID(), WithIsolation(IsolationSerializable))
	require.NoError(t, err)

	_, err = a.Get(ctx, getAccount(1))
	require.NoError(t, err)
	_, err = b.Get(ctx, getAccount(1))
	require.NoError(t, err)
	require.NoError(t, b.Put(ctx, putBalance(1, 70)))

	participants := []*TwoPhaseTransaction{a, b}
	for _, p := range participants {
		require.NoError(t, p.Prepare(ctx))
	}
	for _, p := range participants {
		require.NoError(t, p.Validate(ctx))
	}
	for _, p := range participants {
		require.NoError(t, p.Commit(ctx))
	}
	raw := f.raw(t, 1, 0)
	assert.Equal(t, int64(70), balanceOf(raw))
	assert.Equal(t, coordinator.StateCommitted, raw.State())
}

func TestTwoPhase_OneParticipantConflictRollsBackAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, 1, 0, 100, 3)
	f.seed(t, 2, 0, 200, 3)
	tmA, tmB := f.twoPhase(), f.twoPhase()

	a := tmA.Begin()
	b, err := tmB.Join(a.ID())
	require.NoError(t, err)
	_, err = a.Get(ctx, getAccount(1))
	require.NoError(t, err)
	require.NoError(t, a.Put(ctx, putBalance(1, 70)))
	_, err = b.Get(ctx, getAccount(2))
	require.NoError(t, err)
	require.NoError(t, b.Put(ctx, putBalance(2, 230)))

	other := f.manager().Begin()
	_, err = other.Get(ctx, getAccount(2))
	require.NoError(t, err)
	require.NoError(t, other.Put(ctx, putBalance(2, 0)))
	require.NoError(t, other.Commit(ctx))

	require.NoError(t, a.Prepare(ctx))
	err = b.Prepare(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPreparationConflict))
	assert.True(t, errors.Is(b.Commit(ctx), ErrIllegalState), "a failed participant can only roll back")

	require.NoError(t, b.Rollback(ctx))
	require.NoError(t, a.Rollback(ctx))

	raw := f.raw(t, 1, 0)
	assert.Equal(t, int64(100), balanceOf(raw))
	assert.Equal(t, int64(3), raw.Version())
	assert.Equal(t, int64(0), balanceOf(f.raw(t, 2, 0)))
	assert.Equal(t, coordinator.StateAborted, ledger(t, tmA, a.ID()))
}

func TestTwoPhase_AbortSuspendedParticipant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, 1, 0, 100, 3)
	tm := f.twoPhase()

	tx := tm.Begin()
	_, err := tx.Get(ctx, getAccount(1))
	require.NoError(t, err)
	require.NoError(t, tx.Put(ctx, putBalance(1, 70)))
	require.NoError(t, tx.Prepare(ctx))
	require.NoError(t, tm.Suspend(tx))

	state, err := tm.Abort(ctx, tx.ID())
	require.NoError(t, err)
	assert.Equal(t, coordinator.StateAborted, state)

	_, err = tm.Resume(tx.ID())
	assert.True(t, errors.Is(err, ErrTransactionNotFound), "abort removes the participant")
	assert.Equal(t, int64(100), balanceOf(f.raw(t, 1, 0)))
	assert.Equal(t, coordinator.StateCommitted, f.raw(t, 1, 0).State())
}

func TestTwoPhase_CommitAfterAbortConflicts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, 1, 0, 100, 3)
	tm := f.twoPhase()

	tx := tm.Begin()
	_, err := tx.Get(ctx, getAccount(1))
	require.NoError(t, err)
	require.NoError(t, tx.Put(ctx, putBalance(1, 70)))
	require.NoError(t, tx.Prepare(ctx))

	_, err = f.manager().Abort(ctx, tx.ID())
	require.NoError(t, err)

	err = tx.Commit(ctx)
	assert.True(t, errors.Is(err, ErrCommitConflict))
	assert.False(t, IsRetryable(err))
	assert.Equal(t, StatusAborted, tx.Status())
	assert.Equal(t, int64(100), balanceOf(f.raw(t, 1, 0)))
}

func TestTwoPhase_SerializableMustValidate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tm := f.twoPhase()

	tx, err := tm.Start(WithIsolation(IsolationSerializable))
	require.NoError(t, err)
	require.NoError(t, tx.Put(ctx, putBalance(1, 1)))
	assert.True(t, errors.Is(tx.Validate(ctx), ErrIllegalState), "validate follows prepare")
	require.NoError(t, tx.Prepare(ctx))
	assert.True(t, errors.Is(tx.Commit(ctx), ErrIllegalState))
	require.NoError(t, tx.Validate(ctx))
	require.NoError(t, tx.Commit(ctx))
	assert.True(t, errors.Is(tx.Rollback(ctx), ErrIllegalState), "a committed transaction cannot roll back")
}

func TestTwoPhase_RollbackBeforePrepareRecordsAbort(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tm := f.twoPhase()

	tx := tm.Begin()
	require.NoError(t, tx.Put(ctx, putBalance(1, 1)))
	require.NoError(t, tx.Rollback(ctx))
	assert.Nil(t, f.raw(t, 1, 0))
	assert.Equal(t, coordinator.StateAborted, ledger(t, tm, tx.ID()), "other participants must not commit")
}
