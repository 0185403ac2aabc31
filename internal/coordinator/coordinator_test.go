package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ASHISH26940/helioscommit/internal/storage"
	"github.com/ASHISH26940/helioscommit/internal/store"
)

func newCoordinator(t *testing.T, opts ...Option) *Coordinator {
	t.Helper()
	s := store.NewStore()
	t.Cleanup(func() { s.Close() })
	require.NoError(t, CreateTable(context.Background(), s, DefaultNamespace))
	return New(s, opts...)
}

func TestCreateTable_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := store.NewStore()
	require.NoError(t, CreateTable(ctx, s, "ledger"))
	require.NoError(t, CreateTable(ctx, s, "ledger"))

	md, err := s.TableMetadata(ctx, storage.TableRef{Namespace: "ledger", Table: TableName})
	require.NoError(t, err)
	require.NotNil(t, md)
	assert.Equal(t, []string{ColumnID}, md.PartitionKeys)
}

func TestCoordinator_GetStateAbsent(t *testing.T) {
	c := newCoordinator(t)
	s, err := c.GetState(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestCoordinator_PutThenGet(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)
	c := newCoordinator(t, WithClock(func() time.Time { return now }))

	require.NoError(t, c.PutState(ctx, State{TxID: "tx-1", Status: StateCommitted}))
	s, err := c.GetState(ctx, "tx-1")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, StateCommitted, s.Status)
	assert.Equal(t, now.UnixMilli(), s.CreatedAt)
}

func TestCoordinator_SameDecisionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(t)
	require.NoError(t, c.PutState(ctx, State{TxID: "tx-1", Status: StateAborted}))
	require.NoError(t, c.PutState(ctx, State{TxID: "tx-1", Status: StateAborted}))
}

func TestCoordinator_DifferentDecisionConflicts(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(t)
	require.NoError(t, c.PutState(ctx, State{TxID: "tx-1", Status: StateCommitted}))

	err := c.PutState(ctx, State{TxID: "tx-1", Status: StateAborted})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCoordinatorConflict))
	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, StateCommitted, conflict.Existing)

	s, err := c.GetState(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, s.Status, "the first decision is immutable")
}

func TestCoordinator_RejectsNonDecision(t *testing.T) {
	c := newCoordinator(t)
	assert.Error(t, c.PutState(context.Background(), State{TxID: "tx-1", Status: StatePrepared}))
}

// TestCoordinator_RacingDecisions lets one goroutine per decision race on the same id.
// Exactly one decision is recorded and every writer of that decision sees success.
func TestCoordinator_RacingDecisions(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(t)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := StateCommitted
			if i%2 == 1 {
				status = StateAborted
			}
			errs[i] = c.PutState(ctx, State{TxID: "tx-race", Status: status})
		}(i)
	}
	wg.Wait()

	s, err := c.GetState(ctx, "tx-race")
	require.NoError(t, err)
	require.NotNil(t, s)
	for i, err := range errs {
		attempted := StateCommitted
		if i%2 == 1 {
			attempted = StateAborted
		}
		if attempted == s.Status {
			assert.NoError(t, err)
		} else {
			assert.True(t, errors.Is(err, ErrCoordinatorConflict))
		}
	}
}

type flakyStorage struct {
	storage.Storage
	failures int
}

func (f *flakyStorage) Get(ctx context.Context, get *storage.Get) (*storage.Record, error) {
	if f.failures > 0 {
		f.failures--
		return nil, storage.ErrRetriable
	}
	return f.Storage.Get(ctx, get)
}

func TestCoordinator_GetStateRetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	s := store.NewStore()
	require.NoError(t, CreateTable(ctx, s, DefaultNamespace))
	require.NoError(t, New(s).PutState(ctx, State{TxID: "tx-1", Status: StateCommitted}))

	flaky := &flakyStorage{Storage: s, failures: 2}
	got, err := New(flaky, WithReadRetries(3)).GetState(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, got.Status)

	flaky.failures = 5
	_, err = New(flaky, WithReadRetries(2)).GetState(ctx, "tx-1")
	assert.True(t, errors.Is(err, storage.ErrRetriable))
}
