package transaction

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ASHISH26940/helioscommit/internal/coordinator"
	"github.com/ASHISH26940/helioscommit/internal/storage"
	"github.com/ASHISH26940/helioscommit/internal/store"
)

var accounts = storage.TableRef{Namespace: "bank", Table: "accounts"}

func accountsMetadata() *storage.TableMetadata {
	return &storage.TableMetadata{
		PartitionKeys:  []string{"id"},
		ClusteringKeys: []string{"type"},
		Columns: map[string]storage.DataType{
			"id":      storage.TypeInt,
			"type":    storage.TypeInt,
			"balance": storage.TypeBigInt,
			"note":    storage.TypeText,
		},
		SecondaryIndexes: []string{"note"},
	}
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	st    *store.Store
	clock *testClock
	md    *TransactionTableMetadata
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := store.NewStore()
	t.Cleanup(func() { st.Close() })
	md, err := BuildTransactionTableMetadata(accountsMetadata())
	require.NoError(t, err)
	require.NoError(t, st.CreateTable(ctx, accounts, md))
	require.NoError(t, coordinator.CreateTable(ctx, st, coordinator.DefaultNamespace))

	f := &fixture{st: st, clock: &testClock{now: time.UnixMilli(1_700_000_000_000)}}
	f.md, err = NewMetadataManager(st, 0, 0).Get(ctx, accounts)
	require.NoError(t, err)
	return f
}

func (f *fixture) config() Config {
	cfg := DefaultConfig()
	cfg.LeaseWindow = time.Second
	return cfg
}

func (f *fixture) manager() *Manager {
	return NewManager(f.st, f.st, f.config(), WithClock(f.clock.Now))
}

func (f *fixture) twoPhase() *TwoPhaseManager {
	return NewTwoPhaseManager(f.st, f.st, f.config(), WithClock(f.clock.Now))
}

func pk(id int32) storage.Key  { return storage.Key{storage.Col("id", storage.IntValue(id))} }
func ck(typ int32) storage.Key { return storage.Key{storage.Col("type", storage.IntValue(typ))} }

func getAccount(id int32) *storage.Get {
	return &storage.Get{Table: accounts, Partition: pk(id), Clustering: ck(0)}
}

func putBalance(id int32, balance int64) *storage.Put {
	return &storage.Put{
		Table:      accounts,
		Partition:  pk(id),
		Clustering: ck(0),
		Values:     storage.Columns{"balance": storage.BigIntValue(balance)},
	}
}

// seed stores a committed record directly, as if version writes had already happened.
func (f *fixture) seed(t *testing.T, id, typ int32, balance int64, version int32) {
	t.Helper()
	err := f.st.Put(context.Background(), &storage.Put{
		Table:      accounts,
		Partition:  pk(id),
		Clustering: ck(typ),
		Values: storage.Columns{
			"balance":   storage.BigIntValue(balance),
			"note":      storage.TextValue("seed"),
			ID:          storage.TextValue("seed"),
			State:       stateValue(coordinator.StateCommitted),
			Version:     storage.IntValue(version),
			PreparedAt:  storage.BigIntValue(f.clock.Now().UnixMilli()),
			CommittedAt: storage.BigIntValue(f.clock.Now().UnixMilli()),
		},
	})
	require.NoError(t, err)
}

// raw returns the stored record with its hidden columns, or nil.
func (f *fixture) raw(t *testing.T, id, typ int32) *TransactionResult {
	t.Helper()
	rec, err := f.st.Get(context.Background(), &storage.Get{Table: accounts, Partition: pk(id), Clustering: ck(typ)})
	require.NoError(t, err)
	r, err := DecodeResult(rec, f.md)
	require.NoError(t, err)
	return r
}

// setNote overwrites the note of a stored record, leaving its hidden columns alone.
func (f *fixture) setNote(t *testing.T, id int32, note string) {
	t.Helper()
	require.NoError(t, f.st.Put(context.Background(), &storage.Put{Table: accounts, Partition: pk(id), Clustering: ck(0),
		Values: storage.Columns{"note": storage.TextValue(note)}}))
}

func noteIndex(note string) *storage.Column {
	c := storage.Col("note", storage.TextValue(note))
	return &c
}

func balanceOf(r *TransactionResult) int64 {
	v, _ := r.Value("balance")
	return v.Int
}

func ledger(t *testing.T, m interface {
	GetState(context.Context, string) (coordinator.TransactionState, error)
}, id string) coordinator.TransactionState {
	t.Helper()
	s, err := m.GetState(context.Background(), id)
	require.NoError(t, err)
	return s
}
