// Package store_test contains the unit tests for the store package.
package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ASHISH26940/helioscommit/internal/storage"
	"github.com/ASHISH26940/helioscommit/internal/storage/storagetest"
)

var counters = storage.TableRef{Namespace: "test", Table: "counters"}

func counterMetadata() *storage.TableMetadata {
	return &storage.TableMetadata{
		PartitionKeys: []string{"name"},
		Columns: map[string]storage.DataType{
			"name":    storage.TypeText,
			"version": storage.TypeBigInt,
		},
	}
}

func TestStore_Conformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storagetest.Backend { return NewStore() })
}

func TestStore_JournalConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storagetest.Backend {
		s, err := Open(filepath.Join(t.TempDir(), "store.wal"))
		require.NoError(t, err)
		return s
	})
}

// TestStore_JournalReplay checks that a reopened store sees every acknowledged change.
func TestStore_JournalReplay(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.wal")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.CreateTable(ctx, counters, counterMetadata()))
	key := storage.Key{storage.Col("name", storage.TextValue("a"))}
	gone := storage.Key{storage.Col("name", storage.TextValue("b"))}
	for i := int64(1); i <= 3; i++ {
		require.NoError(t, s.Put(ctx, &storage.Put{Table: counters, Partition: key,
			Values: storage.Columns{"version": storage.BigIntValue(i)}}))
	}
	require.NoError(t, s.Put(ctx, &storage.Put{Table: counters, Partition: gone}))
	require.NoError(t, s.Delete(ctx, &storage.Delete{Table: counters, Partition: gone}))
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	r, err := reopened.Get(ctx, &storage.Get{Table: counters, Partition: key})
	require.NoError(t, err)
	require.NotNil(t, r)
	if r.Values["version"].Int != 3 {
		t.Errorf("expected version 3 after replay, got %d", r.Values["version"].Int)
	}
	r, err = reopened.Get(ctx, &storage.Get{Table: counters, Partition: gone})
	require.NoError(t, err)
	if r != nil {
		t.Errorf("expected deleted record to stay deleted after replay")
	}
}

func TestStore_DumpLoad(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.CreateTable(ctx, counters, counterMetadata()))
	key := storage.Key{storage.Col("name", storage.TextValue("a"))}
	require.NoError(t, s.Put(ctx, &storage.Put{Table: counters, Partition: key,
		Values: storage.Columns{"version": storage.BigIntValue(7)}}))

	data, err := s.Dump()
	require.NoError(t, err)

	restored := NewStore()
	require.NoError(t, restored.Load(data))
	r, err := restored.Get(ctx, &storage.Get{Table: counters, Partition: key})
	require.NoError(t, err)
	require.NotNil(t, r)
	require.Equal(t, int64(7), r.Values["version"].Int)
}

// TestStore_ConcurrentCompareAndSet races goroutines on one record; each increment is guarded
// by the version it read, so no increment may be lost.
func TestStore_ConcurrentCompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.CreateTable(ctx, counters, counterMetadata()))
	key := storage.Key{storage.Col("name", storage.TextValue("shared"))}
	require.NoError(t, s.Put(ctx, &storage.Put{Table: counters, Partition: key,
		Values: storage.Columns{"version": storage.BigIntValue(0)}}))

	var wg sync.WaitGroup
	numGoroutines := 20
	numIncrements := 50
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			done := 0
			for done < numIncrements {
				r, err := s.Get(ctx, &storage.Get{Table: counters, Partition: key})
				if err != nil {
					t.Error(err)
					return
				}
				v := r.Values["version"].Int
				err = s.Put(ctx, &storage.Put{
					Table:     counters,
					Partition: key,
					Values:    storage.Columns{"version": storage.BigIntValue(v + 1)},
					Condition: storage.PutIf(storage.Eq("version", storage.BigIntValue(v))),
				})
				if errors.Is(err, storage.ErrNoMutation) {
					continue
				}
				if err != nil {
					t.Error(err)
					return
				}
				done++
			}
		}()
	}
	wg.Wait()

	r, err := s.Get(ctx, &storage.Get{Table: counters, Partition: key})
	require.NoError(t, err)
	if got, want := r.Values["version"].Int, int64(numGoroutines*numIncrements); got != want {
		t.Errorf("expected version %d, got %d", want, got)
	}
}
