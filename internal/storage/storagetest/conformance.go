// Package storagetest holds the behaviour every storage backend must share. Backend tests call
// Run with a constructor for a fresh, empty backend.
package storagetest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ASHISH26940/helioscommit/internal/storage"
)

// Backend is what a conformance run needs from a backend.
type Backend interface {
	storage.Storage
	storage.Admin
}

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

func pk(id int32) storage.Key  { return storage.Key{storage.Col("id", storage.IntValue(id))} }
func ck(typ int32) storage.Key { return storage.Key{storage.Col("type", storage.IntValue(typ))} }

func put(id, typ int32, balance int64) *storage.Put {
	return &storage.Put{
		Table:      accounts,
		Partition:  pk(id),
		Clustering: ck(typ),
		Values:     storage.Columns{"balance": storage.BigIntValue(balance)},
	}
}

func balance(t *testing.T, r *storage.Record) int64 {
	t.Helper()
	require.NotNil(t, r)
	v, ok := r.Value("balance")
	require.True(t, ok)
	return v.Int
}

// Run executes the conformance suite. newBackend must return an empty backend; it is closed
// by the suite.
func Run(t *testing.T, newBackend func(t *testing.T) Backend) {
	ctx := context.Background()
	setup := func(t *testing.T) Backend {
		b := newBackend(t)
		t.Cleanup(func() { b.Close() })
		require.NoError(t, b.CreateTable(ctx, accounts, accountsMetadata()))
		return b
	}

	t.Run("Metadata", func(t *testing.T) {
		b := setup(t)
		md, err := b.TableMetadata(ctx, accounts)
		require.NoError(t, err)
		require.NotNil(t, md)
		assert.Equal(t, []string{"id"}, md.PartitionKeys)
		assert.Equal(t, storage.TypeBigInt, md.Columns["balance"])

		md, err = b.TableMetadata(ctx, storage.TableRef{Namespace: "bank", Table: "missing"})
		require.NoError(t, err)
		assert.Nil(t, md)

		err = b.CreateTable(ctx, accounts, accountsMetadata())
		assert.True(t, errors.Is(err, storage.ErrIllegalArgument))
	})

	t.Run("PutGetDelete", func(t *testing.T) {
		b := setup(t)
		get := &storage.Get{Table: accounts, Partition: pk(1), Clustering: ck(0)}

		r, err := b.Get(ctx, get)
		require.NoError(t, err)
		assert.Nil(t, r)

		require.NoError(t, b.Put(ctx, put(1, 0, 100)))
		r, err = b.Get(ctx, get)
		require.NoError(t, err)
		assert.Equal(t, int64(100), balance(t, r))
		assert.Equal(t, storage.IntValue(1), r.Values["id"], "key columns are stored with the row")

		note := &storage.Put{Table: accounts, Partition: pk(1), Clustering: ck(0),
			Values: storage.Columns{"note": storage.TextValue("hi")}}
		require.NoError(t, b.Put(ctx, note))
		r, err = b.Get(ctx, get)
		require.NoError(t, err)
		assert.Equal(t, int64(100), balance(t, r), "a put keeps the columns it does not name")
		assert.Equal(t, "hi", r.Values["note"].Text)

		r, err = b.Get(ctx, &storage.Get{Table: accounts, Partition: pk(1), Clustering: ck(0), Projections: []string{"note"}})
		require.NoError(t, err)
		_, ok := r.Value("balance")
		assert.False(t, ok)

		require.NoError(t, b.Delete(ctx, &storage.Delete{Table: accounts, Partition: pk(1), Clustering: ck(0)}))
		r, err = b.Get(ctx, get)
		require.NoError(t, err)
		assert.Nil(t, r)
	})

	t.Run("ConditionalWrites", func(t *testing.T) {
		b := setup(t)
		p := put(1, 0, 100)
		p.Condition = storage.PutIfNotExists()
		require.NoError(t, b.Put(ctx, p))
		assert.True(t, errors.Is(b.Put(ctx, p), storage.ErrNoMutation))

		upd := put(1, 0, 50)
		upd.Condition = storage.PutIf(storage.Eq("balance", storage.BigIntValue(100)))
		require.NoError(t, b.Put(ctx, upd))
		assert.True(t, errors.Is(b.Put(ctx, upd), storage.ErrNoMutation), "the fencing value moved on")

		missing := put(2, 0, 1)
		missing.Condition = storage.PutIfExists()
		assert.True(t, errors.Is(b.Put(ctx, missing), storage.ErrNoMutation))

		del := &storage.Delete{Table: accounts, Partition: pk(1), Clustering: ck(0),
			Condition: storage.DeleteIf(storage.Eq("balance", storage.BigIntValue(100)))}
		assert.True(t, errors.Is(b.Delete(ctx, del), storage.ErrNoMutation))
		del.Condition = storage.DeleteIf(storage.Eq("balance", storage.BigIntValue(50)))
		require.NoError(t, b.Delete(ctx, del))
	})

	t.Run("MutateIsAllOrNothing", func(t *testing.T) {
		b := setup(t)
		require.NoError(t, b.Put(ctx, put(1, 0, 100)))

		first := put(1, 1, 10)
		second := put(1, 0, 20)
		second.Condition = storage.PutIfNotExists()
		err := b.Mutate(ctx, []storage.Mutation{first, second})
		assert.True(t, errors.Is(err, storage.ErrNoMutation))

		r, err := b.Get(ctx, &storage.Get{Table: accounts, Partition: pk(1), Clustering: ck(1)})
		require.NoError(t, err)
		assert.Nil(t, r, "no mutation of a failed batch may be applied")

		require.NoError(t, b.Mutate(ctx, []storage.Mutation{first, put(1, 0, 30)}))
		r, err = b.Get(ctx, &storage.Get{Table: accounts, Partition: pk(1), Clustering: ck(0)})
		require.NoError(t, err)
		assert.Equal(t, int64(30), balance(t, r))
	})

	t.Run("Scan", func(t *testing.T) {
		b := setup(t)
		for typ := int32(0); typ < 4; typ++ {
			require.NoError(t, b.Put(ctx, put(1, typ, int64(typ*10))))
		}
		require.NoError(t, b.Put(ctx, put(2, 0, 99)))

		rs, err := b.Scan(ctx, &storage.Scan{Table: accounts, Partition: pk(1)})
		require.NoError(t, err)
		require.Len(t, rs, 4)
		for i, r := range rs {
			assert.Equal(t, int64(i*10), balance(t, r))
		}

		rs, err = b.Scan(ctx, &storage.Scan{
			Table:     accounts,
			Partition: pk(1),
			Start:     &storage.Bound{Key: ck(1), Inclusive: true},
			End:       &storage.Bound{Key: ck(3), Inclusive: false},
			Ordering:  storage.Desc,
		})
		require.NoError(t, err)
		require.Len(t, rs, 2)
		assert.Equal(t, int64(20), balance(t, rs[0]))
		assert.Equal(t, int64(10), balance(t, rs[1]))

		rs, err = b.Scan(ctx, &storage.Scan{Table: accounts, Partition: pk(1), Limit: 2})
		require.NoError(t, err)
		assert.Len(t, rs, 2)

		rs, err = b.Scan(ctx, &storage.Scan{Table: accounts})
		require.NoError(t, err)
		assert.Len(t, rs, 5)

		rs, err = b.Scan(ctx, &storage.Scan{Table: accounts, Partition: pk(3)})
		require.NoError(t, err)
		assert.Empty(t, rs)
	})

	t.Run("SecondaryIndex", func(t *testing.T) {
		b := setup(t)
		md, err := b.TableMetadata(ctx, accounts)
		require.NoError(t, err)
		assert.Equal(t, []string{"note"}, md.SecondaryIndexes)

		for i, note := range []string{"a", "b", "a"} {
			p := put(int32(i+1), 0, int64(i))
			p.Values["note"] = storage.TextValue(note)
			require.NoError(t, b.Put(ctx, p))
		}
		byNote := func(note string) *storage.Column {
			c := storage.Col("note", storage.TextValue(note))
			return &c
		}

		rs, err := b.Scan(ctx, &storage.Scan{Table: accounts, Index: byNote("a")})
		require.NoError(t, err)
		require.Len(t, rs, 2)
		assert.Equal(t, int64(0), balance(t, rs[0]))
		assert.Equal(t, int64(2), balance(t, rs[1]))

		r, err := b.Get(ctx, &storage.Get{Table: accounts, Index: byNote("b")})
		require.NoError(t, err)
		assert.Equal(t, int64(1), balance(t, r))
		r, err = b.Get(ctx, &storage.Get{Table: accounts, Index: byNote("c")})
		require.NoError(t, err)
		assert.Nil(t, r)

		_, err = b.Get(ctx, &storage.Get{Table: accounts, Index: byNote("a")})
		assert.True(t, errors.Is(err, storage.ErrIllegalArgument), "an index get matches at most one record")
		_, err = b.Scan(ctx, &storage.Scan{Table: accounts, Index: &storage.Column{Name: "balance", Value: storage.BigIntValue(1)}})
		assert.True(t, errors.Is(err, storage.ErrIllegalArgument), "balance has no index")
		_, err = b.Scan(ctx, &storage.Scan{Table: accounts, Partition: pk(1), Index: byNote("a")})
		assert.True(t, errors.Is(err, storage.ErrIllegalArgument))
	})

	t.Run("UnknownTable", func(t *testing.T) {
		b := setup(t)
		missing := storage.TableRef{Namespace: "bank", Table: "missing"}
		_, err := b.Get(ctx, &storage.Get{Table: missing, Partition: pk(1)})
		assert.True(t, errors.Is(err, storage.ErrTableNotFound))
		err = b.Put(ctx, &storage.Put{Table: missing, Partition: pk(1)})
		assert.True(t, errors.Is(err, storage.ErrTableNotFound))
	})

	t.Run("MalformedKey", func(t *testing.T) {
		b := setup(t)
		_, err := b.Get(ctx, &storage.Get{Table: accounts, Partition: pk(1)})
		assert.True(t, errors.Is(err, storage.ErrIllegalArgument), "the clustering key is missing")
	})
}
