package raft

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ASHISH26940/helioscommit/internal/storage"
	"github.com/ASHISH26940/helioscommit/internal/storage/storagetest"
	"github.com/ASHISH26940/helioscommit/internal/store"
)

// newSingleNode starts a one-member in-memory cluster and waits for it to lead.
func newSingleNode(t *testing.T) (*raft.Raft, *FSM) {
	t.Helper()
	fsm := NewFSM(store.NewStore(), nil)

	conf := raft.DefaultConfig()
	conf.LocalID = "n1"
	conf.HeartbeatTimeout = 50 * time.Millisecond
	conf.ElectionTimeout = 50 * time.Millisecond
	conf.LeaderLeaseTimeout = 50 * time.Millisecond
	conf.CommitTimeout = 5 * time.Millisecond

	logs := raft.NewInmemStore()
	addr, transport := raft.NewInmemTransport("")
	r, err := raft.NewRaft(conf, fsm, logs, logs, raft.NewInmemSnapshotStore(), transport)
	require.NoError(t, err)
	require.NoError(t, r.BootstrapCluster(raft.Configuration{Servers: []raft.Server{{ID: conf.LocalID, Address: addr}}}).Error())
	require.Eventually(t, func() bool { return r.State() == raft.Leader }, 5*time.Second, 10*time.Millisecond)
	return r, fsm
}

func TestStorage_Conformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storagetest.Backend {
		r, fsm := newSingleNode(t)
		return NewStorage(r, fsm, time.Second)
	})
}

type follower struct {
	Node
	applied int
	voters  int
}

func (f *follower) State() raft.RaftState      { return raft.Follower }
func (f *follower) Leader() raft.ServerAddress { return "10.0.0.1:9080" }
func (f *follower) Apply([]byte, time.Duration) raft.ApplyFuture {
	f.applied++
	return nil
}

func (f *follower) AddVoter(raft.ServerID, raft.ServerAddress, uint64, time.Duration) raft.IndexFuture {
	f.voters++
	return indexFuture{}
}

type indexFuture struct{}

func (indexFuture) Error() error  { return nil }
func (indexFuture) Index() uint64 { return 0 }

func TestStorage_WritesRequireLeadership(t *testing.T) {
	ctx := context.Background()
	f := &follower{}
	s := NewStorage(f, NewFSM(store.NewStore(), nil), 0)
	assert.Equal(t, DefaultApplyTimeout, s.timeout)

	err := s.Put(ctx, &storage.Put{Table: storage.TableRef{Namespace: "n", Table: "t"}})
	assert.True(t, errors.Is(err, ErrNotLeader))
	assert.Contains(t, err.Error(), "10.0.0.1:9080")
	assert.Equal(t, 0, f.applied)

	assert.True(t, errors.Is(Join(f, "n2", "10.0.0.2:9080"), ErrNotLeader))
	assert.Equal(t, 0, f.voters, "a follower never adds voters")
}

func TestFSM_SnapshotRestore(t *testing.T) {
	ctx := context.Background()
	r, fsm := newSingleNode(t)
	defer r.Shutdown()
	s := NewStorage(r, fsm, time.Second)

	ref := storage.TableRef{Namespace: "test", Table: "kv"}
	md := &storage.TableMetadata{
		PartitionKeys: []string{"k"},
		Columns:       map[string]storage.DataType{"k": storage.TypeText, "v": storage.TypeBigInt},
	}
	require.NoError(t, s.CreateTable(ctx, ref, md))
	key := storage.Key{storage.Col("k", storage.TextValue("a"))}
	require.NoError(t, s.Put(ctx, &storage.Put{Table: ref, Partition: key, Values: storage.Columns{"v": storage.BigIntValue(7)}}))

	snap, err := fsm.Snapshot()
	require.NoError(t, err)
	sink := &memorySink{}
	require.NoError(t, snap.Persist(sink))

	restored := NewFSM(store.NewStore(), nil)
	require.NoError(t, restored.Restore(io.NopCloser(bytes.NewReader(sink.Bytes()))))
	rec, err := restored.Store().Get(ctx, &storage.Get{Table: ref, Partition: key})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(7), rec.Values["v"].Int)
}

func TestFSM_RejectsGarbage(t *testing.T) {
	fsm := NewFSM(store.NewStore(), nil)
	resp := fsm.Apply(&raft.Log{Index: 1, Data: []byte("not json")})
	assert.Error(t, resp.(error))
	resp = fsm.Apply(&raft.Log{Index: 2, Data: []byte(`{"op":"SET"}`)})
	assert.Error(t, resp.(error))
	resp = fsm.Apply(&raft.Log{Index: 3, Data: []byte(`{"op":"MUTATE","mutations":[{}]}`)})
	assert.True(t, errors.Is(resp.(error), storage.ErrIllegalArgument))
}

type memorySink struct {
	bytes.Buffer
	cancelled bool
}

func (m *memorySink) ID() string    { return "mem" }
func (m *memorySink) Cancel() error { m.cancelled = true; return nil }
func (m *memorySink) Close() error  { return nil }
