package raft

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hashicorp/raft"
	"github.com/pkg/errors"

	"github.com/ASHISH26940/helioscommit/internal/storage"
)

// DefaultApplyTimeout bounds how long a write waits to be committed by the cluster.
const DefaultApplyTimeout = 5 * time.Second

// ErrNotLeader is returned for writes sent to a follower. Nothing was applied.
var ErrNotLeader = errors.New("raft: not the leader")

// Node is the part of *raft.Raft the storage needs.
type Node interface {
	Apply(cmd []byte, timeout time.Duration) raft.ApplyFuture
	State() raft.RaftState
	Leader() raft.ServerAddress
	Shutdown() raft.Future
}

// Storage is a storage.Storage and storage.Admin replicated through Raft. Writes go through the
// log and must be sent to the leader. Reads are served by the local replica, so a follower may
// return stale records; the transaction protocol tolerates that because every write it makes
// is conditional.
type Storage struct {
	node    Node
	fsm     *FSM
	timeout time.Duration
}

var (
	_ storage.Storage = (*Storage)(nil)
	_ storage.Admin   = (*Storage)(nil)
)

// NewStorage returns a Storage over node, whose state machine must be fsm. A timeout of zero
// means DefaultApplyTimeout.
func NewStorage(node Node, fsm *FSM, timeout time.Duration) *Storage {
	if timeout <= 0 {
		timeout = DefaultApplyTimeout
	}
	return &Storage{node: node, fsm: fsm, timeout: timeout}
}

func (s *Storage) apply(ctx context.Context, cmd Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.node.State() != raft.Leader {
		return errors.Wrapf(ErrNotLeader, "leader is %q", s.node.Leader())
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return errors.Wrap(err, "encode raft command")
	}
	timeout := s.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	future := s.node.Apply(data, timeout)
	if err := future.Error(); err != nil {
		return errors.Wrapf(err, "apply %s", cmd.Op)
	}
	if err, ok := future.Response().(error); ok {
		return err
	}
	return nil
}

func (s *Storage) CreateTable(ctx context.Context, ref storage.TableRef, md *storage.TableMetadata) error {
	if err := md.Validate(); err != nil {
		return err
	}
	return s.apply(ctx, Command{Op: OpCreateTable, Table: ref, Metadata: md})
}

func (s *Storage) TableMetadata(ctx context.Context, ref storage.TableRef) (*storage.TableMetadata, error) {
	return s.fsm.Store().TableMetadata(ctx, ref)
}

func (s *Storage) DropTable(ctx context.Context, ref storage.TableRef) error {
	return s.apply(ctx, Command{Op: OpDropTable, Table: ref})
}

func (s *Storage) Get(ctx context.Context, get *storage.Get) (*storage.Record, error) {
	return s.fsm.Store().Get(ctx, get)
}

func (s *Storage) Scan(ctx context.Context, scan *storage.Scan) ([]*storage.Record, error) {
	return s.fsm.Store().Scan(ctx, scan)
}

func (s *Storage) Put(ctx context.Context, put *storage.Put) error {
	return s.apply(ctx, Command{Op: OpPut, Mutations: []Mutation{{Put: put}}})
}

func (s *Storage) Delete(ctx context.Context, del *storage.Delete) error {
	return s.apply(ctx, Command{Op: OpDelete, Mutations: []Mutation{{Delete: del}}})
}

// Mutate replicates the whole batch as one log entry, so it is applied all-or-nothing.
func (s *Storage) Mutate(ctx context.Context, mutations []storage.Mutation) error {
	encoded, err := encodeMutations(mutations)
	if err != nil {
		return err
	}
	return s.apply(ctx, Command{Op: OpMutate, Mutations: encoded})
}

// Close shuts the Raft node down.
func (s *Storage) Close() error {
	return s.node.Shutdown().Error()
}
