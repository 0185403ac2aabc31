// Package raft replicates a storage backend over the Raft consensus layer.
package raft

import (
	"context"
	"encoding/json"
	"io"

	"github.com/hashicorp/raft"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ASHISH26940/helioscommit/internal/logger"
	"github.com/ASHISH26940/helioscommit/internal/storage"
	"github.com/ASHISH26940/helioscommit/internal/store"
)

const (
	OpCreateTable = "CREATE_TABLE"
	OpDropTable   = "DROP_TABLE"
	OpPut         = "PUT"
	OpDelete      = "DELETE"
	OpMutate      = "MUTATE"
)

// Mutation is the wire form of a storage.Mutation. Exactly one field is set.
type Mutation struct {
	Put    *storage.Put    `json:"put,omitempty"`
	Delete *storage.Delete `json:"delete,omitempty"`
}

// Command is one entry of the Raft log. Conditions travel with the mutations and are evaluated
// by every node against its own replica, which is identical at the same log index.
type Command struct {
	Op        string                 `json:"op"`
	Table     storage.TableRef       `json:"table,omitempty"`
	Metadata  *storage.TableMetadata `json:"metadata,omitempty"`
	Mutations []Mutation             `json:"mutations,omitempty"`
}

func encodeMutations(mutations []storage.Mutation) ([]Mutation, error) {
	out := make([]Mutation, 0, len(mutations))
	err := storage.Each(mutations,
		func(p *storage.Put) error {
			out = append(out, Mutation{Put: p})
			return nil
		},
		func(d *storage.Delete) error {
			out = append(out, Mutation{Delete: d})
			return nil
		})
	return out, err
}

func decodeMutations(in []Mutation) ([]storage.Mutation, error) {
	out := make([]storage.Mutation, 0, len(in))
	for _, m := range in {
		switch {
		case m.Put != nil:
			out = append(out, m.Put)
		case m.Delete != nil:
			out = append(out, m.Delete)
		default:
			return nil, errors.Wrap(storage.ErrIllegalArgument, "empty mutation in command")
		}
	}
	return out, nil
}

// FSM applies Raft log entries to a local in-memory store. The value Apply returns is the error
// of the command, nil on success, and reaches the caller through ApplyFuture.Response.
type FSM struct {
	store  *store.Store
	logger *zap.Logger
}

var _ raft.FSM = (*FSM)(nil)

func NewFSM(st *store.Store, l *zap.Logger) *FSM {
	return &FSM{store: st, logger: logger.OrNop(l)}
}

// Store returns the replica the FSM applies to. Reads are served from it.
func (f *FSM) Store() *store.Store { return f.store }

func (f *FSM) Apply(entry *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(entry.Data, &cmd); err != nil {
		f.logger.Error("undecodable raft command", zap.Uint64("index", entry.Index), zap.Error(err))
		return errors.Wrap(err, "decode raft command")
	}
	ctx := context.Background()
	var err error
	switch cmd.Op {
	case OpCreateTable:
		err = f.store.CreateTable(ctx, cmd.Table, cmd.Metadata)
	case OpDropTable:
		err = f.store.DropTable(ctx, cmd.Table)
	case OpPut, OpDelete, OpMutate:
		var mutations []storage.Mutation
		if mutations, err = decodeMutations(cmd.Mutations); err == nil {
			err = f.store.Mutate(ctx, mutations)
		}
	default:
		err = errors.Errorf("unrecognized raft command %q", cmd.Op)
	}
	if err != nil && !errors.Is(err, storage.ErrNoMutation) {
		f.logger.Debug("raft command failed", zap.String("op", cmd.Op), zap.Uint64("index", entry.Index), zap.Error(err))
	}
	return err
}

func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	data, err := f.store.Dump()
	if err != nil {
		return nil, err
	}
	return &snapshot{data: data}, nil
}

func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return errors.Wrap(err, "read raft snapshot")
	}
	return f.store.Load(data)
}

type snapshot struct {
	data []byte
}

func (s *snapshot) Persist(sink raft.SnapshotSink) error {
	if _, err := sink.Write(s.data); err != nil {
		sink.Cancel()
		return errors.Wrap(err, "write raft snapshot")
	}
	return sink.Close()
}

func (s *snapshot) Release() {}
