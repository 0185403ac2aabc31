package raft

import (
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ASHISH26940/helioscommit/internal/logger"
)

// NodeConfig describes the local Raft member.
type NodeConfig struct {
	ID       string
	BindAddr string
	DataDir  string
	// Bootstrap forms a single-member cluster when the node has no prior state.
	Bootstrap bool
}

// NewNode starts a Raft member that persists its log in bolt under DataDir and talks TCP on
// BindAddr. Raft's own logging goes through l.
func NewNode(cfg NodeConfig, fsm raft.FSM, l *zap.Logger) (*raft.Raft, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, errors.Wrapf(err, "create raft dir %s", cfg.DataDir)
	}
	hl := logger.NewHCLog(logger.OrNop(l)).Named("raft")

	conf := raft.DefaultConfig()
	conf.LocalID = raft.ServerID(cfg.ID)
	conf.Logger = hl

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve raft address %s", cfg.BindAddr)
	}
	transport, err := raft.NewTCPTransportWithLogger(cfg.BindAddr, addr, 3, 10*time.Second, hl)
	if err != nil {
		return nil, errors.Wrap(err, "create raft transport")
	}
	snapshots, err := raft.NewFileSnapshotStoreWithLogger(cfg.DataDir, 2, hl)
	if err != nil {
		return nil, errors.Wrap(err, "create snapshot store")
	}
	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft.db"))
	if err != nil {
		return nil, errors.Wrap(err, "create bolt log store")
	}

	r, err := raft.NewRaft(conf, fsm, logStore, logStore, snapshots, transport)
	if err != nil {
		return nil, errors.Wrap(err, "create raft node")
	}
	if cfg.Bootstrap {
		existing, err := raft.HasExistingState(logStore, logStore, snapshots)
		if err != nil {
			return nil, err
		}
		if !existing {
			f := r.BootstrapCluster(raft.Configuration{Servers: []raft.Server{
				{ID: conf.LocalID, Address: transport.LocalAddr()},
			}})
			if err := f.Error(); err != nil {
				return nil, errors.Wrap(err, "bootstrap raft cluster")
			}
		}
	}
	return r, nil
}

// Joiner adds voters to a cluster. *raft.Raft implements it.
type Joiner interface {
	State() raft.RaftState
	AddVoter(id raft.ServerID, address raft.ServerAddress, prevIndex uint64, timeout time.Duration) raft.IndexFuture
}

// Join adds the node id at addr as a voter. Only the leader can do this.
func Join(r Joiner, id, addr string) error {
	if r.State() != raft.Leader {
		return ErrNotLeader
	}
	if err := r.AddVoter(raft.ServerID(id), raft.ServerAddress(addr), 0, 0).Error(); err != nil {
		return errors.Wrapf(err, "add voter %s at %s", id, addr)
	}
	return nil
}
