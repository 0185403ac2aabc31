// Package main is the entry point for the helioscommit node.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hashicorp/raft"
	"go.uber.org/zap"

	v1 "github.com/ASHISH26940/helioscommit/api/v1"
	"github.com/ASHISH26940/helioscommit/internal/config"
	"github.com/ASHISH26940/helioscommit/internal/coordinator"
	"github.com/ASHISH26940/helioscommit/internal/logger"
	"github.com/ASHISH26940/helioscommit/internal/metrics"
	"github.com/ASHISH26940/helioscommit/internal/persistence"
	internalraft "github.com/ASHISH26940/helioscommit/internal/raft"
	"github.com/ASHISH26940/helioscommit/internal/server"
	"github.com/ASHISH26940/helioscommit/internal/storage"
	"github.com/ASHISH26940/helioscommit/internal/store"
	"github.com/ASHISH26940/helioscommit/internal/transaction"
)

// backend is a storage.Storage that also manages tables.
type backend interface {
	storage.Storage
	storage.Admin
}

func main() {
	// --- Configuration and Flags ---
	configFile := flag.String("config", "config.toml", "Path to config file")
	bootstrap := flag.Bool("bootstrap", false, "Bootstrap the raft cluster (run on the first node only)")
	join := flag.String("join", "", "HTTP address of the raft leader to join")
	flag.Parse()

	cfg := config.New()
	if err := cfg.Load(*configFile); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	txConfig, err := cfg.TransactionConfig()
	if err != nil {
		log.Fatalf("Invalid transaction config: %v", err)
	}

	zl, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zl.Sync()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		zl.Fatal("failed to create data directory", zap.String("dir", cfg.DataDir), zap.Error(err))
	}

	// --- Storage backend ---
	st, node, err := openBackend(cfg, *bootstrap, zl)
	if err != nil {
		zl.Fatal("failed to open storage", zap.String("backend", cfg.Storage.Backend), zap.Error(err))
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if node != nil {
		if *join != "" {
			if err := joinCluster(*join, cfg); err != nil {
				zl.Fatal("failed to join the cluster", zap.String("leader", *join), zap.Error(err))
			}
		}
		waitForLeader(ctx, node, zl)
	}
	if err := bootstrapTables(ctx, st, cfg, txConfig); err != nil {
		if !errors.Is(err, internalraft.ErrNotLeader) {
			zl.Fatal("failed to create tables", zap.Error(err))
		}
		zl.Info("not the raft leader, leaving table creation to the leader")
	}

	// --- Transaction manager and HTTP server ---
	m := metrics.New()
	tm := transaction.NewTwoPhaseManager(st, st, txConfig,
		transaction.WithLogger(zl.Named("transaction")),
		transaction.WithMetrics(m))
	opts := []server.Option{server.WithLogger(zl.Named("server")), server.WithMetrics(m)}
	if node != nil {
		opts = append(opts, server.WithCluster(node))
	}

	httpAddr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpServer := &http.Server{Addr: httpAddr, Handler: server.New(tm, opts...)}
	go func() {
		zl.Info("starting HTTP server", zap.String("addr", httpAddr), zap.String("backend", cfg.Storage.Backend))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zl.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zl.Warn("HTTP shutdown did not complete", zap.Error(err))
	}
}

func openBackend(cfg *config.Config, bootstrap bool, zl *zap.Logger) (backend, *raft.Raft, error) {
	switch cfg.Storage.Backend {
	case config.BackendBolt:
		path := cfg.Storage.BoltFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(cfg.DataDir, path)
		}
		b, err := persistence.OpenBolt(path)
		return b, nil, err
	case config.BackendRaft:
		fsm := internalraft.NewFSM(store.NewStore(), zl.Named("fsm"))
		node, err := internalraft.NewNode(internalraft.NodeConfig{
			ID:        cfg.NodeID,
			BindAddr:  fmt.Sprintf("%s:%d", cfg.Host, cfg.RaftPort),
			DataDir:   filepath.Join(cfg.DataDir, "raft"),
			Bootstrap: bootstrap,
		}, fsm, zl)
		if err != nil {
			return nil, nil, err
		}
		return internalraft.NewStorage(node, fsm, cfg.Storage.ApplyTimeout.Duration), node, nil
	}
	if cfg.Storage.WAL {
		s, err := store.Open(filepath.Join(cfg.DataDir, "helioscommit.wal"))
		return s, nil, err
	}
	return store.NewStore(), nil, nil
}

// bootstrapTables creates the coordinator table and every configured table that is missing.
func bootstrapTables(ctx context.Context, st backend, cfg *config.Config, txConfig transaction.Config) error {
	if err := coordinator.CreateTable(ctx, st, txConfig.CoordinatorNamespace); err != nil {
		return err
	}
	for _, t := range cfg.Tables {
		existing, err := st.TableMetadata(ctx, t.Ref())
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		md, err := t.Metadata()
		if err != nil {
			return err
		}
		if md, err = transaction.BuildTransactionTableMetadata(md); err != nil {
			return err
		}
		if err := st.CreateTable(ctx, t.Ref(), md); err != nil {
			return err
		}
	}
	return nil
}

// waitForLeader blocks until the cluster has a leader or ctx ends.
func waitForLeader(ctx context.Context, node *raft.Raft, zl *zap.Logger) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for node.Leader() == "" {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
	zl.Info("raft leader known", zap.String("leader", string(node.Leader())), zap.String("state", node.State().String()))
}

// joinCluster asks the leader at leaderAddr to add this node as a voter.
func joinCluster(leaderAddr string, cfg *config.Config) error {
	body, err := json.Marshal(v1.JoinRequest{NodeID: cfg.NodeID, Addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.RaftPort)})
	if err != nil {
		return err
	}
	resp, err := http.Post("http://"+leaderAddr+"/join", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("join rejected with status %s", resp.Status)
	}
	return nil
}
