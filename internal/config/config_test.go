// Package config_test contains the unit tests for the config package.
package config

import (
	"go/format"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ASHISH26940/helioscommit/internal/storage"
	"github.com/ASHISH26940/helioscommit/internal/transaction"
)

func TestConfig_Load(t *testing.T) {
	// Create a temporary directory for our test config files
	tempDir := t.TempDir()

	// --- Test Case 1: Valid configuration file ---
	validToml := `
host = "127.0.0.1"
port = 9000
peers = ["http://localhost:9001", "http://localhost:9002"]

[storage]
backend = "bolt"
apply_timeout = "2s"

[transaction]
isolation = "serializable"
serializable_strategy = "extra_write"
lease_window = "30s"
read_retries = 5

[log]
level = "debug"
format = "console"

[[table]]
namespace = "bank"
name = "accounts"
partition_keys = ["id"]
clustering_keys = ["type"]
columns = { id = "INT", type = "int", balance = "BIGINT", owner = "TEXT" }
secondary_indexes = ["owner"]
`
	validPath := filepath.Join(tempDir, "valid.toml")
	if err := os.WriteFile(validPath, []byte(validToml), 0644); err != nil {
		t.Fatalf("failed to write valid config file: %v", err)
	}

	cfg := New()
	err := cfg.Load(validPath)
	if err != nil {
		t.Fatalf("expected no error loading valid config, but got: %v", err)
	}

	if cfg.Host != "127.0.0.1" {
		t.Errorf("expected host to be '127.0.0.1', but got '%s'", cfg.Host)
	}
	if cfg.Port != 9000 {
		t.Errorf("expected port to be 9000, but got %d", cfg.Port)
	}
	if len(cfg.Peers) != 2 || cfg.Peers[0] != "http://localhost:9001" {
		t.Errorf("peers were not parsed correctly")
	}
	assert.Equal(t, BackendBolt, cfg.Storage.Backend)
	assert.Equal(t, "helioscommit.db", cfg.Storage.BoltFile, "unset keys keep their default")
	assert.Equal(t, 2*time.Second, cfg.Storage.ApplyTimeout.Duration)
	assert.Equal(t, "console", cfg.Log.Format)
	require.NoError(t, cfg.Validate())

	tx, err := cfg.TransactionConfig()
	require.NoError(t, err)
	assert.Equal(t, transaction.IsolationSerializable, tx.Isolation)
	assert.Equal(t, transaction.StrategyExtraWrite, tx.Strategy)
	assert.Equal(t, 30*time.Second, tx.LeaseWindow)
	assert.Equal(t, 5, tx.ReadRetries)
	assert.True(t, tx.ParallelPrepare)
	assert.Equal(t, "coordinator", tx.CoordinatorNamespace)

	require.Len(t, cfg.Tables, 1)
	assert.Equal(t, storage.TableRef{Namespace: "bank", Table: "accounts"}, cfg.Tables[0].Ref())
	md, err := cfg.Tables[0].Metadata()
	require.NoError(t, err)
	assert.Equal(t, storage.TypeInt, md.Columns["type"])
	assert.Equal(t, storage.TypeBigInt, md.Columns["balance"])
	assert.True(t, md.IsIndexed("owner"))

	// --- Test Case 2: File does not exist ---
	cfg2 := New()
	err = cfg2.Load(filepath.Join(tempDir, "nonexistent.toml"))
	if err == nil {
		t.Fatal("expected an error for non-existent file, but got none")
	}

	// --- Test Case 3: Invalid TOML format ---
	invalidToml := `host = 127.0.0.1` // Invalid: host should be a string
	invalidPath := filepath.Join(tempDir, "invalid.toml")
	if err := os.WriteFile(invalidPath, []byte(invalidToml), 0644); err != nil {
		t.Fatalf("failed to write invalid config file: %v", err)
	}

	cfg3 := New()
	err = cfg3.Load(invalidPath)
	if err == nil {
		t.Fatal("expected an error for invalid TOML, but got none")
	}

	// --- Test Case 4: Durations must parse ---
	badDuration := filepath.Join(tempDir, "duration.toml")
	require.NoError(t, os.WriteFile(badDuration, []byte("[transaction]\nlease_window = \"soon\"\n"), 0644))
	assert.Error(t, New().Load(badDuration))
}

func TestConfig_Validate(t *testing.T) {
	cfg := New()
	require.NoError(t, cfg.Validate(), "defaults are valid")

	cfg.Storage.Backend = "cassandra"
	assert.Error(t, cfg.Validate())

	cfg = New()
	cfg.Storage.Backend = BackendRaft
	assert.Error(t, cfg.Validate(), "raft needs a node id")
	cfg.NodeID = "n1"
	assert.NoError(t, cfg.Validate())

	cfg = New()
	cfg.Transaction.Isolation = "read_committed"
	assert.Error(t, cfg.Validate())

	cfg = New()
	cfg.Transaction.ReadRetries = 0
	assert.Error(t, cfg.Validate())

	cfg = New()
	cfg.Tables = []TableConfig{{Namespace: "bank", Name: "t", PartitionKeys: []string{"id"},
		Columns: map[string]string{"id": "UUID"}}}
	assert.Error(t, cfg.Validate(), "unknown column type")
	cfg.Tables[0].Columns["id"] = "TEXT"
	assert.NoError(t, cfg.Validate())
}

func TestConfig_SourceIsFormatted(t *testing.T) {
	src, err := os.ReadFile("config.go")
	require.NoError(t, err)
	formatted, err := format.Source(src)
	require.NoError(t, err)
	assert.Equal(t, string(formatted), string(src), "config.go is not gofmt clean")
}
