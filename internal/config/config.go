// Package config handles loading and parsing the application's configuration.
package config

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/ASHISH26940/helioscommit/internal/logger"
	"github.com/ASHISH26940/helioscommit/internal/storage"
	"github.com/ASHISH26940/helioscommit/internal/transaction"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendBolt   = "bolt"
	BackendRaft   = "raft"
)

// Duration is a time.Duration written as a string such as "15s" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// Config holds all configuration for the application.
// We use struct tags to explicitly map TOML keys to struct fields.
type Config struct {
	NodeID   string   `toml:"node_id"` // Unique ID for the node in the cluster
	Host     string   `toml:"host"`
	Port     int      `toml:"port"`
	RaftPort int      `toml:"raft_port"` // Port for Raft's internal communication
	DataDir  string   `toml:"data_dir"`  // Directory for the journal, bolt file and raft data
	Peers    []string `toml:"peers"`     // HTTP addresses of other nodes in the cluster

	Storage     StorageConfig     `toml:"storage"`
	Transaction TransactionConfig `toml:"transaction"`
	Log         logger.Config     `toml:"log"`
	// Tables are created with the transaction columns at startup when missing.
	Tables []TableConfig `toml:"table"`
}

type StorageConfig struct {
	// Backend is one of memory, bolt or raft.
	Backend string `toml:"backend"`
	// WAL journals the memory backend to data_dir so it survives restarts.
	WAL bool `toml:"wal"`
	// BoltFile is relative to data_dir unless absolute.
	BoltFile     string   `toml:"bolt_file"`
	ApplyTimeout Duration `toml:"apply_timeout"`
}

// TableConfig declares an application table. Column types are names such as "INT" or "TEXT".
type TableConfig struct {
	Namespace        string            `toml:"namespace"`
	Name             string            `toml:"name"`
	PartitionKeys    []string          `toml:"partition_keys"`
	ClusteringKeys   []string          `toml:"clustering_keys"`
	Columns          map[string]string `toml:"columns"`
	SecondaryIndexes []string          `toml:"secondary_indexes"`
}

func (t TableConfig) Ref() storage.TableRef {
	return storage.TableRef{Namespace: t.Namespace, Table: t.Name}
}

// Metadata returns the application metadata of the table, without the transaction columns.
func (t TableConfig) Metadata() (*storage.TableMetadata, error) {
	md := &storage.TableMetadata{
		PartitionKeys:    t.PartitionKeys,
		ClusteringKeys:   t.ClusteringKeys,
		Columns:          make(map[string]storage.DataType, len(t.Columns)),
		SecondaryIndexes: t.SecondaryIndexes,
	}
	for name, typ := range t.Columns {
		dt, err := storage.ParseDataType(typ)
		if err != nil {
			return nil, errors.Wrapf(err, "table %s column %s", t.Ref(), name)
		}
		md.Columns[name] = dt
	}
	if err := md.Validate(); err != nil {
		return nil, errors.Wrapf(err, "table %s", t.Ref())
	}
	return md, nil
}

type TransactionConfig struct {
	Isolation            string   `toml:"isolation"`
	SerializableStrategy string   `toml:"serializable_strategy"`
	LeaseWindow          Duration `toml:"lease_window"`
	CoordinatorNamespace string   `toml:"coordinator_namespace"`
	ParallelPrepare      bool     `toml:"parallel_prepare"`
	ParallelCommit       bool     `toml:"parallel_commit"`
	MetadataCacheTTL     Duration `toml:"metadata_cache_ttl"`
	MetadataCacheSize    int      `toml:"metadata_cache_size"`
	ReadRetries          int      `toml:"read_retries"`
}

// New returns a new Config with default values.
func New() *Config {
	tx := transaction.DefaultConfig()
	return &Config{
		Host:     "localhost",
		Port:     8080,
		RaftPort: 9080,
		DataDir:  ".",
		Peers:    []string{},
		Storage: StorageConfig{
			Backend:      BackendMemory,
			BoltFile:     "helioscommit.db",
			ApplyTimeout: Duration{5 * time.Second},
		},
		Transaction: TransactionConfig{
			Isolation:            tx.Isolation.String(),
			SerializableStrategy: tx.Strategy.String(),
			LeaseWindow:          Duration{tx.LeaseWindow},
			CoordinatorNamespace: tx.CoordinatorNamespace,
			ParallelPrepare:      tx.ParallelPrepare,
			ParallelCommit:       tx.ParallelCommit,
			MetadataCacheTTL:     Duration{tx.MetadataCacheTTL},
			MetadataCacheSize:    tx.MetadataCacheSize,
			ReadRetries:          tx.ReadRetries,
		},
		Log: logger.Config{Level: "info", Format: "json", OutputFile: "stdout"},
	}
}

// Load reads a configuration file from the given path and populates the Config struct.
// Keys the file does not set keep their current value.
func (c *Config) Load(path string) error {
	_, err := toml.DecodeFile(path, c)
	return err
}

// Validate checks the values that cannot be caught while decoding.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory, BackendBolt:
	case BackendRaft:
		if c.NodeID == "" {
			return errors.New("node_id is required for the raft backend")
		}
	default:
		return errors.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Port <= 0 || c.RaftPort <= 0 {
		return errors.New("port and raft_port must be positive")
	}
	for _, t := range c.Tables {
		if t.Namespace == "" || t.Name == "" {
			return errors.New("every table needs a namespace and a name")
		}
		if _, err := t.Metadata(); err != nil {
			return err
		}
	}
	_, err := c.TransactionConfig()
	return err
}

// TransactionConfig builds the settings of the transaction managers.
func (c *Config) TransactionConfig() (transaction.Config, error) {
	t := c.Transaction
	isolation, err := transaction.ParseIsolation(t.Isolation)
	if err != nil {
		return transaction.Config{}, err
	}
	strategy, err := transaction.ParseStrategy(t.SerializableStrategy)
	if err != nil {
		return transaction.Config{}, err
	}
	if t.LeaseWindow.Duration < 0 {
		return transaction.Config{}, errors.New("lease_window must not be negative")
	}
	if t.ReadRetries < 1 {
		return transaction.Config{}, errors.New("read_retries must be at least 1")
	}
	return transaction.Config{
		Isolation:            isolation,
		Strategy:             strategy,
		LeaseWindow:          t.LeaseWindow.Duration,
		CoordinatorNamespace: t.CoordinatorNamespace,
		ParallelPrepare:      t.ParallelPrepare,
		ParallelCommit:       t.ParallelCommit,
		MetadataCacheTTL:     t.MetadataCacheTTL.Duration,
		MetadataCacheSize:    t.MetadataCacheSize,
		ReadRetries:          t.ReadRetries,
	}, nil
}
