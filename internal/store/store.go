// Package store contains the in-memory storage backend.
// It is designed to be thread-safe for concurrent access: every operation, conditional
// writes included, runs under one store-wide lock, which gives single-record atomicity.
package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/btree"
	"github.com/pkg/errors"

	"github.com/ASHISH26940/helioscommit/internal/persistence"
	"github.com/ASHISH26940/helioscommit/internal/storage"
)

const btreeDegree = 32

// row is a btree item ordered by its encoded (partition, clustering) key.
type row struct {
	key    string
	values storage.Columns
}

func (r *row) Less(than btree.Item) bool { return r.key < than.(*row).key }

type table struct {
	md   *storage.TableMetadata
	rows *btree.BTree
}

// Store is a thread-safe in-memory implementation of storage.Storage and storage.Admin.
// When opened with a journal path, every applied change is appended to a WAL and replayed
// on the next Open.
type Store struct {
	mu     sync.RWMutex
	tables map[storage.TableRef]*table
	wal    *persistence.WAL
}

var (
	_ storage.Storage = (*Store)(nil)
	_ storage.Admin   = (*Store)(nil)
)

// NewStore initializes and returns a new empty Store without a journal.
func NewStore() *Store {
	return &Store{tables: make(map[storage.TableRef]*table)}
}

// Open returns a Store whose state is rebuilt from the journal at path and which appends
// every further change to it.
func Open(path string) (*Store, error) {
	s := NewStore()
	err := persistence.Replay(path, func(line []byte) error {
		var e journalEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return errors.Wrap(err, "decode journal entry")
		}
		s.replay(e)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "replay journal %s", path)
	}
	wal, err := persistence.NewWAL(path)
	if err != nil {
		return nil, err
	}
	s.wal = wal
	return s, nil
}

// Close closes the journal, if any.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wal == nil {
		return nil
	}
	err := s.wal.Close()
	s.wal = nil
	return err
}

func (s *Store) CreateTable(ctx context.Context, ref storage.TableRef, md *storage.TableMetadata) error {
	if err := md.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[ref]; ok {
		return errors.Wrapf(storage.ErrIllegalArgument, "table %s already exists", ref)
	}
	if err := s.journal(journalEntry{Op: opCreateTable, Table: ref, Metadata: md}); err != nil {
		return err
	}
	s.tables[ref] = &table{md: md.Clone(), rows: btree.New(btreeDegree)}
	return nil
}

func (s *Store) TableMetadata(ctx context.Context, ref storage.TableRef) (*storage.TableMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[ref]
	if !ok {
		return nil, nil
	}
	return t.md.Clone(), nil
}

func (s *Store) DropTable(ctx context.Context, ref storage.TableRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[ref]; !ok {
		return errors.Wrapf(storage.ErrTableNotFound, "%s", ref)
	}
	if err := s.journal(journalEntry{Op: opDropTable, Table: ref}); err != nil {
		return err
	}
	delete(s.tables, ref)
	return nil
}

// Get retrieves a copy of the record addressed by get.
func (s *Store) Get(ctx context.Context, get *storage.Get) (*storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if get.Index != nil {
		scan, err := get.IndexScan()
		if err != nil {
			return nil, err
		}
		records, err := s.Scan(ctx, scan)
		if err != nil {
			return nil, err
		}
		return storage.SingleRecord(get, records)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.table(get.Table)
	if err != nil {
		return nil, err
	}
	if err := t.md.CheckRecordKey(get.Partition, get.Clustering); err != nil {
		return nil, err
	}
	key, err := storage.EncodeRecordKey(get.Partition, get.Clustering)
	if err != nil {
		return nil, err
	}
	item := t.rows.Get(&row{key: string(key)})
	if item == nil {
		return nil, nil
	}
	return &storage.Record{Values: storage.Project(item.(*row).values, get.Projections)}, nil
}

// Scan returns copies of the records in range, ordered and limited as requested.
func (s *Store) Scan(ctx context.Context, scan *storage.Scan) ([]*storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.table(scan.Table)
	if err != nil {
		return nil, err
	}
	if err := t.md.CheckScan(scan); err != nil {
		return nil, err
	}
	start, end, err := storage.ScanRange(scan)
	if err != nil {
		return nil, err
	}
	var records []*storage.Record
	iter := func(i btree.Item) bool {
		r := i.(*row)
		if end != nil && r.key >= string(end) {
			return false
		}
		if scan.Index != nil && !storage.MatchesIndex(r.values, scan.Index) {
			return true
		}
		records = append(records, &storage.Record{Values: r.values.Clone()})
		return true
	}
	if start == nil {
		t.rows.Ascend(iter)
	} else {
		t.rows.AscendGreaterOrEqual(&row{key: string(start)}, iter)
	}
	return storage.Finish(scan, records), nil
}

func (s *Store) Put(ctx context.Context, put *storage.Put) error {
	return s.Mutate(ctx, []storage.Mutation{put})
}

func (s *Store) Delete(ctx context.Context, del *storage.Delete) error {
	return s.Mutate(ctx, []storage.Mutation{del})
}

// Mutate checks every condition before applying anything, so either all mutations are
// applied or none is.
func (s *Store) Mutate(ctx context.Context, mutations []storage.Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	type change struct {
		table *table
		row   rowChange
	}
	staged := make(map[string]*change)
	var order []string
	lookup := func(m storage.Mutation) (*table, string, storage.Columns, error) {
		t, err := s.table(m.TableRef())
		if err != nil {
			return nil, "", nil, err
		}
		if err := t.md.CheckRecordKey(m.PartitionKey(), m.ClusteringKey()); err != nil {
			return nil, "", nil, err
		}
		key, err := storage.EncodeRecordKey(m.PartitionKey(), m.ClusteringKey())
		if err != nil {
			return nil, "", nil, err
		}
		id := m.TableRef().String() + "/" + string(key)
		if c, ok := staged[id]; ok {
			if c.row.Deleted {
				return t, id, nil, nil
			}
			return t, id, c.row.Values, nil
		}
		if item := t.rows.Get(&row{key: string(key)}); item != nil {
			return t, id, item.(*row).values, nil
		}
		return t, id, nil, nil
	}
	stage := func(id string, c *change) {
		if _, ok := staged[id]; !ok {
			order = append(order, id)
		}
		staged[id] = c
	}

	err := storage.Each(mutations,
		func(p *storage.Put) error {
			t, id, existing, err := lookup(p)
			if err != nil {
				return err
			}
			values, err := storage.ApplyPut(t.md, existing, p)
			if err != nil {
				return err
			}
			key, _ := storage.EncodeRecordKey(p.Partition, p.Clustering)
			stage(id, &change{table: t, row: rowChange{Table: p.Table, Key: key, Values: values}})
			return nil
		},
		func(d *storage.Delete) error {
			t, id, existing, err := lookup(d)
			if err != nil {
				return err
			}
			if err := storage.CheckDelete(existing, d); err != nil {
				return err
			}
			key, _ := storage.EncodeRecordKey(d.Partition, d.Clustering)
			stage(id, &change{table: t, row: rowChange{Table: d.Table, Key: key, Deleted: true}})
			return nil
		})
	if err != nil {
		return err
	}

	entry := journalEntry{Op: opMutate, Rows: make([]rowChange, 0, len(order))}
	for _, id := range order {
		entry.Rows = append(entry.Rows, staged[id].row)
	}
	if err := s.journal(entry); err != nil {
		return err
	}
	for _, id := range order {
		c := staged[id]
		c.table.apply(c.row)
	}
	return nil
}

func (s *Store) table(ref storage.TableRef) (*table, error) {
	t, ok := s.tables[ref]
	if !ok {
		return nil, errors.Wrapf(storage.ErrTableNotFound, "%s", ref)
	}
	return t, nil
}

func (t *table) apply(c rowChange) {
	if c.Deleted {
		t.rows.Delete(&row{key: string(c.Key)})
		return
	}
	t.rows.ReplaceOrInsert(&row{key: string(c.Key), values: c.Values})
}
