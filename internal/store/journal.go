package store

import (
	"encoding/json"

	"github.com/google/btree"
	"github.com/pkg/errors"

	"github.com/ASHISH26940/helioscommit/internal/storage"
)

const (
	opCreateTable = "CREATE_TABLE"
	opDropTable   = "DROP_TABLE"
	opMutate      = "MUTATE"
)

// rowChange is the already-evaluated effect of one mutation. Conditions are checked before a
// change is journaled, so replay applies changes unconditionally.
type rowChange struct {
	Table   storage.TableRef `json:"table"`
	Key     []byte           `json:"key"`
	Values  storage.Columns  `json:"values,omitempty"`
	Deleted bool             `json:"deleted,omitempty"`
}

// journalEntry is one line of the WAL. A MUTATE entry holds every row of one Mutate call so a
// batch is replayed all-or-nothing.
type journalEntry struct {
	Op       string                 `json:"op"`
	Table    storage.TableRef       `json:"table,omitempty"`
	Metadata *storage.TableMetadata `json:"metadata,omitempty"`
	Rows     []rowChange            `json:"rows,omitempty"`
}

// journal appends e to the WAL. Callers hold s.mu.
func (s *Store) journal(e journalEntry) error {
	if s.wal == nil {
		return nil
	}
	return errors.Wrap(s.wal.WriteCommand(e), "append to journal")
}

func (s *Store) replay(e journalEntry) {
	switch e.Op {
	case opCreateTable:
		s.tables[e.Table] = &table{md: e.Metadata, rows: btree.New(btreeDegree)}
	case opDropTable:
		delete(s.tables, e.Table)
	case opMutate:
		for _, c := range e.Rows {
			if t, ok := s.tables[c.Table]; ok {
				t.apply(c)
			}
		}
	}
}

type dumpedTable struct {
	Table    storage.TableRef       `json:"table"`
	Metadata *storage.TableMetadata `json:"metadata"`
	Rows     []rowChange            `json:"rows"`
}

// Dump serializes every table. It is used for raft snapshots.
func (s *Store) Dump() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tables := make([]dumpedTable, 0, len(s.tables))
	for ref, t := range s.tables {
		d := dumpedTable{Table: ref, Metadata: t.md}
		t.rows.Ascend(func(i btree.Item) bool {
			r := i.(*row)
			d.Rows = append(d.Rows, rowChange{Table: ref, Key: []byte(r.key), Values: r.values})
			return true
		})
		tables = append(tables, d)
	}
	return json.Marshal(tables)
}

// Load replaces the content of the store with a Dump.
func (s *Store) Load(data []byte) error {
	var tables []dumpedTable
	if err := json.Unmarshal(data, &tables); err != nil {
		return errors.Wrap(err, "decode store dump")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables = make(map[storage.TableRef]*table, len(tables))
	for _, d := range tables {
		t := &table{md: d.Metadata, rows: btree.New(btreeDegree)}
		for _, c := range d.Rows {
			t.apply(c)
		}
		s.tables[d.Table] = t
	}
	return nil
}
