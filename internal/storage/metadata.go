package storage

import (
	"github.com/pkg/errors"
)

// TableMetadata describes the columns and key layout of a table.
type TableMetadata struct {
	PartitionKeys  []string            `json:"partition_keys"`
	ClusteringKeys []string            `json:"clustering_keys,omitempty"`
	Columns        map[string]DataType `json:"columns"`
	// SecondaryIndexes are non-key columns that gets and scans may select on.
	SecondaryIndexes []string `json:"secondary_indexes,omitempty"`
}

// HasColumn reports whether the table declares the column.
func (m *TableMetadata) HasColumn(name string) bool {
	_, ok := m.Columns[name]
	return ok
}

// IsKey reports whether name is a partition or clustering key column.
func (m *TableMetadata) IsKey(name string) bool {
	for _, k := range m.PartitionKeys {
		if k == name {
			return true
		}
	}
	for _, k := range m.ClusteringKeys {
		if k == name {
			return true
		}
	}
	return false
}

// IsIndexed reports whether name has a secondary index.
func (m *TableMetadata) IsIndexed(name string) bool {
	for _, idx := range m.SecondaryIndexes {
		if idx == name {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of m.
func (m *TableMetadata) Clone() *TableMetadata {
	out := &TableMetadata{
		PartitionKeys:  append([]string(nil), m.PartitionKeys...),
		ClusteringKeys: append([]string(nil), m.ClusteringKeys...),
		Columns:        make(map[string]DataType, len(m.Columns)),
	}
	if len(m.SecondaryIndexes) > 0 {
		out.SecondaryIndexes = append([]string(nil), m.SecondaryIndexes...)
	}
	for k, v := range m.Columns {
		out.Columns[k] = v
	}
	return out
}

// Validate checks that the key and index columns are declared and that no key is indexed.
func (m *TableMetadata) Validate() error {
	if len(m.PartitionKeys) == 0 {
		return errors.Wrap(ErrIllegalArgument, "table needs at least one partition key")
	}
	for _, k := range append(append([]string(nil), m.PartitionKeys...), m.ClusteringKeys...) {
		if !m.HasColumn(k) {
			return errors.Wrapf(ErrIllegalArgument, "key column %s is not declared", k)
		}
	}
	for _, idx := range m.SecondaryIndexes {
		if !m.HasColumn(idx) {
			return errors.Wrapf(ErrIllegalArgument, "index column %s is not declared", idx)
		}
		if m.IsKey(idx) {
			return errors.Wrapf(ErrIllegalArgument, "key column %s cannot have a secondary index", idx)
		}
	}
	return nil
}

// CheckIndex verifies that c selects on an indexed column with a non-null value of its type.
func (m *TableMetadata) CheckIndex(c *Column) error {
	if !m.IsIndexed(c.Name) {
		return errors.Wrapf(ErrIllegalArgument, "column %s has no secondary index", c.Name)
	}
	if c.Value.Null || c.Value.Type != m.Columns[c.Name] {
		return errors.Wrapf(ErrIllegalArgument, "index value %v does not fit column %s", c.Value, c.Name)
	}
	return nil
}

// CheckRecordKey verifies that partition and clustering address exactly one record.
func (m *TableMetadata) CheckRecordKey(partition, clustering Key) error {
	if err := checkKey("partition", partition, m.PartitionKeys, false); err != nil {
		return err
	}
	return checkKey("clustering", clustering, m.ClusteringKeys, false)
}

// CheckScan verifies the partition key and the clustering bounds of a scan, or its index.
func (m *TableMetadata) CheckScan(s *Scan) error {
	if s.Index != nil {
		if !s.All() || s.Start != nil || s.End != nil {
			return errors.Wrap(ErrIllegalArgument, "an index scan cannot have a partition or clustering bounds")
		}
		return m.CheckIndex(s.Index)
	}
	if s.All() {
		if s.Start != nil || s.End != nil {
			return errors.Wrap(ErrIllegalArgument, "a scan over all partitions cannot have clustering bounds")
		}
		return nil
	}
	if err := checkKey("partition", s.Partition, m.PartitionKeys, false); err != nil {
		return err
	}
	for _, b := range []*Bound{s.Start, s.End} {
		if b == nil {
			continue
		}
		if err := checkKey("clustering", b.Key, m.ClusteringKeys, true); err != nil {
			return err
		}
	}
	return nil
}

// KeyColumns returns the key columns stored in a row, for rebuilding the address of a record.
func (m *TableMetadata) KeyColumns(values Columns) (partition, clustering Key) {
	for _, k := range m.PartitionKeys {
		partition = append(partition, Column{Name: k, Value: values[k]})
	}
	for _, k := range m.ClusteringKeys {
		clustering = append(clustering, Column{Name: k, Value: values[k]})
	}
	return partition, clustering
}
