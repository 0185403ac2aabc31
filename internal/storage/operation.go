package storage

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// TableRef names a table inside a namespace.
type TableRef struct {
	Namespace string `json:"namespace"`
	Table     string `json:"table"`
}

func (t TableRef) String() string { return t.Namespace + "." + t.Table }

// Ordering is the direction of a scan over the clustering key.
type Ordering int

const (
	Asc Ordering = iota
	Desc
)

// Bound is one end of a clustering key range. Key may be a prefix of the clustering key.
type Bound struct {
	Key       Key  `json:"key"`
	Inclusive bool `json:"inclusive"`
}

// Get reads a single record, by its key or by the value of a secondary index. An index get
// fails when more than one record carries the value.
type Get struct {
	Table       TableRef `json:"table"`
	Partition   Key      `json:"partition,omitempty"`
	Clustering  Key      `json:"clustering,omitempty"`
	Index       *Column  `json:"index,omitempty"`
	Projections []string `json:"projections,omitempty"`
}

func (g *Get) String() string {
	if g.Index != nil {
		return fmt.Sprintf("Get(%s %s=%v)", g.Table, g.Index.Name, g.Index.Value)
	}
	return fmt.Sprintf("Get(%s %v%v)", g.Table, g.Partition, g.Clustering)
}

// IndexScan returns the scan equivalent to an index get.
func (g *Get) IndexScan() (*Scan, error) {
	if g.Index == nil || len(g.Partition) > 0 || len(g.Clustering) > 0 {
		return nil, errors.Wrapf(ErrIllegalArgument, "%s is not an index get", g)
	}
	return &Scan{Table: g.Table, Index: g.Index, Projections: g.Projections}, nil
}

// Scan reads a range of records inside a partition, or the whole table when Partition is nil.
// An index scan has no partition and returns the records whose indexed column equals Index.
type Scan struct {
	Table       TableRef `json:"table"`
	Partition   Key      `json:"partition,omitempty"`
	Index       *Column  `json:"index,omitempty"`
	Start       *Bound   `json:"start,omitempty"`
	End         *Bound   `json:"end,omitempty"`
	Ordering    Ordering `json:"ordering,omitempty"`
	Limit       int      `json:"limit,omitempty"`
	Projections []string `json:"projections,omitempty"`
}

// All reports whether s spans every partition of the table.
func (s *Scan) All() bool { return len(s.Partition) == 0 }

// String is stable for equal scans, so it doubles as the scan's identity.
func (s *Scan) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Scan(%s %v", s.Table, s.Partition)
	if s.Index != nil {
		fmt.Fprintf(&b, " index=%s:%v", s.Index.Name, s.Index.Value)
	}
	if s.Start != nil {
		fmt.Fprintf(&b, " start=%v/%t", s.Start.Key, s.Start.Inclusive)
	}
	if s.End != nil {
		fmt.Fprintf(&b, " end=%v/%t", s.End.Key, s.End.Inclusive)
	}
	fmt.Fprintf(&b, " order=%d limit=%d proj=%v)", s.Ordering, s.Limit, s.Projections)
	return b.String()
}

// Mutation is a write against one record: a *Put or a *Delete.
type Mutation interface {
	TableRef() TableRef
	PartitionKey() Key
	ClusteringKey() Key
	GetCondition() *Condition
}

// Put inserts or updates the given columns of a record. Columns not listed keep their value.
type Put struct {
	Table      TableRef   `json:"table"`
	Partition  Key        `json:"partition"`
	Clustering Key        `json:"clustering,omitempty"`
	Values     Columns    `json:"values,omitempty"`
	Condition  *Condition `json:"condition,omitempty"`
}

func (p *Put) TableRef() TableRef       { return p.Table }
func (p *Put) PartitionKey() Key        { return p.Partition }
func (p *Put) ClusteringKey() Key       { return p.Clustering }
func (p *Put) GetCondition() *Condition { return p.Condition }

func (p *Put) String() string {
	return fmt.Sprintf("Put(%s %v%v %v)", p.Table, p.Partition, p.Clustering, p.Condition)
}

// Delete removes a record.
type Delete struct {
	Table      TableRef   `json:"table"`
	Partition  Key        `json:"partition"`
	Clustering Key        `json:"clustering,omitempty"`
	Condition  *Condition `json:"condition,omitempty"`
}

func (d *Delete) TableRef() TableRef       { return d.Table }
func (d *Delete) PartitionKey() Key        { return d.Partition }
func (d *Delete) ClusteringKey() Key       { return d.Clustering }
func (d *Delete) GetCondition() *Condition { return d.Condition }

func (d *Delete) String() string {
	return fmt.Sprintf("Delete(%s %v%v %v)", d.Table, d.Partition, d.Clustering, d.Condition)
}

// Record is a stored row. Values holds every stored column, key columns included.
type Record struct {
	Values Columns `json:"values"`
}

// Value returns the named column.
func (r *Record) Value(name string) (Value, bool) {
	v, ok := r.Values[name]
	return v, ok
}

// Project returns a copy of values restricted to names. An empty projection keeps everything.
func Project(values Columns, names []string) Columns {
	if len(names) == 0 {
		return values.Clone()
	}
	out := make(Columns, len(names))
	for _, n := range names {
		if v, ok := values[n]; ok {
			out[n] = v
		}
	}
	return out
}
