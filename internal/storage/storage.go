package storage

import (
	"context"
	"errors"
	"time"

	pkgerrors "github.com/pkg/errors"
)

var (
	// ErrNoMutation is returned when the condition of a conditional write does not hold.
	ErrNoMutation = errors.New("storage: condition not satisfied")
	// ErrRetriable marks transient failures. Only idempotent reads may be retried.
	ErrRetriable = errors.New("storage: transient failure")
	// ErrTableNotFound is returned for operations on an unknown table.
	ErrTableNotFound = errors.New("storage: table not found")
	// ErrIllegalArgument is returned for malformed operations.
	ErrIllegalArgument = errors.New("storage: illegal argument")
)

const retryBackoff = 10 * time.Millisecond

// Storage is implemented once per backend. Each single-record operation is atomic, including
// the evaluation of its condition.
type Storage interface {
	// Get returns the record, or nil when it does not exist.
	Get(ctx context.Context, get *Get) (*Record, error)
	Scan(ctx context.Context, scan *Scan) ([]*Record, error)
	Put(ctx context.Context, put *Put) error
	Delete(ctx context.Context, del *Delete) error
	// Mutate applies every mutation or none of them.
	Mutate(ctx context.Context, mutations []Mutation) error
	Close() error
}

// Admin manages table metadata.
type Admin interface {
	CreateTable(ctx context.Context, table TableRef, md *TableMetadata) error
	// TableMetadata returns nil when the table does not exist.
	TableMetadata(ctx context.Context, table TableRef) (*TableMetadata, error)
	DropTable(ctx context.Context, table TableRef) error
}

// ApplyPut evaluates put against the stored row and returns the row to store. existing is nil
// when the record does not exist.
func ApplyPut(md *TableMetadata, existing Columns, put *Put) (Columns, error) {
	if !put.Condition.forPut() {
		return nil, pkgerrors.Wrapf(ErrIllegalArgument, "%v is not a put condition", put.Condition)
	}
	if !put.Condition.Check(existing) {
		return nil, pkgerrors.Wrapf(ErrNoMutation, "%v", put)
	}
	row := existing.Clone()
	if row == nil {
		row = make(Columns, len(put.Values)+len(put.Partition)+len(put.Clustering))
	}
	for name, v := range put.Values {
		if !md.HasColumn(name) {
			return nil, pkgerrors.Wrapf(ErrIllegalArgument, "unknown column %s", name)
		}
		if md.IsKey(name) {
			return nil, pkgerrors.Wrapf(ErrIllegalArgument, "key column %s cannot be a value", name)
		}
		row[name] = v
	}
	for _, c := range put.Partition {
		row[c.Name] = c.Value
	}
	for _, c := range put.Clustering {
		row[c.Name] = c.Value
	}
	return row, nil
}

// CheckDelete evaluates the condition of del against the stored row.
func CheckDelete(existing Columns, del *Delete) error {
	if !del.Condition.forDelete() {
		return pkgerrors.Wrapf(ErrIllegalArgument, "%v is not a delete condition", del.Condition)
	}
	if !del.Condition.Check(existing) {
		return pkgerrors.Wrapf(ErrNoMutation, "%v", del)
	}
	return nil
}

// ScanRange returns the encoded half-open range [start, end) covered by s. A nil end means the
// range is unbounded above.
func ScanRange(s *Scan) (start, end []byte, err error) {
	if s.All() {
		return nil, nil, nil
	}
	p, err := EncodeKey(s.Partition)
	if err != nil {
		return nil, nil, err
	}
	start, end = p, PrefixNext(p)
	if s.Start != nil {
		k, err := EncodeKey(s.Start.Key)
		if err != nil {
			return nil, nil, err
		}
		start = append(append([]byte(nil), p...), k...)
		if !s.Start.Inclusive {
			start = PrefixNext(start)
		}
	}
	if s.End != nil {
		k, err := EncodeKey(s.End.Key)
		if err != nil {
			return nil, nil, err
		}
		end = append(append([]byte(nil), p...), k...)
		if s.End.Inclusive {
			end = PrefixNext(end)
		}
	}
	return start, end, nil
}

// MatchesIndex reports whether values carry the indexed value idx.
func MatchesIndex(values Columns, idx *Column) bool {
	v, ok := values[idx.Name]
	return ok && v.Equal(idx.Value)
}

// SingleRecord returns the only record of an index get, nil when none matched.
func SingleRecord(g *Get, records []*Record) (*Record, error) {
	switch len(records) {
	case 0:
		return nil, nil
	case 1:
		return records[0], nil
	}
	return nil, pkgerrors.Wrapf(ErrIllegalArgument, "%s matched %d records", g, len(records))
}

// Finish applies ordering, limit and projections to records collected in ascending key order.
func Finish(s *Scan, records []*Record) []*Record {
	if s.Ordering == Desc {
		for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
			records[i], records[j] = records[j], records[i]
		}
	}
	if s.Limit > 0 && len(records) > s.Limit {
		records = records[:s.Limit]
	}
	for _, r := range records {
		r.Values = Project(r.Values, s.Projections)
	}
	return records
}

// Each calls fn for every mutation, dispatching on its concrete type.
func Each(mutations []Mutation, put func(*Put) error, del func(*Delete) error) error {
	for _, m := range mutations {
		switch m := m.(type) {
		case *Put:
			if err := put(m); err != nil {
				return err
			}
		case *Delete:
			if err := del(m); err != nil {
				return err
			}
		default:
			return pkgerrors.Wrapf(ErrIllegalArgument, "unsupported mutation %T", m)
		}
	}
	return nil
}

// RetryRead runs read up to attempts times while it fails with ErrRetriable, sleeping a little
// longer after each failure. Only idempotent reads may be passed in, never conditional writes.
func RetryRead(ctx context.Context, attempts int, read func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = read(); err == nil || !errors.Is(err, ErrRetriable) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * retryBackoff):
		}
	}
	return err
}
