package transaction

import (
	"github.com/ASHISH26940/helioscommit/internal/coordinator"
	"github.com/ASHISH26940/helioscommit/internal/storage"
)

// TransactionResult is a stored record decoded together with its hidden columns. Both the
// current image and the before image are flat column sets in the same row.
type TransactionResult struct {
	columns storage.Columns
}

// DecodeResult decodes a raw record of a transactional table. A row without a state is a
// sign that the table was never bootstrapped for transactions.
func DecodeResult(rec *storage.Record, md *TransactionTableMetadata) (*TransactionResult, error) {
	if rec == nil {
		return nil, nil
	}
	if v, ok := rec.Values[State]; !ok || v.IsNull() {
		return nil, newError(ErrSchemaNotFound, "", "record of "+md.Table.String()+" has no "+State, nil)
	}
	return &TransactionResult{columns: rec.Values.Clone()}, nil
}

// Encode returns the raw column set of r.
func (r *TransactionResult) Encode() storage.Columns { return r.columns.Clone() }

func (r *TransactionResult) text(name string) (string, bool) {
	v, ok := r.columns[name]
	if !ok || v.IsNull() {
		return "", false
	}
	return v.Text, true
}

func (r *TransactionResult) int(name string) int64 {
	v, ok := r.columns[name]
	if !ok || v.IsNull() {
		return 0
	}
	return v.Int
}

// ID returns the id of the transaction that last wrote the record. Records loaded without a
// transaction have none.
func (r *TransactionResult) ID() (string, bool) { return r.text(ID) }

func (r *TransactionResult) State() coordinator.TransactionState {
	return coordinator.TransactionState(r.int(State))
}

func (r *TransactionResult) Version() int64     { return r.int(Version) }
func (r *TransactionResult) PreparedAt() int64  { return r.int(PreparedAt) }
func (r *TransactionResult) CommittedAt() int64 { return r.int(CommittedAt) }

func (r *TransactionResult) BeforeID() (string, bool) { return r.text(BeforeID) }
func (r *TransactionResult) BeforeVersion() int64     { return r.int(BeforeVersion) }

// HasBeforeImage reports whether the record replaced a committed record that rollback can
// restore.
func (r *TransactionResult) HasBeforeImage() bool {
	v, ok := r.columns[BeforeState]
	return ok && !v.IsNull()
}

func (r *TransactionResult) IsCommitted() bool { return r.State() == coordinator.StateCommitted }

// Value returns a raw column, hidden columns included.
func (r *TransactionResult) Value(name string) (storage.Value, bool) {
	v, ok := r.columns[name]
	return v, ok
}

// sameVersion reports whether a and b are the same write of a record. Absence counts.
func sameVersion(a, b *TransactionResult) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	aid, _ := a.ID()
	bid, _ := b.ID()
	return aid == bid && a.Version() == b.Version()
}

// Result is the caller's view of a record: application columns only.
type Result struct {
	columns storage.Columns
}

func newResult(columns storage.Columns, md *TransactionTableMetadata, projections []string) *Result {
	out := make(storage.Columns, len(columns))
	for name, v := range columns {
		if md.IsApplicationColumn(name) {
			out[name] = v
		}
	}
	return &Result{columns: storage.Project(out, projections)}
}

func (r *Result) Value(name string) (storage.Value, bool) {
	v, ok := r.columns[name]
	return v, ok
}

// Columns returns a copy of every column of the result.
func (r *Result) Columns() storage.Columns { return r.columns.Clone() }

// Int returns an integer column, or 0 when it is missing or null.
func (r *Result) Int(name string) int64 {
	v, ok := r.columns[name]
	if !ok || v.IsNull() {
		return 0
	}
	return v.Int
}

// Text returns a text column, or "" when it is missing or null.
func (r *Result) Text(name string) string {
	v, ok := r.columns[name]
	if !ok || v.IsNull() {
		return ""
	}
	return v.Text
}
