package transaction

import (
	"context"
	"sort"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/ASHISH26940/helioscommit/internal/storage"
)

// TransactionTableMetadata is the metadata of a table bootstrapped for transactions.
type TransactionTableMetadata struct {
	Table storage.TableRef
	*storage.TableMetadata
	// ValueColumns are the non-key application columns, sorted. Each has a before image.
	ValueColumns []string
}

func newTransactionTableMetadata(ref storage.TableRef, md *storage.TableMetadata) *TransactionTableMetadata {
	t := &TransactionTableMetadata{Table: ref, TableMetadata: md}
	for name := range md.Columns {
		if !isMetaColumn(name) && !md.IsKey(name) {
			t.ValueColumns = append(t.ValueColumns, name)
		}
	}
	sort.Strings(t.ValueColumns)
	return t
}

// IsApplicationColumn reports whether name is a column callers may read or write.
func (t *TransactionTableMetadata) IsApplicationColumn(name string) bool {
	return t.HasColumn(name) && !isMetaColumn(name)
}

// MetadataManager caches transactional table metadata. It is safe for concurrent use.
type MetadataManager struct {
	admin storage.Admin
	cache *expirable.LRU[storage.TableRef, *TransactionTableMetadata]
}

// NewMetadataManager caches up to size tables (0 means unbounded) for ttl (<= 0 means forever).
func NewMetadataManager(admin storage.Admin, size int, ttl time.Duration) *MetadataManager {
	return &MetadataManager{
		admin: admin,
		cache: expirable.NewLRU[storage.TableRef, *TransactionTableMetadata](size, nil, ttl),
	}
}

// Get returns the metadata of ref. A table that does not exist or lacks the hidden columns
// yields ErrSchemaNotFound. Failures are not cached.
func (m *MetadataManager) Get(ctx context.Context, ref storage.TableRef) (*TransactionTableMetadata, error) {
	if md, ok := m.cache.Get(ref); ok {
		return md, nil
	}
	raw, err := m.admin.TableMetadata(ctx, ref)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, newError(ErrSchemaNotFound, "", "table "+ref.String()+" does not exist", nil)
	}
	if !IsTransactionTableMetadata(raw) {
		return nil, newError(ErrSchemaNotFound, "", "table "+ref.String()+" is not a transactional table", nil)
	}
	md := newTransactionTableMetadata(ref, raw)
	m.cache.Add(ref, md)
	return md, nil
}
