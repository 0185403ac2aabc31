package transaction

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/ASHISH26940/helioscommit/internal/storage"
)

// Hidden columns stored next to the application columns of every transactional table.
const (
	ID          = "tx_id"
	State       = "tx_state"
	Version     = "tx_version"
	PreparedAt  = "tx_prepared_at"
	CommittedAt = "tx_committed_at"

	BeforePrefix      = "before_"
	BeforeID          = BeforePrefix + ID
	BeforeState       = BeforePrefix + State
	BeforeVersion     = BeforePrefix + Version
	BeforePreparedAt  = BeforePrefix + PreparedAt
	BeforeCommittedAt = BeforePrefix + CommittedAt
)

var afterImageMetaColumns = map[string]storage.DataType{
	ID:          storage.TypeText,
	State:       storage.TypeInt,
	Version:     storage.TypeInt,
	PreparedAt:  storage.TypeBigInt,
	CommittedAt: storage.TypeBigInt,
}

// metaColumnNames is afterImageMetaColumns in a fixed order.
var metaColumnNames = []string{ID, State, Version, PreparedAt, CommittedAt}

// BeforeImageColumn returns the name of the column holding the prior committed value of name.
func BeforeImageColumn(name string) string { return BeforePrefix + name }

// BuildTransactionTableMetadata returns md extended with the hidden columns: the transaction
// metadata columns, and a before image of those and of every non-key application column.
func BuildTransactionTableMetadata(md *storage.TableMetadata) (*storage.TableMetadata, error) {
	if err := md.Validate(); err != nil {
		return nil, err
	}
	out := md.Clone()
	for name := range md.Columns {
		if _, ok := afterImageMetaColumns[name]; ok || strings.HasPrefix(name, BeforePrefix) {
			return nil, errors.Wrapf(storage.ErrIllegalArgument, "column name %s is reserved", name)
		}
		if md.IsKey(name) {
			continue
		}
		out.Columns[BeforeImageColumn(name)] = md.Columns[name]
	}
	for name, typ := range afterImageMetaColumns {
		out.Columns[name] = typ
		out.Columns[BeforeImageColumn(name)] = typ
	}
	return out, nil
}

// IsTransactionTableMetadata reports whether md carries every hidden column.
func IsTransactionTableMetadata(md *storage.TableMetadata) bool {
	for name, typ := range afterImageMetaColumns {
		if md.Columns[name] != typ || md.Columns[BeforeImageColumn(name)] != typ {
			return false
		}
	}
	for name := range md.Columns {
		if isMetaColumn(name) || md.IsKey(name) {
			continue
		}
		if _, ok := md.Columns[BeforeImageColumn(name)]; !ok {
			return false
		}
	}
	return true
}

func isMetaColumn(name string) bool {
	_, ok := afterImageMetaColumns[name]
	return ok || strings.HasPrefix(name, BeforePrefix)
}
