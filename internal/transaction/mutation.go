package transaction

import (
	"github.com/ASHISH26940/helioscommit/internal/coordinator"
	"github.com/ASHISH26940/helioscommit/internal/storage"
)

func stateValue(s coordinator.TransactionState) storage.Value { return storage.IntValue(int32(s)) }

func columnOrNull(cols storage.Columns, name string, typ storage.DataType) storage.Value {
	if v, ok := cols[name]; ok {
		return v
	}
	return storage.NullValue(typ)
}

// prepareMutation builds the conditional put that prepares w. observed is the committed
// record the transaction read, or nil when the record was observed absent or never read.
// The put only lands if the record still is what was observed.
func prepareMutation(md *TransactionTableMetadata, id string, w *writeEntry, observed *TransactionResult, now int64) *storage.Put {
	values := make(storage.Columns, len(w.values)+2*len(md.ValueColumns)+2*len(metaColumnNames))
	state := coordinator.StatePrepared
	if w.delete {
		state = coordinator.StateDeleted
	} else {
		for name, v := range w.values {
			values[name] = v
		}
		if w.replacesDelete {
			for _, name := range md.ValueColumns {
				if _, ok := values[name]; !ok {
					values[name] = storage.NullValue(md.Columns[name])
				}
			}
		}
	}

	var version int64
	condition := storage.PutIfNotExists()
	if observed != nil {
		version = observed.Version()
		if owner, ok := observed.ID(); ok {
			condition = storage.PutIf(
				storage.Eq(Version, storage.IntValue(int32(version))),
				storage.Eq(ID, storage.TextValue(owner)),
			)
		} else {
			condition = storage.PutIf(storage.IsNull(ID))
		}
		for _, name := range md.ValueColumns {
			values[BeforeImageColumn(name)] = columnOrNull(observed.columns, name, md.Columns[name])
		}
		for _, name := range metaColumnNames {
			values[BeforeImageColumn(name)] = columnOrNull(observed.columns, name, afterImageMetaColumns[name])
		}
	}

	values[ID] = storage.TextValue(id)
	values[State] = stateValue(state)
	values[Version] = storage.IntValue(int32(version + 1))
	values[PreparedAt] = storage.BigIntValue(now)
	values[CommittedAt] = storage.NullValue(storage.TypeBigInt)

	return &storage.Put{
		Table:      md.Table,
		Partition:  w.partition,
		Clustering: w.clustering,
		Values:     values,
		Condition:  condition,
	}
}

// commitMutation moves a record prepared by id to its committed form: a PREPARED record becomes
// COMMITTED in place and a DELETED one is removed.
func commitMutation(table storage.TableRef, partition, clustering storage.Key, id string, state coordinator.TransactionState, now int64) storage.Mutation {
	owned := storage.Eq(ID, storage.TextValue(id))
	if state == coordinator.StateDeleted {
		return &storage.Delete{
			Table:      table,
			Partition:  partition,
			Clustering: clustering,
			Condition:  storage.DeleteIf(owned, storage.Eq(State, stateValue(coordinator.StateDeleted))),
		}
	}
	return &storage.Put{
		Table:      table,
		Partition:  partition,
		Clustering: clustering,
		Values: storage.Columns{
			State:       stateValue(coordinator.StateCommitted),
			CommittedAt: storage.BigIntValue(now),
		},
		Condition: storage.PutIf(owned, storage.Eq(State, stateValue(coordinator.StatePrepared))),
	}
}

// rollbackMutation restores the before image of r, or deletes r when it had none. It only
// applies while r is still in the state it was read in.
func rollbackMutation(md *TransactionTableMetadata, partition, clustering storage.Key, r *TransactionResult) storage.Mutation {
	id, _ := r.ID()
	unchanged := []storage.Expr{
		storage.Eq(ID, storage.TextValue(id)),
		storage.Eq(State, stateValue(r.State())),
	}
	if !r.HasBeforeImage() {
		return &storage.Delete{
			Table:      md.Table,
			Partition:  partition,
			Clustering: clustering,
			Condition:  storage.DeleteIf(unchanged...),
		}
	}
	values := make(storage.Columns, 2*len(md.ValueColumns)+2*len(metaColumnNames))
	for _, name := range md.ValueColumns {
		typ := md.Columns[name]
		values[name] = columnOrNull(r.columns, BeforeImageColumn(name), typ)
		values[BeforeImageColumn(name)] = storage.NullValue(typ)
	}
	for _, name := range metaColumnNames {
		typ := afterImageMetaColumns[name]
		values[name] = columnOrNull(r.columns, BeforeImageColumn(name), typ)
		values[BeforeImageColumn(name)] = storage.NullValue(typ)
	}
	return &storage.Put{
		Table:      md.Table,
		Partition:  partition,
		Clustering: clustering,
		Values:     values,
		Condition:  storage.PutIf(unchanged...),
	}
}
