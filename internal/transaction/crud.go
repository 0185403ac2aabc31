package transaction

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"github.com/ASHISH26940/helioscommit/internal/storage"
)

// crudHandler serves the reads and buffers the writes of one transaction.
type crudHandler struct {
	storage     storage.Storage
	metadata    *MetadataManager
	recovery    *RecoveryHandler
	snapshot    *Snapshot
	readRetries int
}

func (h *crudHandler) fetch(ctx context.Context, md *TransactionTableMetadata, partition, clustering storage.Key) (*TransactionResult, error) {
	var rec *storage.Record
	err := storage.RetryRead(ctx, h.readRetries, func() error {
		var err error
		rec, err = h.storage.Get(ctx, &storage.Get{Table: md.Table, Partition: partition, Clustering: clustering})
		return err
	})
	if err != nil {
		return nil, newError(ErrCrud, h.snapshot.id, "read of "+md.Table.String()+" failed", err)
	}
	return DecodeResult(rec, md)
}

// resolve turns a freshly read record into a committed one or absence. An in-doubt record is
// resolved through recovery and read once more.
func (h *crudHandler) resolve(ctx context.Context, md *TransactionTableMetadata, partition, clustering storage.Key, r *TransactionResult) (*TransactionResult, error) {
	if r == nil || r.IsCommitted() {
		return r, nil
	}
	if err := h.recovery.Recover(ctx, md, partition, clustering); err != nil {
		return nil, newError(ErrCrud, h.snapshot.id, "recovery of an in-doubt record failed", err)
	}
	r, err := h.fetch(ctx, md, partition, clustering)
	if err != nil {
		return nil, err
	}
	if r != nil && !r.IsCommitted() {
		owner, _ := r.ID()
		return nil, newError(ErrUncommittedRecord, h.snapshot.id,
			"record of "+md.Table.String()+" is still owned by transaction "+owner, nil)
	}
	return r, nil
}

// readRecord returns the committed record at the key as first seen by this transaction.
func (h *crudHandler) readRecord(ctx context.Context, md *TransactionTableMetadata, k Key, partition, clustering storage.Key) (*TransactionResult, error) {
	if e, ok := h.snapshot.read(k); ok {
		return e.result, nil
	}
	r, err := h.fetch(ctx, md, partition, clustering)
	if err != nil {
		return nil, err
	}
	if r, err = h.resolve(ctx, md, partition, clustering, r); err != nil {
		return nil, err
	}
	return h.snapshot.putRead(k, partition, clustering, r).result, nil
}

func (h *crudHandler) get(ctx context.Context, get *storage.Get) (*Result, error) {
	if get.Index != nil {
		return h.getByIndex(ctx, get)
	}
	md, err := h.metadata.Get(ctx, get.Table)
	if err != nil {
		return nil, err
	}
	if err := md.CheckRecordKey(get.Partition, get.Clustering); err != nil {
		return nil, newError(ErrIllegalArgument, h.snapshot.id, "malformed get", err)
	}
	k, err := newKey(get.Table, get.Partition, get.Clustering)
	if err != nil {
		return nil, newError(ErrIllegalArgument, h.snapshot.id, "malformed get", err)
	}
	base, err := h.readRecord(ctx, md, k, get.Partition, get.Clustering)
	if err != nil {
		return nil, err
	}
	cols, ok := h.snapshot.merged(k, base)
	if !ok {
		return nil, nil
	}
	return newResult(cols, md, get.Projections), nil
}

// getByIndex runs an index get as the equivalent scan, so that the range it covered is
// validated like any other scan.
func (h *crudHandler) getByIndex(ctx context.Context, get *storage.Get) (*Result, error) {
	scan, err := get.IndexScan()
	if err != nil {
		return nil, newError(ErrIllegalArgument, h.snapshot.id, "malformed get", err)
	}
	results, err := h.scan(ctx, scan)
	if err != nil {
		return nil, err
	}
	if len(results) > 1 {
		return nil, newError(ErrIllegalArgument, h.snapshot.id, get.String()+" matched more than one record", nil)
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results[0], nil
}

// scan returns the records in range as this transaction sees them: the committed records
// storage returned overlaid with the buffered writes in the range, then ordered and limited.
func (h *crudHandler) scan(ctx context.Context, scan *storage.Scan) ([]*Result, error) {
	md, err := h.metadata.Get(ctx, scan.Table)
	if err != nil {
		return nil, err
	}
	if err := md.CheckScan(scan); err != nil {
		return nil, newError(ErrIllegalArgument, h.snapshot.id, "malformed scan", err)
	}
	if scan.Index != nil && !md.IsApplicationColumn(scan.Index.Name) {
		return nil, newError(ErrIllegalArgument, h.snapshot.id, "column "+scan.Index.Name+" cannot be selected on", nil)
	}
	start, end, err := storage.ScanRange(scan)
	if err != nil {
		return nil, newError(ErrIllegalArgument, h.snapshot.id, "malformed scan", err)
	}
	buffered := h.snapshot.writesIn(scan.Table, start, end)

	// Each buffered write can hide at most one stored record, so a limited scan fetches that
	// many more to still fill its limit.
	limit := scan.Limit
	if limit > 0 {
		limit += len(buffered)
	}
	keys, err := h.scanKeys(ctx, md, scan, limit)
	if err != nil {
		return nil, err
	}

	candidates := append([]Key(nil), keys...)
	seen := make(map[Key]bool, len(keys))
	for _, k := range keys {
		seen[k] = true
	}
	for _, w := range buffered {
		if !w.delete && !seen[w.key] {
			candidates = append(candidates, w.key)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].record < candidates[j].record })
	if scan.Ordering == storage.Desc {
		for i, j := 0, len(candidates)-1; i < j; i, j = i+1, j-1 {
			candidates[i], candidates[j] = candidates[j], candidates[i]
		}
	}

	results := make([]*Result, 0, len(candidates))
	for _, k := range candidates {
		var base *TransactionResult
		if e, ok := h.snapshot.read(k); ok {
			base = e.result
		}
		cols, ok := h.snapshot.merged(k, base)
		if !ok || (scan.Index != nil && !storage.MatchesIndex(cols, scan.Index)) {
			continue
		}
		results = append(results, newResult(cols, md, scan.Projections))
		if scan.Limit > 0 && len(results) == scan.Limit {
			break
		}
	}
	return results, nil
}

// scanKeys runs scan against storage with the given limit, or returns the keys of an earlier
// run of the same scan. Every returned key is registered in the read set.
func (h *crudHandler) scanKeys(ctx context.Context, md *TransactionTableMetadata, scan *storage.Scan, limit int) ([]Key, error) {
	if e, ok := h.snapshot.scanned(scan); ok {
		return e.keys, nil
	}
	raw := *scan
	raw.Projections = nil
	raw.Limit = limit

	var recs []*storage.Record
	err := storage.RetryRead(ctx, h.readRetries, func() error {
		var err error
		recs, err = h.storage.Scan(ctx, &raw)
		return err
	})
	if err != nil {
		return nil, newError(ErrCrud, h.snapshot.id, "scan of "+md.Table.String()+" failed", err)
	}

	keys := make([]Key, 0, len(recs))
	for _, rec := range recs {
		partition, clustering := md.KeyColumns(rec.Values)
		k, err := newKey(md.Table, partition, clustering)
		if err != nil {
			return nil, errors.Wrap(err, "rebuild scanned key")
		}
		if e, ok := h.snapshot.read(k); ok {
			if e.result != nil {
				keys = append(keys, k)
			}
			continue
		}
		r, err := DecodeResult(rec, md)
		if err != nil {
			return nil, err
		}
		if r, err = h.resolve(ctx, md, partition, clustering, r); err != nil {
			return nil, err
		}
		h.snapshot.putRead(k, partition, clustering, r)
		if r != nil {
			keys = append(keys, k)
		}
	}
	h.snapshot.putScan(scan, limit, keys)
	return keys, nil
}

func (h *crudHandler) checkWrite(md *TransactionTableMetadata, m storage.Mutation) error {
	if m.GetCondition() != nil {
		return newError(ErrIllegalArgument, h.snapshot.id, "conditions are not supported in transactions", nil)
	}
	if err := md.CheckRecordKey(m.PartitionKey(), m.ClusteringKey()); err != nil {
		return newError(ErrIllegalArgument, h.snapshot.id, "malformed write", err)
	}
	return nil
}

func (h *crudHandler) put(ctx context.Context, put *storage.Put) error {
	md, err := h.metadata.Get(ctx, put.Table)
	if err != nil {
		return err
	}
	if err := h.checkWrite(md, put); err != nil {
		return err
	}
	for name := range put.Values {
		if !md.IsApplicationColumn(name) || md.IsKey(name) {
			return newError(ErrIllegalArgument, h.snapshot.id, "column "+name+" cannot be written", nil)
		}
	}
	k, err := newKey(put.Table, put.Partition, put.Clustering)
	if err != nil {
		return newError(ErrIllegalArgument, h.snapshot.id, "malformed put", err)
	}
	h.snapshot.putWrite(&writeEntry{
		key:        k,
		partition:  put.Partition,
		clustering: put.Clustering,
		values:     put.Values.Clone(),
	})
	return nil
}

func (h *crudHandler) delete(ctx context.Context, del *storage.Delete) error {
	md, err := h.metadata.Get(ctx, del.Table)
	if err != nil {
		return err
	}
	if err := h.checkWrite(md, del); err != nil {
		return err
	}
	k, err := newKey(del.Table, del.Partition, del.Clustering)
	if err != nil {
		return newError(ErrIllegalArgument, h.snapshot.id, "malformed delete", err)
	}
	h.snapshot.putWrite(&writeEntry{key: k, partition: del.Partition, clustering: del.Clustering, delete: true})
	return nil
}

func (h *crudHandler) mutate(ctx context.Context, mutations []storage.Mutation) error {
	return storage.Each(mutations,
		func(p *storage.Put) error { return h.put(ctx, p) },
		func(d *storage.Delete) error { return h.delete(ctx, d) },
	)
}
