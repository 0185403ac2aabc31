package transaction

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ASHISH26940/helioscommit/internal/coordinator"
	"github.com/ASHISH26940/helioscommit/internal/metrics"
	"github.com/ASHISH26940/helioscommit/internal/storage"
)

// CommitHandler drives prepare, validation, the commit decision and rollback. It holds no
// per-transaction state and is shared by every transaction of a manager.
type CommitHandler struct {
	storage         storage.Storage
	coordinator     *coordinator.Coordinator
	metadata        *MetadataManager
	parallelPrepare bool
	parallelCommit  bool
	readRetries     int
	now             func() time.Time
	logger          *zap.Logger
	metrics         *metrics.Metrics
}

func NewCommitHandler(st storage.Storage, c *coordinator.Coordinator, md *MetadataManager, parallelPrepare, parallelCommit bool, opts ...HandlerOption) *CommitHandler {
	o := newHandlerOptions(opts)
	return &CommitHandler{
		storage:         st,
		coordinator:     c,
		metadata:        md,
		parallelPrepare: parallelPrepare,
		parallelCommit:  parallelCommit,
		readRetries:     o.readRetries,
		now:             o.now,
		logger:          o.logger,
		metrics:         o.metrics,
	}
}

// Prepare writes every buffered write as a PREPARED (or DELETED) record, each guarded by the
// version the transaction observed. The records actually written are remembered in the
// snapshot so that a later rollback can undo them.
func (h *CommitHandler) Prepare(ctx context.Context, snap *Snapshot) error {
	if snap.serializableWith(StrategyExtraWrite) {
		snap.toSerializableWithExtraWrite()
	}
	writes := snap.writeSet()
	puts := make([]*storage.Put, len(writes))
	now := h.now().UnixMilli()
	for i, w := range writes {
		md, err := h.metadata.Get(ctx, w.key.Table)
		if err != nil {
			return err
		}
		var observed *TransactionResult
		if e, ok := snap.read(w.key); ok {
			observed = e.result
		}
		puts[i] = prepareMutation(md, snap.id, w, observed, now)
	}

	done := make([]bool, len(puts))
	prepare := func(i int) error {
		if err := h.storage.Put(ctx, puts[i]); err != nil {
			if errors.Is(err, storage.ErrNoMutation) {
				return newError(ErrPreparationConflict, snap.id, "a record was changed by another transaction", err)
			}
			return newError(ErrPreparation, snap.id, "prepare write failed", err)
		}
		done[i] = true
		return nil
	}

	var err error
	if h.parallelPrepare && len(puts) > 1 {
		var g errgroup.Group
		for i := range puts {
			g.Go(func() error { return prepare(i) })
		}
		err = g.Wait()
	} else {
		for i := range puts {
			if err = prepare(i); err != nil {
				break
			}
		}
	}

	for i, ok := range done {
		if ok {
			snap.prepared = append(snap.prepared, writes[i])
		}
	}
	if errors.Is(err, ErrPreparationConflict) {
		h.metrics.Conflict("preparation")
	}
	return err
}

// Validate re-reads what a serializable transaction using the extra-read strategy read and
// fails if anything moved. Other transactions have nothing to validate.
func (h *CommitHandler) Validate(ctx context.Context, snap *Snapshot) error {
	if !snap.serializableWith(StrategyExtraRead) {
		return nil
	}
	reads, scans := snap.validationSet()
	for _, k := range reads {
		e := snap.reads[k]
		md, err := h.metadata.Get(ctx, k.Table)
		if err != nil {
			return err
		}
		current, err := h.reread(ctx, md, e.partition, e.clustering)
		if err != nil {
			return err
		}
		if current != nil {
			// Prepared by another participant of this transaction.
			if owner, _ := current.ID(); owner == snap.id {
				continue
			}
		}
		if !sameVersion(e.result, current) {
			return h.validationConflict(snap, "record of "+md.Table.String()+" changed since it was read")
		}
	}
	for _, s := range scans {
		if err := h.validateScan(ctx, snap, s); err != nil {
			return err
		}
	}
	return nil
}

func (h *CommitHandler) validationConflict(snap *Snapshot, msg string) error {
	h.metrics.Conflict("validation")
	return newError(ErrValidationConflict, snap.id, msg, nil)
}

func (h *CommitHandler) reread(ctx context.Context, md *TransactionTableMetadata, partition, clustering storage.Key) (*TransactionResult, error) {
	var rec *storage.Record
	err := storage.RetryRead(ctx, h.readRetries, func() error {
		var err error
		rec, err = h.storage.Get(ctx, &storage.Get{Table: md.Table, Partition: partition, Clustering: clustering})
		return err
	})
	if err != nil {
		return nil, newError(ErrValidation, "", "re-read of "+md.Table.String()+" failed", err)
	}
	return DecodeResult(rec, md)
}

// validateScan re-runs a scan and compares it with the first run. Records written by this
// transaction are left out of both sides. A scan that storage cut at its limit is only
// compared up to the length of the first run.
func (h *CommitHandler) validateScan(ctx context.Context, snap *Snapshot, s *scanEntry) error {
	md, err := h.metadata.Get(ctx, s.scan.Table)
	if err != nil {
		return err
	}
	raw := *s.scan
	raw.Projections = nil
	raw.Limit = 0
	var recs []*storage.Record
	err = storage.RetryRead(ctx, h.readRetries, func() error {
		var err error
		recs, err = h.storage.Scan(ctx, &raw)
		return err
	})
	if err != nil {
		return newError(ErrValidation, snap.id, "re-scan of "+md.Table.String()+" failed", err)
	}

	var expected []Key
	for _, k := range s.keys {
		if _, ok := snap.writes[k]; !ok {
			expected = append(expected, k)
		}
	}
	type seen struct {
		key Key
		r   *TransactionResult
	}
	var actual []seen
	for _, rec := range recs {
		partition, clustering := md.KeyColumns(rec.Values)
		k, err := newKey(md.Table, partition, clustering)
		if err != nil {
			return err
		}
		if _, ok := snap.writes[k]; ok {
			continue
		}
		r, err := DecodeResult(rec, md)
		if err != nil {
			return err
		}
		if owner, _ := r.ID(); owner == snap.id {
			continue
		}
		actual = append(actual, seen{key: k, r: r})
	}
	if s.limit > 0 && len(s.keys) == s.limit && len(actual) > len(expected) {
		actual = actual[:len(expected)]
	}

	if len(actual) != len(expected) {
		return h.validationConflict(snap, "the range of a scan of "+md.Table.String()+" changed")
	}
	for i, k := range expected {
		if actual[i].key != k || !sameVersion(snap.reads[k].result, actual[i].r) {
			return h.validationConflict(snap, "a record in a scan of "+md.Table.String()+" changed")
		}
	}
	return nil
}

// CommitState records the COMMITTED decision. A decision already recorded as ABORTED means
// someone aborted the transaction: its records are rolled back and ErrCommitConflict returned.
// Any other failure leaves the outcome unknown and the records to recovery.
func (h *CommitHandler) CommitState(ctx context.Context, snap *Snapshot) error {
	err := h.coordinator.PutState(ctx, coordinator.State{TxID: snap.id, Status: coordinator.StateCommitted})
	if err == nil {
		return nil
	}
	if existing, ok := isCoordinatorConflict(err); ok && existing == coordinator.StateAborted {
		h.metrics.Conflict("commit")
		h.RollbackRecords(ctx, snap)
		return newError(ErrCommitConflict, snap.id, "the transaction was already aborted", err)
	}
	h.metrics.Transaction("unknown")
	return newError(ErrUnknownTransactionStatus, snap.id, "the commit decision could not be confirmed", err)
}

// CommitRecords moves every prepared record to its committed form. Failures are only logged:
// the ledger already says COMMITTED, so recovery rolls the record forward on its next read.
func (h *CommitHandler) CommitRecords(ctx context.Context, snap *Snapshot) {
	now := h.now().UnixMilli()
	commit := func(w *writeEntry) {
		state := coordinator.StatePrepared
		if w.delete {
			state = coordinator.StateDeleted
		}
		m := commitMutation(w.key.Table, w.partition, w.clustering, snap.id, state, now)
		if err := mutate(ctx, h.storage, m); err != nil {
			h.logger.Warn("failed to commit record, leaving it to recovery",
				zap.String("tx_id", snap.id), zap.Stringer("table", w.key.Table), zap.Error(err))
		}
	}
	h.forEachPrepared(snap, h.parallelCommit, commit)
}

// Rollback records the ABORTED decision and rolls back every prepared record. It refuses when
// the transaction is already committed. With always set the decision is written even when
// nothing was prepared.
func (h *CommitHandler) Rollback(ctx context.Context, snap *Snapshot, always bool) error {
	if len(snap.prepared) == 0 && !always {
		return nil
	}
	err := h.coordinator.PutState(ctx, coordinator.State{TxID: snap.id, Status: coordinator.StateAborted})
	if err != nil {
		if existing, ok := isCoordinatorConflict(err); ok && existing == coordinator.StateCommitted {
			return newError(ErrIllegalState, snap.id, "the transaction is already committed", err)
		}
		return newError(ErrUnknownTransactionStatus, snap.id, "the abort decision could not be confirmed", err)
	}
	h.RollbackRecords(ctx, snap)
	return nil
}

// RollbackRecords undoes the prepared records that still belong to the transaction.
func (h *CommitHandler) RollbackRecords(ctx context.Context, snap *Snapshot) {
	rollback := func(w *writeEntry) {
		md, err := h.metadata.Get(ctx, w.key.Table)
		if err != nil {
			h.logger.Warn("failed to roll back record", zap.String("tx_id", snap.id), zap.Error(err))
			return
		}
		current, err := h.reread(ctx, md, w.partition, w.clustering)
		if err != nil {
			h.logger.Warn("failed to roll back record", zap.String("tx_id", snap.id), zap.Error(err))
			return
		}
		if current == nil {
			return
		}
		if owner, _ := current.ID(); owner != snap.id || current.IsCommitted() {
			return
		}
		err = mutate(ctx, h.storage, rollbackMutation(md, w.partition, w.clustering, current))
		if err != nil && !errors.Is(err, storage.ErrNoMutation) {
			h.logger.Warn("failed to roll back record, leaving it to recovery",
				zap.String("tx_id", snap.id), zap.Stringer("table", md.Table), zap.Error(err))
		}
	}
	h.forEachPrepared(snap, h.parallelCommit, rollback)
}

func (h *CommitHandler) forEachPrepared(snap *Snapshot, parallel bool, fn func(*writeEntry)) {
	if !parallel || len(snap.prepared) < 2 {
		for _, w := range snap.prepared {
			fn(w)
		}
		return
	}
	var g errgroup.Group
	for _, w := range snap.prepared {
		g.Go(func() error {
			fn(w)
			return nil
		})
	}
	_ = g.Wait()
}

// Abort records the ABORTED decision for id. It returns the decision that holds afterwards,
// or UNKNOWN when the ledger could not be written.
func (h *CommitHandler) Abort(ctx context.Context, id string) (coordinator.TransactionState, error) {
	err := h.coordinator.PutState(ctx, coordinator.State{TxID: id, Status: coordinator.StateAborted})
	if err == nil {
		return coordinator.StateAborted, nil
	}
	if existing, ok := isCoordinatorConflict(err); ok {
		return existing, nil
	}
	return coordinator.StateUnknown, newError(ErrUnknownTransactionStatus, id, "the abort decision could not be confirmed", err)
}
