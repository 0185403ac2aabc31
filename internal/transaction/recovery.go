package transaction

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ASHISH26940/helioscommit/internal/coordinator"
	"github.com/ASHISH26940/helioscommit/internal/metrics"
	"github.com/ASHISH26940/helioscommit/internal/storage"
)

// DefaultLeaseWindow is how long a prepared record may stay unresolved before any reader may
// abort its transaction.
const DefaultLeaseWindow = 15 * time.Second

// RecoveryHandler resolves in-doubt records. It is stateless apart from its handles and is
// shared by every transaction of a manager.
type RecoveryHandler struct {
	storage     storage.Storage
	coordinator *coordinator.Coordinator
	lease       time.Duration
	readRetries int
	now         func() time.Time
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

func NewRecoveryHandler(st storage.Storage, c *coordinator.Coordinator, lease time.Duration, opts ...HandlerOption) *RecoveryHandler {
	o := newHandlerOptions(opts)
	if lease <= 0 {
		lease = DefaultLeaseWindow
	}
	return &RecoveryHandler{
		storage:     st,
		coordinator: c,
		lease:       lease,
		readRetries: o.readRetries,
		now:         o.now,
		logger:      o.logger,
		metrics:     o.metrics,
	}
}

// Recover resolves the record at (partition, clustering) of md. The record is re-read first, so
// a stale in-doubt copy is harmless. Corrective writes that lose a race are treated as done by
// the winner. Recover returns an error only when the record or the ledger cannot be read.
func (h *RecoveryHandler) Recover(ctx context.Context, md *TransactionTableMetadata, partition, clustering storage.Key) error {
	var rec *storage.Record
	err := storage.RetryRead(ctx, h.readRetries, func() error {
		var err error
		rec, err = h.storage.Get(ctx, &storage.Get{Table: md.Table, Partition: partition, Clustering: clustering})
		return err
	})
	if err != nil {
		return err
	}
	latest, err := DecodeResult(rec, md)
	if err != nil || latest == nil || latest.IsCommitted() {
		return err
	}

	id, _ := latest.ID()
	state, err := h.coordinator.GetState(ctx, id)
	if err != nil {
		return err
	}
	if state != nil {
		switch state.Status {
		case coordinator.StateCommitted:
			h.rollforward(ctx, md, partition, clustering, latest)
		case coordinator.StateAborted:
			h.rollback(ctx, md, partition, clustering, latest)
		}
		return nil
	}

	age := h.now().UnixMilli() - latest.PreparedAt()
	if age < h.lease.Milliseconds() {
		h.logger.Debug("in-doubt record still within its lease",
			zap.String("tx_id", id), zap.Stringer("table", md.Table), zap.Int64("age_ms", age))
		return nil
	}

	err = h.coordinator.PutState(ctx, coordinator.State{TxID: id, Status: coordinator.StateAborted})
	if err == nil {
		h.logger.Info("aborted expired transaction", zap.String("tx_id", id), zap.Int64("age_ms", age))
		h.metrics.Recovery("abort")
		h.rollback(ctx, md, partition, clustering, latest)
		return nil
	}
	if existing, ok := isCoordinatorConflict(err); ok && existing == coordinator.StateCommitted {
		h.rollforward(ctx, md, partition, clustering, latest)
		return nil
	}
	return err
}

func (h *RecoveryHandler) rollforward(ctx context.Context, md *TransactionTableMetadata, partition, clustering storage.Key, r *TransactionResult) {
	id, _ := r.ID()
	m := commitMutation(md.Table, partition, clustering, id, r.State(), h.now().UnixMilli())
	h.correct(ctx, "rollforward", id, md, m)
}

func (h *RecoveryHandler) rollback(ctx context.Context, md *TransactionTableMetadata, partition, clustering storage.Key, r *TransactionResult) {
	id, _ := r.ID()
	h.correct(ctx, "rollback", id, md, rollbackMutation(md, partition, clustering, r))
}

func (h *RecoveryHandler) correct(ctx context.Context, action, id string, md *TransactionTableMetadata, m storage.Mutation) {
	err := mutate(ctx, h.storage, m)
	switch {
	case err == nil:
		h.logger.Info("resolved in-doubt record", zap.String("action", action),
			zap.String("tx_id", id), zap.Stringer("table", md.Table))
		h.metrics.Recovery(action)
	case errors.Is(err, storage.ErrNoMutation):
		h.logger.Debug("in-doubt record already resolved", zap.String("action", action), zap.String("tx_id", id))
	default:
		h.logger.Warn("failed to resolve in-doubt record", zap.String("action", action),
			zap.String("tx_id", id), zap.Stringer("table", md.Table), zap.Error(err))
	}
}

func mutate(ctx context.Context, st storage.Storage, m storage.Mutation) error {
	return storage.Each([]storage.Mutation{m},
		func(p *storage.Put) error { return st.Put(ctx, p) },
		func(d *storage.Delete) error { return st.Delete(ctx, d) },
	)
}
