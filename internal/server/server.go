// Package server handles the HTTP API of a helioscommit node.
//
// A transaction lives in the node's TwoPhaseManager between requests. Each request resumes the
// participant by id, runs one operation and suspends it again, unless the operation finished it.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	v1 "github.com/ASHISH26940/helioscommit/api/v1"
	"github.com/ASHISH26940/helioscommit/internal/coordinator"
	"github.com/ASHISH26940/helioscommit/internal/logger"
	"github.com/ASHISH26940/helioscommit/internal/metrics"
	internalraft "github.com/ASHISH26940/helioscommit/internal/raft"
	"github.com/ASHISH26940/helioscommit/internal/storage"
	"github.com/ASHISH26940/helioscommit/internal/transaction"
)

// DefaultRequestTimeout bounds the storage work of one request.
const DefaultRequestTimeout = 10 * time.Second

// Server is the HTTP server of a node.
type Server struct {
	tm      *transaction.TwoPhaseManager
	cluster internalraft.Joiner
	metrics *metrics.Metrics
	logger  *zap.Logger
	timeout time.Duration
	router  *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithCluster enables POST /join. Without it the node is not clustered.
func WithCluster(j internalraft.Joiner) Option { return func(s *Server) { s.cluster = j } }

// WithMetrics serves m on GET /metrics.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Server) { s.metrics = m } }

func WithLogger(l *zap.Logger) Option { return func(s *Server) { s.logger = logger.OrNop(l) } }

func WithRequestTimeout(d time.Duration) Option { return func(s *Server) { s.timeout = d } }

// New creates a new Server instance.
func New(tm *transaction.TwoPhaseManager, opts ...Option) *Server {
	s := &Server{
		tm:      tm,
		logger:  zap.NewNop(),
		timeout: DefaultRequestTimeout,
		router:  http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s
}

// ServeHTTP makes our Server a standard http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type txOp func(ctx context.Context, tx *transaction.TwoPhaseTransaction, body []byte) (interface{}, error)

func (s *Server) registerRoutes() {
	s.router.HandleFunc("POST /tx", s.handleBegin)
	s.router.HandleFunc("POST /tx/{id}/join", s.handleJoinTx)
	s.router.HandleFunc("GET /tx/{id}/state", s.handleState)
	s.router.HandleFunc("POST /tx/{id}/abort", s.handleAbort)
	for name, op := range map[string]txOp{
		"get":      opGet,
		"scan":     opScan,
		"put":      opPut,
		"delete":   opDelete,
		"prepare":  opPhase((*transaction.TwoPhaseTransaction).Prepare),
		"validate": opPhase((*transaction.TwoPhaseTransaction).Validate),
		"commit":   opPhase((*transaction.TwoPhaseTransaction).Commit),
		"rollback": opPhase((*transaction.TwoPhaseTransaction).Rollback),
	} {
		s.router.HandleFunc("POST /tx/{id}/"+name, s.withTransaction(name, op))
	}
	s.router.HandleFunc("POST /join", s.handleJoin)
	s.router.Handle("GET /metrics", s.metrics.Handler())
}

func startOptions(req v1.BeginRequest) ([]transaction.StartOption, error) {
	var opts []transaction.StartOption
	if req.Isolation != "" {
		i, err := transaction.ParseIsolation(req.Isolation)
		if err != nil {
			return nil, badRequest(err)
		}
		opts = append(opts, transaction.WithIsolation(i))
	}
	if req.Strategy != "" {
		st, err := transaction.ParseStrategy(req.Strategy)
		if err != nil {
			return nil, badRequest(err)
		}
		opts = append(opts, transaction.WithStrategy(st))
	}
	return opts, nil
}

func (s *Server) handleBegin(w http.ResponseWriter, r *http.Request) {
	var req v1.BeginRequest
	if err := decodeOptional(r.Body, &req); err != nil {
		s.writeError(w, err)
		return
	}
	opts, err := startOptions(req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if req.ID != "" {
		opts = append(opts, transaction.WithID(req.ID))
	}
	tx, err := s.tm.Start(opts...)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.park(w, tx)
}

func (s *Server) handleJoinTx(w http.ResponseWriter, r *http.Request) {
	var req v1.BeginRequest
	if err := decodeOptional(r.Body, &req); err != nil {
		s.writeError(w, err)
		return
	}
	opts, err := startOptions(req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	tx, err := s.tm.Join(r.PathValue("id"), opts...)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.park(w, tx)
}

// park suspends a new participant and answers 201.
func (s *Server) park(w http.ResponseWriter, tx *transaction.TwoPhaseTransaction) {
	if err := s.tm.Suspend(tx); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Debug("transaction started", zap.String("tx", tx.ID()))
	writeJSON(w, http.StatusCreated, v1.TxResponse{ID: tx.ID(), Status: tx.Status().String()})
}

// withTransaction resumes the participant named by the path, runs op and suspends the
// participant again unless op finished it.
func (s *Server) withTransaction(name string, op txOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			s.writeError(w, badRequest(err))
			return
		}
		tx, err := s.tm.Resume(r.PathValue("id"))
		if err != nil {
			s.writeError(w, err)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
		defer cancel()
		resp, opErr := op(ctx, tx, body)
		if st := tx.Status(); st != transaction.StatusCommitted && st != transaction.StatusAborted {
			if err := s.tm.Suspend(tx); err != nil {
				s.logger.Warn("cannot suspend transaction", zap.String("tx", tx.ID()), zap.Error(err))
			}
		}
		if opErr != nil {
			s.logger.Info("transaction operation failed", zap.String("tx", tx.ID()), zap.String("op", name), zap.Error(opErr))
			s.writeError(w, opErr)
			return
		}
		if resp == nil {
			resp = v1.TxResponse{ID: tx.ID(), Status: tx.Status().String()}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func opGet(ctx context.Context, tx *transaction.TwoPhaseTransaction, body []byte) (interface{}, error) {
	var get storage.Get
	if err := json.Unmarshal(body, &get); err != nil {
		return nil, badRequest(err)
	}
	r, err := tx.Get(ctx, &get)
	if err != nil {
		return nil, err
	}
	resp := v1.RecordsResponse{Records: []storage.Columns{}}
	if r != nil {
		resp.Records = append(resp.Records, r.Columns())
	}
	return resp, nil
}

func opScan(ctx context.Context, tx *transaction.TwoPhaseTransaction, body []byte) (interface{}, error) {
	var scan storage.Scan
	if err := json.Unmarshal(body, &scan); err != nil {
		return nil, badRequest(err)
	}
	rs, err := tx.Scan(ctx, &scan)
	if err != nil {
		return nil, err
	}
	resp := v1.RecordsResponse{Records: make([]storage.Columns, 0, len(rs))}
	for _, r := range rs {
		resp.Records = append(resp.Records, r.Columns())
	}
	return resp, nil
}

func opPut(ctx context.Context, tx *transaction.TwoPhaseTransaction, body []byte) (interface{}, error) {
	var put storage.Put
	if err := json.Unmarshal(body, &put); err != nil {
		return nil, badRequest(err)
	}
	return nil, tx.Put(ctx, &put)
}

func opDelete(ctx context.Context, tx *transaction.TwoPhaseTransaction, body []byte) (interface{}, error) {
	var del storage.Delete
	if err := json.Unmarshal(body, &del); err != nil {
		return nil, badRequest(err)
	}
	return nil, tx.Delete(ctx, &del)
}

func opPhase(phase func(*transaction.TwoPhaseTransaction, context.Context) error) txOp {
	return func(ctx context.Context, tx *transaction.TwoPhaseTransaction, _ []byte) (interface{}, error) {
		return nil, phase(tx, ctx)
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	state, err := s.tm.GetState(r.Context(), id)
	if err != nil {
		s.logger.Warn("cannot read transaction state", zap.String("tx", id), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, v1.StateResponse{ID: id, State: state.String()})
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	state, err := s.tm.Abort(ctx, id)
	if err != nil && state == coordinator.StateUnknown {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v1.StateResponse{ID: id, State: state.String()})
}

// handleJoin adds a new node to the Raft cluster.
func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	if s.cluster == nil {
		s.writeError(w, &httpError{status: http.StatusNotFound, msg: "node is not clustered"})
		return
	}
	var req v1.JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, badRequest(err))
		return
	}
	if req.NodeID == "" || req.Addr == "" {
		s.writeError(w, &httpError{status: http.StatusBadRequest, msg: "missing node_id or addr in join request"})
		return
	}
	if err := internalraft.Join(s.cluster, req.NodeID, req.Addr); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("node joined the cluster", zap.String("node", req.NodeID), zap.String("addr", req.Addr))
	w.WriteHeader(http.StatusOK)
}

type httpError struct {
	status int
	msg    string
}

func (e *httpError) Error() string { return e.msg }

func badRequest(err error) error {
	return &httpError{status: http.StatusBadRequest, msg: err.Error()}
}

// decodeOptional decodes a JSON body that may be empty.
func decodeOptional(body io.Reader, v interface{}) error {
	err := json.NewDecoder(body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return badRequest(err)
}

func statusOf(err error) int {
	var he *httpError
	switch {
	case errors.As(err, &he):
		return he.status
	case errors.Is(err, transaction.ErrTransactionNotFound):
		return http.StatusNotFound
	case errors.Is(err, transaction.ErrIllegalArgument),
		errors.Is(err, transaction.ErrSchemaNotFound),
		errors.Is(err, storage.ErrIllegalArgument):
		return http.StatusBadRequest
	case errors.Is(err, internalraft.ErrNotLeader):
		return http.StatusForbidden
	case errors.Is(err, transaction.ErrIllegalState),
		errors.Is(err, transaction.ErrPreparationConflict),
		errors.Is(err, transaction.ErrValidationConflict),
		errors.Is(err, transaction.ErrCommitConflict),
		errors.Is(err, transaction.ErrUncommittedRecord):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	resp := v1.ErrorResponse{Message: err.Error(), Retryable: transaction.IsRetryable(err)}
	var te *transaction.Error
	if errors.As(err, &te) {
		resp.Code = te.Code
	}
	writeJSON(w, statusOf(err), resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
