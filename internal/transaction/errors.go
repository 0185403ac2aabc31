package transaction

import (
	"errors"
	"fmt"

	"github.com/ASHISH26940/helioscommit/internal/coordinator"
	"github.com/ASHISH26940/helioscommit/internal/storage"
)

// Kinds of transaction failure. Match them with errors.Is.
var (
	// ErrPreparationConflict means another transaction moved a record this one wrote.
	ErrPreparationConflict = errors.New("preparation conflict")
	// ErrPreparation means a prepare write failed for a reason other than a conflict.
	ErrPreparation = errors.New("preparation failed")
	// ErrValidationConflict means a record or range this transaction read changed before commit.
	ErrValidationConflict = errors.New("validation conflict")
	ErrValidation         = errors.New("validation failed")
	// ErrCommitConflict means the transaction was aborted by someone else. Usually a duplicate id.
	ErrCommitConflict = errors.New("commit conflict")
	// ErrUnknownTransactionStatus means the outcome of the commit decision is not known. Query
	// the state later instead of retrying.
	ErrUnknownTransactionStatus = errors.New("unknown transaction status")
	// ErrUncommittedRecord means a record is still owned by an unfinished transaction.
	ErrUncommittedRecord = errors.New("uncommitted record")
	// ErrSchemaNotFound means a table was not bootstrapped for transactions.
	ErrSchemaNotFound      = errors.New("schema not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrIllegalState        = errors.New("illegal state")
	ErrIllegalArgument     = errors.New("illegal argument")
	ErrRollback            = errors.New("rollback failed")
	ErrCrud                = errors.New("crud failed")
)

var errorCodes = map[error]string{
	ErrPreparationConflict:      "preparation_conflict",
	ErrPreparation:              "preparation",
	ErrValidationConflict:       "validation_conflict",
	ErrValidation:               "validation",
	ErrCommitConflict:           "commit_conflict",
	ErrUnknownTransactionStatus: "unknown_transaction_status",
	ErrUncommittedRecord:        "uncommitted_record",
	ErrSchemaNotFound:           "schema_not_found",
	ErrTransactionNotFound:      "transaction_not_found",
	ErrIllegalState:             "illegal_state",
	ErrIllegalArgument:          "illegal_argument",
	ErrRollback:                 "rollback",
	ErrCrud:                     "crud",
}

// Error is the base error type of the transaction layer.
type Error struct {
	Code    string // Error code for programmatic handling
	TxID    string // Transaction the error belongs to, if any
	Message string
	Err     error // Underlying error (optional)

	kind error
}

func (e *Error) Error() string {
	msg := e.Code + ": " + e.Message
	if e.TxID != "" {
		msg = fmt.Sprintf("%s (transaction %s)", msg, e.TxID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s (caused by: %v)", msg, e.Err)
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.Err}
}

func newError(kind error, txID, message string, err error) *Error {
	return &Error{
		Code:    errorCodes[kind],
		TxID:    txID,
		Message: message,
		Err:     err,
		kind:    kind,
	}
}

// IsRetryable reports whether running the whole transaction again may succeed.
func IsRetryable(err error) bool {
	switch {
	case errors.Is(err, ErrUnknownTransactionStatus), errors.Is(err, ErrCommitConflict):
		return false
	case errors.Is(err, ErrPreparationConflict),
		errors.Is(err, ErrValidationConflict),
		errors.Is(err, ErrUncommittedRecord),
		errors.Is(err, storage.ErrRetriable):
		return true
	}
	return false
}

func isCoordinatorConflict(err error) (coordinator.TransactionState, bool) {
	var conflict *coordinator.ConflictError
	if errors.As(err, &conflict) {
		return conflict.Existing, true
	}
	return coordinator.StateUnknown, false
}
