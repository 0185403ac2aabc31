// Package v1 holds the request and response bodies of the HTTP transaction API.
package v1

import "github.com/ASHISH26940/helioscommit/internal/storage"

// BeginRequest starts a transaction. Every field is optional.
type BeginRequest struct {
	ID        string `json:"id,omitempty"`
	Isolation string `json:"isolation,omitempty"`
	Strategy  string `json:"strategy,omitempty"`
}

// TxResponse describes the participant held by the node after a request.
type TxResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// RecordsResponse carries the application columns of the records a get or scan returned. A get
// of an absent record returns no records.
type RecordsResponse struct {
	Records []storage.Columns `json:"records"`
}

// StateResponse is the ledger state of a transaction.
type StateResponse struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

// JoinRequest adds a node to the Raft cluster.
type JoinRequest struct {
	NodeID string `json:"node_id"`
	Addr   string `json:"addr"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Code      string `json:"code,omitempty"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}
