package model

import "time"

// RequestState is the lifecycle state of one certificate request
type RequestState string

const (
	RequestStateNotStarted RequestState = "not_started"
	RequestStateInProgress RequestState = "in_progress"
	RequestStateSuccess    RequestState = "success"
	RequestStateError      RequestState = "error"
	RequestStateWarning    RequestState = "warning"
)

// IsTerminal reports whether no further transitions are allowed
func (s RequestState) IsTerminal() bool {
	switch s {
	case RequestStateSuccess, RequestStateError, RequestStateWarning:
		return true
	}
	return false
}

// RequestProgressState is the live progress of one request, keyed by managed item
type RequestProgressState struct {
	ManagedItemID string       `json:"managed_item_id"`
	CurrentState  RequestState `json:"current_state"`
	Message       string       `json:"message,omitempty"`
	IsStarted     bool         `json:"is_started"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// CertificateRequestResult is the outcome of a single issuance attempt
type CertificateRequestResult struct {
	ManagedItemID string     `json:"managed_item_id"`
	IsSuccess     bool       `json:"is_success"`
	Message       string     `json:"message"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// ProgressLogEntry is one mirrored progress update
type ProgressLogEntry struct {
	Timestamp time.Time    `json:"timestamp"`
	State     RequestState `json:"state"`
	Message   string       `json:"message"`
}

// ProgressLogResponse is the log history for one managed item
type ProgressLogResponse struct {
	ManagedItemID string             `json:"managed_item_id"`
	State         RequestState       `json:"state"`
	Logs          []ProgressLogEntry `json:"logs"`
	IsComplete    bool               `json:"is_complete"`
}
