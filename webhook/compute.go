package webhook

import (
	"encoding/json"
	"time"
)

// ComputeStatus represents the current state of a compute task, as
// observed through GET /task-status/{task_id}.
type ComputeStatus int

const (
	Queued ComputeStatus = iota + 1
	Processing
	ComputeCompleted
	ComputeFailed
	ComputeRetrying
)

// String returns the wire representation used by the ingress API.
func (s ComputeStatus) String() string {
	switch s {
	case Queued:
		return "QUEUED"
	case Processing:
		return "PROCESSING"
	case ComputeCompleted:
		return "COMPLETED"
	case ComputeFailed:
		return "FAILED"
	case ComputeRetrying:
		return "RETRYING"
	default:
		return "UNKNOWN"
	}
}

// NewComputeStatus parses a ComputeStatus from its wire representation.
func NewComputeStatus(str string) ComputeStatus {
	switch str {
	case "QUEUED":
		return Queued
	case "PROCESSING":
		return Processing
	case "COMPLETED":
		return ComputeCompleted
	case "FAILED":
		return ComputeFailed
	case "RETRYING":
		return ComputeRetrying
	default:
		return Queued
	}
}

// IsTerminal reports whether the compute status will never change again.
func (s ComputeStatus) IsTerminal() bool {
	return s == ComputeCompleted || s == ComputeFailed
}

// MarshalJSON encodes the status as its wire string form.
func (s ComputeStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a status from its wire string form.
func (s *ComputeStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = NewComputeStatus(str)
	return nil
}

// ClaimEnvelope is the pluggable input to a compute task. ProcessingMode
// and ClaimFields are opaque to the core: they are forwarded verbatim
// to the injected compute function, never inspected or branched on.
type ClaimEnvelope struct {
	ReferenceID    string          `json:"reference_id"`
	ProcessingMode string          `json:"processing_mode"`
	ClaimFields    json.RawMessage `json:"claim_fields"`
	WebhookURL     string          `json:"webhook_url,omitempty"`
}

// ComputeTaskRecord tracks the compute side of a claim request so it is
// observable through /task-status/{task_id} independently of whatever
// webhook delivery it may fan out into.
type ComputeTaskRecord struct {
	TaskID         string          `json:"task_id"`
	ReferenceID    string          `json:"reference_id"`
	ProcessingMode string          `json:"processing_mode"`
	Status         ComputeStatus   `json:"status"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          string          `json:"error,omitempty"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"max_attempts"`
	CreatedAt      time.Time       `json:"created_at"`
	CompletedAt    time.Time       `json:"completed_at,omitempty"`
}

// DefaultComputeMaxAttempts is the compute retry budget used when a
// caller does not specify one (spec section 9's open question,
// resolved in SPEC_FULL.md section 4.6).
const DefaultComputeMaxAttempts = 3

// NewComputeTaskRecord builds a Queued compute task record.
func NewComputeTaskRecord(taskID, referenceID, processingMode string, maxAttempts int) ComputeTaskRecord {
	if maxAttempts <= 0 {
		maxAttempts = DefaultComputeMaxAttempts
	}
	return ComputeTaskRecord{
		TaskID:         taskID,
		ReferenceID:    referenceID,
		ProcessingMode: processingMode,
		Status:         Queued,
		Attempts:       0,
		MaxAttempts:    maxAttempts,
		CreatedAt:      time.Now().UTC(),
	}
}

// TTL mirrors the webhook Record TTL law for compute task records:
// terminal-completed records are short-lived, everything else gets the
// long 7-day window so operators can inspect stuck/retrying tasks.
func (c ComputeTaskRecord) TTL() time.Duration {
	if c.Status == ComputeCompleted {
		return 30 * time.Minute
	}
	return 7 * 24 * time.Hour
}

// PermanentError is implemented by compute errors that should not be
// retried. Any error value that does not implement this interface (or
// implements it returning false) is treated as transient, up to the
// compute task's attempt budget.
type PermanentError interface {
	error
	IsPermanent() bool
}

// IsPermanentComputeError classifies a compute error using the optional
// PermanentError interface. Only the error value itself is checked;
// a wrapped PermanentError counts as transient.
func IsPermanentComputeError(err error) bool {
	pe, ok := err.(PermanentError)
	return ok && pe.IsPermanent()
}
