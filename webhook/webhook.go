// Package webhook defines the core data model for the webhook delivery
// and compute task dispatch system: webhook records, dead-letter
// entries, compute task records, and the claim envelope the compute
// task operates on. Types here use value semantics; they represent
// data, not behavior.
package webhook

import "time"

// Record is the primary entity tracked by the Status Store. Its
// identity is ReferenceID + "_" + TaskID (see ID()).
type Record struct {
	ReferenceID   string    `json:"reference_id"`
	TaskID        string    `json:"task_id"`
	WebhookURL    string    `json:"webhook_url"`
	Status        Status    `json:"status"`
	Attempts      int       `json:"attempts"`
	MaxAttempts   int       `json:"max_attempts"`
	CreatedAt     time.Time `json:"created_at"`
	LastAttemptAt time.Time `json:"last_attempt_at,omitempty"`
	CompletedAt   time.Time `json:"completed_at,omitempty"`
	ResponseCode  int       `json:"response_code,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	CorrelationID string    `json:"correlation_id"`
	PayloadDigest string    `json:"payload_digest"`
	Payload       []byte    `json:"payload,omitempty"`
}

// ID returns the composite webhook_id used as the Status Store key.
func (r Record) ID() string {
	return r.ReferenceID + "_" + r.TaskID
}

// DefaultMaxAttempts is the delivery attempt budget used when a caller
// does not specify one.
const DefaultMaxAttempts = 3

// NewRecord builds a Pending webhook record ready to be persisted
// before the first delivery attempt is made.
func NewRecord(referenceID, taskID, webhookURL, correlationID string, payload []byte, maxAttempts int) Record {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return Record{
		ReferenceID:   referenceID,
		TaskID:        taskID,
		WebhookURL:    webhookURL,
		Status:        Pending,
		Attempts:      0,
		MaxAttempts:   maxAttempts,
		CreatedAt:     time.Now().UTC(),
		CorrelationID: correlationID,
		PayloadDigest: Digest(payload),
		Payload:       payload,
	}
}

// TTL returns the lifecycle TTL that applies to this record's current
// status, per the rules in spec section 3.
func (r Record) TTL() time.Duration {
	if r.Status == Delivered {
		return 30 * time.Minute
	}
	return 7 * 24 * time.Hour
}
