package webhook

import "time"

// DeadLetterEntry records a permanently abandoned delivery for operator
// inspection and manual replay. Retained for 30 days.
type DeadLetterEntry struct {
	WebhookID     string    `json:"webhook_id"`
	ReferenceID   string    `json:"reference_id"`
	WebhookURL    string    `json:"webhook_url"`
	Payload       []byte    `json:"payload,omitempty"`
	ErrorClass    string    `json:"error_class"`
	ErrorDetail   string    `json:"error_detail"`
	Attempts      int       `json:"attempts"`
	CorrelationID string    `json:"correlation_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// DeadLetterTTL is the retention window for dead-letter entries.
const DeadLetterTTL = 30 * 24 * time.Hour

// NewDeadLetterEntry builds a dead-letter entry from a terminally
// failed webhook record.
func NewDeadLetterEntry(r Record, errorClass, errorDetail string) DeadLetterEntry {
	return DeadLetterEntry{
		WebhookID:     r.ID(),
		ReferenceID:   r.ReferenceID,
		WebhookURL:    r.WebhookURL,
		Payload:       r.Payload,
		ErrorClass:    errorClass,
		ErrorDetail:   errorDetail,
		Attempts:      r.Attempts,
		CorrelationID: r.CorrelationID,
		CreatedAt:     time.Now().UTC(),
	}
}
