// Package tasks orchestrates the two task kinds the core runs:
// Compute (runs the pluggable claim-processing function) and Deliver
// (attempts one webhook delivery). Dispatch is by an exhaustive match
// over a closed tagged union, never by a string task name.
package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/complyflow/webhook-core/webhook"
)

// Kind names the two task variants the queue ever carries.
type Kind string

const (
	KindCompute Kind = "compute"
	KindDeliver Kind = "deliver"
)

// ComputePayload is the Compute task variant: run the compute function
// against the claim (ProcessingMode is forwarded to it, not branched
// on) and, if WebhookURL is set,
// enqueue a Deliver task with the result.
type ComputePayload struct {
	TaskID  string               `json:"task_id"`
	Claim   webhook.ClaimEnvelope `json:"claim"`
	Attempt int                  `json:"attempt"`
}

// DeliverPayload is the Deliver task variant: attempt one delivery of
// an already-persisted webhook record.
type DeliverPayload struct {
	WebhookID string `json:"webhook_id"`
}

// Envelope is the closed tagged union carried on the wire. Exactly one
// of Compute or Deliver is set, selected by Kind.
type Envelope struct {
	Kind    Kind            `json:"kind"`
	Compute *ComputePayload `json:"compute,omitempty"`
	Deliver *DeliverPayload `json:"deliver,omitempty"`
}

// NewComputeEnvelope builds a Compute-kind envelope.
func NewComputeEnvelope(p ComputePayload) Envelope {
	return Envelope{Kind: KindCompute, Compute: &p}
}

// NewDeliverEnvelope builds a Deliver-kind envelope.
func NewDeliverEnvelope(p DeliverPayload) Envelope {
	return Envelope{Kind: KindDeliver, Deliver: &p}
}

// Marshal encodes the envelope for a queue message payload.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// ParseEnvelope decodes a queue message payload and validates that the
// variant named by Kind actually carries a payload.
func ParseEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("decoding task envelope: %w", err)
	}

	switch e.Kind {
	case KindCompute:
		if e.Compute == nil {
			return Envelope{}, fmt.Errorf("compute envelope missing compute payload")
		}
	case KindDeliver:
		if e.Deliver == nil {
			return Envelope{}, fmt.Errorf("deliver envelope missing deliver payload")
		}
	default:
		return Envelope{}, fmt.Errorf("unknown task kind %q", e.Kind)
	}

	return e, nil
}
