package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/complyflow/webhook-core/queue"
	"github.com/complyflow/webhook-core/retrypolicy"
	"github.com/complyflow/webhook-core/webhook"
	"github.com/complyflow/webhook-core/webhook/redisstore"
)

// ComputeFunc is the pluggable, domain-specific claim-processing
// function. It is the one boundary the core treats as an external
// collaborator: the core never inspects ClaimFields or the result.
type ComputeFunc func(ctx context.Context, claim webhook.ClaimEnvelope) (json.RawMessage, error)

// ComputeStore is the subset of the Status Store a Compute task needs.
type ComputeStore interface {
	GetCompute(ctx context.Context, taskID string) (webhook.ComputeTaskRecord, error)
	PutCompute(ctx context.Context, rec webhook.ComputeTaskRecord) error
	PutWebhook(ctx context.Context, rec webhook.Record) error
}

// Enqueuer is the subset of *queue.Queue the tasks package needs to
// schedule follow-on work. Accepting the interface rather than the
// concrete type lets orchestrator tests run against in-memory fakes.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload []byte) (string, error)
	EnqueueDelayed(ctx context.Context, payload []byte, eta time.Time) error
}

// ComputeTask runs one invocation of the Compute task variant.
type ComputeTask struct {
	Store   ComputeStore
	Compute ComputeFunc

	// RetryQueue is the compute queue itself: a retry is scheduled on
	// its delayed sorted set, to be promoted back into the same stream.
	RetryQueue Enqueuer

	// DeliveryQueue receives the Deliver envelope fanned out once
	// compute reaches a terminal state with a webhook_url present.
	DeliveryQueue Enqueuer

	Policy retrypolicy.Policy
}

// Handle implements queue.Handler for the compute queue.
func (t *ComputeTask) Handle(ctx context.Context, msg queue.Message) error {
	env, err := ParseEnvelope(msg.Payload)
	if err != nil {
		return err
	}
	if env.Kind != KindCompute {
		return fmt.Errorf("compute task handler received %s envelope", env.Kind)
	}
	payload := env.Compute

	rec, err := t.Store.GetCompute(ctx, payload.TaskID)
	if err != nil && !errors.Is(err, redisstore.ErrNotFound) {
		return fmt.Errorf("loading compute task record: %w", err)
	}
	if errors.Is(err, redisstore.ErrNotFound) {
		rec = webhook.NewComputeTaskRecord(payload.TaskID, payload.Claim.ReferenceID, payload.Claim.ProcessingMode, webhook.DefaultComputeMaxAttempts)
	}
	if rec.Status.IsTerminal() {
		return nil
	}

	rec.Status = webhook.Processing
	rec.Attempts++
	if err := t.Store.PutCompute(ctx, rec); err != nil {
		return fmt.Errorf("writing processing status: %w", err)
	}

	result, computeErr := t.Compute(ctx, payload.Claim)

	outcome := retrypolicy.Success
	if computeErr != nil {
		if webhook.IsPermanentComputeError(computeErr) {
			outcome = retrypolicy.ClientPermanent
		} else {
			outcome = retrypolicy.ServerError
		}
	}

	decision, delay := retrypolicy.Evaluate(outcome, rec.Attempts-1, rec.MaxAttempts, t.Policy, nil)

	switch decision {
	case retrypolicy.CompleteSuccess:
		rec.Status = webhook.ComputeCompleted
		rec.Result = result
		rec.CompletedAt = time.Now().UTC()
		if err := t.Store.PutCompute(ctx, rec); err != nil {
			return fmt.Errorf("writing completed status: %w", err)
		}
		return t.fanOutWebhook(ctx, rec, payload, result)

	case retrypolicy.ScheduleRetry:
		rec.Status = webhook.ComputeRetrying
		rec.Error = computeErr.Error()
		if err := t.Store.PutCompute(ctx, rec); err != nil {
			return fmt.Errorf("writing retrying status: %w", err)
		}
		retryPayload := *payload
		retryPayload.Attempt = rec.Attempts
		return t.requeue(ctx, retryPayload, delay)

	default: // FailPermanent
		rec.Status = webhook.ComputeFailed
		if computeErr != nil {
			rec.Error = computeErr.Error()
		}
		rec.CompletedAt = time.Now().UTC()
		if err := t.Store.PutCompute(ctx, rec); err != nil {
			return fmt.Errorf("writing failed status: %w", err)
		}
		// Per spec section 4.6: on final failure with a webhook_url,
		// still attempt delivery with a synthetic error payload so the
		// client learns of the failure rather than polling forever.
		if payload.Claim.WebhookURL != "" {
			synthetic, _ := json.Marshal(map[string]string{
				"error":   "compute failed",
				"detail":  rec.Error,
				"task_id": rec.TaskID,
			})
			return t.fanOutWebhook(ctx, rec, payload, synthetic)
		}
		return nil
	}
}

func (t *ComputeTask) requeue(ctx context.Context, payload ComputePayload, delay time.Duration) error {
	if t.RetryQueue == nil {
		return fmt.Errorf("compute retry requested but no retry queue configured")
	}
	data, err := NewComputeEnvelope(payload).Marshal()
	if err != nil {
		return fmt.Errorf("marshaling retry envelope: %w", err)
	}
	return t.RetryQueue.EnqueueDelayed(ctx, data, time.Now().Add(delay))
}

func (t *ComputeTask) fanOutWebhook(ctx context.Context, rec webhook.ComputeTaskRecord, payload *ComputePayload, result json.RawMessage) error {
	if payload.Claim.WebhookURL == "" {
		return nil
	}

	correlationID := uuid.NewString()
	webhookRec := webhook.NewRecord(rec.ReferenceID, rec.TaskID, payload.Claim.WebhookURL, correlationID, result, webhook.DefaultMaxAttempts)

	if err := t.Store.PutWebhook(ctx, webhookRec); err != nil {
		return fmt.Errorf("writing webhook record before fan-out: %w", err)
	}

	data, err := NewDeliverEnvelope(DeliverPayload{WebhookID: webhookRec.ID()}).Marshal()
	if err != nil {
		return fmt.Errorf("marshaling deliver envelope: %w", err)
	}

	if t.DeliveryQueue == nil {
		return fmt.Errorf("fan-out requested but no delivery queue configured")
	}
	if _, err := t.DeliveryQueue.Enqueue(ctx, data); err != nil {
		return fmt.Errorf("enqueueing delivery task: %w", err)
	}
	return nil
}
