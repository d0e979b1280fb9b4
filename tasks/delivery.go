package tasks

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/complyflow/webhook-core/breaker"
	"github.com/complyflow/webhook-core/deliveryclient"
	"github.com/complyflow/webhook-core/queue"
	"github.com/complyflow/webhook-core/retrypolicy"
	"github.com/complyflow/webhook-core/webhook"
	"github.com/complyflow/webhook-core/webhook/redisstore"
	"github.com/complyflow/webhook-core/webhook/signature"
)

// SecretResolver looks up the signing secret for a destination, if
// one is configured. A nil Secret disables X-Signature for that
// delivery.
type SecretResolver func(ctx context.Context, webhookURL string) (*signature.Secret, error)

// DeliveryStore is the subset of the Status Store a Deliver task needs.
type DeliveryStore interface {
	GetWebhook(ctx context.Context, id string) (webhook.Record, error)
	CompareAndSwapWebhookStatus(ctx context.Context, id string, expectedCurrent webhook.Status, updated webhook.Record) error
	PutDeadLetter(ctx context.Context, entry webhook.DeadLetterEntry) error
}

// DeliveryRecorder is the subset of metrics.DeliveryRecorder a Deliver
// task needs to report the webhook_delivery_total/seconds instruments.
type DeliveryRecorder interface {
	RecordDelivery(ctx context.Context, outcome, host string, durationSeconds float64)
}

// DeliveryTask runs one invocation of the Deliver task variant.
type DeliveryTask struct {
	Store      DeliveryStore
	Breaker    *breaker.Registry
	Client     *deliveryclient.Client
	RetryQueue Enqueuer
	Policy     retrypolicy.Policy
	Secrets    SecretResolver

	// Recorder is optional; when set, every attempt that reaches the
	// delivery client reports into it regardless of outcome. Attempts
	// refused by an open circuit breaker are not recorded.
	Recorder DeliveryRecorder
}

// Handle implements queue.Handler for the webhook delivery queue.
func (t *DeliveryTask) Handle(ctx context.Context, msg queue.Message) error {
	env, err := ParseEnvelope(msg.Payload)
	if err != nil {
		return err
	}
	if env.Kind != KindDeliver {
		return fmt.Errorf("delivery task handler received %s envelope", env.Kind)
	}
	webhookID := env.Deliver.WebhookID

	rec, err := t.Store.GetWebhook(ctx, webhookID)
	if errors.Is(err, redisstore.ErrNotFound) {
		return nil // absent: nothing to do, per spec section 4.5 step 1.
	}
	if err != nil {
		return fmt.Errorf("loading webhook record: %w", err)
	}
	if rec.Status.IsTerminal() {
		return nil
	}

	previousStatus := rec.Status
	attempting := rec
	attempting.Status = webhook.InProgress
	attempting.Attempts++
	attempting.LastAttemptAt = time.Now().UTC()

	if err := t.Store.CompareAndSwapWebhookStatus(ctx, webhookID, previousStatus, attempting); err != nil {
		if errors.Is(err, redisstore.ErrConflict) {
			// Another worker already observed this record and moved it
			// to in_progress (or beyond): this attempt is a no-op, per
			// spec section 5's at-most-one-in-flight invariant.
			return nil
		}
		return fmt.Errorf("transitioning to in_progress: %w", err)
	}
	rec = attempting

	result := t.deliver(ctx, rec)

	decision, delay := retrypolicy.Evaluate(result.Outcome, rec.Attempts-1, rec.MaxAttempts, t.Policy, nil)

	switch decision {
	case retrypolicy.CompleteSuccess:
		completed := rec
		completed.Status = webhook.Delivered
		completed.CompletedAt = time.Now().UTC()
		completed.ResponseCode = result.StatusCode
		return t.transition(ctx, webhookID, webhook.InProgress, completed)

	case retrypolicy.ScheduleRetry:
		retrying := rec
		retrying.Status = webhook.Retrying
		retrying.LastError = errorDetail(result)
		if err := t.transition(ctx, webhookID, webhook.InProgress, retrying); err != nil {
			return err
		}
		return t.scheduleRetry(ctx, webhookID, delay)

	default: // FailPermanent
		failed := rec
		failed.Status = webhook.Failed
		failed.CompletedAt = time.Now().UTC()
		failed.LastError = errorDetail(result)
		if err := t.transition(ctx, webhookID, webhook.InProgress, failed); err != nil {
			return err
		}
		entry := webhook.NewDeadLetterEntry(failed, result.Outcome.String(), errorDetail(result))
		if err := t.Store.PutDeadLetter(ctx, entry); err != nil {
			return fmt.Errorf("writing dead-letter entry: %w", err)
		}
		return nil
	}
}

func (t *DeliveryTask) transition(ctx context.Context, webhookID string, expected webhook.Status, updated webhook.Record) error {
	if err := t.Store.CompareAndSwapWebhookStatus(ctx, webhookID, expected, updated); err != nil {
		return fmt.Errorf("writing terminal status: %w", err)
	}
	return nil
}

func (t *DeliveryTask) scheduleRetry(ctx context.Context, webhookID string, delay time.Duration) error {
	data, err := NewDeliverEnvelope(DeliverPayload{WebhookID: webhookID}).Marshal()
	if err != nil {
		return fmt.Errorf("marshaling retry envelope: %w", err)
	}
	return t.RetryQueue.EnqueueDelayed(ctx, data, time.Now().Add(delay))
}

func (t *DeliveryTask) deliver(ctx context.Context, rec webhook.Record) deliveryclient.Result {
	host := hostOf(rec.WebhookURL)

	if host != "" && !t.Breaker.Allow(host) {
		return deliveryclient.Result{Outcome: retrypolicy.ConnectionError, Err: breaker.ErrCircuitOpen}
	}

	var secret *signature.Secret
	if t.Secrets != nil {
		s, err := t.Secrets(ctx, rec.WebhookURL)
		if err == nil {
			secret = s
		}
	}

	result := t.Client.Deliver(ctx, deliveryclient.Request{
		URL:           rec.WebhookURL,
		Body:          rec.Payload,
		CorrelationID: rec.CorrelationID,
		WebhookID:     rec.ID(),
		Attempt:       rec.Attempts,
		Secret:        secret,
	})

	if host != "" {
		if result.Outcome == retrypolicy.Success {
			t.Breaker.RecordSuccess(host)
		} else {
			t.Breaker.RecordFailure(host, result.Outcome.String())
		}
	}

	if t.Recorder != nil {
		t.Recorder.RecordDelivery(ctx, result.Outcome.String(), host, result.Duration.Seconds())
	}

	return result
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}

func errorDetail(result deliveryclient.Result) string {
	if result.Err != nil {
		return fmt.Sprintf("%s: %v", result.Outcome.String(), result.Err)
	}
	return fmt.Sprintf("%s (http %d)", result.Outcome.String(), result.StatusCode)
}
