package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complyflow/webhook-core/queue"
	"github.com/complyflow/webhook-core/retrypolicy"
	"github.com/complyflow/webhook-core/webhook"
	"github.com/complyflow/webhook-core/webhook/redisstore"
)

type permanentErr struct{ msg string }

func (e permanentErr) Error() string   { return e.msg }
func (e permanentErr) IsPermanent() bool { return true }

type fakeComputeStore struct {
	mu      sync.Mutex
	compute map[string]webhook.ComputeTaskRecord
	webhook map[string]webhook.Record
}

func newFakeComputeStore() *fakeComputeStore {
	return &fakeComputeStore{
		compute: make(map[string]webhook.ComputeTaskRecord),
		webhook: make(map[string]webhook.Record),
	}
}

func (f *fakeComputeStore) GetCompute(ctx context.Context, taskID string) (webhook.ComputeTaskRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.compute[taskID]
	if !ok {
		return webhook.ComputeTaskRecord{}, redisstore.ErrNotFound
	}
	return rec, nil
}

func (f *fakeComputeStore) PutCompute(ctx context.Context, rec webhook.ComputeTaskRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.compute[rec.TaskID] = rec
	return nil
}

func (f *fakeComputeStore) PutWebhook(ctx context.Context, rec webhook.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.webhook[rec.ID()] = rec
	return nil
}

type fakeEnqueuer struct {
	mu       sync.Mutex
	enqueued [][]byte
	delayed  [][]byte
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, payload []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, payload)
	return "fake-id", nil
}

func (f *fakeEnqueuer) EnqueueDelayed(ctx context.Context, payload []byte, eta time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delayed = append(f.delayed, payload)
	return nil
}

func envelopeMessage(t *testing.T, env Envelope) queue.Message {
	t.Helper()
	data, err := env.Marshal()
	require.NoError(t, err)
	return queue.Message{ID: "1-0", Payload: data}
}

func TestComputeTask_SuccessFansOutWebhook(t *testing.T) {
	store := newFakeComputeStore()
	delivery := &fakeEnqueuer{}

	task := &ComputeTask{
		Store: store,
		Compute: func(ctx context.Context, claim webhook.ClaimEnvelope) (json.RawMessage, error) {
			return json.RawMessage(`{"ok":true}`), nil
		},
		DeliveryQueue: delivery,
		Policy:        retrypolicy.DefaultComputePolicy(),
	}

	env := NewComputeEnvelope(ComputePayload{
		TaskID: "task-1",
		Claim: webhook.ClaimEnvelope{
			ReferenceID:    "ref-1",
			ProcessingMode: "basic",
			WebhookURL:     "https://example.com/hook",
		},
	})

	err := task.Handle(context.Background(), envelopeMessage(t, env))
	require.NoError(t, err)

	rec, err := store.GetCompute(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, webhook.ComputeCompleted, rec.Status)
	assert.Len(t, delivery.enqueued, 1)
}

func TestComputeTask_NoWebhookURLSkipsFanOut(t *testing.T) {
	store := newFakeComputeStore()
	delivery := &fakeEnqueuer{}

	task := &ComputeTask{
		Store: store,
		Compute: func(ctx context.Context, claim webhook.ClaimEnvelope) (json.RawMessage, error) {
			return json.RawMessage(`{}`), nil
		},
		DeliveryQueue: delivery,
		Policy:        retrypolicy.DefaultComputePolicy(),
	}

	env := NewComputeEnvelope(ComputePayload{
		TaskID: "task-2",
		Claim:  webhook.ClaimEnvelope{ReferenceID: "ref-2", ProcessingMode: "basic"},
	})

	err := task.Handle(context.Background(), envelopeMessage(t, env))
	require.NoError(t, err)
	assert.Empty(t, delivery.enqueued)
}

func TestComputeTask_TransientErrorSchedulesRetry(t *testing.T) {
	store := newFakeComputeStore()
	retryQueue := &fakeEnqueuer{}

	task := &ComputeTask{
		Store: store,
		Compute: func(ctx context.Context, claim webhook.ClaimEnvelope) (json.RawMessage, error) {
			return nil, errors.New("transient failure")
		},
		RetryQueue: retryQueue,
		Policy:     retrypolicy.DefaultComputePolicy(),
	}

	env := NewComputeEnvelope(ComputePayload{
		TaskID: "task-3",
		Claim:  webhook.ClaimEnvelope{ReferenceID: "ref-3", ProcessingMode: "basic"},
	})

	err := task.Handle(context.Background(), envelopeMessage(t, env))
	require.NoError(t, err)

	rec, err := store.GetCompute(context.Background(), "task-3")
	require.NoError(t, err)
	assert.Equal(t, webhook.ComputeRetrying, rec.Status)
}

func TestComputeTask_PermanentErrorFailsAndSendsSyntheticPayload(t *testing.T) {
	store := newFakeComputeStore()
	delivery := &fakeEnqueuer{}

	task := &ComputeTask{
		Store: store,
		Compute: func(ctx context.Context, claim webhook.ClaimEnvelope) (json.RawMessage, error) {
			return nil, permanentErr{msg: "bad claim"}
		},
		DeliveryQueue: delivery,
		Policy:        retrypolicy.DefaultComputePolicy(),
	}

	env := NewComputeEnvelope(ComputePayload{
		TaskID: "task-4",
		Claim: webhook.ClaimEnvelope{
			ReferenceID:    "ref-4",
			ProcessingMode: "basic",
			WebhookURL:     "https://example.com/hook",
		},
	})

	err := task.Handle(context.Background(), envelopeMessage(t, env))
	require.NoError(t, err)

	rec, err := store.GetCompute(context.Background(), "task-4")
	require.NoError(t, err)
	assert.Equal(t, webhook.ComputeFailed, rec.Status)
	assert.Len(t, delivery.enqueued, 1)
}

func TestComputeTask_TerminalRecordIsNoOp(t *testing.T) {
	store := newFakeComputeStore()
	store.compute["task-5"] = webhook.ComputeTaskRecord{TaskID: "task-5", Status: webhook.ComputeCompleted}

	called := false
	task := &ComputeTask{
		Store: store,
		Compute: func(ctx context.Context, claim webhook.ClaimEnvelope) (json.RawMessage, error) {
			called = true
			return json.RawMessage(`{}`), nil
		},
		Policy: retrypolicy.DefaultComputePolicy(),
	}

	env := NewComputeEnvelope(ComputePayload{
		TaskID: "task-5",
		Claim:  webhook.ClaimEnvelope{ReferenceID: "ref-5", ProcessingMode: "basic"},
	})

	err := task.Handle(context.Background(), envelopeMessage(t, env))
	require.NoError(t, err)
	assert.False(t, called)
}

func TestComputeTask_RejectsDeliverEnvelope(t *testing.T) {
	task := &ComputeTask{Store: newFakeComputeStore()}
	env := NewDeliverEnvelope(DeliverPayload{WebhookID: "id"})
	err := task.Handle(context.Background(), envelopeMessage(t, env))
	assert.Error(t, err)
}
