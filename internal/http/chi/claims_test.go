package chi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complyflow/webhook-core/webhook"
	"github.com/complyflow/webhook-core/webhook/redisstore"
)

type fakeComputeStore struct {
	records map[string]webhook.ComputeTaskRecord
}

func newFakeComputeStore() *fakeComputeStore {
	return &fakeComputeStore{records: make(map[string]webhook.ComputeTaskRecord)}
}

func (f *fakeComputeStore) PutCompute(ctx context.Context, rec webhook.ComputeTaskRecord) error {
	f.records[rec.TaskID] = rec
	return nil
}

func (f *fakeComputeStore) GetCompute(ctx context.Context, taskID string) (webhook.ComputeTaskRecord, error) {
	rec, ok := f.records[taskID]
	if !ok {
		return webhook.ComputeTaskRecord{}, redisstore.ErrNotFound
	}
	return rec, nil
}

type fakeEnqueuer struct {
	enqueued [][]byte
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, payload []byte) (string, error) {
	f.enqueued = append(f.enqueued, payload)
	return "msg-1", nil
}

func (f *fakeEnqueuer) EnqueueDelayed(ctx context.Context, payload []byte, eta time.Time) error {
	f.enqueued = append(f.enqueued, payload)
	return nil
}

func TestProcessClaim_WithWebhookURLQueuesAndReturns202(t *testing.T) {
	store := newFakeComputeStore()
	queue := &fakeEnqueuer{}
	intake := &ClaimIntake{Store: store, Queue: queue}

	body := `{"reference_id":"ref-1","employee_number":"E1","first_name":"Ann","last_name":"Lee","webhook_url":"https://example.com/hook"}`
	req := httptest.NewRequest(http.MethodPost, "/process-claim-basic", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	processClaim("basic", intake).ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	var resp queuedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "processing_queued", resp.Status)
	assert.Equal(t, "ref-1", resp.ReferenceID)
	assert.NotEmpty(t, resp.TaskID)
	assert.Len(t, queue.enqueued, 1)
	assert.Len(t, store.records, 1)
}

func TestProcessClaim_WithoutWebhookURLRunsInlineAndReturns200(t *testing.T) {
	intake := &ClaimIntake{
		Compute: func(ctx context.Context, claim webhook.ClaimEnvelope) (json.RawMessage, error) {
			return json.RawMessage(`{"score":42}`), nil
		},
	}

	body := `{"reference_id":"ref-2","employee_number":"E2","first_name":"Ann","last_name":"Lee"}`
	req := httptest.NewRequest(http.MethodPost, "/process-claim-basic", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	processClaim("basic", intake).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"score":42}`, w.Body.String())
}

func TestProcessClaim_RejectsMissingRequiredFields(t *testing.T) {
	intake := &ClaimIntake{}
	body := `{"reference_id":"ref-3"}`
	req := httptest.NewRequest(http.MethodPost, "/process-claim-basic", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	processClaim("basic", intake).ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
