package chi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complyflow/webhook-core/lifecycle"
	"github.com/complyflow/webhook-core/webhook"
	"github.com/complyflow/webhook-core/webhook/redisstore"
)

type fakeLifecycleStore struct {
	records map[string]webhook.Record
}

func newFakeLifecycleStore() *fakeLifecycleStore {
	return &fakeLifecycleStore{records: make(map[string]webhook.Record)}
}

func (f *fakeLifecycleStore) GetWebhook(ctx context.Context, id string) (webhook.Record, error) {
	rec, ok := f.records[id]
	if !ok {
		return webhook.Record{}, redisstore.ErrNotFound
	}
	return rec, nil
}

func (f *fakeLifecycleStore) PutWebhook(ctx context.Context, rec webhook.Record) error {
	f.records[rec.ID()] = rec
	return nil
}

func (f *fakeLifecycleStore) DeleteWebhook(ctx context.Context, id string) error {
	delete(f.records, id)
	return nil
}

func (f *fakeLifecycleStore) CompareAndSwapWebhookStatus(ctx context.Context, id string, expectedCurrent webhook.Status, updated webhook.Record) error {
	f.records[id] = updated
	return nil
}

func (f *fakeLifecycleStore) ListWebhooks(ctx context.Context, filter redisstore.WebhookFilter, page, pageSize int) ([]webhook.Record, int, error) {
	var matched []webhook.Record
	for _, rec := range f.records {
		if filter.ReferenceID != "" && rec.ReferenceID != filter.ReferenceID {
			continue
		}
		if filter.Status != 0 && rec.Status != filter.Status {
			continue
		}
		matched = append(matched, rec)
	}
	return matched, len(matched), nil
}

func (f *fakeLifecycleStore) BulkDeleteWebhooks(ctx context.Context, filter redisstore.WebhookFilter) (int, error) {
	matched, _, _ := f.ListWebhooks(ctx, filter, 1, len(f.records))
	for _, rec := range matched {
		delete(f.records, rec.ID())
	}
	return len(matched), nil
}

func (f *fakeLifecycleStore) GetDeadLetter(ctx context.Context, webhookID string) (webhook.DeadLetterEntry, error) {
	return webhook.DeadLetterEntry{}, redisstore.ErrNotFound
}

func (f *fakeLifecycleStore) ListDeadLetters(ctx context.Context) ([]webhook.DeadLetterEntry, error) {
	return nil, nil
}

func TestGetWebhookStatus_OmitsPayload(t *testing.T) {
	store := newFakeLifecycleStore()
	rec := webhook.NewRecord("ref-1", "task-1", "https://example.com", "corr-1", []byte(`{"secret":true}`), 3)
	store.PutWebhook(context.Background(), rec)
	mgr := lifecycle.NewManager(store)

	r := chi.NewRouter()
	r.Get("/webhook-status/{webhook_id}", getWebhookStatus(mgr).ServeHTTP)

	req := httptest.NewRequest(http.MethodGet, "/webhook-status/"+rec.ID(), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "secret")
}

func TestListWebhookStatuses_FiltersByStatus(t *testing.T) {
	store := newFakeLifecycleStore()
	pending := webhook.NewRecord("ref-2", "task-2", "https://example.com", "corr-2", nil, 3)
	delivered := webhook.NewRecord("ref-2", "task-3", "https://example.com", "corr-3", nil, 3)
	delivered.Status = webhook.Delivered
	store.PutWebhook(context.Background(), pending)
	store.PutWebhook(context.Background(), delivered)
	mgr := lifecycle.NewManager(store)

	req := httptest.NewRequest(http.MethodGet, "/webhook-statuses?status=delivered", nil)
	w := httptest.NewRecorder()
	listWebhookStatuses(mgr).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`)
}

func TestWebhookCleanup_DeletesStaleRecords(t *testing.T) {
	store := newFakeLifecycleStore()
	stale := webhook.NewRecord("ref-3", "task-4", "https://example.com", "corr-4", nil, 3)
	stale.Status = webhook.Delivered
	stale.CreatedAt = stale.CreatedAt.AddDate(0, 0, -10)
	store.PutWebhook(context.Background(), stale)
	mgr := lifecycle.NewManager(store)

	req := httptest.NewRequest(http.MethodPost, "/webhook-cleanup?status=delivered&older_than_days=1", nil)
	w := httptest.NewRecorder()
	webhookCleanup(mgr).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"deleted":1`)

	_, err := mgr.Get(context.Background(), stale.ID())
	require.Error(t, err)
}
