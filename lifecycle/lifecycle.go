// Package lifecycle is the Status Lifecycle Manager: it wraps the
// Status Store with state-machine legality, TTL assignment, and the
// listing/cleanup operations the ingress API exposes.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/complyflow/webhook-core/webhook"
	"github.com/complyflow/webhook-core/webhook/redisstore"
)

// Store is the subset of redisstore.Store the lifecycle manager needs.
type Store interface {
	GetWebhook(ctx context.Context, id string) (webhook.Record, error)
	PutWebhook(ctx context.Context, rec webhook.Record) error
	DeleteWebhook(ctx context.Context, id string) error
	CompareAndSwapWebhookStatus(ctx context.Context, id string, expectedCurrent webhook.Status, updated webhook.Record) error
	ListWebhooks(ctx context.Context, filter redisstore.WebhookFilter, page, pageSize int) ([]webhook.Record, int, error)
	BulkDeleteWebhooks(ctx context.Context, filter redisstore.WebhookFilter) (int, error)
	GetDeadLetter(ctx context.Context, webhookID string) (webhook.DeadLetterEntry, error)
	ListDeadLetters(ctx context.Context) ([]webhook.DeadLetterEntry, error)
}

// ErrIllegalTransition is returned when a caller asks for a status
// change the state machine in webhook.Status.CanTransition forbids
// (e.g. delivered -> retrying).
var ErrIllegalTransition = fmt.Errorf("illegal status transition")

// Manager is the business-logic layer over the Status Store: uses
// pointer semantics as it's an API, not data.
type Manager struct {
	Store Store
}

// NewManager wraps store with lifecycle-legality enforcement.
func NewManager(store Store) *Manager {
	return &Manager{Store: store}
}

// Get retrieves a single webhook record by composite id.
func (m *Manager) Get(ctx context.Context, id string) (webhook.Record, error) {
	rec, err := m.Store.GetWebhook(ctx, id)
	if err != nil {
		return webhook.Record{}, fmt.Errorf("getting webhook record: %w", err)
	}
	return rec, nil
}

// Transition moves the record at id from its current status to next,
// rejecting the call outright if that edge isn't legal per
// webhook.Status.CanTransition, before ever touching the store.
func (m *Manager) Transition(ctx context.Context, id string, next webhook.Status, mutate func(*webhook.Record)) error {
	current, err := m.Store.GetWebhook(ctx, id)
	if err != nil {
		return fmt.Errorf("loading webhook record: %w", err)
	}

	if !current.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current.Status, next)
	}

	updated := current
	updated.Status = next
	if mutate != nil {
		mutate(&updated)
	}

	if err := m.Store.CompareAndSwapWebhookStatus(ctx, id, current.Status, updated); err != nil {
		return fmt.Errorf("transitioning webhook status: %w", err)
	}
	return nil
}

// ListFilter narrows a webhook listing by the fields the ingress API
// exposes as query parameters.
type ListFilter struct {
	ReferenceID string
	Status      string // empty means "any"; parsed via webhook.NewStatus otherwise
}

// List returns a page of webhook records matching filter, along with
// the best-effort total count.
func (m *Manager) List(ctx context.Context, filter ListFilter, page, pageSize int) ([]webhook.Record, int, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 50
	}

	storeFilter := redisstore.WebhookFilter{ReferenceID: filter.ReferenceID}
	if filter.Status != "" {
		storeFilter.Status = webhook.NewStatus(filter.Status)
	}

	records, total, err := m.Store.ListWebhooks(ctx, storeFilter, page, pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("listing webhook records: %w", err)
	}
	return records, total, nil
}

// Delete removes a single webhook record.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.Store.DeleteWebhook(ctx, id); err != nil {
		return fmt.Errorf("deleting webhook record: %w", err)
	}
	return nil
}

// Cleanup idempotently bulk-deletes every webhook record older than
// olderThan matching filter (reference_id and/or status, both
// optional). Idempotent: running it twice in a row with nothing new
// matching simply deletes zero records the second time.
func (m *Manager) Cleanup(ctx context.Context, olderThan time.Duration, filter ListFilter) (int, error) {
	storeFilter := redisstore.WebhookFilter{ReferenceID: filter.ReferenceID}
	if filter.Status != "" {
		storeFilter.Status = webhook.NewStatus(filter.Status)
	}

	records, _, err := m.Store.ListWebhooks(ctx, storeFilter, 1, maxCleanupScan)
	if err != nil {
		return 0, fmt.Errorf("scanning records for cleanup: %w", err)
	}

	cutoff := time.Now().Add(-olderThan)
	var stale []string
	for _, rec := range records {
		if rec.CreatedAt.Before(cutoff) {
			stale = append(stale, rec.ID())
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	deleted := 0
	for _, id := range stale {
		if err := m.Store.DeleteWebhook(ctx, id); err != nil {
			return deleted, fmt.Errorf("deleting stale record %s: %w", id, err)
		}
		deleted++
	}
	return deleted, nil
}

// maxCleanupScan bounds a single Cleanup pass so it never tries to
// pull an unbounded number of records into memory at once; callers
// that need to sweep more than this should invoke Cleanup repeatedly.
const maxCleanupScan = 10000

// DeadLetter retrieves a single dead-letter entry for operator
// inspection.
func (m *Manager) DeadLetter(ctx context.Context, webhookID string) (webhook.DeadLetterEntry, error) {
	entry, err := m.Store.GetDeadLetter(ctx, webhookID)
	if err != nil {
		return webhook.DeadLetterEntry{}, fmt.Errorf("getting dead-letter entry: %w", err)
	}
	return entry, nil
}

// ListDeadLetters returns every dead-letter entry still retained.
func (m *Manager) ListDeadLetters(ctx context.Context) ([]webhook.DeadLetterEntry, error) {
	entries, err := m.Store.ListDeadLetters(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing dead-letter entries: %w", err)
	}
	return entries, nil
}

// BulkDelete removes every webhook record matching filter, for
// DELETE /webhook-statuses.
func (m *Manager) BulkDelete(ctx context.Context, filter ListFilter) (int, error) {
	storeFilter := redisstore.WebhookFilter{ReferenceID: filter.ReferenceID}
	if filter.Status != "" {
		storeFilter.Status = webhook.NewStatus(filter.Status)
	}

	n, err := m.Store.BulkDeleteWebhooks(ctx, storeFilter)
	if err != nil {
		return 0, fmt.Errorf("bulk deleting webhook records: %w", err)
	}
	return n, nil
}
