package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/complyflow/webhook-core/breaker"
	"github.com/complyflow/webhook-core/queue"
	"github.com/complyflow/webhook-core/webhook"
	"github.com/complyflow/webhook-core/webhook/redisstore"
)

// RedisCollector implements Collector against the Status Store, the
// two task queues, and the in-process breaker registry.
type RedisCollector struct {
	store         *redisstore.Store
	computeQueue  *queue.Queue
	webhookQueue  *queue.Queue
	breakers      *breaker.Registry
}

// NewRedisCollector wires a metrics collector over the already-
// constructed store, queues, and breaker registry the rest of the
// service uses — no new connections, no singletons.
func NewRedisCollector(store *redisstore.Store, computeQueue, webhookQueue *queue.Queue, breakers *breaker.Registry) *RedisCollector {
	return &RedisCollector{
		store:        store,
		computeQueue: computeQueue,
		webhookQueue: webhookQueue,
		breakers:     breakers,
	}
}

// Collect gathers every metric in one snapshot.
func (c *RedisCollector) Collect(ctx context.Context) (Metrics, error) {
	queueLengths, err := c.GetQueueLengths(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("getting queue lengths: %w", err)
	}

	statusCounts, err := c.GetStatusCounts(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("getting status counts: %w", err)
	}

	workers, err := c.GetActiveWorkers(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("getting active workers: %w", err)
	}

	return Metrics{
		QueueLengths: queueLengths,
		StatusCounts: statusCounts,
		Workers:      workers,
		OpenBreakers: c.GetOpenBreakers(),
		Timestamp:    time.Now().UTC(),
	}, nil
}

// GetQueueLengths returns the stream length (XLEN) of the compute and
// webhook queues.
func (c *RedisCollector) GetQueueLengths(ctx context.Context) (map[string]int64, error) {
	lengths := make(map[string]int64)

	if c.computeQueue != nil {
		n, err := c.computeQueue.Len(ctx)
		if err != nil {
			return nil, fmt.Errorf("getting compute queue length: %w", err)
		}
		lengths["compute"] = n
	}

	if c.webhookQueue != nil {
		n, err := c.webhookQueue.Len(ctx)
		if err != nil {
			return nil, fmt.Errorf("getting webhook queue length: %w", err)
		}
		lengths["webhook"] = n
	}

	return lengths, nil
}

// statusNames enumerates every webhook status the counter tracks, so
// a status with zero records still appears in the map with count 0.
var statusNames = []webhook.Status{
	webhook.Pending, webhook.InProgress, webhook.Retrying, webhook.Delivered, webhook.Failed,
}

// GetStatusCounts returns counts of webhook records grouped by status,
// scanning webhook_status:* rather than the teacher's webhook:* hash
// keys (the persistent state layout changed; see webhook/redisstore).
// A single unfiltered scan is counted in-process rather than one scan
// per status, since redisstore.Store.ListWebhooks already pulls every
// matching record into memory before paginating.
func (c *RedisCollector) GetStatusCounts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, len(statusNames))
	for _, s := range statusNames {
		counts[s.String()] = 0
	}

	records, _, err := c.store.ListWebhooks(ctx, redisstore.WebhookFilter{}, 1, maxStatusScan)
	if err != nil {
		return nil, fmt.Errorf("scanning webhook records for status counts: %w", err)
	}

	for _, rec := range records {
		counts[rec.Status.String()]++
	}
	return counts, nil
}

// maxStatusScan bounds how many records GetStatusCounts pulls into
// memory for a single snapshot.
const maxStatusScan = 100000

// GetActiveWorkers returns every live worker heartbeat, grouped by
// queue kind.
func (c *RedisCollector) GetActiveWorkers(ctx context.Context) (map[string][]redisstore.WorkerHeartbeat, error) {
	workers, err := c.store.GetAllActiveWorkers(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting active workers: %w", err)
	}
	return workers, nil
}

// GetOpenBreakers reports every destination host whose breaker is not
// Closed, for the health surface and the circuit_breaker_status gauge.
func (c *RedisCollector) GetOpenBreakers() []BreakerSnapshot {
	snapshots := c.breakers.Snapshot()
	out := make([]BreakerSnapshot, len(snapshots))
	for i, s := range snapshots {
		out[i] = BreakerSnapshot{
			Host:                s.Host,
			State:               s.State.String(),
			ConsecutiveFailures: s.ConsecutiveFailures,
		}
	}
	return out
}
