// Package queue implements the Task Queue & Worker Pool contract on
// top of Redis Streams: FIFO delivery via consumer groups, late
// acknowledgement, crash recovery via XAutoClaim, and delayed/ETA
// scheduling via a sorted set poller for retry backoff.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	streamPrefix  = "queue"
	consumerGroup = "workers"

	// visibilityTimeout is how long a claimed-but-unacked message is
	// left alone before XAutoClaim considers its worker dead and hands
	// it to another consumer.
	visibilityTimeout = 5 * time.Minute
)

// Message is a single dequeued task: its stream message id (needed for
// Ack) and its opaque payload.
type Message struct {
	ID      string
	Payload []byte
}

// Queue is one named Redis Stream with its consumer group, plus the
// delayed sorted set that feeds it ETA-scheduled tasks.
type Queue struct {
	client       *redis.Client
	name         string
	streamKey    string
	delayedKey   string
	consumerName string
	minIdle      time.Duration
}

// New creates a handle to queue name (e.g. "compute", "webhook").
// consumerName identifies this worker process/goroutine within the
// shared consumer group, for XAutoClaim attribution.
func New(client *redis.Client, name, consumerName string) *Queue {
	return &Queue{
		client:       client,
		name:         name,
		streamKey:    fmt.Sprintf("%s:%s", streamPrefix, name),
		delayedKey:   fmt.Sprintf("%s:%s:delayed", streamPrefix, name),
		consumerName: consumerName,
		minIdle:      visibilityTimeout,
	}
}

// SetVisibilityTimeout overrides the default idle threshold ReclaimStale
// uses to decide a message's original consumer is dead. Exposed mainly
// so tests don't have to wait out the production default.
func (q *Queue) SetVisibilityTimeout(d time.Duration) {
	q.minIdle = d
}

// VisibilityTimeout returns the idle threshold currently configured for
// ReclaimStale.
func (q *Queue) VisibilityTimeout() time.Duration {
	return q.minIdle
}

// EnsureGroup creates the consumer group if it doesn't already exist.
// Safe to call repeatedly; BUSYGROUP errors are swallowed.
func (q *Queue) EnsureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.streamKey, consumerGroup, "0").Err()
	if err != nil && !isBusyGroupErr(err) {
		return fmt.Errorf("creating consumer group for %s: %w", q.name, err)
	}
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

// Enqueue adds payload to the tail of the stream, visible immediately.
func (q *Queue) Enqueue(ctx context.Context, payload []byte) (string, error) {
	id, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.streamKey,
		Values: map[string]interface{}{"payload": payload},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("enqueueing to %s: %w", q.name, err)
	}
	return id, nil
}

// EnqueueDelayed schedules payload to become visible at eta. It is
// held in a sorted set, not the stream, until the delayed poller moves
// it — workers must never park in-process waiting for a future
// delivery (spec section 5).
func (q *Queue) EnqueueDelayed(ctx context.Context, payload []byte, eta time.Time) error {
	err := q.client.ZAdd(ctx, q.delayedKey, redis.Z{
		Score:  float64(eta.UnixMilli()),
		Member: payload,
	}).Err()
	if err != nil {
		return fmt.Errorf("scheduling delayed task on %s: %w", q.name, err)
	}
	return nil
}

// promoteDueScript atomically pops every delayed member with score <=
// now from the sorted set and adds it to the stream, so a crash
// between the two operations can never duplicate or drop a delayed
// task.
const promoteDueScript = `
local delayedKey = KEYS[1]
local streamKey = KEYS[2]
local now = ARGV[1]
local due = redis.call('ZRANGEBYSCORE', delayedKey, '-inf', now)
for i, member in ipairs(due) do
  redis.call('XADD', streamKey, '*', 'payload', member)
  redis.call('ZREM', delayedKey, member)
end
return #due
`

var promotionScript = redis.NewScript(promoteDueScript)

// PromoteDue moves every delayed task whose eta has elapsed into the
// live stream. Intended to be called on a short interval by a single
// poller goroutine per queue.
func (q *Queue) PromoteDue(ctx context.Context) (int, error) {
	n, err := promotionScript.Run(ctx, q.client, []string{q.delayedKey, q.streamKey}, time.Now().UnixMilli()).Int()
	if err != nil {
		return 0, fmt.Errorf("promoting delayed tasks on %s: %w", q.name, err)
	}
	return n, nil
}

// RunDelayedPoller blocks, promoting due delayed tasks every interval,
// until ctx is cancelled.
func (q *Queue) RunDelayedPoller(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.PromoteDue(ctx)
		}
	}
}

// Fetch blocks up to block for a single message (prefetch of 1, per
// spec section 4.7). Returns nil, nil on a timeout with no message.
func (q *Queue) Fetch(ctx context.Context, block time.Duration) (*Message, error) {
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    consumerGroup,
		Consumer: q.consumerName,
		Streams:  []string{q.streamKey, ">"},
		Count:    1,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching from %s: %w", q.name, err)
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}

	msg := streams[0].Messages[0]
	payload, _ := msg.Values["payload"].(string)
	return &Message{ID: msg.ID, Payload: []byte(payload)}, nil
}

// Ack acknowledges successful processing of a message, removing it
// from the pending entries list. This is the late-ack point: a worker
// crash before Ack leaves the message claimable by XAutoClaim.
func (q *Queue) Ack(ctx context.Context, messageID string) error {
	if err := q.client.XAck(ctx, q.streamKey, consumerGroup, messageID).Err(); err != nil {
		return fmt.Errorf("acking message on %s: %w", q.name, err)
	}
	return nil
}

// ReclaimStale sweeps for messages claimed by a dead worker (pending
// longer than visibilityTimeout) and reassigns them to this consumer,
// returning them for immediate processing. This is the crash-recovery
// path required by spec section 4.7's "visibility timeout" clause.
func (q *Queue) ReclaimStale(ctx context.Context) ([]Message, error) {
	messages, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.streamKey,
		Group:    consumerGroup,
		Consumer: q.consumerName,
		MinIdle:  q.minIdle,
		Start:    "0-0",
		Count:    10,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("reclaiming stale messages on %s: %w", q.name, err)
	}

	out := make([]Message, 0, len(messages))
	for _, msg := range messages {
		payload, _ := msg.Values["payload"].(string)
		out = append(out, Message{ID: msg.ID, Payload: []byte(payload)})
	}
	return out, nil
}

// Len reports the number of entries still in the stream, including
// ones already delivered but unacked, for the metrics surface.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.XLen(ctx, q.streamKey).Result()
	if err != nil {
		return 0, fmt.Errorf("getting stream length for %s: %w", q.name, err)
	}
	return n, nil
}

// PendingCount reports the number of delivered-but-unacked messages
// for the consumer group, a proxy for in-flight-plus-stuck work.
func (q *Queue) PendingCount(ctx context.Context) (int64, error) {
	summary, err := q.client.XPending(ctx, q.streamKey, consumerGroup).Result()
	if err != nil {
		return 0, fmt.Errorf("getting pending summary for %s: %w", q.name, err)
	}
	return summary.Count, nil
}

// DelayedCount reports the number of tasks still waiting for their eta.
func (q *Queue) DelayedCount(ctx context.Context) (int64, error) {
	n, err := q.client.ZCard(ctx, q.delayedKey).Result()
	if err != nil {
		return 0, fmt.Errorf("getting delayed count for %s: %w", q.name, err)
	}
	return n, nil
}
