// Package redisstore is the Redis-backed implementation of the Status
// Store: JSON webhook records, compute task records, and dead-letter
// entries, keyed per the persistent state layout in spec section 6.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/complyflow/webhook-core/webhook"
)

const (
	webhookStatusPrefix = "webhook_status"
	computeStatusPrefix = "compute_status"
	deadLetterPrefix    = "dead_letter:webhook"
	deadLetterIndexKey  = "dead_letter:webhook:index"
)

// ErrNotFound is returned when a record does not exist under the
// requested key.
var ErrNotFound = errors.New("record not found")

// ErrConflict is returned by CompareAndSwapWebhookStatus when the
// record's current status no longer matches the expected one.
var ErrConflict = errors.New("status store conflict")

// Store is a Redis-backed Status Store.
type Store struct {
	client    *redis.Client
	casScript *redis.Script
}

// New wraps an existing Redis client. The caller owns the client's
// lifecycle (connection options, close).
func New(client *redis.Client) *Store {
	return &Store{
		client:    client,
		casScript: redis.NewScript(casLuaScript),
	}
}

func webhookKey(id string) string { return fmt.Sprintf("%s:%s", webhookStatusPrefix, id) }
func computeKey(id string) string { return fmt.Sprintf("%s:%s", computeStatusPrefix, id) }
func deadLetterKey(id string) string { return fmt.Sprintf("%s:%s", deadLetterPrefix, id) }

// PutWebhook writes a webhook record, setting its TTL per Record.TTL().
func (s *Store) PutWebhook(ctx context.Context, rec webhook.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling webhook record: %w", err)
	}
	if err := s.client.Set(ctx, webhookKey(rec.ID()), data, rec.TTL()).Err(); err != nil {
		return fmt.Errorf("storing webhook record: %w", err)
	}
	return nil
}

// GetWebhook retrieves a webhook record by composite id.
func (s *Store) GetWebhook(ctx context.Context, id string) (webhook.Record, error) {
	data, err := s.client.Get(ctx, webhookKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return webhook.Record{}, ErrNotFound
	}
	if err != nil {
		return webhook.Record{}, fmt.Errorf("getting webhook record: %w", err)
	}

	var rec webhook.Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return webhook.Record{}, fmt.Errorf("unmarshaling webhook record: %w", err)
	}
	return rec, nil
}

// DeleteWebhook removes a webhook record.
func (s *Store) DeleteWebhook(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, webhookKey(id)).Err(); err != nil {
		return fmt.Errorf("deleting webhook record: %w", err)
	}
	return nil
}

// casLuaScript implements an atomic compare-and-swap on a JSON record's
// status field. KEYS[1] is the record key, ARGV[1] is the expected
// current status string, ARGV[2] is the full replacement JSON body,
// ARGV[3] is the TTL in seconds to apply after the write.
const casLuaScript = `
local current = redis.call('GET', KEYS[1])
if current == false then
  return 0
end
local decoded = cjson.decode(current)
if decoded['status'] ~= ARGV[1] then
  return 0
end
redis.call('SET', KEYS[1], ARGV[2])
local ttl = tonumber(ARGV[3])
if ttl and ttl > 0 then
  redis.call('EXPIRE', KEYS[1], ttl)
end
return 1
`

// CompareAndSwapWebhookStatus atomically replaces the stored record
// with updated, but only if the record currently stored has status
// expectedCurrent. This is the mechanism behind section 4.5's
// "rejects illegal transitions" guarantee under concurrent workers:
// two workers racing to transition the same webhook_id can't both
// win.
func (s *Store) CompareAndSwapWebhookStatus(ctx context.Context, id string, expectedCurrent webhook.Status, updated webhook.Record) error {
	data, err := json.Marshal(updated)
	if err != nil {
		return fmt.Errorf("marshaling webhook record: %w", err)
	}

	result, err := s.casScript.Run(ctx, s.client, []string{webhookKey(id)}, expectedCurrent.String(), data, int(updated.TTL().Seconds())).Int()
	if err != nil {
		return fmt.Errorf("running CAS script: %w", err)
	}
	if result == 0 {
		return ErrConflict
	}
	return nil
}

// WebhookFilter narrows a webhook listing.
type WebhookFilter struct {
	ReferenceID string
	Status      webhook.Status // zero value means "any"
}

// ListWebhooks scans webhook_status:* and returns records matching
// filter. Total is best-effort: SCAN is not a snapshot, so the count
// reflects the keys observed during this particular scan, per spec
// section 6's "total best-effort" clause.
func (s *Store) ListWebhooks(ctx context.Context, filter WebhookFilter, page, pageSize int) ([]webhook.Record, int, error) {
	all, err := s.scanWebhooks(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	total := len(all)
	start := (page - 1) * pageSize
	if start < 0 || start >= total {
		return []webhook.Record{}, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (s *Store) scanWebhooks(ctx context.Context, filter WebhookFilter) ([]webhook.Record, error) {
	var matched []webhook.Record
	var cursor uint64
	pattern := webhookStatusPrefix + ":*"

	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return nil, fmt.Errorf("scanning webhook records: %w", err)
		}

		for _, key := range keys {
			data, err := s.client.Get(ctx, key).Result()
			if errors.Is(err, redis.Nil) {
				continue // expired between SCAN and GET
			}
			if err != nil {
				return nil, fmt.Errorf("getting webhook record during scan: %w", err)
			}

			var rec webhook.Record
			if err := json.Unmarshal([]byte(data), &rec); err != nil {
				continue
			}

			if filter.ReferenceID != "" && rec.ReferenceID != filter.ReferenceID {
				continue
			}
			if filter.Status != 0 && rec.Status != filter.Status {
				continue
			}
			matched = append(matched, rec)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return matched, nil
}

// BulkDeleteWebhooks deletes every webhook record matching filter and
// returns the count removed.
func (s *Store) BulkDeleteWebhooks(ctx context.Context, filter WebhookFilter) (int, error) {
	matched, err := s.scanWebhooks(ctx, filter)
	if err != nil {
		return 0, err
	}
	if len(matched) == 0 {
		return 0, nil
	}

	keys := make([]string, len(matched))
	for i, rec := range matched {
		keys[i] = webhookKey(rec.ID())
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return 0, fmt.Errorf("bulk deleting webhook records: %w", err)
	}
	return len(matched), nil
}

// PutCompute writes a compute task record, TTL per ComputeTaskRecord.TTL().
func (s *Store) PutCompute(ctx context.Context, rec webhook.ComputeTaskRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling compute task record: %w", err)
	}
	if err := s.client.Set(ctx, computeKey(rec.TaskID), data, rec.TTL()).Err(); err != nil {
		return fmt.Errorf("storing compute task record: %w", err)
	}
	return nil
}

// GetCompute retrieves a compute task record by task id.
func (s *Store) GetCompute(ctx context.Context, taskID string) (webhook.ComputeTaskRecord, error) {
	data, err := s.client.Get(ctx, computeKey(taskID)).Result()
	if errors.Is(err, redis.Nil) {
		return webhook.ComputeTaskRecord{}, ErrNotFound
	}
	if err != nil {
		return webhook.ComputeTaskRecord{}, fmt.Errorf("getting compute task record: %w", err)
	}

	var rec webhook.ComputeTaskRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return webhook.ComputeTaskRecord{}, fmt.Errorf("unmarshaling compute task record: %w", err)
	}
	return rec, nil
}

// PutDeadLetter writes a dead-letter entry and indexes it in the
// dead_letter:webhook:index set for O(1) membership testing and
// listing without a full SCAN.
func (s *Store) PutDeadLetter(ctx context.Context, entry webhook.DeadLetterEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling dead-letter entry: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, deadLetterKey(entry.WebhookID), data, webhook.DeadLetterTTL)
	pipe.SAdd(ctx, deadLetterIndexKey, entry.WebhookID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("storing dead-letter entry: %w", err)
	}
	return nil
}

// GetDeadLetter retrieves a dead-letter entry by webhook id.
func (s *Store) GetDeadLetter(ctx context.Context, webhookID string) (webhook.DeadLetterEntry, error) {
	data, err := s.client.Get(ctx, deadLetterKey(webhookID)).Result()
	if errors.Is(err, redis.Nil) {
		return webhook.DeadLetterEntry{}, ErrNotFound
	}
	if err != nil {
		return webhook.DeadLetterEntry{}, fmt.Errorf("getting dead-letter entry: %w", err)
	}

	var entry webhook.DeadLetterEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return webhook.DeadLetterEntry{}, fmt.Errorf("unmarshaling dead-letter entry: %w", err)
	}
	return entry, nil
}

// ListDeadLetters returns every dead-letter entry still indexed. Index
// members whose underlying key has expired (past the 30-day TTL) are
// pruned from the index as they're encountered.
func (s *Store) ListDeadLetters(ctx context.Context) ([]webhook.DeadLetterEntry, error) {
	ids, err := s.client.SMembers(ctx, deadLetterIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("listing dead-letter index: %w", err)
	}

	entries := make([]webhook.DeadLetterEntry, 0, len(ids))
	var expired []string
	for _, id := range ids {
		entry, err := s.GetDeadLetter(ctx, id)
		if errors.Is(err, ErrNotFound) {
			expired = append(expired, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if len(expired) > 0 {
		s.client.SRem(ctx, deadLetterIndexKey, toAny(expired)...)
	}

	return entries, nil
}

func toAny(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// DeadLetterIndexSize reports the number of entries tracked by the
// index set, for the health/metrics surface.
func (s *Store) DeadLetterIndexSize(ctx context.Context) (int64, error) {
	n, err := s.client.SCard(ctx, deadLetterIndexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("getting dead-letter index size: %w", err)
	}
	return n, nil
}

// Ping verifies connectivity, for the health surface and for New's
// callers to fail fast on startup.
func Ping(ctx context.Context, client *redis.Client) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	return nil
}

