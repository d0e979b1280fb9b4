package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const heartbeatTTL = 60 * time.Second

// WorkerHeartbeat records that a worker goroutine was alive and what
// it was doing as of LastHeartbeat. Kind is "compute" or "webhook",
// mirroring the queue it pulls from.
type WorkerHeartbeat struct {
	WorkerID      string    `json:"worker_id"`
	Kind          string    `json:"kind"`
	Status        string    `json:"status"` // "idle", "processing"
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

func heartbeatKey(kind, workerID string) string {
	return fmt.Sprintf("worker:heartbeat:%s:%s", kind, workerID)
}

// SetWorkerHeartbeat stores or refreshes a worker's heartbeat. The key
// carries a 60s TTL: a worker that stops sending heartbeats every 30s
// is considered inactive within one missed interval.
func (s *Store) SetWorkerHeartbeat(ctx context.Context, kind, workerID, status string) error {
	heartbeat := WorkerHeartbeat{
		WorkerID:      workerID,
		Kind:          kind,
		Status:        status,
		LastHeartbeat: time.Now().UTC(),
	}

	data, err := json.Marshal(heartbeat)
	if err != nil {
		return fmt.Errorf("marshaling heartbeat: %w", err)
	}

	if err := s.client.Set(ctx, heartbeatKey(kind, workerID), data, heartbeatTTL).Err(); err != nil {
		return fmt.Errorf("setting heartbeat: %w", err)
	}
	return nil
}

// GetActiveWorkers retrieves every live heartbeat for the given kind.
func (s *Store) GetActiveWorkers(ctx context.Context, kind string) ([]WorkerHeartbeat, error) {
	return s.scanHeartbeats(ctx, fmt.Sprintf("worker:heartbeat:%s:*", kind))
}

// GetAllActiveWorkers retrieves every live heartbeat across all kinds,
// grouped by kind, for the aggregate health/metrics surface.
func (s *Store) GetAllActiveWorkers(ctx context.Context) (map[string][]WorkerHeartbeat, error) {
	all, err := s.scanHeartbeats(ctx, "worker:heartbeat:*")
	if err != nil {
		return nil, err
	}

	byKind := make(map[string][]WorkerHeartbeat)
	for _, hb := range all {
		byKind[hb.Kind] = append(byKind[hb.Kind], hb)
	}
	return byKind, nil
}

func (s *Store) scanHeartbeats(ctx context.Context, pattern string) ([]WorkerHeartbeat, error) {
	var heartbeats []WorkerHeartbeat
	var cursor uint64

	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scanning worker heartbeats: %w", err)
		}

		for _, key := range keys {
			data, err := s.client.Get(ctx, key).Result()
			if errors.Is(err, redis.Nil) {
				continue // expired between SCAN and GET
			}
			if err != nil {
				return nil, fmt.Errorf("getting worker heartbeat: %w", err)
			}

			var hb WorkerHeartbeat
			if err := json.Unmarshal([]byte(data), &hb); err != nil {
				continue
			}
			heartbeats = append(heartbeats, hb)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return heartbeats, nil
}
