// Package metrics is the Health & Metrics Surface: a read-only,
// side-effect-free view over queue depths, status counts, active
// workers, and open circuit breakers, plus the Prometheus instruments
// the delivery pipeline records into directly.
package metrics

import (
	"context"
	"time"

	"github.com/complyflow/webhook-core/webhook/redisstore"
)

// Metrics is a point-in-time snapshot of the whole system, as returned
// by Collector.Collect.
type Metrics struct {
	// QueueLengths maps queue name ("compute", "webhook") to stream
	// length (XLEN, which also counts entries already acknowledged).
	QueueLengths map[string]int64 `json:"queue_lengths"`

	// StatusCounts maps status name to count of webhook records in
	// that status.
	StatusCounts map[string]int64 `json:"status_counts"`

	// Workers maps queue kind to its active workers' heartbeats.
	Workers map[string][]redisstore.WorkerHeartbeat `json:"workers"`

	// OpenBreakers lists every destination host whose circuit breaker
	// is not Closed.
	OpenBreakers []BreakerSnapshot `json:"open_breakers"`

	Timestamp time.Time `json:"timestamp"`
}

// BreakerSnapshot mirrors breaker.Snapshot without importing the
// breaker package's State type into the wire format.
type BreakerSnapshot struct {
	Host                string `json:"host"`
	State               string `json:"state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

// Collector gathers current metrics from the system. A single small
// interface, implemented against Redis, mirrors the domain-store
// interfaces used throughout this module rather than exposing a
// concrete Redis-backed struct directly to callers.
type Collector interface {
	Collect(ctx context.Context) (Metrics, error)
	GetQueueLengths(ctx context.Context) (map[string]int64, error)
	GetStatusCounts(ctx context.Context) (map[string]int64, error)
	GetActiveWorkers(ctx context.Context) (map[string][]redisstore.WorkerHeartbeat, error)
	GetOpenBreakers() []BreakerSnapshot
}

// HealthStatus is the three-way aggregate verdict spec section 4.9
// names: healthy, degraded, or unhealthy.
type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Degraded  HealthStatus = "degraded"
	Unhealthy HealthStatus = "unhealthy"
)

// HealthReport is the body of GET /health.
type HealthReport struct {
	Status       HealthStatus      `json:"status"`
	StoreOK      bool              `json:"store_ok"`
	WorkersAlive bool              `json:"workers_alive"`
	OpenBreakers []BreakerSnapshot `json:"open_breakers"`
	Checked      time.Time         `json:"checked_at"`
}

// heartbeatFreshness is how recently a worker must have reported in
// to count as "alive" for the health check, per spec section 4.9.
const heartbeatFreshness = 30 * time.Second

// Health aggregates store reachability, worker pool liveness (at
// least one heartbeat within heartbeatFreshness across any queue),
// and the breaker snapshot into a single verdict:
//   - any open breaker, or workers not alive -> degraded
//   - store unreachable -> unhealthy
//   - otherwise -> healthy
func Health(ctx context.Context, pinger func(context.Context) error, collector Collector) HealthReport {
	now := time.Now().UTC()
	report := HealthReport{Checked: now}

	report.StoreOK = pinger(ctx) == nil
	if !report.StoreOK {
		report.Status = Unhealthy
		return report
	}

	workers, err := collector.GetActiveWorkers(ctx)
	report.WorkersAlive = err == nil && anyFreshHeartbeat(workers, now)
	report.OpenBreakers = collector.GetOpenBreakers()

	switch {
	case !report.WorkersAlive || len(report.OpenBreakers) > 0:
		report.Status = Degraded
	default:
		report.Status = Healthy
	}
	return report
}

func anyFreshHeartbeat(workers map[string][]redisstore.WorkerHeartbeat, now time.Time) bool {
	for _, hbs := range workers {
		for _, hb := range hbs {
			if now.Sub(hb.LastHeartbeat) <= heartbeatFreshness {
				return true
			}
		}
	}
	return false
}
