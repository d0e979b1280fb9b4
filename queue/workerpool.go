package queue

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Handler processes one dequeued message. Returning an error leaves
// the terminal decision to whatever the handler already persisted;
// the worker pool itself never inspects the error to decide retry vs.
// dead-letter.
type Handler func(ctx context.Context, msg Message) error

// HeartbeatStore is the subset of redisstore.Store a WorkerPool needs
// to report liveness for the health surface (spec section 4.9).
type HeartbeatStore interface {
	SetWorkerHeartbeat(ctx context.Context, kind, workerID, status string) error
}

// WorkerPool runs Concurrency goroutines pulling from a Queue with
// prefetch 1, each looping fetch -> handle -> ack. A crash mid-handle
// (process exit) simply leaves the message unacked for XAutoClaim to
// reclaim on the next ReclaimStale sweep.
type WorkerPool struct {
	Queue       *Queue
	Concurrency int
	TaskTimeout time.Duration
	FetchBlock  time.Duration
	Handle      Handler
	Logger      *zerolog.Logger

	// Heartbeat is optional; when set, each worker goroutine reports
	// its liveness under this store every loop iteration (at least as
	// often as FetchBlock, well inside the 30s freshness window the
	// health surface checks).
	Heartbeat HeartbeatStore
}

// Run blocks, running Concurrency worker goroutines until ctx is
// cancelled. Each worker also runs a periodic ReclaimStale sweep so
// messages abandoned by a dead sibling worker are picked back up.
func (p *WorkerPool) Run(ctx context.Context) error {
	logger := p.Logger
	if logger == nil {
		l := zerolog.New(os.Stderr).With().Timestamp().Str("queue", p.Queue.name).Logger()
		logger = &l
	}

	if err := p.Queue.EnsureGroup(ctx); err != nil {
		return err
	}

	concurrency := p.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	done := make(chan struct{}, concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			p.loop(ctx, logger, workerID)
			done <- struct{}{}
		}(i)
	}

	for i := 0; i < concurrency; i++ {
		<-done
	}
	return nil
}

func (p *WorkerPool) loop(ctx context.Context, logger *zerolog.Logger, workerID int) {
	fetchBlock := p.FetchBlock
	if fetchBlock <= 0 {
		fetchBlock = time.Second
	}

	reclaimTicker := time.NewTicker(p.Queue.VisibilityTimeout() / 2)
	defer reclaimTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-reclaimTicker.C:
			reclaimed, err := p.Queue.ReclaimStale(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("reclaiming stale messages")
				continue
			}
			for _, msg := range reclaimed {
				p.handle(ctx, logger, msg)
			}
		default:
		}

		p.heartbeat(ctx, workerID, "idle")

		msg, err := p.Queue.Fetch(ctx, fetchBlock)
		if err != nil {
			logger.Error().Err(err).Int("worker", workerID).Msg("fetching task")
			continue
		}
		if msg == nil {
			continue
		}

		p.heartbeat(ctx, workerID, "processing")
		p.handle(ctx, logger, *msg)
	}
}

func (p *WorkerPool) heartbeat(ctx context.Context, workerID int, status string) {
	if p.Heartbeat == nil {
		return
	}
	workerName := fmt.Sprintf("%s-%d", p.Queue.consumerName, workerID)
	_ = p.Heartbeat.SetWorkerHeartbeat(ctx, p.Queue.name, workerName, status)
}

func (p *WorkerPool) handle(ctx context.Context, logger *zerolog.Logger, msg Message) {
	timeout := p.TaskTimeout
	if timeout <= 0 {
		timeout = time.Hour
	}

	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	err := p.Handle(taskCtx, msg)
	cancel()

	if err != nil {
		logger.Error().Err(err).Str("message_id", msg.ID).Msg("handler returned error")
		// Leave the message unacked: ReclaimStale/XAutoClaim redelivers
		// it once the visibility timeout elapses, per the late-ack
		// contract (spec section 4.7).
		return
	}

	if err := p.Queue.Ack(ctx, msg.ID); err != nil {
		logger.Error().Err(err).Str("message_id", msg.ID).Msg("acking message")
	}
}
