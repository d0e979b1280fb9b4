//go:build integration

package queue_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complyflow/webhook-core/queue"
)

type fakeHeartbeatStore struct {
	mu     sync.Mutex
	calls  int
	status string
}

func (f *fakeHeartbeatStore) SetWorkerHeartbeat(ctx context.Context, kind, workerID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.status = status
	return nil
}

func (f *fakeHeartbeatStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestWorkerPool_ReportsHeartbeatsWhileRunning(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	client := setupRedisContainer(t, context.Background())
	q := queue.New(client, "test-heartbeat", "worker-1")

	heartbeats := &fakeHeartbeatStore{}
	var handled int
	pool := &queue.WorkerPool{
		Queue:       q,
		Concurrency: 1,
		FetchBlock:  100 * time.Millisecond,
		Heartbeat:   heartbeats,
		Handle: func(ctx context.Context, msg queue.Message) error {
			handled++
			return nil
		},
	}

	require.NoError(t, q.EnsureGroup(ctx))
	_, err := q.Enqueue(ctx, []byte("hello"))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	<-ctx.Done()
	<-done

	assert.Greater(t, heartbeats.callCount(), 0)
	assert.Equal(t, 1, handled)
}

func TestWorkerPool_LeavesMessageUnackedOnHandlerError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client := setupRedisContainer(t, context.Background())
	q := queue.New(client, "test-noack", "worker-1")

	var attempts int32
	pool := &queue.WorkerPool{
		Queue:       q,
		Concurrency: 1,
		FetchBlock:  100 * time.Millisecond,
		Handle: func(ctx context.Context, msg queue.Message) error {
			atomic.AddInt32(&attempts, 1)
			return errors.New("boom")
		},
	}

	require.NoError(t, q.EnsureGroup(ctx))
	_, err := q.Enqueue(ctx, []byte("hello"))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	<-ctx.Done()
	<-done

	assert.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(1))

	pending, err := q.PendingCount(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending, "failed handler must leave the message unacked")
}
