package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/complyflow/webhook-core/breaker"
	"github.com/complyflow/webhook-core/config"
	"github.com/complyflow/webhook-core/deliveryclient"
	chihttp "github.com/complyflow/webhook-core/internal/http/chi"
	"github.com/complyflow/webhook-core/lifecycle"
	"github.com/complyflow/webhook-core/metrics"
	"github.com/complyflow/webhook-core/policy"
	"github.com/complyflow/webhook-core/queue"
	"github.com/complyflow/webhook-core/retrypolicy"
	"github.com/complyflow/webhook-core/tasks"
	"github.com/complyflow/webhook-core/webhook"
	"github.com/complyflow/webhook-core/webhook/redisstore"
)

// shutdownTimeout bounds how long the HTTP server waits for in-flight
// requests to finish once a shutdown signal arrives.
const shutdownTimeout = 30 * time.Second

// deliveryClientTimeout is the per-attempt HTTP timeout passed to
// deliveryclient.New; retries are handled at the task layer, not here.
const deliveryClientTimeout = 30 * time.Second

func main() {
	cfg, err := config.GetConfig()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT,
	)
	defer stop()

	statusClient := redis.NewClient(&redis.Options{
		Addr: cfg.StoreHost + ":" + cfg.StorePort,
		DB:   cfg.StatusDBIndex,
	})
	defer statusClient.Close()

	queueClient := redis.NewClient(&redis.Options{
		Addr: cfg.StoreHost + ":" + cfg.StorePort,
		DB:   cfg.QueueDBIndex,
	})
	defer queueClient.Close()

	store := redisstore.New(statusClient)

	hostname, _ := os.Hostname()
	computeQueue := queue.New(queueClient, "compute", hostname)
	webhookQueue := queue.New(queueClient, "webhook", hostname)

	pol, err := policy.FromConfig(cfg)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		ResetTimeout:     cfg.BreakerResetTimeout(),
	})

	client := deliveryclient.New(deliveryClientTimeout, pol.URLPolicy())

	collector := metrics.NewRedisCollector(store, computeQueue, webhookQueue, breakers)

	var recorder *metrics.DeliveryRecorder
	if cfg.EnableMetrics {
		recorder, err = metrics.NewDeliveryRecorder(collector)
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		defer recorder.Shutdown(context.Background())
	}

	deliveryPolicy := retrypolicy.Policy{BaseMin: cfg.DeliveryRetryMin(), Cap: cfg.DeliveryRetryMax()}

	computeTask := &tasks.ComputeTask{
		Store:         store,
		Compute:       placeholderCompute,
		RetryQueue:    computeQueue,
		DeliveryQueue: webhookQueue,
		Policy:        retrypolicy.DefaultComputePolicy(),
	}

	deliveryTask := &tasks.DeliveryTask{
		Store:      store,
		Breaker:    breakers,
		Client:     client,
		RetryQueue: webhookQueue,
		Policy:     deliveryPolicy,
		Secrets:    pol.ResolveSecret,
	}
	if recorder != nil {
		deliveryTask.Recorder = recorder
	}

	computePool := &queue.WorkerPool{
		Queue:       computeQueue,
		Concurrency: cfg.ComputeConcurrency,
		Handle:      computeTask.Handle,
		Heartbeat:   store,
	}
	deliveryPool := &queue.WorkerPool{
		Queue:       webhookQueue,
		Concurrency: cfg.DeliveryConcurrency,
		Handle:      deliveryTask.Handle,
		Heartbeat:   store,
	}

	go computePool.Run(ctx)
	go deliveryPool.Run(ctx)
	go computeQueue.RunDelayedPoller(ctx, time.Second)
	go webhookQueue.RunDelayedPoller(ctx, time.Second)

	lifecycleMgr := lifecycle.NewManager(store)

	intake := &chihttp.ClaimIntake{
		Store:   store,
		Queue:   computeQueue,
		Compute: placeholderCompute,
	}

	deps := chihttp.Deps{
		Intake:    intake,
		Lifecycle: lifecycleMgr,
		Collector: collector,
		Pinger: func(ctx context.Context) error {
			return redisstore.Ping(ctx, statusClient)
		},
	}
	if recorder != nil {
		deps.MetricsHTTP = recorder.ServeHTTP()
	} else {
		deps.MetricsHTTP = http.NotFoundHandler()
	}

	router := chihttp.Router(ctx, deps)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errShutdown := make(chan error, 1)
	go shutdown(srv, ctx, errShutdown)

	fmt.Printf("Listening on port %s\n", cfg.HTTPPort)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Println(err)
		os.Exit(1)
	}

	if err := <-errShutdown; err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func shutdown(server *http.Server, ctxShutdown context.Context, errShutdown chan error) {
	<-ctxShutdown.Done()

	ctxTimeout, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := server.Shutdown(ctxTimeout)
	switch err {
	case nil:
		fmt.Printf("\nShutting down server...\n")
		errShutdown <- nil
	case context.DeadlineExceeded:
		errShutdown <- fmt.Errorf("forcing closing the server")
	default:
		errShutdown <- fmt.Errorf("forcing closing the server")
	}
}

// placeholderCompute is the default compute function wired when an
// operator hasn't supplied their own. The actual claim-processing
// logic is explicitly out of scope (spec section 1): this just echoes
// the claim fields back so the pipeline is exercisable end to end.
func placeholderCompute(ctx context.Context, claim webhook.ClaimEnvelope) (json.RawMessage, error) {
	return json.Marshal(struct {
		ReferenceID string          `json:"reference_id"`
		ClaimFields json.RawMessage `json:"claim_fields"`
	}{claim.ReferenceID, claim.ClaimFields})
}
