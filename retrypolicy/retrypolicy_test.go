package retrypolicy

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate_Success(t *testing.T) {
	decision, delay := Evaluate(Success, 1, 3, DefaultDeliveryPolicy(), nil)
	assert.Equal(t, CompleteSuccess, decision)
	assert.Zero(t, delay)
}

func TestEvaluate_PermanentOutcomesNeverRetry(t *testing.T) {
	for _, outcome := range []Outcome{InvalidURL, ClientPermanent} {
		decision, delay := Evaluate(outcome, 1, 5, DefaultDeliveryPolicy(), nil)
		assert.Equal(t, FailPermanent, decision, outcome.String())
		assert.Zero(t, delay, outcome.String())
	}
}

func TestEvaluate_RetriableBelowBudgetSchedulesRetry(t *testing.T) {
	for _, outcome := range []Outcome{ClientRetriable, ServerError, Timeout, ConnectionError} {
		decision, delay := Evaluate(outcome, 1, 3, DefaultDeliveryPolicy(), nil)
		assert.Equal(t, ScheduleRetry, decision, outcome.String())
		assert.Greater(t, delay, time.Duration(0), outcome.String())
	}
}

func TestEvaluate_RetriableAtBudgetFailsPermanent(t *testing.T) {
	decision, delay := Evaluate(ServerError, 3, 3, DefaultDeliveryPolicy(), nil)
	assert.Equal(t, FailPermanent, decision)
	assert.Zero(t, delay)
}

func TestEvaluate_RetriableOverBudgetFailsPermanent(t *testing.T) {
	decision, _ := Evaluate(ServerError, 4, 3, DefaultDeliveryPolicy(), nil)
	assert.Equal(t, FailPermanent, decision)
}

func TestEvaluate_DelayWithinJitterBounds(t *testing.T) {
	policy := DefaultDeliveryPolicy() // base_min=30s, cap=300s
	rng := rand.New(rand.NewSource(1))

	// attempts=0 -> base = 30s, bounds [15s, 45s]
	_, delay := Evaluate(ServerError, 0, 5, policy, rng)
	assert.GreaterOrEqual(t, delay, 15*time.Second)
	assert.LessOrEqual(t, delay, 45*time.Second)

	// attempts=1 -> base = 60s, bounds [30s, 90s]
	_, delay = Evaluate(ServerError, 1, 5, policy, rng)
	assert.GreaterOrEqual(t, delay, 30*time.Second)
	assert.LessOrEqual(t, delay, 90*time.Second)
}

func TestEvaluate_DelayRespectsCap(t *testing.T) {
	policy := DefaultDeliveryPolicy() // cap=300s
	rng := rand.New(rand.NewSource(2))

	// large attempts count drives base_min*2^n far past cap
	_, delay := Evaluate(ServerError, 20, 50, policy, rng)
	assert.GreaterOrEqual(t, delay, 150*time.Second)
	assert.LessOrEqual(t, delay, 450*time.Second)
}

func TestClassifyHTTPStatus(t *testing.T) {
	cases := map[int]Outcome{
		200: Success,
		201: Success,
		299: Success,
		408: ClientRetriable,
		425: ClientRetriable,
		429: ClientRetriable,
		400: ClientPermanent,
		401: ClientPermanent,
		403: ClientPermanent,
		404: ClientPermanent,
		410: ClientPermanent,
		413: ClientPermanent,
		415: ClientPermanent,
		422: ClientPermanent,
		402: ClientPermanent, // unlisted 4xx falls back to permanent
		500: ServerError,
		503: ServerError,
	}

	for code, want := range cases {
		assert.Equal(t, want, ClassifyHTTPStatus(code), "status %d", code)
	}
}

func TestDefaultComputePolicy(t *testing.T) {
	policy := DefaultComputePolicy()
	assert.Equal(t, 5*time.Second, policy.BaseMin)
	assert.Equal(t, 120*time.Second, policy.Cap)
}
