package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ClosedByDefault(t *testing.T) {
	r := NewRegistry(DefaultConfig())
	assert.True(t, r.Allow("api.example.com"))
	states := r.AllHostStates()
	assert.Equal(t, Closed, states["api.example.com"])
}

func TestRegistry_TripsAfterThreshold(t *testing.T) {
	cfg := Config{FailureThreshold: 3, ResetTimeout: time.Minute}
	r := NewRegistry(cfg)

	r.RecordFailure("h", "server_5xx")
	r.RecordFailure("h", "server_5xx")
	assert.True(t, r.Allow("h"), "should still be closed below threshold")

	r.RecordFailure("h", "server_5xx")
	assert.False(t, r.Allow("h"), "should open at threshold")

	states := r.AllHostStates()
	assert.Equal(t, Open, states["h"])
}

func TestRegistry_SuccessResetsFailureCount(t *testing.T) {
	cfg := Config{FailureThreshold: 3, ResetTimeout: time.Minute}
	r := NewRegistry(cfg)

	r.RecordFailure("h", "server_5xx")
	r.RecordFailure("h", "server_5xx")
	r.RecordSuccess("h")
	r.RecordFailure("h", "server_5xx")
	r.RecordFailure("h", "server_5xx")

	assert.True(t, r.Allow("h"), "failure count should have reset on success")
}

func TestRegistry_HalfOpenAfterResetTimeout(t *testing.T) {
	cfg := Config{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond}
	r := NewRegistry(cfg)

	r.RecordFailure("h", "server_5xx")
	assert.False(t, r.Allow("h"))

	time.Sleep(20 * time.Millisecond)
	assert.True(t, r.Allow("h"), "should allow a probe call after reset timeout")

	states := r.AllHostStates()
	assert.Equal(t, HalfOpen, states["h"])
}

func TestRegistry_HalfOpenFailureReopens(t *testing.T) {
	cfg := Config{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond}
	r := NewRegistry(cfg)

	r.RecordFailure("h", "server_5xx")
	time.Sleep(20 * time.Millisecond)
	require.True(t, r.Allow("h"))

	r.RecordFailure("h", "server_5xx")
	assert.False(t, r.Allow("h"), "failed probe should reopen immediately")
}

func TestRegistry_HalfOpenSuccessCloses(t *testing.T) {
	cfg := Config{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond}
	r := NewRegistry(cfg)

	r.RecordFailure("h", "server_5xx")
	time.Sleep(20 * time.Millisecond)
	require.True(t, r.Allow("h"))

	r.RecordSuccess("h")
	states := r.AllHostStates()
	assert.Equal(t, Closed, states["h"])
}

func TestRegistry_ExcludedErrorClassesDoNotTrip(t *testing.T) {
	cfg := Config{
		FailureThreshold:      1,
		ResetTimeout:          time.Minute,
		ExcludedErrorClasses: map[string]bool{"timeout": true},
	}
	r := NewRegistry(cfg)

	r.RecordFailure("h", "timeout")
	assert.True(t, r.Allow("h"), "excluded error class must not trip the breaker")
}

func TestRegistry_Call(t *testing.T) {
	cfg := Config{FailureThreshold: 1, ResetTimeout: time.Minute}
	r := NewRegistry(cfg)

	boom := errors.New("boom")
	err := r.Call("h", "server_5xx", func() error { return boom })
	assert.Equal(t, boom, err)

	err = r.Call("h", "server_5xx", func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestRegistry_CallSuccess(t *testing.T) {
	r := NewRegistry(DefaultConfig())
	err := r.Call("h", "server_5xx", func() error { return nil })
	require.NoError(t, err)
	states := r.AllHostStates()
	assert.Equal(t, Closed, states["h"])
}

func TestRegistry_Snapshot(t *testing.T) {
	cfg := Config{FailureThreshold: 1, ResetTimeout: time.Minute}
	r := NewRegistry(cfg)

	r.Allow("closed-host") // touch a host, remains closed
	r.RecordFailure("open-host", "server_5xx")

	snaps := r.Snapshot()
	require.Len(t, snaps, 1)
	assert.Equal(t, "open-host", snaps[0].Host)
	assert.Equal(t, Open, snaps[0].State)
	assert.Equal(t, 1, snaps[0].ConsecutiveFailures)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", Closed.String())
	assert.Equal(t, "open", Open.String())
	assert.Equal(t, "half_open", HalfOpen.String())
}
