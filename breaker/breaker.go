// Package breaker implements a per-destination-host circuit breaker
// registry. Breaker state is process-local by default; CircuitOpen is
// never surfaced to a caller outside the delivery pipeline, it is
// classified identically to a connection error (spec section 7).
package breaker

import (
	"errors"
	"sync"
	"time"
)

// State is one of the three breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

// String returns the lowercase wire representation used by metrics and
// the health snapshot.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned by Call when the breaker for a host is
// open and the reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker open")

// Config tunes a single breaker's trip/reset behavior.
type Config struct {
	// FailureThreshold is the number of consecutive failures in the
	// Closed state that trips the breaker to Open.
	FailureThreshold int
	// ResetTimeout is how long the breaker stays Open before allowing
	// a single probe call through in the Half-Open state.
	ResetTimeout time.Duration
	// ExcludedErrorClasses lists error-class strings that must not
	// count as failures for tripping purposes (e.g. timeouts, if the
	// caller wants slow-but-alive destinations to stay closed).
	ExcludedErrorClasses map[string]bool
}

// DefaultConfig matches spec section 4.2's defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		ResetTimeout:     60 * time.Second,
	}
}

type breaker struct {
	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time
	cfg                 Config
}

// Snapshot is a point-in-time view of one host's breaker, for the
// health surface and metrics gauge.
type Snapshot struct {
	Host                string
	State               State
	ConsecutiveFailures int
	OpenedAt            time.Time
}

// Registry holds one breaker per destination host.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*breaker
	cfg      Config
}

// NewRegistry creates a breaker registry. Every host gets a breaker
// lazily constructed with cfg on first use.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		breakers: make(map[string]*breaker),
		cfg:      cfg,
	}
}

func (r *Registry) get(host string) *breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[host]
	if !ok {
		b = &breaker{state: Closed, cfg: r.cfg}
		r.breakers[host] = b
	}
	return b
}

// Allow reports whether a call to host may proceed right now, and
// transitions Open -> HalfOpen when the reset timeout has elapsed.
// Call prefers this over checking state directly since it also
// performs the Open -> HalfOpen transition atomically with the check.
func (r *Registry) Allow(host string) bool {
	b := r.get(host)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.allowLocked()
}

func (b *breaker) allowLocked() bool {
	switch b.state {
	case Closed:
		return true
	case HalfOpen:
		// The single probe is already in flight; refuse further calls
		// until its outcome is recorded.
		return false
	case Open:
		if time.Since(b.openedAt) >= b.cfg.ResetTimeout {
			b.state = HalfOpen
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess reports a successful call to host, closing the breaker
// and resetting its failure counter.
func (r *Registry) RecordSuccess(host string) {
	b := r.get(host)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.consecutiveFailures = 0
}

// RecordFailure reports a failed call to host classified as errorClass.
// If errorClass is excluded from tripping, the failure is ignored for
// breaker purposes (but the caller's own retry policy still applies).
func (r *Registry) RecordFailure(host, errorClass string) {
	b := r.get(host)
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cfg.ExcludedErrorClasses[errorClass] {
		return
	}

	switch b.state {
	case HalfOpen:
		b.state = Open
		b.consecutiveFailures = 1
		b.openedAt = time.Now()
	case Closed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.state = Open
			b.openedAt = time.Now()
		}
	case Open:
		// Already open; nothing to do until the reset timeout elapses.
	}
}

// Call runs fn for host if the breaker allows it, recording the
// outcome. It returns ErrCircuitOpen without invoking fn when the
// breaker is open and not yet eligible for a probe.
func (r *Registry) Call(host, errorClassOnErr string, fn func() error) error {
	if !r.Allow(host) {
		return ErrCircuitOpen
	}
	if err := fn(); err != nil {
		r.RecordFailure(host, errorClassOnErr)
		return err
	}
	r.RecordSuccess(host)
	return nil
}

// Snapshot returns the current state of every breaker that is not
// Closed, for the health surface and the circuit_breaker_status gauge.
func (r *Registry) Snapshot() []Snapshot {
	r.mu.Lock()
	hosts := make([]string, 0, len(r.breakers))
	bs := make([]*breaker, 0, len(r.breakers))
	for host, b := range r.breakers {
		hosts = append(hosts, host)
		bs = append(bs, b)
	}
	r.mu.Unlock()

	snapshots := make([]Snapshot, 0, len(hosts))
	for i, host := range hosts {
		b := bs[i]
		b.mu.Lock()
		if b.state != Closed {
			snapshots = append(snapshots, Snapshot{
				Host:                host,
				State:               b.state,
				ConsecutiveFailures: b.consecutiveFailures,
				OpenedAt:            b.openedAt,
			})
		}
		b.mu.Unlock()
	}
	return snapshots
}

// AllHostStates returns every known host's state, including Closed,
// for metrics gauges that want a full series rather than just the
// open/half-open subset.
func (r *Registry) AllHostStates() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]State, len(r.breakers))
	for host, b := range r.breakers {
		b.mu.Lock()
		out[host] = b.state
		b.mu.Unlock()
	}
	return out
}
