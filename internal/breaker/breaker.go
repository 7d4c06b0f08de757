// Package breaker implements the three-state circuit breaker of
// spec §4.G, grounded on src/circuit_breaker.py: CLOSED passes calls
// through and counts failures, OPEN rejects immediately, HALF_OPEN
// (entered once recovery_timeout elapses) lets calls through as probes:
// a success closes the breaker and a failure re-opens it. Calls made
// while HALF_OPEN are not limited to a single probe. The state
// transition out of OPEN is lazy — computed on read, exactly like the
// Python `state` property's time.monotonic() check — rather than
// timer-driven.
//
// Unlike the Python original's module-level `_registry` singleton,
// Registry here is an explicit type held by the caller (normally the
// root Runtime), per the spec's guidance to avoid global mutable state.
package breaker

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/arcwright/recall/internal/types"
)

var (
	tracer = otel.Tracer("github.com/arcwright/recall/breaker")

	breakerMetrics struct {
		trips    metric.Int64Counter
		rejected metric.Int64Counter
	}
)

func init() {
	m := otel.Meter("github.com/arcwright/recall/breaker")
	breakerMetrics.trips, _ = m.Int64Counter("recall.breaker.trips",
		metric.WithDescription("times a breaker transitioned to OPEN"))
	breakerMetrics.rejected, _ = m.Int64Counter("recall.breaker.rejected_calls",
		metric.WithDescription("calls rejected because a breaker was OPEN"))
}

// Breaker is a single named circuit breaker.
type Breaker struct {
	name             string
	failureThreshold int
	recoveryTimeout  time.Duration

	mu              sync.Mutex
	state           types.BreakerState
	failureCount    int
	lastFailureTime time.Time
}

// New creates a breaker starting CLOSED.
func New(name string, failureThreshold int, recoveryTimeout time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = 60 * time.Second
	}
	return &Breaker{
		name:             name,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		state:            types.BreakerClosed,
	}
}

// State returns the current state, lazily transitioning OPEN to
// HALF_OPEN once recoveryTimeout has elapsed since the last failure.
func (b *Breaker) State() types.BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == types.BreakerOpen && !b.lastFailureTime.IsZero() &&
		time.Since(b.lastFailureTime) >= b.recoveryTimeout {
		b.state = types.BreakerHalfOpen
	}
	return b.state
}

// FailureCount returns the current consecutive-failure count.
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}

// IsOpen reports whether the breaker currently rejects calls.
func (b *Breaker) IsOpen() bool {
	return b.State() == types.BreakerOpen
}

// Call executes fn, protected by the breaker. In OPEN it returns
// *types.BreakerOpenError without calling fn. Otherwise fn runs and its
// result is recorded as success or failure.
func (b *Breaker) Call(ctx context.Context, fn func(context.Context) error) error {
	ctx, span := tracer.Start(ctx, "breaker.call")
	defer span.End()
	span.SetAttributes(attribute.String("breaker.name", b.name))

	if b.State() == types.BreakerOpen {
		breakerMetrics.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("breaker.name", b.name)))
		return &types.BreakerOpenError{Name: b.name, FailureCount: b.FailureCount()}
	}

	err := fn(ctx)
	if err != nil {
		b.recordFailure(ctx)
		return err
	}
	b.recordSuccess()
	return nil
}

// RecordFailure manually records a failure outside of Call.
func (b *Breaker) RecordFailure(ctx context.Context) { b.recordFailure(ctx) }

// RecordSuccess manually records a success outside of Call.
func (b *Breaker) RecordSuccess() { b.recordSuccess() }

// Reset forces the breaker back to CLOSED with zero failures.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = types.BreakerClosed
	b.failureCount = 0
	b.lastFailureTime = time.Time{}
}

func (b *Breaker) recordFailure(ctx context.Context) {
	b.mu.Lock()
	b.failureCount++
	b.lastFailureTime = time.Now()
	tripped := false
	if b.failureCount >= b.failureThreshold && b.state != types.BreakerOpen {
		b.state = types.BreakerOpen
		tripped = true
	}
	b.mu.Unlock()
	if tripped {
		breakerMetrics.trips.Add(ctx, 1, metric.WithAttributes(attribute.String("breaker.name", b.name)))
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount = 0
	b.state = types.BreakerClosed
}

// Registry holds named breakers, created with first-call-wins config
// (subsequent Get calls with different thresholds are ignored once a
// breaker exists), matching get_breaker in the Python original.
type Registry struct {
	mu               sync.Mutex
	breakers         map[string]*Breaker
	defaultThreshold int
	defaultRecovery  time.Duration
}

// NewRegistry creates a registry with the given default parameters for
// breakers created without explicit overrides.
func NewRegistry(defaultThreshold int, defaultRecovery time.Duration) *Registry {
	return &Registry{
		breakers:         make(map[string]*Breaker),
		defaultThreshold: defaultThreshold,
		defaultRecovery:  defaultRecovery,
	}
}

// Get returns the named breaker, creating it with the registry's
// defaults on first use.
func (r *Registry) Get(name string) *Breaker {
	return r.GetWithConfig(name, r.defaultThreshold, r.defaultRecovery)
}

// GetWithConfig returns the named breaker, creating it with the given
// config if it does not yet exist. An existing breaker's config is
// never altered by a later call.
func (r *Registry) GetWithConfig(name string, failureThreshold int, recoveryTimeout time.Duration) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := New(name, failureThreshold, recoveryTimeout)
	r.breakers[name] = b
	return b
}

// Snapshot returns the state of every breaker currently registered, for
// the self-test "no OPEN breakers" probe and for persistence.
func (r *Registry) Snapshot() map[string]types.BreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]types.BreakerState, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.State()
	}
	return out
}
