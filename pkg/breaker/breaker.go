// Package breaker provides a reusable circuit breaker for protecting calls
// to unreliable dependencies. A breaker wraps a single async action and
// implements the Closed/Open/HalfOpen state machine: failures within a
// rolling window trip the circuit, calls are short-circuited while Open,
// and a single trial call probes for recovery after the reset timeout.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"
)

// State represents the circuit breaker state.
type State int32

const (
	// StateClosed is normal operation, all calls pass through.
	StateClosed State = iota
	// StateOpen short-circuits calls until the reset timeout elapses.
	StateOpen
	// StateHalfOpen lets exactly one trial call through to test recovery.
	StateHalfOpen
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Event is an enum-tagged lifecycle event passed to the logging collaborator
// and the optional observer on every transition. Events are purely
// observational and never affect control flow.
type Event int

const (
	EventOpen Event = iota
	EventHalfOpen
	EventClose
	EventSuccess
	EventFailure
	EventTimeout
	EventReject
	EventFallback
)

// String implements fmt.Stringer.
func (e Event) String() string {
	switch e {
	case EventOpen:
		return "open"
	case EventHalfOpen:
		return "half_open"
	case EventClose:
		return "close"
	case EventSuccess:
		return "success"
	case EventFailure:
		return "failure"
	case EventTimeout:
		return "timeout"
	case EventReject:
		return "reject"
	case EventFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Observer receives lifecycle events. Implementations must not block.
type Observer func(name string, event Event)

// Action is the wrapped async operation. The context carries the per-call
// timeout; implementations should honor cancellation but are not required
// to — a timed-out call frees the caller immediately either way.
type Action func(ctx context.Context, args ...any) (any, error)

// FallbackFunc produces a degraded-mode value when the circuit is open or
// the action fails. It receives the error that triggered the fallback.
type FallbackFunc func(err error) any

// Options configures a circuit breaker. Zero fields take documented defaults;
// invalid values are rejected at construction, not at first use.
type Options struct {
	// Timeout is the per-call timeout for the wrapped action. A timeout is
	// treated identically to a thrown error for breaker accounting.
	// Default 10s.
	Timeout time.Duration
	// ErrorThresholdPercentage is the failure percentage within the rolling
	// window at which the breaker trips. Default 50.
	ErrorThresholdPercentage int
	// ResetTimeout is how long the breaker stays Open before a recovery
	// probe is permitted. Default 30s.
	ResetTimeout time.Duration
	// VolumeThreshold is the minimum number of calls that must be observed
	// in the rolling window before the breaker can trip. Default 5.
	VolumeThreshold int
	// WindowDuration is the rolling accounting window. Default 10s.
	WindowDuration time.Duration
}

const (
	defaultTimeout                  = 10 * time.Second
	defaultErrorThresholdPercentage = 50
	defaultResetTimeout             = 30 * time.Second
	defaultVolumeThreshold          = 5
	defaultWindowDuration           = 10 * time.Second
)

func (o Options) withDefaults() (Options, error) {
	if o.Timeout == 0 {
		o.Timeout = defaultTimeout
	}
	if o.ErrorThresholdPercentage == 0 {
		o.ErrorThresholdPercentage = defaultErrorThresholdPercentage
	}
	if o.ResetTimeout == 0 {
		o.ResetTimeout = defaultResetTimeout
	}
	if o.VolumeThreshold == 0 {
		o.VolumeThreshold = defaultVolumeThreshold
	}
	if o.WindowDuration == 0 {
		o.WindowDuration = defaultWindowDuration
	}
	if o.Timeout < 0 || o.ResetTimeout < 0 || o.WindowDuration < 0 {
		return o, fmt.Errorf("breaker: negative duration in options")
	}
	if o.VolumeThreshold < 0 {
		return o, fmt.Errorf("breaker: negative volume threshold")
	}
	if o.ErrorThresholdPercentage < 0 || o.ErrorThresholdPercentage > 100 {
		return o, fmt.Errorf("breaker: error threshold percentage must be in [0, 100], got %d", o.ErrorThresholdPercentage)
	}
	return o, nil
}

// Stats holds cumulative counters since breaker creation or last reset.
type Stats struct {
	Fires     uint64 `json:"fires"`
	Successes uint64 `json:"successes"`
	Failures  uint64 `json:"failures"`
	Timeouts  uint64 `json:"timeouts"`
	Rejects   uint64 `json:"rejects"`
	Fallbacks uint64 `json:"fallbacks"`
}

// Status is a point-in-time snapshot of a breaker, exposed for the
// operational status endpoint.
type Status struct {
	Name         string     `json:"name"`
	State        string     `json:"state"`
	FailureCount int        `json:"failure_count"`
	OpenedAt     *time.Time `json:"opened_at,omitempty"`
	Stats        Stats      `json:"stats"`
}

// OpenError is returned by Fire when the circuit is open and no fallback is
// registered. It carries the breaker name so callers can distinguish
// "dependency is circuit-broken" from "dependency returned a business error".
type OpenError struct {
	Name string
}

// Error implements the error interface.
func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open", e.Name)
}

// IsOpenError reports whether err is a circuit-open rejection.
func IsOpenError(err error) bool {
	var oe *OpenError
	return errors.As(err, &oe)
}

// CircuitBreaker wraps a single action with circuit breaker protection.
// All state transitions are computed under one mutex so that no failure
// increment is lost under concurrent access.
type CircuitBreaker struct {
	name     string
	action   Action
	opts     Options
	logger   *log.Helper
	observer Observer

	mu                  sync.Mutex
	state               State
	openedAt            time.Time
	lastFailureAt       time.Time
	lastRecoveryAttempt time.Time
	trialInFlight       bool

	windowStart    time.Time
	windowFires    int
	windowFailures int

	stats    Stats
	fallback FallbackFunc

	// now is replaceable in tests.
	now func() time.Time
}

// New creates a circuit breaker wrapping action. Unset options take their
// documented defaults; invalid options are rejected here.
func New(name string, action Action, opts Options, logger log.Logger) (*CircuitBreaker, error) {
	if name == "" {
		return nil, fmt.Errorf("breaker: name is required")
	}
	if action == nil {
		return nil, fmt.Errorf("breaker: action is required")
	}
	o, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	return &CircuitBreaker{
		name:   name,
		action: action,
		opts:   o,
		logger: log.NewHelper(logger),
		now:    time.Now,
	}, nil
}

// Name returns the breaker's unique name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Fallback registers a degraded-mode value producer. When set, an open
// circuit or a failed call returns the fallback value instead of an error.
func (cb *CircuitBreaker) Fallback(fn FallbackFunc) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.fallback = fn
}

// OnEvent registers an observer for lifecycle events.
func (cb *CircuitBreaker) OnEvent(obs Observer) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.observer = obs
}

// Fire invokes the wrapped action with circuit breaker protection.
//
// When the circuit is Open and the reset timeout has not elapsed the action
// is never invoked: the registered fallback value is returned, or an
// *OpenError if none is configured. Once the reset timeout elapses the next
// call becomes the half-open trial.
func (cb *CircuitBreaker) Fire(ctx context.Context, args ...any) (any, error) {
	cb.mu.Lock()
	now := cb.now()
	cb.stats.Fires++

	if cb.state == StateOpen && now.Sub(cb.openedAt) >= cb.opts.ResetTimeout {
		cb.state = StateHalfOpen
		cb.lastRecoveryAttempt = now
		cb.trialInFlight = false
		cb.emitLocked(EventHalfOpen)
	}

	switch cb.state {
	case StateOpen:
		cb.stats.Rejects++
		fb := cb.fallback
		cb.emitLocked(EventReject)
		if fb != nil {
			cb.stats.Fallbacks++
			cb.emitLocked(EventFallback)
			cb.mu.Unlock()
			return fb(&OpenError{Name: cb.name}), nil
		}
		cb.mu.Unlock()
		return nil, &OpenError{Name: cb.name}
	case StateHalfOpen:
		if cb.trialInFlight {
			// Only one trial is allowed through; concurrent callers are
			// rejected as if the circuit were still open.
			cb.stats.Rejects++
			fb := cb.fallback
			cb.emitLocked(EventReject)
			if fb != nil {
				cb.stats.Fallbacks++
				cb.emitLocked(EventFallback)
				cb.mu.Unlock()
				return fb(&OpenError{Name: cb.name}), nil
			}
			cb.mu.Unlock()
			return nil, &OpenError{Name: cb.name}
		}
		cb.trialInFlight = true
	}

	cb.rollWindowLocked(now)
	cb.windowFires++
	action, timeout := cb.action, cb.opts.Timeout
	cb.mu.Unlock()

	result, err := invoke(ctx, action, timeout, args...)
	if err != nil {
		return cb.onFailure(err)
	}
	cb.onSuccess()
	return result, nil
}

// invoke runs the action under the per-call timeout. On timeout the caller
// is freed immediately; the action may still be running in the background.
func invoke(ctx context.Context, action Action, timeout time.Duration, args ...any) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := action(ctx, args...)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (cb *CircuitBreaker) onSuccess() {
	cb.mu.Lock()
	cb.stats.Successes++
	if cb.state == StateHalfOpen {
		cb.state = StateClosed
		cb.trialInFlight = false
		cb.openedAt = time.Time{}
		cb.windowFires = 0
		cb.windowFailures = 0
		cb.emitLocked(EventClose)
	}
	cb.emitLocked(EventSuccess)
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) onFailure(err error) (any, error) {
	cb.mu.Lock()
	now := cb.now()
	cb.stats.Failures++
	if errors.Is(err, context.DeadlineExceeded) {
		cb.stats.Timeouts++
		cb.emitLocked(EventTimeout)
	}
	cb.lastFailureAt = now
	cb.rollWindowLocked(now)
	cb.windowFailures++

	switch cb.state {
	case StateHalfOpen:
		// Trial failed: reopen and restart the reset timeout.
		cb.state = StateOpen
		cb.openedAt = now
		cb.trialInFlight = false
		cb.emitLocked(EventOpen)
	case StateClosed:
		if cb.tripLocked() {
			cb.state = StateOpen
			cb.openedAt = now
			cb.emitLocked(EventOpen)
		}
	}
	cb.emitLocked(EventFailure)

	fb := cb.fallback
	if fb != nil {
		cb.stats.Fallbacks++
		cb.emitLocked(EventFallback)
		cb.mu.Unlock()
		return fb(err), nil
	}
	cb.mu.Unlock()
	return nil, err
}

// tripLocked evaluates the trip condition with percentage-of-rolling-window
// semantics: at least VolumeThreshold calls observed in the window, and at
// least ErrorThresholdPercentage of them failed.
func (cb *CircuitBreaker) tripLocked() bool {
	if cb.windowFires < cb.opts.VolumeThreshold {
		return false
	}
	return cb.windowFailures*100 >= cb.opts.ErrorThresholdPercentage*cb.windowFires
}

func (cb *CircuitBreaker) rollWindowLocked(now time.Time) {
	if cb.windowStart.IsZero() || now.Sub(cb.windowStart) >= cb.opts.WindowDuration {
		cb.windowStart = now
		cb.windowFires = 0
		cb.windowFailures = 0
	}
}

// emitLocked must be called with cb.mu held. The logger and observer are
// expected not to block; breaker bookkeeping never suspends.
func (cb *CircuitBreaker) emitLocked(event Event) {
	switch event {
	case EventOpen:
		cb.logger.Warnw("msg", "circuit breaker opened", "breaker", cb.name, "event", event.String())
	case EventHalfOpen, EventClose:
		cb.logger.Infow("msg", "circuit breaker state changed", "breaker", cb.name, "event", event.String())
	case EventTimeout, EventReject:
		cb.logger.Warnw("msg", "circuit breaker "+event.String(), "breaker", cb.name, "event", event.String())
	default:
		cb.logger.Debugw("msg", "circuit breaker event", "breaker", cb.name, "event", event.String())
	}
	if cb.observer != nil {
		cb.observer(cb.name, event)
	}
}

// State returns the current state. Pure read, no side effect.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns cumulative counters since breaker creation or last reset.
// Pure read, no side effect.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stats
}

// Status returns a point-in-time snapshot for the status endpoint.
func (cb *CircuitBreaker) Status() Status {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	st := Status{
		Name:         cb.name,
		State:        cb.state.String(),
		FailureCount: cb.windowFailures,
		Stats:        cb.stats,
	}
	if !cb.openedAt.IsZero() {
		openedAt := cb.openedAt
		st.OpenedAt = &openedAt
	}
	return st
}

// Reset forces the breaker back to Closed and clears all counters. Used by
// administrative tooling after a dependency has been independently verified
// as recovered.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	cb.state = StateClosed
	cb.openedAt = time.Time{}
	cb.lastFailureAt = time.Time{}
	cb.lastRecoveryAttempt = time.Time{}
	cb.trialInFlight = false
	cb.windowStart = time.Time{}
	cb.windowFires = 0
	cb.windowFailures = 0
	cb.stats = Stats{}
	cb.emitLocked(EventClose)
	cb.mu.Unlock()
}
