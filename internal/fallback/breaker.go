// Package fallback implements a per-model circuit breaker, a retry-with-
// backoff policy, and weight-redistribution across surviving models. The
// retry loop uses jittered exponential backoff over a retriable-error
// predicate; breaker states follow the standard closed/open/half_open
// convention.
package fallback

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/model"
)

// Thresholds configures one Controller instance.
type Thresholds struct {
	TripThreshold     int           // N_trip
	Cooldown          time.Duration // T_cooldown
	HalfOpenProbes    int
	RetryMax          int           // R_max
	RetryBaseDelay    time.Duration
	RetryCap          time.Duration
}

// DefaultThresholds returns the conservative defaults applied when no
// override is configured.
func DefaultThresholds() Thresholds {
	return Thresholds{
		TripThreshold:  3,
		Cooldown:       60 * time.Second,
		HalfOpenProbes: 1,
		RetryMax:       2,
		RetryBaseDelay: 100 * time.Millisecond,
		RetryCap:       1 * time.Second,
	}
}

// breakerEntry is the mutable per-model state, guarded by its own lock so
// breakers never contend with each other.
type breakerEntry struct {
	mu    sync.Mutex
	state model.BreakerState
}

// Controller owns one BreakerState per model and the retry policy applied
// before a breaker trip.
type Controller struct {
	thresholds Thresholds
	alerter    AlertSink

	mu       sync.Mutex // guards entries map creation and lastAlert
	entries  map[model.ModelName]*breakerEntry
	lastAlert map[model.ModelName]time.Time
}

// AlertSink receives fire-and-forget notifications of breaker state
// transitions. Implementations must not block.
type AlertSink interface {
	Notify(ctx context.Context, modelName model.ModelName, event string)
}

// NoopAlertSink discards all alerts.
type NoopAlertSink struct{}

func (NoopAlertSink) Notify(context.Context, model.ModelName, string) {}

// NewController builds a Controller for the four fixed model roles.
func NewController(t Thresholds, alerter AlertSink) *Controller {
	if alerter == nil {
		alerter = NoopAlertSink{}
	}
	c := &Controller{
		thresholds: t,
		alerter:    alerter,
		entries:    make(map[model.ModelName]*breakerEntry, len(model.ModelNames)),
		lastAlert:  make(map[model.ModelName]time.Time),
	}
	for _, name := range model.ModelNames {
		c.entries[name] = &breakerEntry{state: model.BreakerState{Status: model.BreakerClosed}}
	}
	return c
}

// State returns a snapshot of one model's breaker state. Readers may
// observe slightly stale state under concurrent mutation.
func (c *Controller) State(name model.ModelName) model.BreakerState {
	e := c.entry(name)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (c *Controller) entry(name model.ModelName) *breakerEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[name]
	if !ok {
		e = &breakerEntry{state: model.BreakerState{Status: model.BreakerClosed}}
		c.entries[name] = e
	}
	return e
}

// Allow reports whether a call to the named model should proceed. It also
// performs the open → half_open transition when the cooldown has elapsed,
// so callers only need to check Allow immediately before invoking the
// Wrapper.
func (c *Controller) Allow(name model.ModelName) bool {
	e := c.entry(name)
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state.Status {
	case model.BreakerClosed:
		return true
	case model.BreakerHalfOpen:
		if e.state.HalfOpenProbesRemaining > 0 {
			e.state.HalfOpenProbesRemaining--
			return true
		}
		return false
	case model.BreakerOpen:
		if e.state.OpenedAt != nil && time.Since(*e.state.OpenedAt) >= c.thresholds.Cooldown {
			e.state.Status = model.BreakerHalfOpen
			e.state.HalfOpenProbesRemaining = c.thresholds.HalfOpenProbes - 1
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess transitions closed/half_open state forward on a successful call.
func (c *Controller) RecordSuccess(name model.ModelName) {
	e := c.entry(name)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Status = model.BreakerClosed
	e.state.ConsecutiveFailures = 0
	e.state.OpenedAt = nil
	e.state.HalfOpenProbesRemaining = 0
}

// RecordFailure increments the failure count and trips the breaker when the
// threshold is reached (closed) or immediately re-opens it (half_open).
// Callers must invoke this exactly once per call outcome; a cancellation
// must not be double-counted.
func (c *Controller) RecordFailure(ctx context.Context, name model.ModelName, fatal bool) {
	e := c.entry(name)
	e.mu.Lock()
	wasOpen := e.state.Status == model.BreakerOpen
	switch e.state.Status {
	case model.BreakerHalfOpen:
		e.trip()
	case model.BreakerClosed:
		e.state.ConsecutiveFailures++
		if fatal || e.state.ConsecutiveFailures >= c.thresholds.TripThreshold {
			e.trip()
		}
	case model.BreakerOpen:
		// Already open; nothing to do beyond bookkeeping.
	}
	justTripped := !wasOpen && e.state.Status == model.BreakerOpen
	e.mu.Unlock()

	if justTripped {
		c.maybeAlert(ctx, name)
	}
}

func (e *breakerEntry) trip() {
	now := time.Now()
	e.state.Status = model.BreakerOpen
	e.state.OpenedAt = &now
	e.state.HalfOpenProbesRemaining = 0
}

// AlertCooldownDefault rate-limits one alert per model per window.
var AlertCooldownDefault = 5 * time.Minute

func (c *Controller) maybeAlert(ctx context.Context, name model.ModelName) {
	c.mu.Lock()
	last, ok := c.lastAlert[name]
	now := time.Now()
	if ok && now.Sub(last) < AlertCooldownDefault {
		c.mu.Unlock()
		return
	}
	c.lastAlert[name] = now
	c.mu.Unlock()

	c.alerter.Notify(ctx, name, "breaker_open")
}

// ActiveWeights renormalizes base over the models that are NOT in failed,
// so the surviving weights always sum to 1.0.
func ActiveWeights(base model.Weights, failed map[model.ModelName]bool) model.Weights {
	active := make(model.Weights, len(base))
	var total float64
	for name, w := range base {
		if failed[name] {
			continue
		}
		active[name] = w
		total += w
	}
	if total == 0 {
		return active
	}
	for name := range active {
		active[name] /= total
	}
	return active
}

// WithRetry executes fn, retrying up to t.RetryMax times when isTransient
// reports the returned error is retryable. Retries use jittered exponential
// backoff starting at RetryBaseDelay, capped at RetryCap.
func WithRetry(ctx context.Context, t Thresholds, isTransient func(error) bool, fn func() error) error {
	delay := t.RetryBaseDelay
	var err error
	for attempt := 0; attempt <= t.RetryMax; attempt++ {
		err = fn()
		if err == nil || !isTransient(err) {
			return err
		}
		if attempt == t.RetryMax {
			break
		}
		jitter := time.Duration((rand.Float64()*0.4 - 0.2) * float64(delay)) // ±20%
		wait := delay + jitter
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		delay *= 2
		if delay > t.RetryCap {
			delay = t.RetryCap
		}
	}
	return err
}
