// Package alerting implements a fire-and-forget, bounded, non-blocking
// notification path for breaker state transitions. Enqueue uses
// offer-or-drop semantics so a slow or stalled sink can never stall a
// request.
package alerting

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/model"
)

// Event is one breaker-state-transition notification.
type Event struct {
	ModelName model.ModelName
	Kind      string // "breaker_open" is the only kind the Fallback Controller emits
	At        time.Time
}

// Sink delivers queued Events somewhere (logs, a paging system, a webhook).
type Sink interface {
	Deliver(ctx context.Context, e Event) error
}

// LogSink delivers events to a structured logger. It is the default Sink
// when no external alerting integration is configured.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Deliver(_ context.Context, e Event) error {
	s.Logger.Warn("model breaker alert", "model", e.ModelName, "kind", e.Kind, "at", e.At)
	return nil
}

// Hook is the bounded, non-blocking alert queue. Default capacity 256.
type Hook struct {
	sink   Sink
	logger *slog.Logger
	queue  chan Event

	started  atomic.Bool
	dropped  atomic.Int64
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewHook builds a Hook with the given queue capacity.
func NewHook(capacity int, sink Sink, logger *slog.Logger) *Hook {
	if capacity <= 0 {
		capacity = 256
	}
	return &Hook{
		sink:   sink,
		logger: logger,
		queue:   make(chan Event, capacity),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start begins the background drain goroutine. Safe to call only once.
func (h *Hook) Start(ctx context.Context) {
	if !h.started.CompareAndSwap(false, true) {
		h.logger.Warn("alerting: Start called more than once, ignoring")
		return
	}
	go h.drainLoop(ctx)
}

// Offer enqueues e without blocking. If the queue is full the event is
// dropped and counted; callers must never be made to wait on this call.
func (h *Hook) Offer(e Event) {
	select {
	case h.queue <- e:
	default:
		h.dropped.Add(1)
		h.logger.Warn("alerting: queue full, dropping event", "model", e.ModelName, "kind", e.Kind)
	}
}

// Dropped returns the count of events dropped due to a full queue.
func (h *Hook) Dropped() int64 { return h.dropped.Load() }

// Stop halts the drain goroutine, draining remaining queued events first.
// It blocks until the drain completes or ctx expires, whichever is first.
func (h *Hook) Stop(ctx context.Context) {
	h.stopOnce.Do(func() { close(h.done) })
	select {
	case <-h.stopped:
	case <-ctx.Done():
	}
}

func (h *Hook) drainLoop(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case <-h.done:
			h.drainRemaining(ctx)
			return
		case e := <-h.queue:
			h.deliver(ctx, e)
		}
	}
}

func (h *Hook) drainRemaining(ctx context.Context) {
	for {
		select {
		case e := <-h.queue:
			h.deliver(ctx, e)
		default:
			return
		}
	}
}

func (h *Hook) deliver(ctx context.Context, e Event) {
	if err := h.sink.Deliver(ctx, e); err != nil {
		h.logger.Error("alerting: sink delivery failed", "error", err, "model", e.ModelName, "kind", e.Kind)
	}
}

// Notify implements fallback.AlertSink by offering an Event built from the
// controller's notification. This is the adapter through which the Fallback
// Controller's alerts reach this Hook; App.New passes the Hook to
// fallback.NewController.
func (h *Hook) Notify(_ context.Context, modelName model.ModelName, event string) {
	h.Offer(Event{ModelName: modelName, Kind: event, At: time.Now()})
}
