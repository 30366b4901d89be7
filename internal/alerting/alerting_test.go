package alerting

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/model"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Deliver(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestHook_DeliversOfferedEvents(t *testing.T) {
	sink := &recordingSink{}
	h := NewHook(8, sink, discardLogger())
	h.Start(context.Background())

	h.Offer(Event{ModelName: model.ModelBart, Kind: "breaker_open"})

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	h.Stop(ctx)
}

func TestHook_DropsWhenQueueFull(t *testing.T) {
	blockedSink := &blockingSink{release: make(chan struct{})}
	h := NewHook(1, blockedSink, discardLogger())
	h.Start(context.Background())

	h.Offer(Event{ModelName: model.ModelBart, Kind: "a"}) // picked up by drain loop, blocks in Deliver
	require.Eventually(t, func() bool { return blockedSink.started.Load() }, time.Second, time.Millisecond)

	h.Offer(Event{ModelName: model.ModelSentiment, Kind: "b"}) // fills the 1-capacity queue
	h.Offer(Event{ModelName: model.ModelIrony, Kind: "c"})     // dropped

	assert.Equal(t, int64(1), h.Dropped())
	close(blockedSink.release)
}

type blockingSink struct {
	release chan struct{}
	started atomicBool
}

func (s *blockingSink) Deliver(_ context.Context, _ Event) error {
	s.started.Store(true)
	<-s.release
	return nil
}

type atomicBool struct {
	mu sync.Mutex
	v  bool
}

func (a *atomicBool) Store(v bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.v = v
}

func (a *atomicBool) Load() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.v
}

func TestHook_OfferNeverBlocks(t *testing.T) {
	h := NewHook(1, &blockingSink{release: make(chan struct{})}, discardLogger())
	// No Start call: queue fills and stays full, Offer must still return immediately.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			h.Offer(Event{ModelName: model.ModelEmotions, Kind: "x"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Offer blocked")
	}
}
