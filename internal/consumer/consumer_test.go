package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/mqs"
)

// fakeSubscription hands out queued messages, then fails with errDrained.
type fakeSubscription struct {
	mu       sync.Mutex
	messages []*mqs.Message
	err      error
}

var errDrained = errors.New("subscription drained")

func (s *fakeSubscription) Receive(ctx context.Context) (*mqs.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	msg := s.messages[0]
	s.messages = s.messages[1:]
	return msg, nil
}

func (s *fakeSubscription) Shutdown(ctx context.Context) error { return nil }

type countingHandler struct {
	mu      sync.Mutex
	handled int
	inUse   int
	peak    int
	block   time.Duration
}

func (h *countingHandler) Handle(ctx context.Context, msg *mqs.Message) error {
	h.mu.Lock()
	h.inUse++
	if h.inUse > h.peak {
		h.peak = h.inUse
	}
	h.mu.Unlock()

	if h.block > 0 {
		time.Sleep(h.block)
	}

	h.mu.Lock()
	h.inUse--
	h.handled++
	h.mu.Unlock()
	return nil
}

func (h *countingHandler) totals() (handled, peak int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.handled, h.peak
}

func TestDispatchPool_DrainsBeforeReturning(t *testing.T) {
	t.Parallel()

	sub := &fakeSubscription{err: errDrained}
	for i := 0; i < 8; i++ {
		sub.messages = append(sub.messages, &mqs.Message{Body: []byte("{}")})
	}
	handler := &countingHandler{block: 5 * time.Millisecond}

	pool := New(sub, handler, WithName("dispatch-test"), WithConcurrency(3))
	err := pool.Run(context.Background())
	require.ErrorIs(t, err, errDrained)

	handled, peak := handler.totals()
	assert.Equal(t, 8, handled, "every received message is handled before Run returns")
	assert.LessOrEqual(t, peak, 3, "in-flight handlers never exceed the pool size")
}

func TestDispatchPool_StopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	sub := &fakeSubscription{}
	handler := &countingHandler{}
	pool := New(sub, handler, WithConcurrency(2))

	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop after cancellation")
	}
}
