package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	bus := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := bus.Subscribe(ctx, "run.1")
	bus.Publish("run.1", EventStatusChange, "planning")

	select {
	case ev := <-sub.Events():
		assert.Equal(t, EventStatusChange, ev.Type)
		assert.Equal(t, "planning", ev.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishDoesNotReachOtherTopics(t *testing.T) {
	bus := New()
	sub := bus.Subscribe(context.Background(), "run.1")
	defer sub.Close()

	bus.Publish("run.2", EventStatusChange, "planning")

	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event on unrelated topic: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestOverflowDropsOldest(t *testing.T) {
	bus := New()
	sub := bus.Subscribe(context.Background(), "run.1")
	defer sub.Close()

	for i := 0; i < defaultQueueSize+10; i++ {
		bus.Publish("run.1", EventToken, i)
	}

	require.Greater(t, sub.Dropped(), int64(0))

	// The queue should still be readable and bounded.
	count := 0
	for {
		select {
		case _, ok := <-sub.Events():
			if !ok {
				goto done
			}
			count++
		default:
			goto done
		}
	}
done:
	require.LessOrEqual(t, count, defaultQueueSize)
}

func TestCloseReleasesSubscription(t *testing.T) {
	bus := New()
	sub := bus.Subscribe(context.Background(), "run.1")
	sub.Close()

	bus.mu.RLock()
	_, exists := bus.subscribers["run.1"]
	bus.mu.RUnlock()
	assert.False(t, exists)

	_, ok := <-sub.Events()
	assert.False(t, ok, "channel should be closed")
}

func TestContextCancelClosesSubscription(t *testing.T) {
	bus := New()
	ctx, cancel := context.WithCancel(context.Background())
	sub := bus.Subscribe(ctx, "run.1")
	cancel()

	require.Eventually(t, func() bool {
		_, ok := <-sub.Events()
		return !ok
	}, time.Second, 10*time.Millisecond)
}
