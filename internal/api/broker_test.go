package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe(DensityTopic)
	other := b.Subscribe("elsewhere")

	evt := Event{Type: "density.updated", Data: map[string]any{"x": 1}}
	b.Publish(DensityTopic, evt)

	select {
	case got := <-ch:
		assert.Equal(t, evt.Type, got.Type)
		assert.Equal(t, 1, got.Data["x"])
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
	select {
	case <-other:
		t.Fatal("event leaked to another topic")
	default:
	}

	b.Unsubscribe(DensityTopic, ch)
	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")
	// a second unsubscribe is a no-op
	b.Unsubscribe(DensityTopic, ch)
	b.Unsubscribe("elsewhere", other)
}

func TestBrokerPublishNeverBlocks(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe(DensityTopic)
	defer b.Unsubscribe(DensityTopic, ch)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(DensityTopic, Event{Type: "density.updated"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	require.Len(t, ch, cap(ch))
}

func TestNewRedisBrokerBadURL(t *testing.T) {
	_, err := NewRedisBroker(t.Context(), "not-a-redis-url", nil)
	require.Error(t, err)
}
