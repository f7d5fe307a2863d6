package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_DeliversInOrder(t *testing.T) {
	bus := NewBus()
	var got []string
	bus.Subscribe(ObserverFunc(func(_ context.Context, e Event) { got = append(got, "a:"+string(e.Kind)) }))
	bus.Subscribe(ObserverFunc(func(_ context.Context, e Event) { got = append(got, "b:"+string(e.Kind)) }))

	bus.Emit(context.Background(), Event{Kind: KindCompleted, JobID: "j1"})

	assert.Equal(t, []string{"a:completed", "b:completed"}, got)
}

func TestBus_StampsTime(t *testing.T) {
	bus := NewBus()
	ch, stop := bus.Channel(1)
	defer stop()

	bus.Emit(context.Background(), Event{Kind: KindActive})
	e := <-ch
	assert.False(t, e.At.IsZero())
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	calls := 0
	unsub := bus.Subscribe(ObserverFunc(func(context.Context, Event) { calls++ }))

	bus.Emit(context.Background(), Event{Kind: KindActive})
	unsub()
	unsub()
	bus.Emit(context.Background(), Event{Kind: KindActive})

	assert.Equal(t, 1, calls)
}

func TestBus_PanickingObserverIsIsolated(t *testing.T) {
	bus := NewBus()
	bus.Subscribe(ObserverFunc(func(context.Context, Event) { panic("boom") }))
	delivered := false
	bus.Subscribe(ObserverFunc(func(context.Context, Event) { delivered = true }))

	assert.NotPanics(t, func() {
		bus.Emit(context.Background(), Event{Kind: KindFailed, JobID: "j1"})
	})
	assert.True(t, delivered)
}

func TestBus_ChannelDropsWhenFull(t *testing.T) {
	bus := NewBus()
	ch, stop := bus.Channel(2)

	for i := 0; i < 5; i++ {
		bus.Emit(context.Background(), Event{Kind: KindEnqueued})
	}
	assert.Len(t, ch, 2)

	stop()
	// emitting after stop must not panic on the closed channel
	bus.Emit(context.Background(), Event{Kind: KindEnqueued})

	n := 0
	for range ch {
		n++
	}
	require.Equal(t, 2, n)
}

func TestBus_NilIsNoop(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() { bus.Emit(context.Background(), Event{Kind: KindActive}) })
}
