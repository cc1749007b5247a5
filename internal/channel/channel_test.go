package channel

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingSource records start/stop transitions
type countingSource struct {
	starts atomic.Int32
	stops  atomic.Int32
}

func (cs *countingSource) start(string) func() {
	cs.starts.Add(1)
	return func() { cs.stops.Add(1) }
}

func newSharedChannel(t *testing.T, reg *Registry) (*Channel, *countingSource) {
	t.Helper()
	cs := &countingSource{}
	src := NewEventSource("poll", cs.start)
	ch := NewChannel("test", reg, map[string]*EventSource{
		"updated":     src,
		"updateError": src,
	}, zerolog.Nop())
	return ch, cs
}

func TestChannel_SharedSourceRefCounting(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	ch, cs := newSharedChannel(t, reg)
	noop := func(any) {}

	a := ch.On("updated", noop)
	assert.Equal(t, int32(1), cs.starts.Load())
	assert.True(t, ch.Source("updated").Running())
	assert.True(t, reg.Contains(ch))

	b := ch.On("updateError", noop)
	c := ch.On("updated", noop)
	assert.Equal(t, int32(1), cs.starts.Load(), "second event sharing the source must not restart it")
	assert.Equal(t, 2, ch.Source("updated").Refs())

	a.Unsubscribe()
	b.Unsubscribe()
	assert.Equal(t, int32(0), cs.stops.Load(), "updated still has a handler")
	assert.True(t, ch.Source("updated").Running())

	c.Unsubscribe()
	assert.Equal(t, int32(1), cs.stops.Load())
	assert.Equal(t, Stopped, ch.Source("updated").State())
	assert.False(t, reg.Contains(ch))

	ch.On("updateError", noop)
	assert.Equal(t, int32(2), cs.starts.Load())
	assert.True(t, reg.Contains(ch))
}

func TestChannel_UnsubscribeIdempotent(t *testing.T) {
	ch, cs := newSharedChannel(t, nil)

	sub := ch.On("updated", func(any) {})
	other := ch.On("updated", func(any) {})

	sub.Unsubscribe()
	sub.Unsubscribe()
	assert.Equal(t, 1, ch.HandlerCount("updated"))
	assert.Equal(t, int32(0), cs.stops.Load())

	assert.False(t, ch.Off("updated", sub.ID()))
	assert.True(t, ch.Off("updated", other.ID()))
	assert.Equal(t, int32(1), cs.stops.Load())
}

func TestChannel_EmitOrderAndNoHandlers(t *testing.T) {
	ch := NewChannel("plain", nil, nil, zerolog.Nop())

	// no handlers: silent no-op
	ch.Emit("updated", 1)

	var order []string
	ch.On("updated", func(p any) { order = append(order, "first:"+p.(string)) })
	ch.On("updated", func(p any) { order = append(order, "second:"+p.(string)) })
	ch.On("other", func(any) { order = append(order, "other") })

	ch.Emit("updated", "x")
	assert.Equal(t, []string{"first:x", "second:x"}, order)
}

func TestChannel_Once(t *testing.T) {
	ch, cs := newSharedChannel(t, nil)

	var calls int
	ch.Once("updated", func(any) { calls++ })
	assert.Equal(t, int32(1), cs.starts.Load())

	ch.Emit("updated", 1)
	ch.Emit("updated", 2)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, ch.HandlerCount("updated"))
	assert.Equal(t, int32(1), cs.stops.Load())
}

func TestChannel_InitEmitterReachesNewHandler(t *testing.T) {
	var ch *Channel
	src := NewEventSource("poll", func(string) func() { return func() {} },
		WithInitEmitter(func(event string) {
			ch.Emit(event, "current")
		}),
	)
	ch = NewChannel("init", nil, map[string]*EventSource{"updated": src}, zerolog.Nop())

	var got []any
	ch.On("updated", func(p any) { got = append(got, p) })
	assert.Equal(t, []any{"current"}, got)
}

func TestChannel_OnceWithInitEmitter(t *testing.T) {
	var ch *Channel
	src := NewEventSource("poll", func(string) func() { return func() {} },
		WithInitEmitter(func(event string) {
			ch.Emit(event, "current")
		}),
	)
	ch = NewChannel("init", nil, map[string]*EventSource{"updated": src}, zerolog.Nop())

	var calls int
	ch.Once("updated", func(any) { calls++ })

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, ch.HandlerCount("updated"))
	assert.False(t, src.Running())
}

func TestChannel_HandlerMayUnsubscribeDuringEmit(t *testing.T) {
	ch, cs := newSharedChannel(t, nil)

	var sub *Subscription
	sub = ch.On("updated", func(any) { sub.Unsubscribe() })
	ch.On("updateError", func(any) {})

	ch.Emit("updated", nil)
	assert.Equal(t, 0, ch.HandlerCount("updated"))
	assert.Equal(t, int32(0), cs.stops.Load())
}

func TestChannel_HandlerPanicRecovered(t *testing.T) {
	ch := NewChannel("panicky", nil, nil, zerolog.Nop())

	var reached bool
	ch.On("updated", func(any) { panic("boom") })
	ch.On("updated", func(any) { reached = true })

	require.NotPanics(t, func() { ch.Emit("updated", nil) })
	assert.True(t, reached)
}

func TestChannel_OffEvent(t *testing.T) {
	ch, cs := newSharedChannel(t, nil)
	ch.On("updated", func(any) {})
	ch.On("updated", func(any) {})
	ch.On("updateError", func(any) {})

	ch.OffEvent("updated")
	assert.Equal(t, 0, ch.HandlerCount("updated"))
	assert.Equal(t, int32(0), cs.stops.Load())

	ch.OffEvent("updateError")
	assert.Equal(t, int32(1), cs.stops.Load())
	assert.Equal(t, 0, ch.TotalHandlers())
}

func TestChannel_ConcurrentOnOff(t *testing.T) {
	ch, cs := newSharedChannel(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			event := "updated"
			if i%2 == 0 {
				event = "updateError"
			}
			sub := ch.On(event, func(any) {})
			ch.Emit(event, i)
			sub.Unsubscribe()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, ch.TotalHandlers())
	assert.False(t, ch.Source("updated").Running())
	assert.Equal(t, cs.starts.Load(), cs.stops.Load())
}

func TestChannel_IDsAreUnique(t *testing.T) {
	a := NewChannel("a", nil, nil, zerolog.Nop())
	b := NewChannel("a", nil, nil, zerolog.Nop())
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, "a", a.Name())
}

func TestRegistry_CleanUp(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	ch1, cs1 := newSharedChannel(t, reg)
	ch2, cs2 := newSharedChannel(t, reg)

	var delivered atomic.Int32
	count := func(any) { delivered.Add(1) }
	ch1.On("updated", count)
	ch1.On("updateError", count)
	ch2.On("updated", count)
	require.Equal(t, 2, reg.Len())

	reg.CleanUp()

	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, int32(1), cs1.stops.Load())
	assert.Equal(t, int32(1), cs2.stops.Load())

	ch1.Emit("updated", 1)
	ch2.Emit("updated", 1)
	assert.Equal(t, int32(0), delivered.Load())
}

func TestRegistry_CleanUpWaitsForDelivery(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	ch, _ := newSharedChannel(t, reg)

	entered := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	ch.On("updated", func(any) {
		close(entered)
		<-release
		finished.Store(true)
	})

	go ch.Emit("updated", nil)
	<-entered

	done := make(chan struct{})
	go func() {
		reg.CleanUp()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("CleanUp returned while a handler was running")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("CleanUp did not return")
	}
	assert.True(t, finished.Load())
}

func TestRegistry_Idempotent(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	ch := NewChannel("x", nil, nil, zerolog.Nop())

	reg.Register(ch)
	reg.Register(ch)
	assert.Equal(t, 1, reg.Len())

	reg.Unregister(ch)
	reg.Unregister(ch)
	assert.Equal(t, 0, reg.Len())
}
