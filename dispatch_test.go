package notifyloop

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDispatchLoop_defaults(t *testing.T) {
	dispatch, err := NewDispatchLoop()
	require.NoError(t, err)
	require.NotNil(t, dispatch.Registry())
	assert.Equal(t, DefaultInterval, dispatch.interval)
	assert.False(t, dispatch.Running())
}

func TestNewDispatchLoop_withRegistry(t *testing.T) {
	registry := newTestRegistry(t)
	dispatch, err := NewDispatchLoop(WithRegistry(registry))
	require.NoError(t, err)
	assert.Same(t, registry, dispatch.Registry())
}

func TestNewDispatchLoop_optionError(t *testing.T) {
	_, err := NewDispatchLoop(WithInterval(-1))
	assert.Error(t, err)
}

func TestDispatchLoop_Start_mustUseConstructor(t *testing.T) {
	var dispatch DispatchLoop
	assert.PanicsWithValue(t, `notifyloop: dispatch loop must be initialized with NewDispatchLoop`, func() {
		dispatch.Start(context.Background())
	})
}

func TestDispatchLoop_endToEnd(t *testing.T) {
	defer checkNumGoroutines(time.Second * 3)(t)

	timer := &fakeTimer{}
	dispatch, err := NewDispatchLoop(WithTimerSource(timer), WithKind(`demo`))
	require.NoError(t, err)
	defer dispatch.Cancel(`test cleanup`)

	endpoint := NewChannelEndpoint(1)
	sub := dispatch.Registry().Subscribe(``, endpoint)

	dispatch.Start(context.Background())
	require.True(t, dispatch.Running())

	for i := uint64(0); i < 3; i++ {
		timer.fire(t)
		select {
		case n := <-endpoint.C():
			assert.Equal(t, i, n.ID)
			assert.Equal(t, `demo`, n.Kind)
		case <-time.After(time.Second * 5):
			t.Fatal(`expected a dispatched notification`)
		}
	}

	// after cancel, the entry is pruned on the next tick, and, with nothing
	// left alive, the tick consumes no ID
	sub.Cancel()
	timer.fire(t)
	timer.waitArmed(t)

	// the pruning tick has completed (the re-arm is observable), and the
	// cancelled endpoint received nothing from it
	select {
	case n := <-endpoint.C():
		t.Errorf(`notification delivered to cancelled subscription: %+v`, n)
	default:
	}

	dispatch.Cancel(`done`)
	assert.False(t, dispatch.Running())
}

func TestDispatchLoop_viaLoop(t *testing.T) {
	defer checkNumGoroutines(time.Second * 3)(t)

	loop, err := NewLoop()
	require.NoError(t, err)

	timer := &fakeTimer{}
	dispatch, err := NewDispatchLoop(WithTimerSource(timer), WithLoop(loop))
	require.NoError(t, err)
	defer dispatch.Cancel(`test cleanup`)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// subscribe on-loop, the way a transport handler would
	endpoint := NewChannelEndpoint(1)
	_, err = Do(ctx, loop, func(ctx context.Context) (*Subscription, error) {
		return dispatch.Registry().Subscribe(``, endpoint), nil
	})
	require.NoError(t, err)

	dispatch.Start(ctx)

	timer.fire(t)
	select {
	case n := <-endpoint.C():
		assert.Zero(t, n.ID)
	case <-time.After(time.Second * 5):
		t.Fatal(`expected a dispatched notification`)
	}

	// ticks are just loop work: they interleave with, never overlap, other
	// submitted closures
	n, err := Do(ctx, loop, func(ctx context.Context) (int, error) {
		return dispatch.Registry().Len(), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDispatchLoop_restart(t *testing.T) {
	defer checkNumGoroutines(time.Second * 3)(t)

	before := runtime.NumGoroutine()
	timer := &fakeTimer{}
	dispatch, err := NewDispatchLoop(WithTimerSource(timer), WithInterval(time.Minute))
	require.NoError(t, err)
	defer dispatch.Cancel(`test cleanup`)

	dispatch.Start(context.Background())
	require.True(t, dispatch.Running())
	dispatch.Cancel(`pause`)
	require.False(t, dispatch.Running())
	if n := waitNumGoroutines(time.Second*5, func(n int) bool { return n <= before }); n > before {
		t.Fatalf(`first run still winding down: %d goroutines`, n)
	}

	endpoint := NewChannelEndpoint(1)
	dispatch.Registry().Subscribe(``, endpoint)

	dispatch.Start(context.Background())
	require.True(t, dispatch.Running())
	timer.fire(t)
	select {
	case <-endpoint.C():
	case <-time.After(time.Second * 5):
		t.Fatal(`expected a dispatched notification after restart`)
	}
}
