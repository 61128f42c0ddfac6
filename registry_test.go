package notifyloop

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, options ...Option) *Registry {
	t.Helper()
	registry, err := NewRegistry(options...)
	require.NoError(t, err)
	return registry
}

func countingEndpoint(count *atomic.Int64) EndpointFunc {
	return func(ctx context.Context, n Notification) error {
		count.Add(1)
		return nil
	}
}

func TestRegistry_Subscribe_resolve(t *testing.T) {
	registry := newTestRegistry(t)

	var count atomic.Int64
	sub := registry.Subscribe(`polling_demo`, countingEndpoint(&count))
	require.NotNil(t, sub)
	assert.Equal(t, `polling_demo`, sub.Filter())
	assert.Equal(t, 1, registry.Len())

	h := sub.Handle()
	assert.Same(t, sub, registry.Resolve(h))
	assert.Same(t, sub, registry.Resolve(NewHandle(h.Slot(), h.Generation())))

	// out of range, and wrong generation
	assert.Nil(t, registry.Resolve(NewHandle(-1, h.Generation())))
	assert.Nil(t, registry.Resolve(NewHandle(100, h.Generation())))
	assert.Nil(t, registry.Resolve(NewHandle(h.Slot(), h.Generation()+1)))
}

func TestRegistry_Subscribe_mustUseConstructor(t *testing.T) {
	var registry Registry
	assert.PanicsWithValue(t, `notifyloop: registry must be initialized with NewRegistry`, func() {
		registry.Subscribe(``, EndpointFunc(func(ctx context.Context, n Notification) error { return nil }))
	})
}

func TestRegistry_Subscribe_nilEndpointPanics(t *testing.T) {
	registry := newTestRegistry(t)
	assert.PanicsWithValue(t, `notifyloop: subscribe endpoint must not be nil`, func() {
		registry.Subscribe(``, nil)
	})
}

func TestRegistry_Prune_removesCancelled(t *testing.T) {
	registry := newTestRegistry(t)

	var count atomic.Int64
	subs := make([]*Subscription, 5)
	for i := range subs {
		subs[i] = registry.Subscribe(``, countingEndpoint(&count))
	}
	require.Equal(t, 5, registry.Len())

	subs[1].Cancel()
	subs[3].Cancel()

	assert.Equal(t, 2, registry.Prune())
	assert.Equal(t, 3, registry.Len())

	// pruned handles are stale, survivors still resolve
	assert.Nil(t, registry.Resolve(subs[1].Handle()))
	assert.Nil(t, registry.Resolve(subs[3].Handle()))
	for _, i := range []int{0, 2, 4} {
		assert.Same(t, subs[i], registry.Resolve(subs[i].Handle()))
	}

	// a tick reaches exactly the three survivors
	assert.Equal(t, 3, registry.Tick(context.Background()))
	assert.Equal(t, int64(3), count.Load())
}

func TestRegistry_Prune_removesDeadEndpoints(t *testing.T) {
	registry := newTestRegistry(t)

	endpoint := NewChannelEndpoint(1)
	registry.Subscribe(``, endpoint)
	assert.Zero(t, registry.Prune())

	endpoint.Close()
	assert.Equal(t, 1, registry.Prune())
	assert.Zero(t, registry.Len())
}

func TestRegistry_slotReuse_staleHandle(t *testing.T) {
	registry := newTestRegistry(t)

	var count atomic.Int64
	old := registry.Subscribe(``, countingEndpoint(&count))
	old.Cancel()
	require.Equal(t, 1, registry.Prune())

	// the freed slot is reused, with a bumped generation
	fresh := registry.Subscribe(``, countingEndpoint(&count))
	require.Equal(t, old.Handle().Slot(), fresh.Handle().Slot())
	require.NotEqual(t, old.Handle().Generation(), fresh.Handle().Generation())

	assert.Nil(t, registry.Resolve(old.Handle()))
	assert.Same(t, fresh, registry.Resolve(fresh.Handle()))
}

func TestRegistry_Tick_monotonicIDs(t *testing.T) {
	registry := newTestRegistry(t, WithKind(`demo`))

	var ids []uint64
	registry.Subscribe(``, EndpointFunc(func(ctx context.Context, n Notification) error {
		ids = append(ids, n.ID)
		assert.Equal(t, `demo`, n.Kind)
		assert.NotZero(t, n.Timestamp)
		return nil
	}))

	for i := 0; i < 5; i++ {
		require.Equal(t, 1, registry.Tick(context.Background()))
	}
	assert.Equal(t, []uint64{0, 1, 2, 3, 4}, ids)
}

func TestRegistry_Tick_emptyConsumesNoID(t *testing.T) {
	registry := newTestRegistry(t)

	// ticks with no live subscribers generate nothing
	assert.Zero(t, registry.Tick(context.Background()))
	assert.Zero(t, registry.Tick(context.Background()))

	var ids []uint64
	registry.Subscribe(``, EndpointFunc(func(ctx context.Context, n Notification) error {
		ids = append(ids, n.ID)
		return nil
	}))
	require.Equal(t, 1, registry.Tick(context.Background()))
	assert.Equal(t, []uint64{0}, ids)
}

func TestRegistry_Tick_failureIsolation(t *testing.T) {
	registry := newTestRegistry(t)

	var count atomic.Int64
	registry.Subscribe(``, EndpointFunc(func(ctx context.Context, n Notification) error {
		return errors.New(`broken subscriber`)
	}))
	healthy := registry.Subscribe(``, countingEndpoint(&count))

	// the broken subscriber never affects the healthy one
	assert.Equal(t, 1, registry.Tick(context.Background()))
	assert.Equal(t, int64(1), count.Load())
	assert.Same(t, healthy, registry.Resolve(healthy.Handle()))
}

func TestRegistry_Tick_failureLimitPrunes(t *testing.T) {
	registry := newTestRegistry(t, WithFailureLimit(3))

	sub := registry.Subscribe(``, EndpointFunc(func(ctx context.Context, n Notification) error {
		return errors.New(`broken subscriber`)
	}))

	// three consecutive failures, then pruned on the following tick
	for i := 0; i < 3; i++ {
		assert.Zero(t, registry.Tick(context.Background()))
		assert.Equal(t, 1, registry.Len())
	}
	assert.Zero(t, registry.Tick(context.Background()))
	assert.Zero(t, registry.Len())
	assert.Nil(t, registry.Resolve(sub.Handle()))
}

func TestRegistry_Tick_failureCountResetsOnSuccess(t *testing.T) {
	registry := newTestRegistry(t, WithFailureLimit(2))

	var fail atomic.Bool
	registry.Subscribe(``, EndpointFunc(func(ctx context.Context, n Notification) error {
		if fail.Load() {
			return errors.New(`transient`)
		}
		return nil
	}))

	fail.Store(true)
	assert.Zero(t, registry.Tick(context.Background()))
	fail.Store(false)
	assert.Equal(t, 1, registry.Tick(context.Background()))
	fail.Store(true)
	assert.Zero(t, registry.Tick(context.Background()))

	// never two consecutive failures, so the entry survives
	assert.Equal(t, 1, registry.Len())
	fail.Store(false)
	assert.Equal(t, 1, registry.Tick(context.Background()))
}

func TestRegistry_Tick_deliveryTimeout(t *testing.T) {
	defer checkNumGoroutines(time.Second * 3)(t)

	registry := newTestRegistry(t, WithDeliveryTimeout(time.Millisecond*10))

	registry.Subscribe(``, EndpointFunc(func(ctx context.Context, n Notification) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	start := time.Now()
	assert.Zero(t, registry.Tick(context.Background()))
	assert.Less(t, time.Since(start), time.Second*3)
}

func TestSubscription_Cancel_idempotent(t *testing.T) {
	registry := newTestRegistry(t)
	sub := registry.Subscribe(``, EndpointFunc(func(ctx context.Context, n Notification) error { return nil }))

	require.False(t, sub.Canceled())
	sub.Cancel()
	sub.Cancel()
	sub.Cancel()
	require.True(t, sub.Canceled())

	// removal is deferred until the next prune
	assert.Equal(t, 1, registry.Len())
	assert.Equal(t, 1, registry.Prune())
	assert.Zero(t, registry.Len())
}
