package notifyloop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
)

type (
	// Handle is a generation-tagged index into a registry's arena of
	// subscriber slots. A stale handle (one whose slot has since been freed,
	// or reused) never resolves.
	Handle struct {
		slot int
		gen  uint64
	}

	// Subscription is one registry entry. It is created by
	// [Registry.Subscribe], mutated only by [Subscription.Cancel] (which
	// sets the atomic cancelled flag, from any goroutine) and by the
	// registry's tick (which reads the flag, and removes the entry). Removal
	// is deferred to the next tick, which bounds delivery to an
	// already-cancelled subscriber at at most one extra attempt.
	Subscription struct {
		registry *Registry
		handle   Handle
		filter   string
		endpoint Endpoint
		canceled atomic.Bool
		// failures counts consecutive delivery failures; owned by the
		// registry goroutine.
		failures int
	}

	registrySlot struct {
		gen uint64
		sub *Subscription // nil when free
	}

	// Registry owns the set of live subscribers, and fans freshly generated
	// notifications out to them. Entries live in an arena of slots, indexed
	// by generation-tagged [Handle] values.
	//
	// All registry mutation is owned by exactly one goroutine (typically a
	// [Loop], or the [DispatchLoop] driving Tick); the methods are not
	// internally synchronised, with the sole exception of
	// [Subscription.Cancel], which may be called from anywhere.
	//
	// Registry must be constructed with NewRegistry.
	Registry struct {
		logger          *logiface.Logger[logiface.Event]
		kind            string
		deliveryTimeout time.Duration
		failureLimit    int
		slots           []registrySlot
		free            []int
		seq             uint64
	}
)

// Subscribe allocates a new entry, wiring the given delivery endpoint, and
// returns it. The returned Subscription's sole cross-goroutine capability is
// [Subscription.Cancel].
func (x *Registry) Subscribe(filter string, endpoint Endpoint) *Subscription {
	if x.failureLimit == 0 {
		panic(`notifyloop: registry must be initialized with NewRegistry`)
	}
	if endpoint == nil {
		panic(`notifyloop: subscribe endpoint must not be nil`)
	}

	var i int
	if n := len(x.free); n != 0 {
		i = x.free[n-1]
		x.free = x.free[:n-1]
	} else {
		i = len(x.slots)
		x.slots = append(x.slots, registrySlot{})
	}

	slot := &x.slots[i]
	slot.gen++
	sub := Subscription{
		registry: x,
		handle:   Handle{slot: i, gen: slot.gen},
		filter:   filter,
		endpoint: endpoint,
	}
	slot.sub = &sub

	x.logger.Info().
		Int(`slot`, i).
		Uint64(`gen`, slot.gen).
		Str(`filter`, filter).
		Log(`subscribed`)

	return &sub
}

// Resolve returns the subscription for the given handle, or nil if the
// handle is stale (the entry was pruned, or the slot reused).
func (x *Registry) Resolve(h Handle) *Subscription {
	if h.slot < 0 || h.slot >= len(x.slots) {
		return nil
	}
	slot := &x.slots[h.slot]
	if slot.gen != h.gen || slot.sub == nil {
		return nil
	}
	return slot.sub
}

// Len returns the number of entries currently in the arena, including any
// cancelled entries not yet pruned.
func (x *Registry) Len() int {
	return len(x.slots) - len(x.free)
}

// Prune removes every entry whose liveness check fails: its cancelled flag
// is set, its endpoint reports dead, or it has hit the consecutive delivery
// failure limit. Returns the number of entries removed. This walk is O(slot
// count).
func (x *Registry) Prune() (pruned int) {
	for i := range x.slots {
		slot := &x.slots[i]
		sub := slot.sub
		if sub == nil || x.alive(sub) {
			continue
		}
		slot.sub = nil
		x.free = append(x.free, i)
		pruned++
		x.logger.Info().
			Int(`slot`, i).
			Uint64(`gen`, slot.gen).
			Bool(`canceled`, sub.canceled.Load()).
			Int(`failures`, sub.failures).
			Log(`pruned subscription`)
	}
	return
}

func (x *Registry) alive(sub *Subscription) bool {
	return !sub.canceled.Load() && sub.endpoint.Live() && sub.failures < x.failureLimit
}

// Tick performs one prune-then-broadcast iteration: prune dead entries, and,
// if any live subscribers remain, construct one [Notification] (consuming
// the next event ID) and deliver it to every remaining entry, concurrently.
// If no live subscribers remain, no event ID is consumed.
//
// Each delivery is independent: a failure is logged, counted against the
// entry's failure limit, and isolated from sibling deliveries. Tick returns
// only after every delivery for this tick has resolved, so ticks never
// overlap; the successful delivery count is returned.
func (x *Registry) Tick(ctx context.Context) (delivered int) {
	x.Prune()

	var live []*Subscription
	for i := range x.slots {
		if sub := x.slots[i].sub; sub != nil {
			live = append(live, sub)
		}
	}
	if len(live) == 0 {
		x.logger.Debug().Log(`tick: no live subscriptions`)
		return 0
	}

	n := newNotification(x.seq, x.kind)
	x.seq++

	x.logger.Debug().
		Uint64(`id`, n.ID).
		Int(`subscriptions`, len(live)).
		Log(`tick: broadcasting`)

	errs := make([]error, len(live))
	var wg sync.WaitGroup
	for i, sub := range live {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = x.deliver(ctx, sub, n)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		sub := live[i]
		if err != nil {
			sub.failures++
			x.logger.Warning().
				Err(err).
				Int(`slot`, sub.handle.slot).
				Uint64(`id`, n.ID).
				Int(`failures`, sub.failures).
				Log(`delivery failed`)
			continue
		}
		sub.failures = 0
		delivered++
	}

	return
}

func (x *Registry) deliver(ctx context.Context, sub *Subscription, n Notification) error {
	if x.deliveryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.deliveryTimeout)
		defer cancel()
	}
	return sub.endpoint.Deliver(ctx, n)
}

// Slot returns the arena index of the handle.
func (x Handle) Slot() int { return x.slot }

// Generation returns the generation tag of the handle.
func (x Handle) Generation() uint64 { return x.gen }

// NewHandle reconstructs a handle from its parts, e.g. as received off the
// wire. It carries no validity guarantee; resolve it against the registry.
func NewHandle(slot int, generation uint64) Handle {
	return Handle{slot: slot, gen: generation}
}

// Cancel sets the entry's cancelled flag. It is idempotent, safe from any
// goroutine, and does not immediately remove the entry: removal is deferred
// to the owning registry's next tick (or prune).
func (x *Subscription) Cancel() {
	if x.canceled.Swap(true) {
		x.registry.logger.Debug().
			Int(`slot`, x.handle.slot).
			Log(`subscription already canceled`)
		return
	}
	x.registry.logger.Info().
		Int(`slot`, x.handle.slot).
		Uint64(`gen`, x.handle.gen).
		Log(`subscription canceled`)
}

// Canceled returns true if Cancel has been called.
func (x *Subscription) Canceled() bool { return x.canceled.Load() }

// Handle returns the entry's generation-tagged arena index.
func (x *Subscription) Handle() Handle { return x.handle }

// Filter returns the opaque filter string the entry was subscribed with.
func (x *Subscription) Filter() string { return x.filter }
