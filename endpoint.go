package notifyloop

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrEndpointClosed is returned by [ChannelEndpoint.Deliver] after
// [ChannelEndpoint.Close].
var ErrEndpointClosed = errors.New(`notifyloop: endpoint closed`)

type (
	// Endpoint is the mechanism by which a subscriber receives events.
	// Deliver is invoked concurrently with deliveries to sibling
	// subscribers, but never concurrently with itself for a single
	// subscription.
	Endpoint interface {
		// Deliver sends one notification. The context carries the
		// per-delivery timeout, if the registry has one configured. Errors
		// are logged and isolated to the subscriber; they never affect
		// sibling deliveries.
		Deliver(ctx context.Context, n Notification) error
		// Live reports whether the endpoint's backing state still exists.
		// Returning false fails the liveness check, and the owning entry is
		// pruned on the next tick.
		Live() bool
	}

	// EndpointFunc adapts a function to the [Endpoint] interface. It is
	// always live.
	EndpointFunc func(ctx context.Context, n Notification) error

	// ChannelEndpoint delivers notifications to a channel, and is the
	// in-process push endpoint. Deliveries block until received, or until
	// the per-delivery context is done.
	ChannelEndpoint struct {
		ch     chan Notification
		closed atomic.Bool
	}
)

func (x EndpointFunc) Deliver(ctx context.Context, n Notification) error { return x(ctx, n) }

func (x EndpointFunc) Live() bool { return true }

// NewChannelEndpoint initialises a [ChannelEndpoint] with the given receive
// buffer size.
func NewChannelEndpoint(buffer int) *ChannelEndpoint {
	return &ChannelEndpoint{ch: make(chan Notification, buffer)}
}

// C is the receive side of the endpoint.
func (x *ChannelEndpoint) C() <-chan Notification { return x.ch }

// Close marks the endpoint dead, failing the liveness check on the next
// tick. It does not close the underlying channel (an in-flight delivery may
// still complete). Idempotent.
func (x *ChannelEndpoint) Close() { x.closed.Store(true) }

func (x *ChannelEndpoint) Deliver(ctx context.Context, n Notification) error {
	if x.closed.Load() {
		return ErrEndpointClosed
	}
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case x.ch <- n:
		return nil
	}
}

func (x *ChannelEndpoint) Live() bool { return !x.closed.Load() }
