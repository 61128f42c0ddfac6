package notifyloop

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/joeycumines/logiface"
)

type (
	// Stream is the pull-delivery variant: rather than being pushed to, the
	// subscriber actively reads. Each [Stream.Read] waits the stream
	// interval, then synthesizes the next [Notification] for this specific
	// subscriber, or signals end-of-stream (via [io.EOF]) once the
	// subscription is cancelled.
	//
	// A Stream has no shared dispatch tick: it is its own independent chain
	// of one-shot waits, with its own ID sequence (starting at 0). Reads are
	// serialized; only the subscription's cancelled flag is observed from
	// other goroutines.
	//
	// Stream must be constructed with NewStream.
	Stream struct {
		logger   *logiface.Logger[logiface.Event]
		sub      *Subscription
		timer    TimerSource
		kind     string
		interval time.Duration

		mu  sync.Mutex
		seq uint64
	}
)

// NewStream initialises a [Stream] for the given subscription, with the
// given options ([WithInterval] defaulting to DefaultStreamInterval).
func NewStream(sub *Subscription, options ...Option) (*Stream, error) {
	if sub == nil {
		panic(`notifyloop: stream subscription must not be nil`)
	}
	c, err := newConfig(options)
	if err != nil {
		return nil, err
	}
	x := Stream{
		logger:   c.logger,
		sub:      sub,
		timer:    c.timer,
		kind:     c.kind,
		interval: c.interval,
	}
	if x.timer == nil {
		x.timer = SystemTimer
	}
	if x.kind == `` {
		x.kind = DefaultKind
	}
	if x.interval == 0 {
		x.interval = DefaultStreamInterval
	}
	return &x, nil
}

// Subscription returns the subscription the stream reads for.
func (x *Stream) Subscription() *Subscription { return x.sub }

// Read waits the stream interval, then synthesizes and returns the next
// notification. It returns [io.EOF] once the subscription is cancelled
// (checked both before and after the wait), or the context's cause if ctx is
// done first. Reads are serialized; a second concurrent Read blocks.
func (x *Stream) Read(ctx context.Context) (Notification, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.sub.Canceled() {
		x.logger.Debug().
			Int(`slot`, x.sub.Handle().Slot()).
			Log(`stream closed`)
		return Notification{}, io.EOF
	}

	w := x.timer.AfterDelay(x.interval)
	select {
	case <-ctx.Done():
		w.Stop()
		return Notification{}, context.Cause(ctx)
	case <-w.Wait():
	}

	if x.sub.Canceled() {
		x.logger.Debug().
			Int(`slot`, x.sub.Handle().Slot()).
			Log(`stream closed`)
		return Notification{}, io.EOF
	}

	n := newNotification(x.seq, x.kind)
	x.seq++
	return n, nil
}
