package notifyloop

import (
	"errors"
	"fmt"
	"time"

	"github.com/joeycumines/logiface"
)

const (
	// DefaultKind is the event kind tag used when none is configured.
	DefaultKind = `demo`

	// DefaultInterval is the dispatch tick period used when none is
	// configured.
	DefaultInterval = time.Second

	// DefaultStreamInterval is the per-read wait used by pull streams when
	// none is configured.
	DefaultStreamInterval = 200 * time.Millisecond

	// DefaultDeliveryTimeout bounds each individual delivery attempt, when
	// none is configured.
	DefaultDeliveryTimeout = 5 * time.Second

	// DefaultFailureLimit is the number of consecutive delivery failures
	// after which an entry fails the liveness check.
	DefaultFailureLimit = 8
)

type (
	// Option configures NewRegistry, NewDispatchLoop, and NewStream.
	// See also `With*` prefixed functions.
	Option interface {
		applyOption(c *config) error
	}

	optionFunc func(c *config) error

	config struct {
		logger          *logiface.Logger[logiface.Event]
		timer           TimerSource
		registry        *Registry
		loop            *Loop
		kind            string
		interval        time.Duration
		deliveryTimeout time.Duration
		failureLimit    int
	}
)

var (
	_ Option = optionFunc(nil)
)

// WithLogger configures the logger. Components tolerate a nil logger, which
// disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return optionFunc(func(c *config) error {
		c.logger = logger
		return nil
	})
}

// WithTimerSource configures the timer source, defaulting to SystemTimer.
func WithTimerSource(timer TimerSource) Option {
	return optionFunc(func(c *config) error {
		if timer == nil {
			return errors.New(`notifyloop: timer source must not be nil`)
		}
		c.timer = timer
		return nil
	})
}

// WithKind configures the kind tag stamped on generated notifications.
func WithKind(kind string) Option {
	return optionFunc(func(c *config) error {
		if kind == `` {
			return errors.New(`notifyloop: kind must not be empty`)
		}
		c.kind = kind
		return nil
	})
}

// WithInterval configures the dispatch tick period (NewDispatchLoop), or the
// per-read wait (NewStream).
func WithInterval(interval time.Duration) Option {
	return optionFunc(func(c *config) error {
		if interval <= 0 {
			return fmt.Errorf(`notifyloop: interval must be positive: %s`, interval)
		}
		c.interval = interval
		return nil
	})
}

// WithDeliveryTimeout bounds each individual delivery attempt. A negative
// value disables the bound.
func WithDeliveryTimeout(timeout time.Duration) Option {
	return optionFunc(func(c *config) error {
		if timeout == 0 {
			return errors.New(`notifyloop: delivery timeout must be non-zero (use a negative value to disable)`)
		}
		c.deliveryTimeout = timeout
		return nil
	})
}

// WithFailureLimit configures the number of consecutive delivery failures
// after which an entry is treated as dead, and pruned.
func WithFailureLimit(limit int) Option {
	return optionFunc(func(c *config) error {
		if limit <= 0 {
			return fmt.Errorf(`notifyloop: failure limit must be positive: %d`, limit)
		}
		c.failureLimit = limit
		return nil
	})
}

// WithRegistry provides an existing registry to NewDispatchLoop, instead of
// it constructing its own.
func WithRegistry(registry *Registry) Option {
	return optionFunc(func(c *config) error {
		if registry == nil {
			return errors.New(`notifyloop: registry must not be nil`)
		}
		c.registry = registry
		return nil
	})
}

// WithLoop configures NewDispatchLoop to hand each tick off to the given
// loop, linearizing ticks with other loop-submitted work (e.g. subscribes
// originated by transport goroutines).
func WithLoop(loop *Loop) Option {
	return optionFunc(func(c *config) error {
		if loop == nil {
			return errors.New(`notifyloop: loop must not be nil`)
		}
		c.loop = loop
		return nil
	})
}

func (x optionFunc) applyOption(c *config) error {
	return x(c)
}

func newConfig(options []Option) (*config, error) {
	var c config
	for _, option := range options {
		if err := option.applyOption(&c); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

// NewRegistry initialises a [Registry], with the given options.
func NewRegistry(options ...Option) (*Registry, error) {
	c, err := newConfig(options)
	if err != nil {
		return nil, err
	}
	if c.registry != nil {
		return nil, errors.New(`notifyloop: WithRegistry is not applicable to NewRegistry`)
	}
	return c.newRegistry(), nil
}

func (c *config) newRegistry() *Registry {
	x := Registry{
		logger:          c.logger,
		kind:            c.kind,
		deliveryTimeout: c.deliveryTimeout,
		failureLimit:    c.failureLimit,
	}
	if x.kind == `` {
		x.kind = DefaultKind
	}
	if x.deliveryTimeout == 0 {
		x.deliveryTimeout = DefaultDeliveryTimeout
	} else if x.deliveryTimeout < 0 {
		x.deliveryTimeout = 0
	}
	if x.failureLimit == 0 {
		x.failureLimit = DefaultFailureLimit
	}
	return &x
}
