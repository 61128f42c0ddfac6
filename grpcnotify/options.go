package grpcnotify

import (
	"errors"
	"fmt"
	"time"

	"github.com/joeycumines/logiface"

	notifyloop "github.com/nagatodev/go-notifyloop"
)

const (
	// DefaultWatchKind is the kind tag stamped on notifications pushed via
	// Watch, when none is configured.
	DefaultWatchKind = `demo`

	// DefaultReadKind is the kind tag stamped on notifications returned by
	// Read, when none is configured.
	DefaultReadKind = `polling_demo`
)

type (
	// Option configures NewServer. See also `With*` prefixed functions.
	Option interface {
		applyOption(c *config) error
	}

	optionFunc func(c *config) error

	config struct {
		logger           *logiface.Logger[logiface.Event]
		timer            notifyloop.TimerSource
		watchKind        string
		readKind         string
		dispatchInterval time.Duration
		readInterval     time.Duration
		deliveryTimeout  time.Duration
		failureLimit     int
	}
)

var (
	_ Option = optionFunc(nil)
)

// WithLogger configures the logger. The server tolerates a nil logger, which
// disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return optionFunc(func(c *config) error {
		c.logger = logger
		return nil
	})
}

// WithTimerSource configures the timer source, defaulting to
// notifyloop.SystemTimer.
func WithTimerSource(timer notifyloop.TimerSource) Option {
	return optionFunc(func(c *config) error {
		if timer == nil {
			return errors.New(`grpcnotify: timer source must not be nil`)
		}
		c.timer = timer
		return nil
	})
}

// WithWatchKind configures the kind tag for notifications pushed via Watch.
func WithWatchKind(kind string) Option {
	return optionFunc(func(c *config) error {
		if kind == `` {
			return errors.New(`grpcnotify: watch kind must not be empty`)
		}
		c.watchKind = kind
		return nil
	})
}

// WithReadKind configures the kind tag for notifications returned by Read.
func WithReadKind(kind string) Option {
	return optionFunc(func(c *config) error {
		if kind == `` {
			return errors.New(`grpcnotify: read kind must not be empty`)
		}
		c.readKind = kind
		return nil
	})
}

// WithDispatchInterval configures the push dispatch tick period, defaulting
// to notifyloop.DefaultInterval.
func WithDispatchInterval(interval time.Duration) Option {
	return optionFunc(func(c *config) error {
		if interval <= 0 {
			return fmt.Errorf(`grpcnotify: dispatch interval must be positive: %s`, interval)
		}
		c.dispatchInterval = interval
		return nil
	})
}

// WithReadInterval configures the per-read wait, defaulting to
// notifyloop.DefaultStreamInterval.
func WithReadInterval(interval time.Duration) Option {
	return optionFunc(func(c *config) error {
		if interval <= 0 {
			return fmt.Errorf(`grpcnotify: read interval must be positive: %s`, interval)
		}
		c.readInterval = interval
		return nil
	})
}

// WithDeliveryTimeout bounds each individual push delivery attempt. A
// negative value disables the bound.
func WithDeliveryTimeout(timeout time.Duration) Option {
	return optionFunc(func(c *config) error {
		if timeout == 0 {
			return errors.New(`grpcnotify: delivery timeout must be non-zero (use a negative value to disable)`)
		}
		c.deliveryTimeout = timeout
		return nil
	})
}

// WithFailureLimit configures the number of consecutive push delivery
// failures after which a watcher is treated as dead, and pruned.
func WithFailureLimit(limit int) Option {
	return optionFunc(func(c *config) error {
		if limit <= 0 {
			return fmt.Errorf(`grpcnotify: failure limit must be positive: %d`, limit)
		}
		c.failureLimit = limit
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
	if c.watchKind == `` {
		c.watchKind = DefaultWatchKind
	}
	if c.readKind == `` {
		c.readKind = DefaultReadKind
	}
	return &c, nil
}
