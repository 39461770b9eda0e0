package repository

import (
	"time"

	"github.com/TinchoF/gym-score-be/pkg/logger"
)

const defaultMetricsUpdateInterval = 5 * time.Second

type options struct {
	now                   func() time.Time
	metricsUpdateInterval time.Duration
	logger                logger.Logger
}

func defaultOptions() options {
	return options{
		now:                   time.Now,
		metricsUpdateInterval: defaultMetricsUpdateInterval,
	}
}

// Option applies a configuration option to a store.
type Option func(*options)

// WithMetricsUpdateInterval sets the interval for background metrics updates.
func WithMetricsUpdateInterval(interval time.Duration) Option {
	return func(o *options) {
		if interval > 0 {
			o.metricsUpdateInterval = interval
		}
	}
}

// WithClock replaces the time source used for created/updated stamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
