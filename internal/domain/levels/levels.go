// Package levels maps competition levels to the scoring method and start
// value they are judged under.
package levels

import (
	"fmt"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/TinchoF/gym-score-be/internal/domain/scoring"
)

const fallbackBase = 10.0

var validate = validator.New()

// Config is the scoring configuration of one level.
type Config struct {
	Level          string         `json:"level" yaml:"level" koanf:"level" validate:"required"`
	Method         scoring.Method `json:"scoringMethod" yaml:"scoring_method" koanf:"scoring_method" validate:"required,oneof=deductions start_value start_value_bonus fig_code"`
	BaseStartValue *float64       `json:"baseStartValue,omitempty" yaml:"base_start_value,omitempty" koanf:"base_start_value" validate:"omitempty,gte=0"`
}

// Validate checks a single level entry.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: level %q: %v", ErrInvalidLevel, c.Level, err)
	}
	return nil
}

// Base returns the configured base start value or the fallback of 10.
func (c Config) Base() float64 {
	if c.BaseStartValue != nil {
		return *c.BaseStartValue
	}
	return fallbackBase
}

func base(v float64) *float64 { return &v }

// Defaults returns the built-in level table.
func Defaults() []Config {
	return []Config{
		{Level: "E1", Method: scoring.MethodDeductions, BaseStartValue: base(10)},
		{Level: "E2", Method: scoring.MethodDeductions, BaseStartValue: base(10)},
		{Level: "E3", Method: scoring.MethodDeductions, BaseStartValue: base(10)},
		{Level: "Pulga", Method: scoring.MethodDeductions, BaseStartValue: base(10)},

		{Level: "USAG 1A", Method: scoring.MethodDeductions, BaseStartValue: base(10)},
		{Level: "USAG 1B", Method: scoring.MethodDeductions, BaseStartValue: base(10)},
		{Level: "USAG 2", Method: scoring.MethodDeductions, BaseStartValue: base(10)},
		{Level: "USAG 3", Method: scoring.MethodDeductions, BaseStartValue: base(10)},
		{Level: "USAG 4", Method: scoring.MethodDeductions, BaseStartValue: base(10)},
		{Level: "USAG 5", Method: scoring.MethodDeductions, BaseStartValue: base(10)},
		{Level: "USAG 6", Method: scoring.MethodStartValue, BaseStartValue: base(9.5)},
		{Level: "USAG 7", Method: scoring.MethodStartValue, BaseStartValue: base(9.5)},
		{Level: "USAG 8", Method: scoring.MethodStartValue, BaseStartValue: base(9.5)},
		{Level: "USAG 9", Method: scoring.MethodStartValue, BaseStartValue: base(9.7)},
		{Level: "USAG 10", Method: scoring.MethodStartValue, BaseStartValue: base(9.4)},

		{Level: "AC0", Method: scoring.MethodStartValue, BaseStartValue: base(9.0)},
		{Level: "AC1", Method: scoring.MethodStartValue, BaseStartValue: base(9.2)},
		{Level: "AC2", Method: scoring.MethodStartValue, BaseStartValue: base(9.4)},
		{Level: "AC3", Method: scoring.MethodStartValue, BaseStartValue: base(9.6)},
		{Level: "AC4", Method: scoring.MethodStartValue, BaseStartValue: base(9.7)},
		{Level: "AC5", Method: scoring.MethodStartValue, BaseStartValue: base(10)},

		{Level: "Junior FIG", Method: scoring.MethodFIGCode},
		{Level: "Senior FIG", Method: scoring.MethodFIGCode},
		{Level: "Mayor FIG", Method: scoring.MethodFIGCode},
	}
}

// Fallback is used for levels that are not configured anywhere.
func Fallback(level string) Config {
	return Config{Level: level, Method: scoring.MethodDeductions, BaseStartValue: base(fallbackBase)}
}

// Option applies a configuration option to the Registry.
type Option func(*Registry)

// WithLevels adds levels on top of the built-in table. Later entries win.
func WithLevels(cfgs ...Config) Option {
	return func(r *Registry) {
		for _, c := range cfgs {
			r.levels[c.Level] = c
		}
	}
}

// WithoutDefaults starts the registry from an empty table.
func WithoutDefaults() Option {
	return func(r *Registry) {
		r.levels = make(map[string]Config)
	}
}

// Registry resolves levels against process-wide configuration. Tenant
// overrides are passed per call.
type Registry struct {
	mu     sync.RWMutex
	levels map[string]Config
}

// NewRegistry builds a registry seeded with Defaults.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{levels: make(map[string]Config)}
	for _, c := range Defaults() {
		r.levels[c.Level] = c
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lookup finds the configuration for level, checking overrides first.
// The boolean is false when the fallback was used.
func (r *Registry) Lookup(level string, overrides []Config) (Config, bool) {
	for _, o := range overrides {
		if o.Level == level {
			return o, true
		}
	}
	r.mu.RLock()
	c, ok := r.levels[level]
	r.mu.RUnlock()
	if ok {
		return c, true
	}
	return Fallback(level), false
}

// Resolve is Lookup without the found flag. It never fails.
func (r *Registry) Resolve(level string, overrides []Config) Config {
	c, _ := r.Lookup(level, overrides)
	return c
}

// Set installs or replaces a process-wide level.
func (r *Registry) Set(c Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.levels[c.Level] = c
	r.mu.Unlock()
	return nil
}

// Table returns the effective table for a tenant, sorted by level name.
func (r *Registry) Table(overrides []Config) []Config {
	merged := make(map[string]Config)
	r.mu.RLock()
	for k, v := range r.levels {
		merged[k] = v
	}
	r.mu.RUnlock()
	for _, o := range overrides {
		merged[o.Level] = o
	}
	out := make([]Config, 0, len(merged))
	for _, c := range merged {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out
}
