// Package config defines the service configuration and how it is loaded.
package config

import (
	"time"

	"github.com/TinchoF/gym-score-be/internal/domain/levels"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level" validate:"oneof=debug info warn error"`
	// LogFormat selects text or json log lines.
	LogFormat string `koanf:"log_format" validate:"oneof=text json"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr            string        `koanf:"addr" validate:"required"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`

	StoreDriver string `koanf:"store_driver" validate:"oneof=memory sqlite postgres"`
	// StoreDSN is a file path for sqlite and a connection URL for postgres.
	StoreDSN string `koanf:"store_dsn" validate:"required_unless=StoreDriver memory"`

	// BroadcastQueueSize bounds the in-memory broadcast queue.
	BroadcastQueueSize int `koanf:"broadcast_queue_size" validate:"gt=0"`
	// BroadcastWorkers is the number of broadcast workers and queue shards.
	BroadcastWorkers int `koanf:"broadcast_workers" validate:"gt=0"`
	// HubBuffer is the per-client outbound buffer of the live channel.
	HubBuffer int `koanf:"hub_buffer" validate:"gt=0"`
	// DedupeSize is how many idempotency keys are remembered.
	DedupeSize int `koanf:"dedupe_size" validate:"gte=0"`

	// SubmitRatePerSec and SubmitBurst throttle submissions per caller.
	SubmitRatePerSec float64 `koanf:"submit_rate_per_sec" validate:"gt=0"`
	SubmitBurst      int     `koanf:"submit_burst" validate:"gt=0"`

	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`

	// AMQPURL enables the AMQP publisher when set.
	AMQPURL      string `koanf:"amqp_url" validate:"omitempty,url"`
	AMQPExchange string `koanf:"amqp_exchange" validate:"required_with=AMQPURL"`

	// MetricsNamespace and MetricsSubsystem name the exported series,
	// e.g. gymscore_scores_submissions_total.
	MetricsNamespace string `koanf:"metrics_namespace"`
	MetricsSubsystem string `koanf:"metrics_subsystem"`
	// MetricsLabels are constant labels added to every series.
	MetricsLabels map[string]string `koanf:"metrics_labels"`
	// MetricsBuckets are the latency histogram buckets in milliseconds.
	MetricsBuckets []float64 `koanf:"metrics_buckets" validate:"dive,gt=0"`

	// LevelsFile is a YAML level table loaded on top of the built-in one.
	LevelsFile string `koanf:"levels_file"`
	// Levels are inline level entries; they win over LevelsFile.
	Levels []levels.Config `koanf:"levels" validate:"dive"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:           "info",
		LogFormat:          "text",
		Addr:               ":9080",
		ShutdownTimeout:    10 * time.Second,
		StoreDriver:        StoreMemory,
		BroadcastQueueSize: 10_000,
		BroadcastWorkers:   8,
		HubBuffer:          64,
		DedupeSize:         50_000,
		SubmitRatePerSec:   20,
		SubmitBurst:        40,
		CORSAllowedOrigins: []string{"*"},
		AMQPExchange:       "gymscore.live",
		MetricsNamespace:   "gymscore",
		MetricsSubsystem:   "scores",
	}
}

// LevelTable returns the configured levels: LevelsFile entries first, then
// the inline ones.
func (c *Config) LevelTable() ([]levels.Config, error) {
	var out []levels.Config
	if c.LevelsFile != "" {
		fromFile, err := levels.LoadFile(c.LevelsFile)
		if err != nil {
			return nil, err
		}
		out = append(out, fromFile...)
	}
	return append(out, c.Levels...), nil
}
