// Package simulate drives a running scoring service with a simulated judge
// panel and checks the published consensus against a local computation.
package simulate

import (
	"fmt"
	"time"

	"github.com/TinchoF/gym-score-be/internal/domain/scoring"
)

// Config holds the simulation parameters.
type Config struct {
	BaseURL     string
	Institution string
	Tournament  string
	Apparatus   []string
	Gymnasts    int
	Judges      int

	// Method is sent explicitly on every mark. Only deductions and
	// start_value are simulated.
	Method scoring.Method
	// StartValue is sent with start_value marks.
	StartValue float64

	// Every Nth group gets a follow-up of that kind. Zero disables it.
	UpdateEvery    int
	RetractEvery   int
	DuplicateEvery int

	Workers int
	// JudgeRate caps submissions per judge per second to stay under the
	// server's per-caller limit.
	JudgeRate float64
	Timeout   time.Duration
	Seed      uint64

	// Live subscribes to the live channel for the duration of the run.
	Live       bool
	LiveSettle time.Duration
}

// DefaultConfig returns a small panel against a local server.
func DefaultConfig() Config {
	return Config{
		BaseURL:        "http://localhost:9080",
		Institution:    "sim-club",
		Tournament:     "sim-cup",
		Apparatus:      []string{"vault", "bars", "beam", "floor"},
		Gymnasts:       20,
		Judges:         4,
		Method:         scoring.MethodDeductions,
		StartValue:     10,
		UpdateEvery:    3,
		RetractEvery:   5,
		DuplicateEvery: 4,
		Workers:        8,
		JudgeRate:      15,
		Timeout:        10 * time.Second,
		Seed:           1,
		Live:           true,
		LiveSettle:     500 * time.Millisecond,
	}
}

// Validate rejects configurations the simulator cannot verify.
func (c Config) Validate() error {
	switch {
	case c.BaseURL == "":
		return fmt.Errorf("%w: base url is required", ErrInvalidConfig)
	case c.Institution == "" || c.Tournament == "":
		return fmt.Errorf("%w: institution and tournament are required", ErrInvalidConfig)
	case len(c.Apparatus) == 0:
		return fmt.Errorf("%w: at least one apparatus is required", ErrInvalidConfig)
	case c.Gymnasts < 1 || c.Judges < 1 || c.Workers < 1:
		return fmt.Errorf("%w: gymnasts, judges and workers must be positive", ErrInvalidConfig)
	case c.Method != scoring.MethodDeductions && c.Method != scoring.MethodStartValue:
		return fmt.Errorf("%w: method %q is not simulated", ErrInvalidConfig, c.Method)
	case c.JudgeRate <= 0:
		return fmt.Errorf("%w: judge rate must be positive", ErrInvalidConfig)
	}
	return nil
}

// Stats summarizes one run.
type Stats struct {
	Groups      int
	Submitted   int
	Created     int
	Updated     int
	Retracted   int
	Replayed    int
	Throttled   int
	Failed      int
	Verified    int
	Mismatches  int
	LiveEvents  int
	LiveDeleted int
	Duration    time.Duration
}
