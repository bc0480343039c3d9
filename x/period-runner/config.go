package periodrunner

import (
	"time"

	"github.com/rs/zerolog"
)

// DefaultInterval is the delay between two ticks.
const DefaultInterval = 5 * time.Second

// RunnerConfig configures a LocalRunner.
type RunnerConfig struct {
	// Handler is the function invoked on every tick.
	Handler TickCallback
	// Interval is the delay between the end of one tick and the start of the next.
	Interval time.Duration
	// Immediate runs the first tick at Start instead of one Interval later.
	Immediate bool
	// Now returns the current time. Useful for deterministic tests. Defaults to time.Now if nil.
	Now    func() time.Time
	Logger zerolog.Logger
}

// DefaultRunnerConfig returns a config with sensible defaults.
func DefaultRunnerConfig(logger zerolog.Logger) RunnerConfig {
	return RunnerConfig{
		Handler:  nil, // Set later by an upper layer
		Interval: DefaultInterval,
		Now:      time.Now,
		Logger:   logger.With().Str("component", "period-runner").Logger(),
	}
}
