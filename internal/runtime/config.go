package runtime

import (
	"log/slog"
	"time"

	rterrors "github.com/orizon-lang/ensemble/internal/errors"
)

// Config tunes the scheduler, timers and lifecycle of a Runtime.
type Config struct {
	Workers           int           // Worker goroutines; 0 uses the detected core count
	EfficiencyWorkers int           // Workers placed in the efficiency lane
	MessageBatchSize  int           // Messages run per actor before it is re-queued
	IdleMinSleep      time.Duration // Idle time spent spinning before a worker sleeps
	IdleMaxSleep      time.Duration // Upper bound of an idle worker's sleep
	IdleDelta         time.Duration // Growth of the idle delay per empty poll
	MinLifetime       time.Duration // Retention window for newly created actors
	ShutdownTimeout   time.Duration // Bound on Shutdown's drain wait
	TimerMaxSleep     time.Duration // Longest timer loop sleep
	PinWorkers        bool          // Lock each worker to an OS thread bound to one CPU
	Logger            *slog.Logger  // Defaults to slog.Default()
}

// DefaultConfig holds the values used for zero fields.
var DefaultConfig = Config{
	Workers:           0,
	EfficiencyWorkers: 0,
	MessageBatchSize:  1000,
	IdleMinSleep:      50 * time.Microsecond,
	IdleMaxSleep:      500 * time.Millisecond,
	IdleDelta:         4 * time.Microsecond,
	MinLifetime:       time.Second,
	ShutdownTimeout:   30 * time.Second,
	TimerMaxSleep:     10 * time.Second,
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DetectCores()
	}
	if c.MessageBatchSize <= 0 {
		c.MessageBatchSize = DefaultConfig.MessageBatchSize
	}
	if c.IdleMinSleep <= 0 {
		c.IdleMinSleep = DefaultConfig.IdleMinSleep
	}
	if c.IdleMaxSleep <= 0 {
		c.IdleMaxSleep = DefaultConfig.IdleMaxSleep
	}
	if c.IdleDelta <= 0 {
		c.IdleDelta = DefaultConfig.IdleDelta
	}
	if c.MinLifetime <= 0 {
		c.MinLifetime = DefaultConfig.MinLifetime
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultConfig.ShutdownTimeout
	}
	if c.TimerMaxSleep <= 0 {
		c.TimerMaxSleep = DefaultConfig.TimerMaxSleep
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Validate reports settings that cannot be honoured.
func (c Config) Validate() error {
	if c.Workers < 0 {
		return rterrors.InvalidConfig("workers", c.Workers, "must not be negative")
	}
	if c.EfficiencyWorkers < 0 {
		return rterrors.InvalidConfig("efficiency_workers", c.EfficiencyWorkers, "must not be negative")
	}
	if c.Workers > 0 && c.EfficiencyWorkers > c.Workers {
		return rterrors.InvalidConfig("efficiency_workers", c.EfficiencyWorkers, "exceeds workers")
	}
	if c.MessageBatchSize < 0 {
		return rterrors.InvalidConfig("message_batch_size", c.MessageBatchSize, "must not be negative")
	}
	if c.IdleMaxSleep > 0 && c.IdleMinSleep > c.IdleMaxSleep {
		return rterrors.InvalidConfig("idle_min_sleep", c.IdleMinSleep, "exceeds idle_max_sleep")
	}
	return nil
}
