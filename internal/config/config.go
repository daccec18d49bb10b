// Package config loads the YAML configuration shared by the ensemble
// commands and watches it for changes.
package config

import (
	"log/slog"
	"os"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	rterrors "github.com/orizon-lang/ensemble/internal/errors"
	"github.com/orizon-lang/ensemble/internal/logging"
	"github.com/orizon-lang/ensemble/internal/runtime"
)

// Config is the root of the configuration file.
type Config struct {
	Runtime RuntimeConfig `yaml:"runtime"`
	Timer   TimerConfig   `yaml:"timer"`
	Remote  RemoteConfig  `yaml:"remote"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// RuntimeConfig tunes the scheduler and actor lifecycle.
type RuntimeConfig struct {
	Workers           int           `yaml:"workers"`
	EfficiencyWorkers int           `yaml:"efficiency_workers"`
	MessageBatchSize  int           `yaml:"message_batch_size"`
	IdleMinSleep      time.Duration `yaml:"idle_min_sleep"`
	IdleMaxSleep      time.Duration `yaml:"idle_max_sleep"`
	IdleDelta         time.Duration `yaml:"idle_delta"`
	MinLifetime       time.Duration `yaml:"min_lifetime"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	PinWorkers        bool          `yaml:"pin_workers"`
}

// TimerConfig tunes the timer loop.
type TimerConfig struct {
	MaxSleep time.Duration `yaml:"max_sleep"`
}

// RemoteConfig configures the root/node topology.
type RemoteConfig struct {
	Transport         string        `yaml:"transport"`
	Listen            string        `yaml:"listen"`
	Connect           string        `yaml:"connect"`
	AutoReconnect     bool          `yaml:"auto_reconnect"`
	ReconnectAttempts int           `yaml:"reconnect_attempts"`
	DialTimeout       time.Duration `yaml:"dial_timeout"`
	Runners           int           `yaml:"runners"`
	Version           string        `yaml:"version"`
	AcceptVersions    string        `yaml:"accept_versions"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig enables the text exposition endpoint when Listen is set.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns the built-in configuration.
func Default() *Config {
	rc := runtime.DefaultConfig
	return &Config{
		Runtime: RuntimeConfig{
			Workers:           rc.Workers,
			EfficiencyWorkers: rc.EfficiencyWorkers,
			MessageBatchSize:  rc.MessageBatchSize,
			IdleMinSleep:      rc.IdleMinSleep,
			IdleMaxSleep:      rc.IdleMaxSleep,
			IdleDelta:         rc.IdleDelta,
			MinLifetime:       rc.MinLifetime,
			ShutdownTimeout:   rc.ShutdownTimeout,
		},
		Timer: TimerConfig{MaxSleep: rc.TimerMaxSleep},
		Remote: RemoteConfig{
			Transport:      "tcp",
			Listen:         "127.0.0.1:9090",
			Connect:        "127.0.0.1:9090",
			AutoReconnect:  true,
			DialTimeout:    5 * time.Second,
			Version:        "1.0.0",
			AcceptVersions: "^1.0.0",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path on top of the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config %s", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", path)
	}
	return cfg, nil
}

// Validate reports settings that cannot be honoured.
func (c *Config) Validate() error {
	if err := c.ToRuntime(nil).Validate(); err != nil {
		return err
	}
	if c.Timer.MaxSleep < 0 {
		return rterrors.InvalidConfig("timer.max_sleep", c.Timer.MaxSleep, "must not be negative")
	}
	switch c.Remote.Transport {
	case "tcp", "quic", "memory":
	default:
		return rterrors.InvalidConfig("remote.transport", c.Remote.Transport, "expected tcp, quic or memory")
	}
	if c.Remote.Runners < 0 {
		return rterrors.InvalidConfig("remote.runners", c.Remote.Runners, "must not be negative")
	}
	if c.Remote.ReconnectAttempts < 0 {
		return rterrors.InvalidConfig("remote.reconnect_attempts", c.Remote.ReconnectAttempts, "must not be negative")
	}
	if _, err := semver.NewVersion(c.Remote.Version); err != nil {
		return rterrors.InvalidConfig("remote.version", c.Remote.Version, err.Error())
	}
	if _, err := semver.NewConstraint(c.Remote.AcceptVersions); err != nil {
		return rterrors.InvalidConfig("remote.accept_versions", c.Remote.AcceptVersions, err.Error())
	}
	if _, _, err := logging.New(logging.Options{Level: c.Log.Level, Format: c.Log.Format}); err != nil {
		return err
	}
	return nil
}

// ToRuntime converts the runtime and timer sections.
func (c *Config) ToRuntime(logger *slog.Logger) runtime.Config {
	r := c.Runtime
	return runtime.Config{
		Workers:           r.Workers,
		EfficiencyWorkers: r.EfficiencyWorkers,
		MessageBatchSize:  r.MessageBatchSize,
		IdleMinSleep:      r.IdleMinSleep,
		IdleMaxSleep:      r.IdleMaxSleep,
		IdleDelta:         r.IdleDelta,
		MinLifetime:       r.MinLifetime,
		ShutdownTimeout:   r.ShutdownTimeout,
		TimerMaxSleep:     c.Timer.MaxSleep,
		PinWorkers:        r.PinWorkers,
		Logger:            logger,
	}
}

// LogOptions converts the log section.
func (c *Config) LogOptions() logging.Options {
	return logging.Options{Level: c.Log.Level, Format: c.Log.Format}
}
