package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
runtime:
  workers: 3
  efficiency_workers: 1
  message_batch_size: 64
  idle_min_sleep: 20us
  shutdown_timeout: 2s
timer:
  max_sleep: 1s
remote:
  transport: quic
  listen: 127.0.0.1:7000
  runners: 4
  accept_versions: ">=1.0.0, <2.0.0"
log:
  level: debug
  format: json
metrics:
  listen: 127.0.0.1:0
`

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "ensemble.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, t.TempDir(), sample))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Runtime.Workers)
	assert.Equal(t, 64, cfg.Runtime.MessageBatchSize)
	assert.Equal(t, 20*time.Microsecond, cfg.Runtime.IdleMinSleep)
	assert.Equal(t, 500*time.Millisecond, cfg.Runtime.IdleMaxSleep)
	assert.Equal(t, time.Second, cfg.Timer.MaxSleep)
	assert.Equal(t, "quic", cfg.Remote.Transport)
	assert.Equal(t, "1.0.0", cfg.Remote.Version)
	assert.True(t, cfg.Remote.AutoReconnect)
	assert.Equal(t, "json", cfg.Log.Format)

	rc := cfg.ToRuntime(nil)
	assert.Equal(t, 3, rc.Workers)
	assert.Equal(t, 1, rc.EfficiencyWorkers)
	assert.Equal(t, 2*time.Second, rc.ShutdownTimeout)
	assert.Equal(t, time.Second, rc.TimerMaxSleep)
}

func TestLoad_EmptyPathIsDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestValidate_Rejects(t *testing.T) {
	cases := map[string]func(*Config){
		"transport":       func(c *Config) { c.Remote.Transport = "carrier-pigeon" },
		"version":         func(c *Config) { c.Remote.Version = "one" },
		"accept versions": func(c *Config) { c.Remote.AcceptVersions = "banana" },
		"log level":       func(c *Config) { c.Log.Level = "chatty" },
		"workers":         func(c *Config) { c.Runtime.Workers = -2 },
		"runners":         func(c *Config) { c.Remote.Runners = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	_, err := Load(writeConfig(t, t.TempDir(), "runtime: [unterminated"))
	assert.Error(t, err)
	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "runtime:\n  message_batch_size: 10\n")

	reloaded := make(chan *Config, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w, err := Watch(ctx, path, nil, func(c *Config) { reloaded <- c })
	require.NoError(t, err)
	defer w.Close()

	// rejected content is skipped
	writeConfig(t, dir, "remote:\n  transport: smoke\n")
	time.Sleep(300 * time.Millisecond)
	writeConfig(t, dir, "runtime:\n  message_batch_size: 20\nlog:\n  level: warn\n")

	select {
	case c := <-reloaded:
		assert.Equal(t, 20, c.Runtime.MessageBatchSize)
		assert.Equal(t, "warn", c.Log.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
}
