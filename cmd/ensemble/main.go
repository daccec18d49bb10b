// Command ensemble runs the remote actor root, a node, or an in-process demo.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/orizon-lang/ensemble/internal/cli"
	"github.com/orizon-lang/ensemble/internal/config"
	"github.com/orizon-lang/ensemble/internal/logging"
	"github.com/orizon-lang/ensemble/internal/runtime"
	"github.com/orizon-lang/ensemble/internal/runtime/netstack"
	"github.com/orizon-lang/ensemble/internal/runtime/remote"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	sub := os.Args[1]
	args := os.Args[2:]

	switch sub {
	case "help", "-h", "--help":
		usage()
	case "version", "-v", "--version":
		jsonOutput := len(args) > 0 && (args[0] == "--json" || args[0] == "-j")
		must(cli.PrintVersion(os.Stdout, "ensemble", cli.GetVersionInfo(remote.ProtocolVersion), jsonOutput))
	case "root":
		must(runRoot(args))
	case "node":
		must(runNode(args))
	case "demo":
		must(runDemo(args))
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", sub)
		usage()
		os.Exit(2)
	}
}

func usage() {
	cli.PrintUsage(os.Stdout, "ensemble", []cli.CommandInfo{
		{
			Name:        "root",
			Description: "Accept nodes and route actor calls to them",
			Examples:    []string{"ensemble root -config ensemble.yaml -listen 0.0.0.0:9090"},
		},
		{
			Name:        "node",
			Description: "Connect to a root and host actors",
			Examples:    []string{"ensemble node -connect 10.0.0.1:9090 -named Echo"},
		},
		{
			Name:        "demo",
			Description: "Run a root, a node and a pipeline in one process",
		},
		{
			Name:        "version",
			Description: "Show version information",
		},
	})
}

func must(err error) {
	if err != nil {
		cli.ExitWithError("%v", err)
	}
}

// common holds what every long-running subcommand sets up.
type common struct {
	cfg     *config.Config
	logger  *slog.Logger
	level   *slog.LevelVar
	rt      *runtime.Runtime
	tls     *tls.Config
	watcher *config.Watcher
	metrics *runtime.MetricsServer
}

type commonFlags struct {
	config  *string
	metrics *string
	cert    *string
	key     *string
}

func registerCommon(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		config:  fs.String("config", "", "YAML configuration file; reloaded on change"),
		metrics: fs.String("metrics", "", "serve metrics on this address (overrides metrics.listen)"),
		cert:    fs.String("tls-cert", "", "PEM certificate for TLS"),
		key:     fs.String("tls-key", "", "PEM private key for TLS"),
	}
}

func setup(ctx context.Context, f commonFlags) (*common, error) {
	cfg, err := config.Load(*f.config)
	if err != nil {
		return nil, err
	}
	if *f.metrics != "" {
		cfg.Metrics.Listen = *f.metrics
	}
	logger, level, err := logging.New(cfg.LogOptions())
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	c := &common{cfg: cfg, logger: logger, level: level}
	if *f.cert != "" || *f.key != "" {
		if c.tls, err = netstack.LoadTLSConfig(*f.cert, *f.key); err != nil {
			return nil, err
		}
	}
	c.rt = runtime.New(cfg.ToRuntime(logger))
	if err := c.rt.Startup(); err != nil {
		return nil, err
	}
	if *f.config != "" {
		c.watcher, err = config.Watch(ctx, *f.config, logger, c.reload)
		if err != nil {
			logger.Warn("config watch disabled", "err", err)
		}
	}
	return c, nil
}

// reload applies the settings that can change while running.
func (c *common) reload(cfg *config.Config) {
	if lvl, err := logging.ParseLevel(cfg.Log.Level); err == nil {
		c.level.Set(lvl)
	}
	c.rt.SetMessageBatchSize(cfg.Runtime.MessageBatchSize)
	c.logger.Info("config reloaded", "level", cfg.Log.Level, "batch", c.rt.MessageBatchSize())
}

func (c *common) serveMetrics(extra map[string]runtime.MetricFunc) error {
	if c.cfg.Metrics.Listen == "" {
		return nil
	}
	collectors := map[string]runtime.MetricFunc{"runtime": c.rt.Collector()}
	for k, v := range extra {
		collectors[k] = v
	}
	srv, err := runtime.StartMetricsServer(c.cfg.Metrics.Listen, collectors)
	if err != nil {
		return err
	}
	c.metrics = srv
	c.logger.Info("metrics listening", "addr", srv.Addr())
	return nil
}

func (c *common) transport() (remote.Transport, error) {
	return remote.NewTransport(c.cfg.Remote.Transport, c.tls, c.cfg.Remote.DialTimeout)
}

func (c *common) close() {
	if c.watcher != nil {
		_ = c.watcher.Close()
	}
	if c.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = c.metrics.Stop(ctx)
		cancel()
	}
	if err := c.rt.Shutdown(context.Background()); err != nil {
		c.logger.Warn("runtime shutdown", "err", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runRoot(args []string) error {
	fs := flag.NewFlagSet("root", flag.ExitOnError)
	cf := registerCommon(fs)
	listen := fs.String("listen", "", "listen address (overrides remote.listen)")
	_ = fs.Parse(args)

	ctx, stop := signalContext()
	defer stop()

	c, err := setup(ctx, cf)
	if err != nil {
		return err
	}
	defer c.close()
	if *listen != "" {
		c.cfg.Remote.Listen = *listen
	}
	transport, err := c.transport()
	if err != nil {
		return err
	}
	root, err := remote.NewRoot(c.rt, remote.RootConfig{
		Fallback:       builtinTypes(),
		Transport:      transport,
		Version:        c.cfg.Remote.Version,
		AcceptVersions: c.cfg.Remote.AcceptVersions,
		Runners:        c.cfg.Remote.Runners,
		Logger:         c.logger,
	})
	if err != nil {
		return err
	}
	defer root.Close()
	if err := root.Listen(ctx, c.cfg.Remote.Listen); err != nil {
		return err
	}
	if err := c.serveMetrics(map[string]runtime.MetricFunc{"remote_root": root.Collector()}); err != nil {
		return err
	}

	<-ctx.Done()
	c.logger.Info("shutting down", "nodes", root.Nodes())
	return nil
}

func runNode(args []string) error {
	fs := flag.NewFlagSet("node", flag.ExitOnError)
	cf := registerCommon(fs)
	connect := fs.String("connect", "", "root address (overrides remote.connect)")
	named := fs.String("named", "", "comma separated types to host as named services")
	cores := fs.Int("cores", 0, "core count announced to the root; 0 uses the worker count")
	_ = fs.Parse(args)

	ctx, stop := signalContext()
	defer stop()

	c, err := setup(ctx, cf)
	if err != nil {
		return err
	}
	defer c.close()
	if *connect != "" {
		c.cfg.Remote.Connect = *connect
	}
	transport, err := c.transport()
	if err != nil {
		return err
	}
	var services []remote.NamedInstance
	for _, name := range strings.Split(*named, ",") {
		if name = strings.TrimSpace(name); name != "" {
			services = append(services, remote.NamedInstance{Type: name})
		}
	}
	node, err := remote.NewNode(c.rt, remote.NodeConfig{
		Types:             builtinTypes(),
		Named:             services,
		Transport:         transport,
		Version:           c.cfg.Remote.Version,
		Cores:             *cores,
		Runners:           c.cfg.Remote.Runners,
		AutoReconnect:     c.cfg.Remote.AutoReconnect,
		ReconnectAttempts: c.cfg.Remote.ReconnectAttempts,
		PingInterval:      5 * time.Second,
		Logger:            c.logger,
	})
	if err != nil {
		return err
	}
	defer node.Close()
	if err := node.Connect(ctx, c.cfg.Remote.Connect); err != nil {
		return err
	}
	for _, s := range node.Named() {
		c.logger.Info("hosting service", "type", s.Type, "uuid", s.UUID)
	}
	if err := c.serveMetrics(map[string]runtime.MetricFunc{"remote_node": node.Collector()}); err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}
