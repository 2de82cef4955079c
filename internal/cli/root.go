// Package cli implements the zkq command line: the worker daemon plus the
// operator commands for enqueueing, inspecting and re-queueing jobs.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/zkq/internal/config"
	"github.com/me/zkq/internal/coord"
	"github.com/me/zkq/internal/coordinator"
	"github.com/me/zkq/internal/executor"
	"github.com/me/zkq/internal/history"
	"github.com/me/zkq/internal/logging"
	"github.com/me/zkq/internal/metrics"
)

var (
	flagConfig         string
	flagZK             string
	flagChroot         string
	flagSessionTimeout time.Duration
	flagLogLevel       string
	flagLogFormat      string
	flagDebug          bool

	cfg    *config.Config
	logger *slog.Logger
)

// defaultZK returns the default coordination servers, checking the
// ZKQ_ZOOKEEPER env var first.
func defaultZK() string {
	if s := os.Getenv("ZKQ_ZOOKEEPER"); s != "" {
		return s
	}
	return "localhost:2181"
}

// NewRootCmd creates the root cobra command for the zkq CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "zkq",
		Short: "zkq — distributed job queue worker and operator tools",
		Long: "zkq runs jobs from per-app distributed queues backed by ZooKeeper.\n" +
			"A job is executed by exactly one worker at a time, survives worker\n" +
			"crashes, and ends in exactly one terminal state.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = loadConfig()
			if err != nil {
				return err
			}
			if flagDebug {
				cfg.LogLevel = "debug"
			}
			logger = logging.New(cfg.LogLevel, cfg.LogFormat)
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Path to YAML config file")
	root.PersistentFlags().StringVar(&flagZK, "zk", defaultZK(), "Comma-separated ZooKeeper servers (or ZKQ_ZOOKEEPER env)")
	root.PersistentFlags().StringVar(&flagChroot, "chroot", "", "Namespace prefix for all coordination paths")
	root.PersistentFlags().DurationVar(&flagSessionTimeout, "session-timeout", 10*time.Second, "ZooKeeper session timeout")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "Log format (text, json)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")

	root.AddCommand(
		newWorkerCmd(),
		newEnqueueCmd(),
		newStatusCmd(),
		newRequeueCmd(),
		newRunCmd(),
		newHistoryCmd(),
	)

	return root
}

// loadConfig builds the effective configuration: the YAML file when given,
// defaults otherwise, with command-line flags winning either way.
func loadConfig() (*config.Config, error) {
	c := config.Default()
	if flagConfig != "" {
		loaded, err := config.Load(flagConfig)
		if err != nil {
			return nil, err
		}
		c = loaded
	}
	if len(c.ZooKeeper.Servers) == 0 || flagZK != defaultZK() {
		c.ZooKeeper.Servers = strings.Split(flagZK, ",")
	}
	if flagChroot != "" {
		c.ZooKeeper.Chroot = flagChroot
	}
	if c.ZooKeeper.SessionTimeout == 0 || flagSessionTimeout != 10*time.Second {
		c.ZooKeeper.SessionTimeout = flagSessionTimeout
	}
	if flagLogLevel != "" {
		c.LogLevel = flagLogLevel
	}
	if flagLogFormat != "" {
		c.LogFormat = flagLogFormat
	}
	return c, nil
}

// connect opens the coordination session shared by one command invocation.
func connect() (coord.Client, error) {
	client, err := coord.ConnectZK(cfg.ZooKeeper, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to coordination service: %w", err)
	}
	return client, nil
}

// newCoordinator assembles a coordinator over client, wiring the optional
// history journal and metrics when configured. The journal is returned
// (nil when unconfigured) so the worker command can hand it to the
// monitoring server too.
func newCoordinator(client coord.Client, opts ...coordinator.Option) (*coordinator.Coordinator, *history.Store, func(), error) {
	reg := executor.NewRegistry(logger)
	reg.Register(executor.NewShell(logger))

	var hist *history.Store
	cleanup := func() {}
	if cfg.HistoryDB != "" {
		h, err := history.Open(cfg.HistoryDB, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := h.Migrate(context.Background()); err != nil {
			h.Close()
			return nil, nil, nil, err
		}
		hist = h
		opts = append(opts, coordinator.WithHistory(hist))
		cleanup = func() { h.Close() }
	}

	return coordinator.New(client, cfg, reg, logger, opts...), hist, cleanup, nil
}

// newMetrics is split out so the worker command can hand the collector to
// both the coordinator and the monitoring server.
func newMetrics() *metrics.Collector {
	return metrics.NewCollector()
}
