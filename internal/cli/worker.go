package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/zkq/internal/coordinator"
	"github.com/me/zkq/internal/server"
	"github.com/me/zkq/internal/worker"
)

func newWorkerCmd() *cobra.Command {
	var (
		flagApps        []string
		flagClaimWait   time.Duration
		flagIdleSleep   time.Duration
		flagMonitorAddr string
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the worker daemon",
		Long: "Polls the configured apps' queues, claims one job at a time and\n" +
			"executes it. Runs until interrupted; a job in flight finishes or is\n" +
			"killed by its watchdog before shutdown completes.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			apps := flagApps
			if len(apps) == 0 {
				apps = cfg.AppNames()
			}
			if len(apps) == 0 {
				return errors.New("no apps configured; set apps in the config file or pass --app")
			}

			client, err := connect()
			if err != nil {
				return err
			}
			defer client.Close()

			met := newMetrics()
			co, hist, cleanup, err := newCoordinator(client, coordinator.WithMetrics(met))
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			addr := cfg.MonitorAddr
			if flagMonitorAddr != "" {
				addr = flagMonitorAddr
			}
			if addr != "" {
				srvOpts := []server.Option{server.WithMetrics(met)}
				if hist != nil {
					srvOpts = append(srvOpts, server.WithHistory(hist))
				}
				srv := server.New(cfg, co, logger, srvOpts...)
				httpSrv := &http.Server{Addr: addr, Handler: srv.Handler()}
				go func() {
					logger.Info("monitoring server listening", "addr", addr)
					if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("monitoring server stopped", "error", err)
					}
				}()
				defer func() {
					shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					httpSrv.Shutdown(shutCtx)
				}()
			}

			w := worker.New(co, worker.Config{
				Apps:      apps,
				ClaimWait: flagClaimWait,
				IdleSleep: flagIdleSleep,
			}, logger)
			return w.Run(ctx)
		},
	}

	cmd.Flags().StringSliceVar(&flagApps, "app", nil, "App to poll (repeatable; default: all configured apps)")
	cmd.Flags().DurationVar(&flagClaimWait, "claim-wait", 2*time.Second, "How long each per-app claim attempt blocks")
	cmd.Flags().DurationVar(&flagIdleSleep, "idle-sleep", time.Second, "Pause after an idle rotation over all apps")
	cmd.Flags().StringVar(&flagMonitorAddr, "monitor-addr", "", "Serve the monitoring API on this address (overrides config)")
	return cmd
}
