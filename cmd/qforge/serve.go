package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/qforge/internal/server"
	"github.com/jackzampolin/qforge/internal/svcctx"
)

var (
	serveHost  string
	servePort  string
	serveStore string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the qforge server",
	Long: `Start the qforge HTTP server.

The server opens the configured store (starting the DefraDB container when
store.backend is "defra"), starts the run workers and re-queues any run left
unfinished by a previous crash. On Ctrl+C or SIGTERM in-flight runs are
drained and DefraDB is stopped.

The server provides:
  - /health        - Basic server health check
  - /ready         - Readiness check (includes store status)
  - /status        - Providers, adapters, workers and stage metrics
  - /api/runs      - Submit, list, inspect and cancel runs
  - /api/questions - Query stored questions

Examples:
  qforge serve                    # Start on the configured port (default 8080)
  qforge serve --port 3000        # Start on custom port
  qforge serve --store memory     # Keep everything in memory`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := newLogger(os.Stdout)

		mgr, err := loadConfig(logger)
		if err != nil {
			return err
		}
		cfg := mgr.Get()

		h, err := getHome()
		if err != nil {
			return err
		}

		host := cfg.Server.Host
		if cmd.Flags().Changed("host") || host == "" {
			host = serveHost
		}
		port := cfg.Server.Port
		if cmd.Flags().Changed("port") || port == "" {
			port = servePort
		}

		svcs, err := svcctx.Build(ctx, svcctx.BuildConfig{
			Config:  cfg,
			Home:    h,
			Logger:  logger,
			Backend: serveStore,
		})
		if err != nil {
			return err
		}

		srv, err := server.New(server.Config{
			Host:          host,
			Port:          port,
			Services:      svcs,
			ConfigManager: mgr,
			Logger:        logger,
		})
		if err != nil {
			_ = svcs.Close(context.WithoutCancel(ctx))
			return err
		}

		mgr.WatchConfig()

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Host to bind to")
	serveCmd.Flags().StringVar(&servePort, "port", "8080", "Port to listen on")
	serveCmd.Flags().StringVar(&serveStore, "store", "", "store backend override: sqlite, defra or memory")
	rootCmd.AddCommand(serveCmd)
}
