package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/qforge/internal/config"
	"github.com/jackzampolin/qforge/internal/defra"
	"github.com/jackzampolin/qforge/internal/home"
	"github.com/jackzampolin/qforge/internal/svcctx"
)

var (
	logsTail    string
	waitTimeout time.Duration
)

var defraCmd = &cobra.Command{
	Use:   "defra",
	Short: "Manage the DefraDB container",
	Long: `Manage the DefraDB container behind the "defra" store backend.

Data lives in ~/.qforge/data/defradb/ on the host, so stopping or removing
the container keeps stored runs and question sets. Container name, image
and port come from the defra section of the config file.

Examples:
  qforge defra start
  qforge defra status -o json
  qforge defra logs --tail 50`,
}

// dockerRun adapts a container operation into a cobra RunE. The manager is
// built from config and closed afterwards.
func dockerRun(fn func(ctx context.Context, mgr *defra.DockerManager, out io.Writer) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		mgr, err := getDockerManager()
		if err != nil {
			return err
		}
		defer mgr.Close()
		return fn(cmd.Context(), mgr, cmd.OutOrStdout())
	}
}

var defraStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Create or start the container and wait for it to be healthy",
	RunE: dockerRun(func(ctx context.Context, mgr *defra.DockerManager, out io.Writer) error {
		if err := mgr.EnsureRunning(ctx); err != nil {
			return fmt.Errorf("start DefraDB: %w", err)
		}
		fmt.Fprintf(out, "DefraDB is running at %s\n", mgr.URL())
		return nil
	}),
}

var defraStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the container, keeping its data",
	RunE: dockerRun(func(ctx context.Context, mgr *defra.DockerManager, out io.Writer) error {
		if err := mgr.Stop(ctx); err != nil {
			return fmt.Errorf("stop DefraDB: %w", err)
		}
		fmt.Fprintln(out, "DefraDB stopped")
		return nil
	}),
}

var defraRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove the container; the data directory is kept",
	RunE: dockerRun(func(ctx context.Context, mgr *defra.DockerManager, out io.Writer) error {
		if err := mgr.Remove(ctx); err != nil {
			return fmt.Errorf("remove DefraDB container: %w", err)
		}
		fmt.Fprintln(out, "DefraDB container removed (data preserved)")
		return nil
	}),
}

var defraLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Print recent container logs",
	RunE: dockerRun(func(ctx context.Context, mgr *defra.DockerManager, out io.Writer) error {
		logs, err := mgr.Logs(ctx, logsTail)
		if err != nil {
			return fmt.Errorf("DefraDB logs: %w", err)
		}
		_, err = io.WriteString(out, logs)
		return err
	}),
}

var defraWaitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Block until DefraDB answers its health check",
	RunE: dockerRun(func(ctx context.Context, mgr *defra.DockerManager, out io.Writer) error {
		if err := mgr.WaitReady(ctx, waitTimeout); err != nil {
			return fmt.Errorf("DefraDB not ready after %s: %w", waitTimeout, err)
		}
		fmt.Fprintln(out, "DefraDB is ready")
		return nil
	}),
}

// DefraStatus is the output of 'qforge defra status'.
type DefraStatus struct {
	*defra.Info
	Health string `json:"health,omitempty"`
}

var defraStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show container state and health",
	RunE: func(cmd *cobra.Command, _ []string) error {
		mgr, err := getDockerManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		ctx := cmd.Context()
		info, err := mgr.Info(ctx)
		if err != nil {
			return fmt.Errorf("DefraDB status: %w", err)
		}
		st := DefraStatus{Info: info}
		if info.Status == defra.StatusRunning {
			st.Health = "healthy"
			if err := defra.NewClient(mgr.URL()).HealthCheck(ctx); err != nil {
				st.Health = "unhealthy: " + err.Error()
			}
		}
		return outputCmd(cmd, st)
	},
}

func init() {
	defraLogsCmd.Flags().StringVar(&logsTail, "tail", "100", "lines from the end to show (\"all\" for everything)")
	defraWaitCmd.Flags().DurationVar(&waitTimeout, "timeout", defra.DefaultReadyTimeout, "how long to wait")

	defraCmd.AddCommand(defraStartCmd, defraStopCmd, defraStatusCmd, defraLogsCmd, defraRemoveCmd, defraWaitCmd)
	rootCmd.AddCommand(defraCmd)
}

// getDockerManager builds a DockerManager from the defra config section.
func getDockerManager() (*defra.DockerManager, error) {
	h, err := getHome()
	if err != nil {
		return nil, err
	}
	mgr, err := loadConfig(newLogger(os.Stderr))
	if err != nil {
		return nil, err
	}
	return dockerManagerFor(mgr.Get().Defra, h)
}

func dockerManagerFor(c config.DefraConfig, h *home.Dir) (*defra.DockerManager, error) {
	dc := svcctx.DefraDockerConfig(c, h)
	if err := os.MkdirAll(dc.DataPath, 0o755); err != nil {
		return nil, fmt.Errorf("create defra data directory: %w", err)
	}
	return defra.NewDockerManager(dc)
}
