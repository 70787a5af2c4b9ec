package main

import (
	"io"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/qforge/internal/api"
	"github.com/jackzampolin/qforge/internal/config"
	"github.com/jackzampolin/qforge/internal/home"
	"github.com/jackzampolin/qforge/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
	debug        bool
)

var rootCmd = &cobra.Command{
	Use:   "qforge",
	Short: "Turn source material into checked question sets",
	Long: `qforge turns images, PDFs and raw text into question sets.

Each run goes through three stages:
  - Extraction: OCR or PDF text extraction (skipped for text input)
  - Enhancement: OCR repair, rejected if it drifts from the source
  - Generation: mcq, true_false or short_answer questions

Runs are persisted so they can be polled, cancelled and recovered after a crash.`,
	Version:       version.GitRelease,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A .env in the working directory supplies API keys; it is optional.
		_ = godotenv.Load()
		return api.SetOutputFormat(outputFormat)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.qforge/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "qforge home directory (default: ~/.qforge)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd)
}

// newLogger builds the text logger used by commands that run the pipeline.
func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadConfig opens the configuration manager for --config.
func loadConfig(logger *slog.Logger) (*config.Manager, error) {
	mgr, err := config.NewManager(cfgFile)
	if err != nil {
		return nil, err
	}
	mgr.SetLogger(logger)
	return mgr, nil
}

// getHome returns the home directory manager, creating it if needed.
func getHome() (*home.Dir, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}
	if err := h.EnsureExists(); err != nil {
		return nil, err
	}
	return h, nil
}

// outputCmd writes data to the command's stdout in the selected format.
func outputCmd(cmd *cobra.Command, data any) error {
	return api.OutputTo(cmd.OutOrStdout(), api.GetOutputFormat(), data)
}
