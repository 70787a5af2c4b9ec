package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/qforge/internal/config"
	"github.com/jackzampolin/qforge/internal/server/endpoints"
	"github.com/jackzampolin/qforge/internal/svcctx"
	"github.com/jackzampolin/qforge/internal/types"
)

var (
	runText  string
	runStore string
	runReq   endpoints.RunParamsRequest
)

var runCmd = &cobra.Command{
	Use:   "run [file]",
	Short: "Run the pipeline locally and print the result",
	Long: `Run one input through extraction, enhancement and generation without a server.

The input is either a file (image, PDF or text) or --text. The run is
persisted to the chosen store, memory by default, and the result is printed
in the selected output format. The command fails when the run does not
finish as done.

Examples:
  qforge run notes.pdf --qtype mcq --num 5
  qforge run --text "Photosynthesis converts light into chemical energy." --qtype tf
  qforge run scan.png --store sqlite -o json`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var in types.Input
		switch {
		case len(args) == 1 && runText != "":
			return errors.New("pass a file or --text, not both")
		case len(args) == 1:
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			in = types.FileInput(args[0], data)
		case runText != "":
			in = types.TextInput(runText)
		default:
			return errors.New("pass a file or --text")
		}

		// Logs go to stderr so the result on stdout stays parseable.
		logger := newLogger(os.Stderr)

		mgr, err := loadConfig(logger)
		if err != nil {
			return err
		}
		h, err := getHome()
		if err != nil {
			return err
		}

		svcs, err := svcctx.Build(ctx, svcctx.BuildConfig{
			Config:  mgr.Get(),
			Home:    h,
			Logger:  logger,
			Backend: runStore,
		})
		if err != nil {
			return err
		}
		defer svcs.Close(context.WithoutCancel(ctx))

		res, err := svcs.Coordinator.Run(ctx, in, runReq.Params())
		if res == nil {
			return err
		}

		out := endpoints.RunResultResponse{
			Run:       res.Run,
			Questions: res.Questions,
			Failure:   res.Failure(),
		}
		if err := outputCmd(cmd, out); err != nil {
			return err
		}
		if out.Failure != nil {
			return fmt.Errorf("run %s ended %s: %s", out.Failure.RunID, out.Failure.Status, out.Failure.Kind)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runText, "text", "", "raw text input")
	runCmd.Flags().StringVar(&runStore, "store", config.BackendMemory, "store backend: memory, sqlite or defra")
	runCmd.Flags().StringVar(&runReq.QuestionType, "qtype", "mcq", "question type: mcq, true_false or short_answer")
	runCmd.Flags().StringVar(&runReq.Difficulty, "difficulty", "medium", "difficulty: easy, medium or hard")
	runCmd.Flags().IntVar(&runReq.NumQuestions, "num", 5, "number of questions")
	runCmd.Flags().StringVar(&runReq.TeacherID, "teacher", "", "teacher id")
	runCmd.Flags().StringVar(&runReq.ClassID, "class", "", "class id")
	runCmd.Flags().StringVar(&runReq.Subject, "subject", "", "subject")
	rootCmd.AddCommand(runCmd)
}
