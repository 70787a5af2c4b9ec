package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/qforge/internal/api"
	"github.com/jackzampolin/qforge/internal/pipeline"
	"github.com/jackzampolin/qforge/internal/svcctx"
	"github.com/jackzampolin/qforge/internal/types"
)

// RunParamsRequest holds the generation parameters shared by the JSON and
// upload submit endpoints.
type RunParamsRequest struct {
	QuestionType string `json:"qtype"`
	Difficulty   string `json:"difficulty"`
	NumQuestions int    `json:"num_questions"`
	TeacherID    string `json:"teacher_id,omitempty"`
	ClassID      string `json:"class_id,omitempty"`
	Subject      string `json:"subject,omitempty"`
	// Wait runs the pipeline inside the request and returns the result.
	Wait bool `json:"wait,omitempty"`
}

// Params converts the request into run parameters. Aliases such as "tf"
// are accepted; unknown values pass through for validation to reject.
func (p RunParamsRequest) Params() types.RunParams {
	params := types.RunParams{
		QuestionType: types.QuestionType(p.QuestionType),
		Difficulty:   types.Difficulty(p.Difficulty),
		NumQuestions: p.NumQuestions,
		TeacherID:    p.TeacherID,
		ClassID:      p.ClassID,
		Subject:      p.Subject,
	}
	if qt, err := types.ParseQuestionType(p.QuestionType); err == nil {
		params.QuestionType = qt
	}
	if d, err := types.ParseDifficulty(p.Difficulty); err == nil {
		params.Difficulty = d
	}
	return params
}

// CreateRunRequest is the request body for submitting a run.
// Exactly one of Text and Path is set. Path names a file inside the server's
// upload directory; relative paths are resolved against it.
type CreateRunRequest struct {
	Text string `json:"text,omitempty"`
	Path string `json:"path,omitempty"`
	RunParamsRequest
}

// CreateRunResponse is returned for an accepted asynchronous run.
type CreateRunResponse struct {
	RunID  string          `json:"run_id"`
	Status types.RunStatus `json:"status"`
}

// RunResultResponse is returned when the caller waited for the run.
type RunResultResponse struct {
	Run       *types.PipelineRun      `json:"run"`
	Questions []types.Question        `json:"questions,omitempty"`
	Failure   *pipeline.FailureReport `json:"failure,omitempty"`
}

// CreateRunEndpoint handles POST /api/runs.
type CreateRunEndpoint struct{}

var (
	_ api.Endpoint = (*CreateRunEndpoint)(nil)
	_ api.Grouped  = (*CreateRunEndpoint)(nil)
)

func (e *CreateRunEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/runs", e.handler
}

func (e *CreateRunEndpoint) RequiresInit() bool { return true }

func (e *CreateRunEndpoint) Group() string { return "runs" }

func (e *CreateRunEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var in types.Input
	switch {
	case req.Text != "" && req.Path != "":
		writeError(w, http.StatusBadRequest, "set only one of text and path")
		return
	case req.Path != "":
		var uploadDir string
		if svcs := svcctx.ServicesFrom(r.Context()); svcs != nil {
			uploadDir = svcs.UploadDir
		}
		path, err := resolveInputPath(uploadDir, req.Path)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		data, err := os.ReadFile(path)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("cannot read input %s", filepath.Base(path)))
			return
		}
		in = types.FileInput(path, data)
	default:
		in = types.TextInput(req.Text)
	}

	submit(w, r, in, req.RunParamsRequest)
}

// errOutsideUploadDir is returned for path inputs that escape the upload directory.
var errOutsideUploadDir = errors.New("path must be inside the upload directory")

// resolveInputPath maps a requested path onto a file under dir, following
// symlinks, and rejects anything that lands outside it.
func resolveInputPath(dir, p string) (string, error) {
	if dir == "" {
		return "", errors.New("path inputs are disabled")
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if r, err := filepath.EvalSymlinks(root); err == nil {
		root = r
	}

	target := filepath.Clean(p)
	if !filepath.IsAbs(target) {
		target = filepath.Join(root, target)
	}
	if !within(root, target) {
		return "", errOutsideUploadDir
	}
	resolved, err := filepath.EvalSymlinks(target)
	if err != nil {
		return "", fmt.Errorf("cannot read input %s", filepath.Base(target))
	}
	if !within(root, resolved) {
		return "", errOutsideUploadDir
	}
	return resolved, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// submit persists the run, then either executes it in the request or queues it.
func submit(w http.ResponseWriter, r *http.Request, in types.Input, req RunParamsRequest) {
	svcs := svcctx.ServicesFrom(r.Context())
	if svcs == nil || svcs.Coordinator == nil || svcs.Runner == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline not initialized")
		return
	}

	run, err := svcs.Coordinator.Submit(r.Context(), in, req.Params())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if req.Wait {
		res, err := svcs.Coordinator.Execute(r.Context(), run.ID, in)
		if res == nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, RunResultResponse{
			Run:       res.Run,
			Questions: res.Questions,
			Failure:   res.Failure(),
		})
		return
	}

	if err := svcs.Runner.Submit(run.ID, in); err != nil {
		// The run stays pending and is picked up by recovery on the next start.
		svcs.Logger.Warn("run not queued", "run_id", run.ID, "error", err)
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, CreateRunResponse{RunID: run.ID, Status: run.Status})
}

func (e *CreateRunEndpoint) Command(getServerURL func() string) *cobra.Command {
	var req CreateRunRequest
	var file string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Submit a run",
		Long: `Submit text, a server-side path, or a local file (uploaded) for question generation.

Examples:
  qforge api runs create --text "Photosynthesis converts light..." --qtype mcq -n 5
  qforge api runs create --file notes.pdf --qtype short_answer --wait`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())

			if file != "" {
				fields := map[string]string{
					"qtype":         req.QuestionType,
					"difficulty":    req.Difficulty,
					"num_questions": fmt.Sprint(req.NumQuestions),
					"teacher_id":    req.TeacherID,
					"class_id":      req.ClassID,
					"subject":       req.Subject,
				}
				if req.Wait {
					fields["wait"] = "true"
				}
				return postAndOutput(func(result any) error {
					return client.PostFile(ctx, "/api/runs/upload", file, fields, result)
				}, req.Wait)
			}

			if req.Text == "" && req.Path == "" {
				return fmt.Errorf("one of --text, --path or --file is required")
			}
			return postAndOutput(func(result any) error {
				return client.Post(ctx, "/api/runs", req, result)
			}, req.Wait)
		},
	}
	cmd.Flags().StringVar(&req.Text, "text", "", "Raw text to generate questions from")
	cmd.Flags().StringVar(&req.Path, "path", "", "Path to an input file in the server's upload directory")
	cmd.Flags().StringVar(&file, "file", "", "Local file to upload")
	addParamFlags(cmd, &req.RunParamsRequest)
	return cmd
}

func addParamFlags(cmd *cobra.Command, p *RunParamsRequest) {
	cmd.Flags().StringVar(&p.QuestionType, "qtype", string(types.QuestionMCQ), "Question type (mcq, true_false, short_answer)")
	cmd.Flags().StringVar(&p.Difficulty, "difficulty", string(types.DifficultyMedium), "Difficulty (easy, medium, hard)")
	cmd.Flags().IntVarP(&p.NumQuestions, "num", "n", 5, "Number of questions")
	cmd.Flags().StringVar(&p.TeacherID, "teacher", "", "Teacher id for attribution")
	cmd.Flags().StringVar(&p.ClassID, "class", "", "Class id for attribution")
	cmd.Flags().StringVar(&p.Subject, "subject", "", "Subject for attribution")
	cmd.Flags().BoolVar(&p.Wait, "wait", false, "Wait for the run to finish")
}

func postAndOutput(post func(result any) error, wait bool) error {
	if wait {
		var resp RunResultResponse
		if err := post(&resp); err != nil {
			return err
		}
		return api.Output(resp)
	}
	var resp CreateRunResponse
	if err := post(&resp); err != nil {
		return err
	}
	return api.Output(resp)
}
