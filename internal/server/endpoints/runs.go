package endpoints

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/qforge/internal/api"
	"github.com/jackzampolin/qforge/internal/pipeline"
	"github.com/jackzampolin/qforge/internal/store"
	"github.com/jackzampolin/qforge/internal/svcctx"
	"github.com/jackzampolin/qforge/internal/types"
)

// ListRunsResponse is the response for listing runs.
type ListRunsResponse struct {
	Runs []*types.PipelineRun `json:"runs"`
}

// ListRunsEndpoint handles GET /api/runs.
type ListRunsEndpoint struct{}

var _ api.Endpoint = (*ListRunsEndpoint)(nil)

func (e *ListRunsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/runs", e.handler
}

func (e *ListRunsEndpoint) RequiresInit() bool { return true }

func (e *ListRunsEndpoint) Group() string { return "runs" }

func (e *ListRunsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}

	filter := store.RunFilter{Status: types.RunStatus(r.URL.Query().Get("status"))}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		filter.Limit = n
	}

	runs, err := st.ListRuns(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if runs == nil {
		runs = []*types.PipelineRun{}
	}
	writeJSON(w, http.StatusOK, ListRunsResponse{Runs: runs})
}

func (e *ListRunsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())

			path := "/api/runs"
			params := url.Values{}
			if status != "" {
				params.Set("status", status)
			}
			if limit > 0 {
				params.Set("limit", strconv.Itoa(limit))
			}
			if len(params) > 0 {
				path += "?" + params.Encode()
			}

			var resp ListRunsResponse
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum runs to return")
	return cmd
}

// GetRunResponse is a run record with its failure report and per-stage attempt counts.
type GetRunResponse struct {
	*types.PipelineRun
	Failure  *pipeline.FailureReport `json:"failure,omitempty"`
	Attempts map[string]int          `json:"attempts,omitempty"`
}

// GetRunEndpoint handles GET /api/runs/{id}.
type GetRunEndpoint struct{}

var _ api.Endpoint = (*GetRunEndpoint)(nil)

func (e *GetRunEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/runs/{id}", e.handler
}

func (e *GetRunEndpoint) RequiresInit() bool { return true }

func (e *GetRunEndpoint) Group() string { return "runs" }

func (e *GetRunEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "run id is required")
		return
	}

	svcs := svcctx.ServicesFrom(r.Context())
	if svcs == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}

	run, err := svcs.Store.GetRun(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := GetRunResponse{PipelineRun: run}
	if report := (&pipeline.Result{Run: run}).Failure(); report != nil {
		report.Stored = run.QuestionCount
		resp.Failure = report
	}
	if svcs.Metrics != nil {
		resp.Attempts = svcs.Metrics.RunAttempts(id)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *GetRunEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Get a run by ID",
		Long: `Get a run's status, stage history and failure report.

Attempts lists adapter calls per stage for runs executed since the server started.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp GetRunResponse
			if err := client.Get(cmd.Context(), "/api/runs/"+url.PathEscape(args[0]), &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// CancelRunResponse acknowledges a cancel request.
type CancelRunResponse struct {
	RunID           string `json:"run_id"`
	CancelRequested bool   `json:"cancel_requested"`
}

// CancelRunEndpoint handles POST /api/runs/{id}/cancel.
// Cancellation takes effect at the run's next stage boundary.
type CancelRunEndpoint struct{}

var _ api.Endpoint = (*CancelRunEndpoint)(nil)

func (e *CancelRunEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/runs/{id}/cancel", e.handler
}

func (e *CancelRunEndpoint) RequiresInit() bool { return true }

func (e *CancelRunEndpoint) Group() string { return "runs" }

func (e *CancelRunEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	coord := svcctx.CoordinatorFrom(r.Context())
	if coord == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline not initialized")
		return
	}

	if err := coord.Cancel(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, CancelRunResponse{RunID: id, CancelRequested: true})
}

func (e *CancelRunEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Request cancellation of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp CancelRunResponse
			if err := client.Post(cmd.Context(), "/api/runs/"+url.PathEscape(args[0])+"/cancel", nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// RunQuestionsEndpoint handles GET /api/runs/{id}/questions.
type RunQuestionsEndpoint struct{}

var _ api.Endpoint = (*RunQuestionsEndpoint)(nil)

func (e *RunQuestionsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/runs/{id}/questions", e.handler
}

func (e *RunQuestionsEndpoint) RequiresInit() bool { return true }

func (e *RunQuestionsEndpoint) Group() string { return "runs" }

func (e *RunQuestionsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}

	set, err := st.GetQuestionSet(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, set)
}

func (e *RunQuestionsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "questions <id>",
		Short: "Get the questions stored for a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp types.QuestionSet
			if err := client.Get(cmd.Context(), "/api/runs/"+url.PathEscape(args[0])+"/questions", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
