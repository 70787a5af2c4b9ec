package endpoints

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/qforge/internal/api"
	"github.com/jackzampolin/qforge/internal/store"
	"github.com/jackzampolin/qforge/internal/svcctx"
	"github.com/jackzampolin/qforge/internal/types"
)

// QueryQuestionsEndpoint handles GET /api/questions.
type QueryQuestionsEndpoint struct{}

var _ api.Endpoint = (*QueryQuestionsEndpoint)(nil)

func (e *QueryQuestionsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/questions", e.handler
}

func (e *QueryQuestionsEndpoint) RequiresInit() bool { return true }

func (e *QueryQuestionsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}

	q, err := parseQuestionQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := st.QueryQuestions(r.Context(), q)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func parseQuestionQuery(v url.Values) (store.QuestionQuery, error) {
	q := store.QuestionQuery{
		TeacherID: v.Get("teacher_id"),
		ClassID:   v.Get("class_id"),
		Subject:   v.Get("subject"),
		RunID:     v.Get("run_id"),
		Search:    v.Get("q"),
	}
	if d := v.Get("difficulty"); d != "" {
		diff, err := types.ParseDifficulty(d)
		if err != nil {
			return q, err
		}
		q.Difficulty = diff
	}
	if t := v.Get("type"); t != "" {
		qt, err := types.ParseQuestionType(t)
		if err != nil {
			return q, err
		}
		q.Type = qt
	}
	for key, dst := range map[string]*int{"page": &q.Page, "page_size": &q.PageSize} {
		s := v.Get(key)
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return q, fmt.Errorf("%s must be an integer", key)
		}
		*dst = n
	}
	q.Normalize()
	return q, nil
}

func (e *QueryQuestionsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var q store.QuestionQuery
	var difficulty, qtype string
	cmd := &cobra.Command{
		Use:   "questions",
		Short: "Query the question bank",
		Long: `Query stored questions by attribution, difficulty and type.

--search fuzzy-matches prompt and answer text and ranks results by match quality.

Examples:
  qforge api questions --teacher t-42 --subject biology
  qforge api questions --search "photosynthesis" --page-size 50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())

			params := url.Values{}
			for key, val := range map[string]string{
				"teacher_id": q.TeacherID,
				"class_id":   q.ClassID,
				"subject":    q.Subject,
				"run_id":     q.RunID,
				"q":          q.Search,
				"difficulty": difficulty,
				"type":       qtype,
			} {
				if val != "" {
					params.Set(key, val)
				}
			}
			if q.Page > 0 {
				params.Set("page", strconv.Itoa(q.Page))
			}
			if q.PageSize > 0 {
				params.Set("page_size", strconv.Itoa(q.PageSize))
			}

			path := "/api/questions"
			if len(params) > 0 {
				path += "?" + params.Encode()
			}

			var resp store.QuestionPage
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&q.TeacherID, "teacher", "", "Filter by teacher id")
	cmd.Flags().StringVar(&q.ClassID, "class", "", "Filter by class id")
	cmd.Flags().StringVar(&q.Subject, "subject", "", "Filter by subject")
	cmd.Flags().StringVar(&q.RunID, "run", "", "Filter by run id")
	cmd.Flags().StringVar(&q.Search, "search", "", "Fuzzy text search")
	cmd.Flags().StringVar(&difficulty, "difficulty", "", "Filter by difficulty")
	cmd.Flags().StringVar(&qtype, "type", "", "Filter by question type")
	cmd.Flags().IntVar(&q.Page, "page", 0, "Page number (from 1)")
	cmd.Flags().IntVar(&q.PageSize, "page-size", 0, "Results per page (max 100)")
	return cmd
}

// GetQuestionEndpoint handles GET /api/questions/{id}.
type GetQuestionEndpoint struct{}

var _ api.Endpoint = (*GetQuestionEndpoint)(nil)

func (e *GetQuestionEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/questions/{id}", e.handler
}

func (e *GetQuestionEndpoint) RequiresInit() bool { return true }

func (e *GetQuestionEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "question id must be a positive integer")
		return
	}

	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}

	q, err := st.GetQuestion(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (e *GetQuestionEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "question <id>",
		Short: "Get one stored question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp types.StoredQuestion
			if err := client.Get(cmd.Context(), "/api/questions/"+url.PathEscape(args[0]), &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
