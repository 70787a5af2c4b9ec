package endpoints

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jackzampolin/qforge/internal/api"
	"github.com/jackzampolin/qforge/internal/config"
	"github.com/jackzampolin/qforge/internal/home"
	"github.com/jackzampolin/qforge/internal/jobs"
	"github.com/jackzampolin/qforge/internal/pipeline"
	"github.com/jackzampolin/qforge/internal/providers"
	"github.com/jackzampolin/qforge/internal/store"
	"github.com/jackzampolin/qforge/internal/svcctx"
	"github.com/jackzampolin/qforge/internal/types"
)

const passage = `Photosynthesis converts light energy into chemical energy inside chloroplasts.
Mitochondria release stored energy through cellular respiration in animal cells.
Chlorophyll absorbs mostly blue and red wavelengths of visible light.
Glucose molecules store energy that plants later use for growth.
Stomata regulate carbon dioxide intake through the surface of leaves.`

// newTestServer serves every endpoint over an in-memory store with the
// offline rules enhancer and cloze generator.
func newTestServer(t *testing.T) (*httptest.Server, *svcctx.Services) {
	t.Helper()

	h, err := home.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.DefaultConfig()
	cfg.Defaults.Enhancers = []string{config.AdapterRules}
	cfg.Defaults.Generators = []string{config.AdapterCloze}
	cfg.Server.MaxUploadMB = 1

	svcs, err := svcctx.Build(context.Background(), svcctx.BuildConfig{
		Config:   cfg,
		Home:     h,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Registry: providers.NewRegistry(),
		Backend:  config.BackendMemory,
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	svcs.Runner.Start()

	reg := api.NewRegistry()
	for _, ep := range All() {
		reg.Register(ep)
	}
	mux := http.NewServeMux()
	reg.RegisterRoutes(mux, func(h http.HandlerFunc) http.HandlerFunc { return h })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mux.ServeHTTP(w, r.WithContext(svcctx.WithServices(r.Context(), svcs)))
	}))
	t.Cleanup(func() {
		srv.Close()
		_ = svcs.Close(context.Background())
	})
	return srv, svcs
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

func runRequest(text string, n int, wait bool) CreateRunRequest {
	return CreateRunRequest{
		Text: text,
		RunParamsRequest: RunParamsRequest{
			QuestionType: "short_answer",
			Difficulty:   "easy",
			NumQuestions: n,
			TeacherID:    "t-1",
			ClassID:      "c-9",
			Subject:      "Biology",
			Wait:         wait,
		},
	}
}

func TestHealthAndReady(t *testing.T) {
	srv, _ := newTestServer(t)

	var health HealthResponse
	if code := doJSON(t, "GET", srv.URL+"/health", nil, &health); code != http.StatusOK || health.Status != "ok" {
		t.Errorf("/health = %d %+v", code, health)
	}

	var ready HealthResponse
	if code := doJSON(t, "GET", srv.URL+"/ready", nil, &ready); code != http.StatusOK || ready.Store != "ok" {
		t.Errorf("/ready = %d %+v", code, ready)
	}
}

func TestStatus(t *testing.T) {
	srv, _ := newTestServer(t)

	var status StatusResponse
	if code := doJSON(t, "GET", srv.URL+"/status", nil, &status); code != http.StatusOK {
		t.Fatalf("/status = %d", code)
	}
	if status.Store.Backend != config.BackendMemory || status.Store.Health != "healthy" {
		t.Errorf("store = %+v", status.Store)
	}
	if status.Runner == nil || status.Runner.Workers != jobs.DefaultWorkers {
		t.Errorf("runner = %+v", status.Runner)
	}

	stages := map[string][]string{}
	for _, a := range status.Adapters {
		stages[a.Stage] = append(stages[a.Stage], a.Name)
	}
	if got := stages["enhance"]; len(got) != 1 || got[0] != "rules" {
		t.Errorf("enhance adapters = %v", got)
	}
	if got := stages["generate"]; len(got) != 1 || got[0] != "cloze" {
		t.Errorf("generate adapters = %v", got)
	}

	keys := map[string]bool{}
	for _, p := range status.Prompts {
		keys[p.Key] = p.Hash != ""
	}
	if !keys["generate.questions.system"] {
		t.Errorf("prompts = %v, want generate.questions.system with a hash", keys)
	}
}

func TestCreateRun_Wait(t *testing.T) {
	srv, _ := newTestServer(t)

	var res RunResultResponse
	if code := doJSON(t, "POST", srv.URL+"/api/runs", runRequest(passage, 3, true), &res); code != http.StatusOK {
		t.Fatalf("POST /api/runs = %d", code)
	}
	if res.Run.Status != types.StatusDone || len(res.Questions) != 3 || res.Failure != nil {
		t.Fatalf("result = status %s, %d questions, failure %+v", res.Run.Status, len(res.Questions), res.Failure)
	}
	if res.Run.Visited(types.StatusExtracting) {
		t.Error("text run visited extracting")
	}

	var set types.QuestionSet
	if code := doJSON(t, "GET", srv.URL+"/api/runs/"+res.Run.ID+"/questions", nil, &set); code != http.StatusOK {
		t.Fatalf("GET questions = %d", code)
	}
	if len(set.Questions) != 3 || set.TeacherID != "t-1" {
		t.Errorf("question set = %d questions, teacher %q", len(set.Questions), set.TeacherID)
	}

	var got GetRunResponse
	if code := doJSON(t, "GET", srv.URL+"/api/runs/"+res.Run.ID, nil, &got); code != http.StatusOK {
		t.Fatalf("GET run = %d", code)
	}
	if got.PipelineRun == nil || got.Status != types.StatusDone || got.QuestionCount != 3 {
		t.Errorf("run = %+v", got.PipelineRun)
	}
	if got.Attempts["generate"] != 1 {
		t.Errorf("attempts = %v", got.Attempts)
	}
}

func TestCreateRun_Async(t *testing.T) {
	srv, _ := newTestServer(t)

	var created CreateRunResponse
	if code := doJSON(t, "POST", srv.URL+"/api/runs", runRequest(passage, 2, false), &created); code != http.StatusAccepted {
		t.Fatalf("POST /api/runs = %d", code)
	}
	if created.RunID == "" || created.Status != types.StatusPending {
		t.Fatalf("created = %+v", created)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		var run GetRunResponse
		doJSON(t, "GET", srv.URL+"/api/runs/"+created.RunID, nil, &run)
		if run.PipelineRun != nil && run.Status.IsTerminal() {
			if run.Status != types.StatusDone {
				t.Errorf("status = %s (%s: %s)", run.Status, run.FailureKind, run.FailureReason)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("run did not finish")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCreateRun_Rejected(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name string
		body any
		kind string
	}{
		{"empty text", runRequest("   ", 3, false), string(types.KindInputInvalid)},
		{"zero questions", runRequest(passage, 0, false), string(types.KindInputInvalid)},
		{"too many questions", runRequest(passage, 51, false), string(types.KindInputInvalid)},
		{"text and path", CreateRunRequest{Text: "x", Path: "/tmp/x.txt"}, ""},
		{"missing path", CreateRunRequest{Path: filepath.Join(t.TempDir(), "gone.png")}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp ErrorResponse
			if code := doJSON(t, "POST", srv.URL+"/api/runs", tt.body, &resp); code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (%s)", code, resp.Error)
			}
			if resp.Kind != tt.kind {
				t.Errorf("kind = %q, want %q", resp.Kind, tt.kind)
			}
		})
	}

	t.Run("malformed body", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/api/runs", "application/json", strings.NewReader("{"))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})

	t.Run("no run created", func(t *testing.T) {
		var list ListRunsResponse
		doJSON(t, "GET", srv.URL+"/api/runs", nil, &list)
		if len(list.Runs) != 0 {
			t.Errorf("rejected submissions created %d runs", len(list.Runs))
		}
	})
}

func TestCreateRun_ServerPath(t *testing.T) {
	srv, svcs := newTestServer(t)

	if err := os.MkdirAll(svcs.UploadDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(svcs.UploadDir, "chapter.txt")
	if err := os.WriteFile(path, []byte(passage), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, p := range []string{path, "chapter.txt"} {
		req := runRequest("", 2, true)
		req.Path = p

		var res RunResultResponse
		if code := doJSON(t, "POST", srv.URL+"/api/runs", req, &res); code != http.StatusOK {
			t.Fatalf("POST /api/runs path=%s = %d", p, code)
		}
		if res.Run.Status != types.StatusDone || res.Run.InputFormat != types.FormatText {
			t.Errorf("run = %s %s", res.Run.Status, res.Run.InputFormat)
		}
		if strings.Contains(res.Run.InputRef, "Photosynthesis") || !strings.HasSuffix(res.Run.InputRef, "chapter.txt") {
			t.Errorf("InputRef = %q, want a file reference without contents", res.Run.InputRef)
		}
	}
}

func TestCreateRun_PathOutsideUploadDir(t *testing.T) {
	srv, svcs := newTestServer(t)

	if err := os.MkdirAll(svcs.UploadDir, 0o755); err != nil {
		t.Fatal(err)
	}
	outside := filepath.Join(t.TempDir(), "secret.txt")
	if err := os.WriteFile(outside, []byte("do not read"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(svcs.UploadDir, "link.txt")
	if err := os.Symlink(outside, link); err != nil {
		t.Fatal(err)
	}

	for _, p := range []string{
		outside,
		"../escape.txt",
		filepath.Join(svcs.UploadDir, "..", "escape.txt"),
		"/etc/passwd",
		"link.txt",
	} {
		req := runRequest("", 2, true)
		req.Path = p

		var resp ErrorResponse
		if code := doJSON(t, "POST", srv.URL+"/api/runs", req, &resp); code != http.StatusBadRequest {
			t.Errorf("path %s: status = %d, want 400", p, code)
		}
		if strings.Contains(resp.Error, "do not read") || strings.Contains(resp.Error, "root:") {
			t.Errorf("path %s: error echoes file contents: %q", p, resp.Error)
		}
	}

	var list ListRunsResponse
	doJSON(t, "GET", srv.URL+"/api/runs", nil, &list)
	if len(list.Runs) != 0 {
		t.Errorf("rejected paths created %d runs", len(list.Runs))
	}
}

func TestNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, tc := range []struct{ method, path string }{
		{"GET", "/api/runs/nope"},
		{"GET", "/api/runs/nope/questions"},
		{"POST", "/api/runs/nope/cancel"},
	} {
		var resp ErrorResponse
		if code := doJSON(t, tc.method, srv.URL+tc.path, nil, &resp); code != http.StatusNotFound {
			t.Errorf("%s %s = %d, want 404", tc.method, tc.path, code)
		}
	}
}

func TestCancelRun(t *testing.T) {
	srv, svcs := newTestServer(t)

	t.Run("pending run", func(t *testing.T) {
		run, err := svcs.Coordinator.Submit(context.Background(), types.TextInput(passage),
			runRequest(passage, 1, false).Params())
		if err != nil {
			t.Fatal(err)
		}
		var resp CancelRunResponse
		if code := doJSON(t, "POST", srv.URL+"/api/runs/"+run.ID+"/cancel", nil, &resp); code != http.StatusAccepted {
			t.Fatalf("cancel = %d", code)
		}
		if !resp.CancelRequested {
			t.Error("cancel not acknowledged")
		}

		res, _ := svcs.Coordinator.Execute(context.Background(), run.ID, types.TextInput(passage))
		if res.Run.Status != types.StatusCancelled {
			t.Errorf("status = %s, want cancelled", res.Run.Status)
		}
	})

	t.Run("finished run", func(t *testing.T) {
		var res RunResultResponse
		doJSON(t, "POST", srv.URL+"/api/runs", runRequest(passage, 1, true), &res)
		if code := doJSON(t, "POST", srv.URL+"/api/runs/"+res.Run.ID+"/cancel", nil, nil); code != http.StatusConflict {
			t.Errorf("cancel finished run = %d, want 409", code)
		}
	})
}

func TestListRuns(t *testing.T) {
	srv, _ := newTestServer(t)

	for range 2 {
		doJSON(t, "POST", srv.URL+"/api/runs", runRequest(passage, 1, true), nil)
	}

	var all ListRunsResponse
	doJSON(t, "GET", srv.URL+"/api/runs?status=done", nil, &all)
	if len(all.Runs) != 2 {
		t.Errorf("done runs = %d, want 2", len(all.Runs))
	}

	var limited ListRunsResponse
	doJSON(t, "GET", srv.URL+"/api/runs?limit=1", nil, &limited)
	if len(limited.Runs) != 1 {
		t.Errorf("limit=1 returned %d runs", len(limited.Runs))
	}

	if code := doJSON(t, "GET", srv.URL+"/api/runs?limit=abc", nil, nil); code != http.StatusBadRequest {
		t.Errorf("bad limit = %d, want 400", code)
	}
}

func TestQueryQuestions(t *testing.T) {
	srv, _ := newTestServer(t)
	doJSON(t, "POST", srv.URL+"/api/runs", runRequest(passage, 3, true), nil)

	tests := []struct {
		query string
		total int
	}{
		{"", 3},
		{"?teacher_id=t-1", 3},
		{"?teacher_id=t-2", 0},
		{"?subject=biology&class_id=c-9", 3},
		{"?difficulty=easy&type=short_answer", 3},
		{"?difficulty=hard", 0},
		{"?type=mcq", 0},
		{"?page_size=2&page=2", 3},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			var page store.QuestionPage
			if code := doJSON(t, "GET", srv.URL+"/api/questions"+tt.query, nil, &page); code != http.StatusOK {
				t.Fatalf("status = %d", code)
			}
			if page.Total != tt.total {
				t.Errorf("total = %d, want %d", page.Total, tt.total)
			}
		})
	}

	var paged store.QuestionPage
	doJSON(t, "GET", srv.URL+"/api/questions?page_size=2&page=2", nil, &paged)
	if len(paged.Questions) != 1 || paged.Page != 2 {
		t.Errorf("page 2 = %d questions, page %d", len(paged.Questions), paged.Page)
	}

	for _, bad := range []string{"?difficulty=brutal", "?type=essay", "?page=x"} {
		if code := doJSON(t, "GET", srv.URL+"/api/questions"+bad, nil, nil); code != http.StatusBadRequest {
			t.Errorf("%s = %d, want 400", bad, code)
		}
	}
}

func TestGetQuestion(t *testing.T) {
	srv, _ := newTestServer(t)
	doJSON(t, "POST", srv.URL+"/api/runs", runRequest(passage, 2, true), nil)

	var page store.QuestionPage
	doJSON(t, "GET", srv.URL+"/api/questions", nil, &page)
	if len(page.Questions) != 2 {
		t.Fatalf("stored questions = %d, want 2", len(page.Questions))
	}
	want := page.Questions[1]

	var got types.StoredQuestion
	if code := doJSON(t, "GET", srv.URL+"/api/questions/"+strconv.FormatInt(want.ID, 10), nil, &got); code != http.StatusOK {
		t.Fatalf("GET question = %d", code)
	}
	if got.ID != want.ID || got.Prompt != want.Prompt || got.RunID != want.RunID || got.Position != 1 {
		t.Errorf("question = %+v, want %+v", got, want)
	}

	for _, tc := range []struct {
		id   string
		want int
	}{
		{"999999", http.StatusNotFound},
		{"abc", http.StatusBadRequest},
		{"0", http.StatusBadRequest},
	} {
		if code := doJSON(t, "GET", srv.URL+"/api/questions/"+tc.id, nil, nil); code != tc.want {
			t.Errorf("GET /api/questions/%s = %d, want %d", tc.id, code, tc.want)
		}
	}
}

func upload(t *testing.T, url, filename string, content []byte, fields map[string]string) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(content)
	mw.Close()

	resp, err := http.Post(url+"/api/runs/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, body
}

func TestUploadRun(t *testing.T) {
	srv, svcs := newTestServer(t)
	fields := map[string]string{"qtype": "short_answer", "difficulty": "medium", "num_questions": "2", "wait": "true"}

	t.Run("text file", func(t *testing.T) {
		resp, body := upload(t, srv.URL, "notes.txt", []byte(passage), fields)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d: %s", resp.StatusCode, body)
		}
		var res RunResultResponse
		if err := json.Unmarshal(body, &res); err != nil {
			t.Fatal(err)
		}
		if res.Run.Status != types.StatusDone || len(res.Questions) != 2 {
			t.Errorf("run = %s with %d questions", res.Run.Status, len(res.Questions))
		}
		entries, _ := os.ReadDir(svcs.UploadDir)
		if len(entries) != 1 || !strings.HasSuffix(entries[0].Name(), "-notes.txt") {
			t.Errorf("upload dir = %v", entries)
		}
	})

	tests := []struct {
		name     string
		filename string
		content  []byte
		fields   map[string]string
		want     int
	}{
		{"unsupported type", "archive.zip", []byte{0x50, 0x4b, 0x03, 0x04}, fields, http.StatusBadRequest},
		{"empty file", "empty.png", nil, fields, http.StatusBadRequest},
		{"too large", "big.txt", bytes.Repeat([]byte("a"), 1<<20+1), fields, http.StatusRequestEntityTooLarge},
		{"bad count", "notes.txt", []byte(passage), map[string]string{"num_questions": "many"}, http.StatusBadRequest},
		{"invalid params", "notes.txt", []byte(passage), map[string]string{"qtype": "essay", "num_questions": "1"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := upload(t, srv.URL, tt.filename, tt.content, tt.fields)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d: %s", resp.StatusCode, tt.want, body)
			}
		})
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("load: %w", store.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("cancel: %w", store.ErrTerminal), http.StatusConflict},
		{&pipeline.Error{Kind: types.KindInputInvalid, Stage: pipeline.StageSubmit, Err: errors.New("empty text")}, http.StatusBadRequest},
		{fmt.Errorf("queue: %w", jobs.ErrQueueFull), http.StatusServiceUnavailable},
		{jobs.ErrStopped, http.StatusServiceUnavailable},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := errorStatus(tt.err); got != tt.want {
			t.Errorf("errorStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestCommands(t *testing.T) {
	reg := api.NewRegistry()
	for _, ep := range All() {
		reg.Register(ep)
	}
	root := reg.BuildCommands(func() string { return "http://127.0.0.1:0" })

	for _, path := range [][]string{
		{"health"}, {"ready"}, {"status"}, {"questions"}, {"question"},
		{"runs", "create"}, {"runs", "list"}, {"runs", "get"}, {"runs", "cancel"}, {"runs", "questions"},
	} {
		cmd, rest, err := root.Find(path)
		if err != nil || len(rest) != 0 || cmd.Name() != path[len(path)-1] {
			t.Errorf("command %v not found (got %v, %v)", path, cmd.Name(), err)
		}
	}
}
