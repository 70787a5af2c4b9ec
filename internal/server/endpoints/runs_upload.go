package endpoints

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/qforge/internal/api"
	"github.com/jackzampolin/qforge/internal/svcctx"
	"github.com/jackzampolin/qforge/internal/types"
)

// multipartOverhead is allowed on top of the upload limit for form fields and boundaries.
const multipartOverhead = 1 << 20

// UploadRunEndpoint handles POST /api/runs/upload with a multipart file upload.
// The file is saved under the upload directory so interrupted runs can be recovered.
type UploadRunEndpoint struct{}

var _ api.Endpoint = (*UploadRunEndpoint)(nil)

func (e *UploadRunEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/runs/upload", e.handler
}

func (e *UploadRunEndpoint) RequiresInit() bool { return true }

func (e *UploadRunEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svcs := svcctx.ServicesFrom(r.Context())
	if svcs == nil {
		writeError(w, http.StatusServiceUnavailable, "services not initialized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, svcs.MaxUpload+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to parse form: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	src, fh, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, svcs.MaxUpload+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read upload: %v", err))
		return
	}
	if int64(len(data)) > svcs.MaxUpload {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d bytes", svcs.MaxUpload))
		return
	}
	if len(data) == 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "empty file", Kind: string(types.KindInputInvalid)})
		return
	}

	req := RunParamsRequest{
		QuestionType: r.FormValue("qtype"),
		Difficulty:   r.FormValue("difficulty"),
		TeacherID:    r.FormValue("teacher_id"),
		ClassID:      r.FormValue("class_id"),
		Subject:      r.FormValue("subject"),
		Wait:         r.FormValue("wait") == "true",
	}
	if n := r.FormValue("num_questions"); n != "" {
		if req.NumQuestions, err = strconv.Atoi(n); err != nil {
			writeError(w, http.StatusBadRequest, "num_questions must be an integer")
			return
		}
	}

	name := filepath.Base(fh.Filename)
	in := types.FileInput(filepath.Join(svcs.UploadDir, uuid.NewString()+"-"+name), data)
	in.Filename = name
	if in.Format == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: fmt.Sprintf("unsupported file type: %s", name),
			Kind:  string(types.KindInputInvalid),
		})
		return
	}

	if err := req.Params().Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Kind: string(types.KindInputInvalid)})
		return
	}

	if err := os.MkdirAll(svcs.UploadDir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to create upload dir: %v", err))
		return
	}
	if err := os.WriteFile(in.Path, data, 0o644); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to save file: %v", err))
		return
	}
	svcs.Logger.Info("upload saved", "file", name, "path", in.Path, "bytes", len(data), "format", in.Format)

	submit(w, r, in, req)
}

func (e *UploadRunEndpoint) Command(_ func() string) *cobra.Command {
	// Uploads go through "runs create --file".
	return nil
}
