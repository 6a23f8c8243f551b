package httpapi

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/RaghavMadan07/Agri/internal/audit"
	"github.com/RaghavMadan07/Agri/internal/auth"
	"github.com/RaghavMadan07/Agri/internal/ingest"
)

const (
	uploadField = "cropImage"
	// multipartMemory is how much of a form is buffered before spilling to
	// temporary files.
	multipartMemory = 8 << 20
	// formOverhead covers the text fields and part headers around the image.
	formOverhead = 64 << 10
)

type ingestResponse struct {
	Message      string `json:"message"`
	SubmissionID string `json:"submissionId"`
	StatusURL    string `json:"statusUrl"`
}

func (a *API) handleIngest(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, a.maxUploadBytes+formOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, codeValidation, "upload exceeds size limit")
			return
		}
		writeError(w, r, http.StatusBadRequest, codeValidation, "request must be multipart/form-data")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()
	if len(r.MultipartForm.File[uploadField]) > 1 {
		writeError(w, r, http.StatusBadRequest, codeValidation, "only one "+uploadField+" file may be uploaded")
		return
	}

	var up ingest.Upload
	file, header, err := r.FormFile(uploadField)
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		writeError(w, r, http.StatusBadRequest, codeValidation, "unreadable file part")
		return
	default:
		defer file.Close()
		up = ingest.Upload{Filename: header.Filename, ContentType: partContentType(header), Body: file}
	}

	md, err := parseMetadata(r)
	if err != nil {
		handleIngestError(w, r, err, msgInternalIngest)
		return
	}

	receipt, err := a.ingest.Submit(r.Context(), principal, up, md)
	if err != nil {
		handleIngestError(w, r, err, msgInternalIngest)
		return
	}

	_ = audit.LogEvent(r.Context(), "submission.created", map[string]any{
		"submission_id": receipt.SubmissionID,
		"growth_stage":  md.GrowthStage,
	})
	writeJSON(w, http.StatusAccepted, ingestResponse{
		Message:      msgReceived,
		SubmissionID: receipt.SubmissionID,
		StatusURL:    receipt.StatusURL,
	})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	view, err := a.ingest.Status(r.Context(), principal, chi.URLParam(r, "id"))
	if err != nil {
		handleIngestError(w, r, err, msgInternal)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// parseMetadata reads the form fields. Absent coordinates stay nil so the
// validator reports them as required; unparsable ones are rejected here.
func parseMetadata(r *http.Request) (ingest.Metadata, error) {
	md := ingest.Metadata{GrowthStage: strings.TrimSpace(r.FormValue("growth_stage"))}
	bad := map[string]string{}
	for _, f := range []struct {
		name string
		dst  **float64
	}{
		{"latitude", &md.Latitude},
		{"longitude", &md.Longitude},
	} {
		raw := strings.TrimSpace(r.FormValue(f.name))
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			bad[f.name] = f.name + " must be a number"
			continue
		}
		*f.dst = &v
	}
	if len(bad) > 0 {
		msgs := make([]string, 0, len(bad))
		for _, name := range []string{"latitude", "longitude"} {
			if m, ok := bad[name]; ok {
				msgs = append(msgs, m)
			}
		}
		return md, &ingest.ValidationError{Message: strings.Join(msgs, "; "), Fields: bad}
	}
	return md, nil
}

func partContentType(h *multipart.FileHeader) string {
	if ct := h.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
