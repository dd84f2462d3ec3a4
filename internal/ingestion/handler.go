// Package ingestion accepts new documentation builds over HTTP. An upload
// replaces a project's searchindex.js on disk and swaps it into the store;
// peers learn about it through the reload notifier.
package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/darpa-sail-on/docsearch/internal/searchindex"
	"github.com/darpa-sail-on/docsearch/internal/store"
	apperrors "github.com/darpa-sail-on/docsearch/pkg/errors"
	"github.com/darpa-sail-on/docsearch/pkg/logger"
)

// DefaultMaxUploadBytes bounds the size of an uploaded index.
const DefaultMaxUploadBytes = 64 << 20

// Catalog resolves the store an upload replaces.
type Catalog interface {
	Get(project string) (*store.Store, error)
}

type Handler struct {
	catalog  Catalog
	maxBytes int64
	logger   *slog.Logger
}

func New(catalog Catalog) *Handler {
	return &Handler{
		catalog:  catalog,
		maxBytes: DefaultMaxUploadBytes,
		logger:   slog.Default().With("component", "ingestion-handler"),
	}
}

// UploadResponse reports the outcome of an upload.
type UploadResponse struct {
	Project  string            `json:"project"`
	Changed  bool              `json:"changed"`
	Checksum string            `json:"checksum"`
	Stats    searchindex.Stats `json:"stats"`
}

// Upload handles PUT /api/v1/projects/{name}/searchindex.js. The body is a
// searchindex.js payload or its plain JSON form.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	project := r.PathValue("name")

	s, err := h.catalog.Get(project)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}

	idx, err := searchindex.Decode(http.MaxBytesReader(w, r.Body, h.maxBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("index exceeds %d bytes", tooLarge.Limit))
			return
		}
		h.writeAppError(w, r, err)
		return
	}
	if err := searchindex.Validate(idx); err != nil {
		var invalid *searchindex.ValidationError
		if errors.As(err, &invalid) {
			h.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":    "validation failed",
				"problems": invalid.Problems,
			})
			return
		}
		h.writeAppError(w, r, err)
		return
	}

	if err := searchindex.WriteFile(s.Path(), idx); err != nil {
		h.writeAppError(w, r, err)
		return
	}
	changed, err := s.Reload(ctx)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}

	resp := UploadResponse{
		Project:  project,
		Changed:  changed,
		Checksum: s.Checksum(),
		Stats:    idx.Stats(),
	}
	log.Info("index uploaded",
		"project", project,
		"checksum", resp.Checksum,
		"changed", changed,
		"documents", resp.Stats.Documents,
	)
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	msg := err.Error()
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		msg = appErr.Message
	}
	if status == http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("upload failed", "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	h.writeError(w, status, msg)
}
