// Package api exposes import submission, status and the template pool over HTTP.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/rpattn/replay/internal/auth"
	"github.com/rpattn/replay/internal/domain"
	"github.com/rpattn/replay/internal/importer"
	"github.com/rpattn/replay/internal/jobs"
	"github.com/rpattn/replay/internal/logging"
	"github.com/rpattn/replay/internal/workitem"
)

const maxUploadSize = 32 << 20

// Runner submits runs and reports their state.
type Runner interface {
	Submit(ctx context.Context, sub jobs.Submission) (domain.ImportRun, error)
	Status(ctx context.Context) (jobs.Snapshot, error)
	History(ctx context.Context, limit, offset int) ([]domain.ImportRun, error)
}

// Templates is the pool of files records may attach by name.
type Templates interface {
	ListTemplates(ctx context.Context) ([]domain.Attachment, error)
	UploadTemplate(ctx context.Context, actor domain.Actor, filename string, data []byte) (domain.Attachment, error)
}

// Parsers tells which content types can be imported.
type Parsers interface {
	ForContentType(contentType string) (importer.Parser, error)
}

// Handler serves the import API.
type Handler struct {
	runner    Runner
	templates Templates
	parsers   Parsers
}

// NewHandler creates a new import API handler.
func NewHandler(runner Runner, templates Templates, parsers Parsers) *Handler {
	return &Handler{runner: runner, templates: templates, parsers: parsers}
}

// Routes mounts the API on r. Every route requires an administrator.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api/v3/csv_import", func(r chi.Router) {
		r.Use(requireAdmin)
		r.Get("/", h.handleStatus)
		r.Post("/", h.handleSubmit)
		r.Get("/runs", h.handleHistory)
		r.Get("/attachments", h.handleListTemplates)
		r.Post("/attachments", h.handleUploadTemplate)
	})
}

type statusResponse struct {
	Status jobs.Status `json:"status"`
	RunID  string      `json:"runId,omitempty"`
	Error  string      `json:"error,omitempty"`
	*importer.Result
}

type submitRequest struct {
	Data        string `json:"data"`
	ContentType string `json:"contentType"`
	Encoding    string `json:"encoding"`
	Validate    *bool  `json:"validate"`
}

type runResponse struct {
	ID          string      `json:"id"`
	Status      jobs.Status `json:"status"`
	ActorID     int64       `json:"actorId"`
	ContentType string      `json:"contentType"`
	Validate    bool        `json:"validate"`
	Error       string      `json:"error,omitempty"`
	EnqueuedAt  time.Time   `json:"enqueuedAt"`
	StartedAt   *time.Time  `json:"startedAt,omitempty"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
}

type templateResponse struct {
	ID          int64     `json:"id"`
	Filename    string    `json:"fileName"`
	ContentType string    `json:"contentType"`
	Filesize    int64     `json:"fileSize"`
	Digest      string    `json:"digest"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	response, err := h.statusResponse(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to read import status", err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFromContext(r.Context())

	var req submitRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUploadSize)).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if _, err := h.parsers.ForContentType(req.ContentType); err != nil {
		writeError(w, r, http.StatusBadRequest, "Unsupported content type", err)
		return
	}
	data, err := decodeContent(req.Data, req.Encoding)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), err)
		return
	}

	validate := true
	if req.Validate != nil {
		validate = *req.Validate
	}

	_, err = h.runner.Submit(r.Context(), jobs.Submission{
		ActorID:     actor.ID,
		ContentType: req.ContentType,
		Data:        data,
		Validate:    validate,
	})
	if errors.Is(err, jobs.ErrRunInFlight) {
		writeError(w, r, http.StatusConflict, "An import is already in progress", err)
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to start import", err)
		return
	}

	response, err := h.statusResponse(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to read import status", err)
		return
	}
	writeJSON(w, http.StatusCreated, response)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)

	runs, err := h.runner.History(r.Context(), limit, offset)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to list import runs", err)
		return
	}
	response := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		response = append(response, runResponse{
			ID:          run.ID.String(),
			Status:      jobs.StatusOf(&run),
			ActorID:     run.ActorID,
			ContentType: run.ContentType,
			Validate:    run.Validate,
			Error:       run.Error,
			EnqueuedAt:  run.EnqueuedAt,
			StartedAt:   run.StartedAt,
			CompletedAt: run.CompletedAt,
		})
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *Handler) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.templates.ListTemplates(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to list attachments", err)
		return
	}
	response := make([]templateResponse, 0, len(templates))
	for _, template := range templates {
		response = append(response, toTemplateResponse(template))
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *Handler) handleUploadTemplate(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFromContext(r.Context())

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid form data", err)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "file required", err)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "failed to read file", err)
		return
	}

	attachment, err := h.templates.UploadTemplate(r.Context(), actor, header.Filename, data)
	if verr, ok := workitem.AsValidationError(err); ok {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"errors": verr.Messages})
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to store attachment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTemplateResponse(attachment))
}

func (h *Handler) statusResponse(ctx context.Context) (statusResponse, error) {
	snapshot, err := h.runner.Status(ctx)
	if err != nil {
		return statusResponse{}, err
	}
	response := statusResponse{Status: snapshot.Status, Result: snapshot.Result}
	if snapshot.Run != nil {
		response.RunID = snapshot.Run.ID.String()
		response.Error = snapshot.Run.Error
	}
	return response, nil
}

// decodeContent reverses the base64 transport encoding and converts the
// payload from the declared character set to UTF-8.
func decodeContent(encoded, charset string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(encoded), ""))
	if err != nil {
		return nil, errors.New("data is not valid base64")
	}
	if charset == "" {
		return data, nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, errors.New("unsupported encoding")
	}
	decoded, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return nil, errors.New("data does not match the declared encoding")
	}
	return decoded, nil
}

func toTemplateResponse(attachment domain.Attachment) templateResponse {
	return templateResponse{
		ID:          attachment.ID,
		Filename:    attachment.Filename,
		ContentType: attachment.ContentType,
		Filesize:    attachment.Filesize,
		Digest:      attachment.Digest,
		CreatedAt:   attachment.CreatedAt,
	}
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := auth.RequireAdmin(r.Context())
		switch {
		case errors.Is(err, auth.ErrUnauthenticated):
			writeError(w, r, http.StatusUnauthorized, err.Error(), nil)
			return
		case errors.Is(err, auth.ErrForbidden):
			writeError(w, r, http.StatusForbidden, err.Error(), nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string, err error) {
	entry := logging.FromContext(r.Context()).WithField("status", status)
	if err != nil {
		entry = entry.WithError(err)
	}
	if status >= http.StatusInternalServerError {
		entry.Error(message)
	} else {
		entry.Debug(message)
	}
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
