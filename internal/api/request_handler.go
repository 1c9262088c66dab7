package api

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/phrazzld/maintenance-orchestrator/internal/api/shared"
	"github.com/phrazzld/maintenance-orchestrator/internal/domain"
	"github.com/phrazzld/maintenance-orchestrator/internal/orchestrator"
	"github.com/phrazzld/maintenance-orchestrator/internal/platform/logger"
)

// WorkflowIDHeader names the workflow a failed request left behind, so the
// caller can inspect or retry it.
const WorkflowIDHeader = "X-Workflow-ID"

// maxPhotoBytes bounds decoded photo uploads.
const maxPhotoBytes = 10 << 20

// Processor is the part of the orchestrator the request endpoints drive.
type Processor interface {
	ProcessRequest(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
	AnalyzePhoto(ctx context.Context, req orchestrator.PhotoRequest) (*orchestrator.PhotoResult, error)
	Retry(ctx context.Context, id int64) error
}

// RequestHandler accepts user requests and photos.
type RequestHandler struct {
	processor Processor
	logger    *slog.Logger
}

// NewRequestHandler creates a RequestHandler.
func NewRequestHandler(processor Processor, logger *slog.Logger) *RequestHandler {
	return &RequestHandler{
		processor: processor,
		logger:    logger.With(slog.String("component", "request_handler")),
	}
}

// ProcessRequest handles POST /api/requests.
func (h *RequestHandler) ProcessRequest(w http.ResponseWriter, r *http.Request) {
	var req ProcessRequestBody
	if !decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.processor.ProcessRequest(r.Context(), orchestrator.Request{
		UserID:      req.UserID,
		Input:       req.Input,
		Destination: req.Destination,
	})
	if err != nil {
		h.respondFailure(w, r, err, "Failed to process request")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, result)
}

// AnalyzePhoto handles POST /api/photos. The photo arrives either as a JSON
// body with base64 data or as a multipart form with a "photo" file part.
func (h *RequestHandler) AnalyzePhoto(w http.ResponseWriter, r *http.Request) {
	var (
		req orchestrator.PhotoRequest
		ok  bool
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		req, ok = h.readMultipartPhoto(w, r)
	} else {
		req, ok = h.readJSONPhoto(w, r)
	}
	if !ok {
		return
	}

	result, err := h.processor.AnalyzePhoto(r.Context(), req)
	if err != nil {
		h.respondFailure(w, r, err, "Failed to analyze photo")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, result)
}

func (h *RequestHandler) readJSONPhoto(w http.ResponseWriter, r *http.Request) (orchestrator.PhotoRequest, bool) {
	var body PhotoRequestBody
	if !decodeAndValidate(w, r, &body) {
		return orchestrator.PhotoRequest{}, false
	}

	data, err := base64.StdEncoding.DecodeString(body.Data)
	if err != nil {
		HandleAPIError(w, r, fmt.Errorf("%w: data is not base64", domain.ErrValidation), "")
		return orchestrator.PhotoRequest{}, false
	}
	if len(data) > maxPhotoBytes {
		HandleAPIError(w, r, shared.ErrBodyTooLarge, "")
		return orchestrator.PhotoRequest{}, false
	}

	return photoRequest(body.PhotoFields, data), true
}

func (h *RequestHandler) readMultipartPhoto(w http.ResponseWriter, r *http.Request) (orchestrator.PhotoRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPhotoBytes+1<<20)
	if err := r.ParseMultipartForm(maxPhotoBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			HandleAPIError(w, r, shared.ErrBodyTooLarge, "")
			return orchestrator.PhotoRequest{}, false
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid multipart form", err)
		return orchestrator.PhotoRequest{}, false
	}

	file, header, err := r.FormFile("photo")
	if err != nil {
		HandleAPIError(w, r, fmt.Errorf("%w: photo file is required", domain.ErrValidation), "")
		return orchestrator.PhotoRequest{}, false
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(io.LimitReader(file, maxPhotoBytes+1))
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid multipart form", err)
		return orchestrator.PhotoRequest{}, false
	}
	if len(data) > maxPhotoBytes {
		HandleAPIError(w, r, shared.ErrBodyTooLarge, "")
		return orchestrator.PhotoRequest{}, false
	}

	fields := PhotoFields{
		UserID:      r.FormValue("user_id"),
		MIMEType:    r.FormValue("mime_type"),
		Caption:     r.FormValue("caption"),
		Destination: r.FormValue("destination"),
	}
	if fields.MIMEType == "" {
		fields.MIMEType = header.Header.Get("Content-Type")
	}
	if fields.MIMEType == "" || fields.MIMEType == "application/octet-stream" {
		fields.MIMEType, _, _ = mime.ParseMediaType(http.DetectContentType(data))
	}
	if err := shared.ValidateRequest(fields); err != nil {
		HandleAPIError(w, r, err, "")
		return orchestrator.PhotoRequest{}, false
	}

	return photoRequest(fields, data), true
}

// respondFailure writes an orchestrator error, exposing the failed workflow's
// ID in a header when one was created.
func (h *RequestHandler) respondFailure(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var reqErr *orchestrator.RequestError
	if errors.As(err, &reqErr) {
		w.Header().Set(WorkflowIDHeader, strconv.FormatInt(reqErr.WorkflowID, 10))
		logger.FromContextOrDefault(r.Context(), h.logger).Warn("request workflow failed",
			slog.Int64("workflow_id", reqErr.WorkflowID))
	}
	HandleAPIError(w, r, err, fallback)
}

func photoRequest(fields PhotoFields, data []byte) orchestrator.PhotoRequest {
	return orchestrator.PhotoRequest{
		UserID:      fields.UserID,
		Data:        data,
		MIMEType:    fields.MIMEType,
		Caption:     fields.Caption,
		Destination: fields.Destination,
	}
}
