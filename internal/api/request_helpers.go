package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/maintenance-orchestrator/internal/api/shared"
	"github.com/phrazzld/maintenance-orchestrator/internal/domain"
	"github.com/phrazzld/maintenance-orchestrator/internal/platform/logger"
)

// maxListLimit caps the limit query parameter of list endpoints.
const maxListLimit = 500

// getPathID extracts a positive workflow ID from the URL path parameters.
func getPathID(r *http.Request, paramName string) (int64, error) {
	raw := chi.URLParam(r, paramName)
	if raw == "" {
		return 0, fmt.Errorf("%w: %s is required", domain.ErrValidation, paramName)
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %s has invalid format", domain.ErrValidation, paramName)
	}
	return id, nil
}

// getQueryLimit reads the limit query parameter. A missing limit yields 0,
// which callers treat as their default.
func getQueryLimit(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, fmt.Errorf("%w: limit must be a non-negative integer", domain.ErrValidation)
	}
	return min(limit, maxListLimit), nil
}

// decodeAndValidate decodes a JSON body into req and validates it, writing
// the error response itself when either step fails.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, req any) bool {
	if err := shared.DecodeJSON(w, r, req); err != nil {
		if errors.Is(err, shared.ErrBodyTooLarge) {
			HandleAPIError(w, r, err, "")
			return false
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return false
	}
	if err := shared.ValidateRequest(req); err != nil {
		HandleAPIError(w, r, err, "")
		return false
	}
	return true
}

// handlePathID extracts the {id} path parameter, writing a 400 response when
// it is missing or malformed.
func handlePathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := getPathID(r, "id")
	if err != nil {
		logger.FromContextOrDefault(r.Context(), slog.Default()).
			Debug("invalid workflow id", slog.String("value", chi.URLParam(r, "id")))
		HandleAPIError(w, r, err, "")
		return 0, false
	}
	return id, true
}
