// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package overedit

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

const maxWriteBodyBytes = 64 << 10

// ClientAuthenticator extracts the user identity from HTTP requests
type ClientAuthenticator interface {
	GetUserID(r *http.Request) (string, error)
}

// HTTPHandlers provides HTTP handlers for the record API
type HTTPHandlers struct {
	service       *RecordService
	authenticator ClientAuthenticator
	logger        *slog.Logger
}

// NewHTTPHandlers creates a new instance of record handlers
func NewHTTPHandlers(service *RecordService, authenticator ClientAuthenticator, logger *slog.Logger) *HTTPHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandlers{
		service:       service,
		authenticator: authenticator,
		logger:        logger,
	}
}

// Routes registers the record API on a new mux.
func (h *HTTPHandlers) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.HandleHealth)
	mux.HandleFunc("GET /records/{id}", h.HandleGetRecord)
	mux.HandleFunc("POST /records/{id}/write", h.HandleWrite)
	return mux
}

// HandleHealth answers connectivity probes
func (h *HTTPHandlers) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"}, h.logger)
}

// HandleGetRecord returns the current record
func (h *HTTPHandlers) HandleGetRecord(w http.ResponseWriter, r *http.Request) {
	if _, err := h.authenticator.GetUserID(r); err != nil {
		h.writeError(w, http.StatusUnauthorized, ReasonAuthFailed, err.Error())
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		h.writeError(w, http.StatusBadRequest, ReasonInvalidRequest, "record id is required")
		return
	}

	rec, err := h.service.GetRecord(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, id)
		return
	}
	writeJSON(w, http.StatusOK, ToRecordResponse(rec), h.logger)
}

// HandleWrite applies a conditional write: 200 when accepted, 409 with the
// current record when the expected version is stale.
func (h *HTTPHandlers) HandleWrite(w http.ResponseWriter, r *http.Request) {
	userID, err := h.authenticator.GetUserID(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, ReasonAuthFailed, err.Error())
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		h.writeError(w, http.StatusBadRequest, ReasonInvalidRequest, "record id is required")
		return
	}

	var req WriteRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWriteBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, ReasonBadPayload, "failed to parse write request")
		return
	}

	resp, err := h.service.ProcessWrite(r.Context(), userID, id, &req)
	if err != nil {
		h.writeServiceError(w, err, id)
		return
	}

	status := http.StatusOK
	if resp.Status == StRejected {
		status = http.StatusConflict
	}
	writeJSON(w, status, resp, h.logger)
}

func (h *HTTPHandlers) writeServiceError(w http.ResponseWriter, err error, id string) {
	switch {
	case errors.Is(err, ErrBadPayload):
		h.writeError(w, http.StatusBadRequest, ReasonBadPayload, err.Error())
	case errors.Is(err, ErrRecordNotFound):
		h.writeError(w, http.StatusNotFound, ReasonNotFound, "record not found")
	case errors.Is(err, ErrServiceClosed):
		h.writeError(w, http.StatusServiceUnavailable, ReasonInternalError, "service unavailable")
	default:
		h.logger.Error("Record request failed", "error", err, "record_id", id)
		h.writeError(w, http.StatusInternalServerError, ReasonInternalError, "internal error")
	}
}

// writeError writes a standardized error response
func (h *HTTPHandlers) writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	writeJSONError(w, statusCode, errorCode, message)
	h.logger.Debug("HTTP error response",
		"status_code", statusCode,
		"error_code", errorCode,
		"message", message)
}

func writeJSONError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: errorCode, Message: message})
}

func writeJSON(w http.ResponseWriter, statusCode int, body any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}
