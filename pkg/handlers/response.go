package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tabularhq/merge-engine/pkg/apperrors"
)

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// ServiceError maps service layer errors onto HTTP responses.
func ServiceError(w http.ResponseWriter, err error) error {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return ErrorResponse(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, apperrors.ErrMergeInProgress):
		return ErrorResponse(w, http.StatusConflict, "merge_in_progress", err.Error())
	case errors.Is(err, apperrors.ErrConflict):
		return ErrorResponse(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, apperrors.ErrInvalidStateTransition):
		return ErrorResponse(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, apperrors.ErrDisconnectedFile):
		return ErrorResponse(w, http.StatusUnprocessableEntity, "disconnected_file", err.Error())
	case errors.Is(err, apperrors.ErrInvalidColumn):
		return ErrorResponse(w, http.StatusUnprocessableEntity, "invalid_column", err.Error())
	case errors.Is(err, apperrors.ErrMergeCapacity):
		return ErrorResponse(w, http.StatusUnprocessableEntity, "merge_capacity", err.Error())
	case errors.Is(err, apperrors.ErrEmptyFile), errors.Is(err, apperrors.ErrIngest):
		return ErrorResponse(w, http.StatusUnprocessableEntity, "ingest_failed", err.Error())
	default:
		return ErrorResponse(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
