package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"rossoflix/internal/upstream"
	"rossoflix/models"
)

// Codes that do not originate from a component error.
const (
	CodeNotFound         = "not_found"
	CodeMethodNotAllowed = "method_not_allowed"
	CodeTooManyRequests  = "too_many_requests"
	CodeInternal         = "internal"
)

// classifyError maps a component error onto a status and the envelope code.
func classifyError(err error) (int, string) {
	kind := upstream.KindOf(err)
	switch kind {
	case upstream.KindTimeout:
		return http.StatusGatewayTimeout, kind.String()
	case upstream.KindRateLimited:
		return http.StatusServiceUnavailable, kind.String()
	case upstream.KindMalformed, upstream.KindUnavailable, upstream.KindSourceUnavailable:
		return http.StatusBadGateway, kind.String()
	case upstream.KindNotFound:
		return http.StatusNotFound, kind.String()
	case upstream.KindRangeNotSatisfiable:
		return http.StatusRequestedRangeNotSatisfiable, kind.String()
	case upstream.KindBadRequest:
		return http.StatusBadRequest, kind.String()
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode response: %v", err)
	}
}

// WriteErrorCode writes the error envelope with an explicit status and code.
func WriteErrorCode(w http.ResponseWriter, status int, code, msg string) {
	WriteJSON(w, status, models.ErrorResponse{Error: msg, Code: code})
}

// writeError classifies err and writes the envelope. Internal errors are
// logged and not echoed back.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classifyError(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		if errors.Is(err, context.Canceled) {
			log.Printf("[api] %s %s: client went away", r.Method, r.URL.Path)
		} else {
			log.Printf("[api] %s %s: %v", r.Method, r.URL.Path, err)
		}
		msg = "internal error"
	}
	WriteErrorCode(w, status, code, msg)
}
