package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/renderinc/helpdesk-search/internal/answer"
	"github.com/renderinc/helpdesk-search/internal/document"
	"github.com/renderinc/helpdesk-search/internal/llm"
	"github.com/renderinc/helpdesk-search/internal/lock"
	"github.com/renderinc/helpdesk-search/internal/storage"
)

// errInvalidRequest marks malformed input detected by a handler
var errInvalidRequest = errors.New("invalid request")

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// classify maps an error to a status and a message safe to show to clients
func classify(err error) (int, string) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, "request body too large"
	case errors.Is(err, errInvalidRequest), errors.Is(err, document.ErrInvalid):
		return http.StatusBadRequest, "invalid request"
	case errors.Is(err, answer.ErrEmptyQuestion):
		return http.StatusBadRequest, "question is required"
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, lock.ErrLocked):
		return http.StatusConflict, "a maintenance operation is already running"
	case errors.Is(err, llm.ErrProvider):
		return http.StatusBadGateway, "answer provider unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timed out"
	case errors.Is(err, storage.ErrUnavailable):
		return http.StatusInternalServerError, "document store unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// writeError logs the raw error and sends only the classified message
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := classify(err)
	entry := s.log.WithError(err).WithField("request_id", RequestID(r.Context()))
	if status >= http.StatusInternalServerError {
		entry.Error("Request error")
	} else {
		entry.Debug("Request rejected")
	}
	writeJSON(w, status, errorResponse{Error: msg, RequestID: RequestID(r.Context())})
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		return errors.Join(errInvalidRequest, err)
	}
	return nil
}
