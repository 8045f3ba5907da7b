package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"jobmail-hq/governor/pkg/actions"
	"jobmail-hq/governor/pkg/evidence"
	"jobmail-hq/governor/pkg/policy"
	"jobmail-hq/governor/pkg/signing"
	"jobmail-hq/governor/pkg/telemetry/logging"
)

// errorBody is the JSON error envelope.
type errorBody struct {
	Error     errorDetail `json:"error"`
	RequestID string      `json:"request_id,omitempty"`
}

type errorDetail struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
	Reason  string   `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeErrorMessage(w http.ResponseWriter, r *http.Request, code int, errCode, msg string) {
	writeJSON(w, code, errorBody{
		Error:     errorDetail{Code: errCode, Message: msg},
		RequestID: logging.GetRequestID(r.Context()),
	})
}

// writeError maps the engine error taxonomy onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, detail := classify(err)
	if code >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, code, errorBody{Error: detail, RequestID: logging.GetRequestID(r.Context())})
}

func classify(err error) (int, errorDetail) {
	var (
		verr     *policy.ValidationError
		nferr    *policy.NotFoundError
		cerr     *policy.ConflictError
		nperr    *actions.NotPendingError
		ierr     *signing.ImportError
		rberr    *policy.RollbackError
		qerr     *evidence.QueryError
		maxBytes *http.MaxBytesError
	)
	switch {
	case errors.As(err, &ierr):
		return http.StatusUnprocessableEntity, errorDetail{Code: "import_rejected", Message: err.Error(), Reason: string(ierr.Reason)}
	case errors.As(err, &verr):
		return http.StatusBadRequest, errorDetail{Code: "validation_failed", Message: err.Error(), Details: verr.Errors}
	case errors.As(err, &qerr):
		return http.StatusBadRequest, errorDetail{Code: "invalid_query", Message: err.Error()}
	case errors.As(err, &nferr), errors.Is(err, evidence.ErrRecordNotFound):
		return http.StatusNotFound, errorDetail{Code: "not_found", Message: err.Error()}
	case errors.As(err, &cerr):
		return http.StatusConflict, errorDetail{Code: "conflict", Message: err.Error()}
	case errors.As(err, &nperr):
		return http.StatusConflict, errorDetail{Code: "not_pending", Message: err.Error()}
	case errors.As(err, &rberr):
		return http.StatusServiceUnavailable, errorDetail{Code: "rollback_failed", Message: err.Error()}
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, errorDetail{Code: "body_too_large", Message: err.Error()}
	}
	return http.StatusInternalServerError, errorDetail{Code: "internal", Message: err.Error()}
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		return policy.NewValidationError("request", fmt.Sprintf("invalid JSON body: %v", err), err)
	}
	return nil
}

// intParam parses an optional non-negative integer query parameter.
func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, policy.NewValidationError("request", fmt.Sprintf("%s must be a non-negative integer", name), err)
	}
	return n, nil
}
