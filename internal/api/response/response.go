// Package response writes JSON bodies and RFC7807 problems for the API handlers.
package response

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/evacmap/evacmap/internal/api/middleware"
	"github.com/evacmap/evacmap/internal/api/models"
)

// JSON encodes data and writes it with status. The body is encoded before
// the header goes out, so an unencodable value becomes a 500 problem instead
// of a truncated success.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	if id := middleware.GetRequestID(r.Context()); id != "" {
		w.Header().Set(middleware.RequestIDHeader, id)
	}

	var body bytes.Buffer
	if data != nil {
		if err := json.NewEncoder(&body).Encode(data); err != nil {
			InternalError(w, r, "response could not be encoded")
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body.Bytes())
}

// Error writes problem for the current request path.
func Error(w http.ResponseWriter, r *http.Request, problem *models.Problem) {
	problem.Instance = r.URL.Path
	problem.Write(w)
}

func typed(w http.ResponseWriter, r *http.Request, problemType, detail string) {
	Error(w, r, models.NewTyped(problemType, middleware.GetRequestID(r.Context()), detail))
}

// BadRequest reports invalid input, with one entry per offending field.
func BadRequest(w http.ResponseWriter, r *http.Request, detail string, errors []models.FieldError) {
	Error(w, r, models.NewBadRequest(middleware.GetRequestID(r.Context()), detail, errors))
}

// NotFound reports an unknown resource.
func NotFound(w http.ResponseWriter, r *http.Request, detail string) {
	typed(w, r, models.ProblemTypeNotFound, detail)
}

// QueryInProgress reports a submit that arrived while the session was busy.
func QueryInProgress(w http.ResponseWriter, r *http.Request, detail string) {
	typed(w, r, models.ProblemTypeQueryInProgress, detail)
}

// InternalError reports an unexpected failure. detail must not leak internals.
func InternalError(w http.ResponseWriter, r *http.Request, detail string) {
	typed(w, r, models.ProblemTypeInternal, detail)
}

// ServiceUnavailable reports that an upstream the request needs is down.
func ServiceUnavailable(w http.ResponseWriter, r *http.Request, detail string) {
	typed(w, r, models.ProblemTypeUnavailable, detail)
}
