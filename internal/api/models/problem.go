package models

import (
	"encoding/json"
	"net/http"
)

// Problem is an RFC7807 error body, served as application/problem+json.
type Problem struct {
	Type     string       `json:"type"`
	Title    string       `json:"title"`
	Status   int          `json:"status"`
	Detail   string       `json:"detail,omitempty"`
	Instance string       `json:"instance,omitempty"`
	TraceID  string       `json:"traceId"`
	Errors   []FieldError `json:"errors,omitempty"`
}

// FieldError points at one invalid form field or parameter.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

const problemBase = "https://evacmap.dev/problems/"

// Problem types served by the API.
const (
	ProblemTypeValidation           = problemBase + "validation-error"
	ProblemTypeNotFound             = problemBase + "not-found"
	ProblemTypeMethodNotAllowed     = problemBase + "method-not-allowed"
	ProblemTypeUnsupportedMediaType = problemBase + "unsupported-media-type"
	ProblemTypeQueryInProgress      = problemBase + "query-in-progress"
	ProblemTypeTooManyRequests      = problemBase + "too-many-requests"
	ProblemTypeTLSRequired          = problemBase + "tls-required"
	ProblemTypeInternal             = problemBase + "internal-error"
	ProblemTypeUnavailable          = problemBase + "service-unavailable"
)

type problemKind struct {
	title  string
	status int
}

var catalogue = map[string]problemKind{
	ProblemTypeValidation:           {"Validation error", http.StatusBadRequest},
	ProblemTypeNotFound:             {"Not found", http.StatusNotFound},
	ProblemTypeMethodNotAllowed:     {"Method not allowed", http.StatusMethodNotAllowed},
	ProblemTypeUnsupportedMediaType: {"Unsupported media type", http.StatusUnsupportedMediaType},
	ProblemTypeQueryInProgress:      {"Query in progress", http.StatusConflict},
	ProblemTypeTooManyRequests:      {"Too many requests", http.StatusTooManyRequests},
	ProblemTypeTLSRequired:          {"TLS required", http.StatusForbidden},
	ProblemTypeInternal:             {"Internal server error", http.StatusInternalServerError},
	ProblemTypeUnavailable:          {"Service unavailable", http.StatusServiceUnavailable},
}

// ProblemTypes lists every registered problem type.
func ProblemTypes() []string {
	types := make([]string, 0, len(catalogue))
	for t := range catalogue {
		types = append(types, t)
	}
	return types
}

// NewProblem creates a problem with an explicit title and status.
func NewProblem(problemType, title string, status int, traceID string) *Problem {
	return &Problem{
		Type:    problemType,
		Title:   title,
		Status:  status,
		TraceID: traceID,
	}
}

// NewTyped creates a problem of a registered type. Unknown types are
// reported as internal errors so a typo never produces a 200.
func NewTyped(problemType, traceID, detail string) *Problem {
	kind, ok := catalogue[problemType]
	if !ok {
		problemType, kind = ProblemTypeInternal, catalogue[ProblemTypeInternal]
	}
	return NewProblem(problemType, kind.title, kind.status, traceID).WithDetail(detail)
}

// WithDetail sets the human-readable explanation.
func (p *Problem) WithDetail(detail string) *Problem {
	p.Detail = detail
	return p
}

// WithInstance sets the URI of the request that failed.
func (p *Problem) WithInstance(instance string) *Problem {
	p.Instance = instance
	return p
}

// WithErrors attaches per-field validation errors.
func (p *Problem) WithErrors(errors []FieldError) *Problem {
	p.Errors = errors
	return p
}

// Write sends the problem with its status code. The trace id is echoed as
// the request id header.
func (p *Problem) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/problem+json")
	if p.TraceID != "" {
		w.Header().Set("X-Request-Id", p.TraceID)
	}
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// NewBadRequest creates a new validation problem listing the invalid fields.
func NewBadRequest(traceID, detail string, errors []FieldError) *Problem {
	return NewTyped(ProblemTypeValidation, traceID, detail).WithErrors(errors)
}

// NewNotFound creates a new not-found problem.
func NewNotFound(traceID, detail string) *Problem {
	return NewTyped(ProblemTypeNotFound, traceID, detail)
}

// NewQueryInProgress is returned while the session's previous query is still computing.
func NewQueryInProgress(traceID, detail string) *Problem {
	return NewTyped(ProblemTypeQueryInProgress, traceID, detail)
}

// NewTooManyRequests creates a new rate-limit problem.
func NewTooManyRequests(traceID, detail string) *Problem {
	return NewTyped(ProblemTypeTooManyRequests, traceID, detail)
}

// NewInternalError creates a new internal error problem.
func NewInternalError(traceID, detail string) *Problem {
	return NewTyped(ProblemTypeInternal, traceID, detail)
}

// NewServiceUnavailable creates a new problem for an unreachable upstream.
func NewServiceUnavailable(traceID, detail string) *Problem {
	return NewTyped(ProblemTypeUnavailable, traceID, detail)
}
