package models_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evacmap/evacmap/internal/api/models"
)

func TestNewTyped_Catalogue(t *testing.T) {
	tests := []struct {
		typ    string
		title  string
		status int
	}{
		{models.ProblemTypeValidation, "Validation error", http.StatusBadRequest},
		{models.ProblemTypeNotFound, "Not found", http.StatusNotFound},
		{models.ProblemTypeMethodNotAllowed, "Method not allowed", http.StatusMethodNotAllowed},
		{models.ProblemTypeUnsupportedMediaType, "Unsupported media type", http.StatusUnsupportedMediaType},
		{models.ProblemTypeQueryInProgress, "Query in progress", http.StatusConflict},
		{models.ProblemTypeTooManyRequests, "Too many requests", http.StatusTooManyRequests},
		{models.ProblemTypeTLSRequired, "TLS required", http.StatusForbidden},
		{models.ProblemTypeInternal, "Internal server error", http.StatusInternalServerError},
		{models.ProblemTypeUnavailable, "Service unavailable", http.StatusServiceUnavailable},
	}
	require.Len(t, models.ProblemTypes(), len(tests), "every registered type is covered")

	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			p := models.NewTyped(tt.typ, "req_abc", "detail")

			assert.Equal(t, tt.typ, p.Type)
			assert.Equal(t, tt.title, p.Title)
			assert.Equal(t, tt.status, p.Status)
			assert.Equal(t, "req_abc", p.TraceID)
			assert.Equal(t, "detail", p.Detail)
			assert.Regexp(t, `^https://evacmap\.dev/problems/[a-z-]+$`, p.Type)
		})
	}
}

func TestNewTyped_UnknownTypeIsInternal(t *testing.T) {
	p := models.NewTyped("https://evacmap.dev/problems/typo", "req_abc", "boom")

	assert.Equal(t, models.ProblemTypeInternal, p.Type)
	assert.Equal(t, http.StatusInternalServerError, p.Status)
	assert.Equal(t, "boom", p.Detail)
}

func TestConstructors(t *testing.T) {
	fields := []models.FieldError{{Field: "origin", Message: "not a coordinate pair", Code: "INVALID_COORDINATES"}}

	assert.Equal(t, fields, models.NewBadRequest("t", "invalid form", fields).Errors)
	assert.Equal(t, http.StatusNotFound, models.NewNotFound("t", "").Status)
	assert.Equal(t, http.StatusConflict, models.NewQueryInProgress("t", "").Status)
	assert.Equal(t, http.StatusTooManyRequests, models.NewTooManyRequests("t", "").Status)
	assert.Equal(t, http.StatusInternalServerError, models.NewInternalError("t", "").Status)
	assert.Equal(t, http.StatusServiceUnavailable, models.NewServiceUnavailable("t", "").Status)
}

func TestProblem_Write(t *testing.T) {
	p := models.NewBadRequest("req_abc", "invalid form", []models.FieldError{
		{Field: "waterLevel", Message: "must be between 0 and 10", Code: "OUT_OF_RANGE"},
	}).WithInstance("/v1/evacuation-queries")

	rec := httptest.NewRecorder()
	p.Write(rec)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "req_abc", rec.Header().Get("X-Request-Id"))
	assert.JSONEq(t, `{
		"type": "https://evacmap.dev/problems/validation-error",
		"title": "Validation error",
		"status": 400,
		"detail": "invalid form",
		"instance": "/v1/evacuation-queries",
		"traceId": "req_abc",
		"errors": [{"field": "waterLevel", "message": "must be between 0 and 10", "code": "OUT_OF_RANGE"}]
	}`, rec.Body.String())
}

func TestProblem_WriteWithoutTraceID(t *testing.T) {
	rec := httptest.NewRecorder()
	models.NewInternalError("", "").Write(rec)

	assert.Empty(t, rec.Header().Get("X-Request-Id"))
	assert.NotContains(t, rec.Body.String(), "detail")
}

func TestTimestamp_JSON(t *testing.T) {
	in := models.Timestamp(time.Date(2024, 1, 10, 13, 0, 0, 0, time.FixedZone("CET", 3600)))

	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Equal(t, `"2024-01-10T12:00:00Z"`, string(data))

	var out models.Timestamp
	require.NoError(t, json.Unmarshal(data, &out))
	assert.True(t, in.Time().Equal(out.Time()))

	assert.Error(t, json.Unmarshal([]byte(`12`), &out))
}
