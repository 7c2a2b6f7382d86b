package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evacmap/evacmap/internal/api/middleware"
	"github.com/evacmap/evacmap/internal/api/models"
)

func TestRequireJSON(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		contentType string
		want        int
	}{
		{"json", `{}`, "application/json", http.StatusOK},
		{"json with charset", `{}`, "application/json; charset=utf-8", http.StatusOK},
		{"upper case", `{}`, "Application/JSON", http.StatusOK},
		{"no body no type", "", "", http.StatusOK},
		{"form", "place=Rennes", "application/x-www-form-urlencoded", http.StatusUnsupportedMediaType},
		{"body without type", `{}`, "", http.StatusUnsupportedMediaType},
		{"json prefix lookalike", `{}`, "application/jsonp", http.StatusUnsupportedMediaType},
		{"malformed", `{}`, "application/json; =", http.StatusUnsupportedMediaType},
	}

	handler := middleware.RequireJSON(okHandler())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/evacuation-queries", strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			require.Equal(t, tt.want, rec.Code)
			if tt.want != http.StatusUnsupportedMediaType {
				return
			}
			var problem models.Problem
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
			assert.Equal(t, models.ProblemTypeUnsupportedMediaType, problem.Type)
			assert.Equal(t, "/v1/evacuation-queries", problem.Instance)
		})
	}
}

func TestContentTypeJSON_KeepsHandlerType(t *testing.T) {
	svg := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/svg+xml")
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/display.svg", http.NoBody)
	middleware.ContentTypeJSON(svg).ServeHTTP(rec, req)
	assert.Equal(t, "image/svg+xml", rec.Header().Get("Content-Type"))

	rec = httptest.NewRecorder()
	middleware.ContentTypeJSON(okHandler()).ServeHTTP(rec, req)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}
