package handler_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evacmap/evacmap/internal/api/handler"
	"github.com/evacmap/evacmap/internal/api/middleware"
	"github.com/evacmap/evacmap/internal/api/models"
	"github.com/evacmap/evacmap/internal/controller"
	"github.com/evacmap/evacmap/internal/evacuation"
	"github.com/evacmap/evacmap/internal/render"
)

const testSession = "test-session-0001"

// fixedProvider answers every query with the same result.
type fixedProvider struct {
	result *evacuation.Result
	err    error
}

func (p *fixedProvider) FindEvacuationPath(context.Context, evacuation.Query) (*evacuation.Result, error) {
	return p.result, p.err
}

func (p *fixedProvider) Name() string { return "fixed" }

// blockingProvider holds each query until released.
type blockingProvider struct {
	started chan struct{}
	release chan struct{}
	result  *evacuation.Result
}

func (p *blockingProvider) FindEvacuationPath(ctx context.Context, _ evacuation.Query) (*evacuation.Result, error) {
	p.started <- struct{}{}
	select {
	case <-p.release:
		return p.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *blockingProvider) Name() string { return "blocking" }

func pathResult() *evacuation.Result {
	return &evacuation.Result{
		Path: []evacuation.LatLng{
			{Lat: 48.116, Lng: -1.669},
			{Lat: 48.1175, Lng: -1.6601},
			{Lat: 48.119, Lng: -1.650},
		},
		FloodedZones: []evacuation.Polygon{
			{{Lat: 48.117, Lng: -1.664}, {Lat: 48.1185, Lng: -1.664}, {Lat: 48.1185, Lng: -1.661}},
		},
	}
}

type fixture struct {
	handler  *handler.EvacuationHandler
	sessions *controller.Sessions
}

func newFixture(t *testing.T, provider evacuation.Provider) *fixture {
	t.Helper()

	renderer, err := render.New(render.DefaultConfig())
	require.NoError(t, err)

	sessions := controller.NewSessions(controller.SessionsConfig{
		New: func() *controller.Controller {
			return controller.New(controller.Config{Provider: provider, Logger: zerolog.Nop()})
		},
		Logger: zerolog.Nop(),
	})
	t.Cleanup(sessions.Close)

	return &fixture{
		handler: handler.NewEvacuationHandler(handler.EvacuationHandlerConfig{
			Sessions:       sessions,
			Renderer:       renderer,
			QueryTimeout:   5 * time.Second,
			PresetsEnabled: true,
			Defaults:       controller.Form{Place: "Rennes, France"},
			Logger:         zerolog.Nop(),
		}),
		sessions: sessions,
	}
}

// serve runs h behind the session middleware with a fixed session id.
func serve(h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	req.Header.Set(middleware.SessionHeader, testSession)
	rec := httptest.NewRecorder()
	middleware.Session(false)(h).ServeHTTP(rec, req)
	return rec
}

func submit(f *fixture, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/evacuation-queries", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return serve(f.handler.SubmitQuery, req)
}

const validForm = `{
	"place": "Rennes, France",
	"origin": "48.11588, -1.66927",
	"destination": "48.11963, -1.65031",
	"networkType": "walk",
	"environment": {"waterLevel": 1.5}
}`

func decodeState(t *testing.T, rec *httptest.ResponseRecorder) controller.DisplayState {
	t.Helper()
	var state controller.DisplayState
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&state))
	return state
}

func TestSubmitQuery_Path(t *testing.T) {
	f := newFixture(t, &fixedProvider{result: pathResult()})

	rec := submit(f, validForm)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	state := decodeState(t, rec)
	assert.Len(t, state.Path, 3)
	assert.Len(t, state.FloodedZones, 1)
	assert.False(t, state.Busy)
	assert.False(t, state.NoPathFound)
	assert.Equal(t, uint64(1), state.Sequence)
}

func TestSubmitQuery_ProviderFailureIsNoPath(t *testing.T) {
	f := newFixture(t, &fixedProvider{err: evacuation.ErrProviderUnavailable})

	rec := submit(f, validForm)

	require.Equal(t, http.StatusOK, rec.Code)
	state := decodeState(t, rec)
	assert.True(t, state.NoPathFound)
	assert.Empty(t, state.Path)
}

func TestSubmitQuery_ValidationProblem(t *testing.T) {
	f := newFixture(t, &fixedProvider{result: pathResult()})

	rec := submit(f, `{"place": "", "origin": "north", "destination": "48.1, -1.6"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	var problem models.Problem
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&problem))
	assert.Equal(t, models.ProblemTypeValidation, problem.Type)
	assert.Equal(t, "/v1/evacuation-queries", problem.Instance)

	codes := map[string]string{}
	for _, fe := range problem.Errors {
		codes[fe.Field] = fe.Code
	}
	assert.Equal(t, controller.CodeRequired, codes["place"])
	assert.Equal(t, controller.CodeInvalidCoordinates, codes["origin"])
	assert.NotContains(t, codes, "destination")
}

func TestSubmitQuery_MalformedBody(t *testing.T) {
	f := newFixture(t, &fixedProvider{result: pathResult()})

	for name, body := range map[string]string{
		"not json":      `place=Rennes`,
		"unknown field": `{"place": "Rennes", "city": "Rennes"}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := submit(f, body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestSubmitQuery_BusyIsConflict(t *testing.T) {
	provider := &blockingProvider{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
		result:  pathResult(),
	}
	f := newFixture(t, provider)

	var wg sync.WaitGroup
	var first *httptest.ResponseRecorder
	wg.Add(1)
	go func() {
		defer wg.Done()
		first = submit(f, validForm)
	}()
	<-provider.started

	rec := submit(f, validForm)
	assert.Equal(t, http.StatusConflict, rec.Code)

	var problem models.Problem
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&problem))
	assert.Equal(t, models.ProblemTypeQueryInProgress, problem.Type)

	close(provider.release)
	wg.Wait()
	assert.Equal(t, http.StatusOK, first.Code)
}

func TestDisplayAndReset(t *testing.T) {
	f := newFixture(t, &fixedProvider{result: pathResult()})
	require.Equal(t, http.StatusOK, submit(f, validForm).Code)

	rec := serve(f.handler.Display, httptest.NewRequest(http.MethodGet, "/v1/display", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeState(t, rec).Path, 3)

	rec = serve(f.handler.ResetDisplay, httptest.NewRequest(http.MethodDelete, "/v1/display", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	state := decodeState(t, rec)
	assert.Empty(t, state.Path)
	assert.Equal(t, uint64(2), state.Sequence)
}

func TestDisplay_SessionsAreIsolated(t *testing.T) {
	f := newFixture(t, &fixedProvider{result: pathResult()})
	require.Equal(t, http.StatusOK, submit(f, validForm).Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/display", nil)
	req.Header.Set(middleware.SessionHeader, "other-session-0002")
	rec := httptest.NewRecorder()
	middleware.Session(false)(http.HandlerFunc(f.handler.Display)).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeState(t, rec).Path)
	assert.Equal(t, 2, f.sessions.Len())
}

func TestGeoJSON(t *testing.T) {
	f := newFixture(t, &fixedProvider{result: pathResult()})
	require.Equal(t, http.StatusOK, submit(f, validForm).Code)

	rec := serve(f.handler.GeoJSON, httptest.NewRequest(http.MethodGet, "/v1/display.geojson", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/geo+json", rec.Header().Get("Content-Type"))

	var fc struct {
		Type     string            `json:"type"`
		Features []json.RawMessage `json:"features"`
		Sequence uint64            `json:"sequence"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&fc))
	assert.Equal(t, "FeatureCollection", fc.Type)
	// zone, route, one waypoint and two endpoints
	assert.Len(t, fc.Features, 5)
	assert.Equal(t, uint64(1), fc.Sequence)
}

func TestSVG(t *testing.T) {
	f := newFixture(t, &fixedProvider{err: evacuation.ErrNoPathFound})
	require.Equal(t, http.StatusOK, submit(f, validForm).Code)

	rec := serve(f.handler.SVG, httptest.NewRequest(http.MethodGet, "/v1/display.svg", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/svg+xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "<svg")
	assert.Contains(t, rec.Body.String(), "Destination unreachable or flooded")
}

func TestPage(t *testing.T) {
	f := newFixture(t, &fixedProvider{})

	rec := serve(f.handler.Page, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, middleware.PageContentSecurityPolicy, rec.Header().Get("Content-Security-Policy"))
	assert.Contains(t, rec.Body.String(), `value="Rennes, France"`)
	assert.Contains(t, rec.Body.String(), `id="preset"`)
}

func TestParameters(t *testing.T) {
	f := newFixture(t, &fixedProvider{})

	rec := serve(f.handler.Parameters, httptest.NewRequest(http.MethodGet, "/v1/parameters", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body models.ParametersResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, evacuation.DefaultParameters(), body.Parameters)
	assert.Contains(t, body.NetworkTypes, evacuation.NetworkWalk)
}

func TestEvents_StreamsCurrentStateThenChanges(t *testing.T) {
	f := newFixture(t, &fixedProvider{result: pathResult()})
	srv := httptest.NewServer(middleware.Session(false)(http.HandlerFunc(f.handler.Events)))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set(middleware.SessionHeader, testSession)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)

	first := readEvent(t, reader)
	assert.Equal(t, uint64(0), first.Sequence)
	assert.Empty(t, first.Path)

	f.sessions.Get(testSession).Reset()

	second := readEvent(t, reader)
	assert.Equal(t, uint64(1), second.Sequence)

	cancel()
}

// readEvent reads one display event, skipping keep-alive comments.
func readEvent(t *testing.T, r *bufio.Reader) controller.DisplayState {
	t.Helper()

	var event string
	for {
		line, err := r.ReadBytes('\n')
		require.NoError(t, err)
		line = bytes.TrimRight(line, "\n")

		switch {
		case bytes.HasPrefix(line, []byte("event: ")):
			event = string(bytes.TrimPrefix(line, []byte("event: ")))
		case bytes.HasPrefix(line, []byte("data: ")):
			require.Equal(t, handler.DisplayEvent, event)
			var state controller.DisplayState
			require.NoError(t, json.Unmarshal(bytes.TrimPrefix(line, []byte("data: ")), &state))
			return state
		}
	}
}
