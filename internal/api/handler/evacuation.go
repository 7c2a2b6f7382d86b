package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/evacmap/evacmap/internal/api/middleware"
	"github.com/evacmap/evacmap/internal/api/models"
	"github.com/evacmap/evacmap/internal/api/response"
	"github.com/evacmap/evacmap/internal/controller"
	"github.com/evacmap/evacmap/internal/evacuation"
	"github.com/evacmap/evacmap/internal/render"
)

const (
	maxFormBytes = 64 << 10

	// DisplayEvent is the server-sent event name carrying a display state.
	DisplayEvent = "display"
)

// EvacuationHandlerConfig holds the dependencies of an EvacuationHandler.
type EvacuationHandlerConfig struct {
	Sessions   *controller.Sessions
	Renderer   *render.Renderer
	Parameters evacuation.ParameterSet

	// QueryTimeout bounds a query once it is detached from the request (default: 90s).
	QueryTimeout time.Duration

	// Defaults prefill the form of the map page.
	Defaults controller.Form

	// PresetsEnabled shows the weather preset button on the map page.
	PresetsEnabled bool

	// Heartbeat is the keep-alive interval of event streams (default: 25s).
	Heartbeat time.Duration

	// Clock drives heartbeats (default: real clock).
	Clock clockwork.Clock

	Logger zerolog.Logger
}

// EvacuationHandler serves the map page and drives the caller's session controller.
type EvacuationHandler struct {
	sessions       *controller.Sessions
	renderer       *render.Renderer
	params         evacuation.ParameterSet
	queryTimeout   time.Duration
	defaults       controller.Form
	presetsEnabled bool
	heartbeat      time.Duration
	clock          clockwork.Clock
	logger         zerolog.Logger
}

// NewEvacuationHandler creates a new EvacuationHandler.
func NewEvacuationHandler(cfg EvacuationHandlerConfig) *EvacuationHandler {
	params := cfg.Parameters
	if len(params) == 0 {
		params = evacuation.DefaultParameters()
	}
	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	heartbeat := cfg.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &EvacuationHandler{
		sessions:       cfg.Sessions,
		renderer:       cfg.Renderer,
		params:         params,
		queryTimeout:   timeout,
		defaults:       cfg.Defaults,
		presetsEnabled: cfg.PresetsEnabled,
		heartbeat:      heartbeat,
		clock:          clock,
		logger:         cfg.Logger,
	}
}

func (h *EvacuationHandler) session(r *http.Request) *controller.Controller {
	return h.sessions.Get(middleware.GetSessionID(r.Context()))
}

// Page handles GET / - the interactive map page.
func (h *EvacuationHandler) Page(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	err := h.renderer.Page(&buf, render.PageData{
		Parameters:     h.params,
		Defaults:       h.defaults,
		PresetsEnabled: h.presetsEnabled,
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to render map page")
		response.InternalError(w, r, "failed to render map page")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Security-Policy", middleware.PageContentSecurityPolicy)
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// Parameters handles GET /v1/parameters - slider ranges and network types.
func (h *EvacuationHandler) Parameters(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.ParametersResponse{
		Parameters: h.params,
		NetworkTypes: []evacuation.NetworkType{
			evacuation.NetworkDrive,
			evacuation.NetworkWalk,
			evacuation.NetworkBike,
			evacuation.NetworkAll,
		},
	})
}

// SubmitQuery handles POST /v1/evacuation-queries.
//
// The query runs detached from the request context: a caller that goes away
// does not cancel it, and its result still reaches the session's display state.
func (h *EvacuationHandler) SubmitQuery(w http.ResponseWriter, r *http.Request) {
	var form controller.Form
	dec := json.NewDecoder(io.LimitReader(r.Body, maxFormBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&form); err != nil {
		response.BadRequest(w, r, "request body must be a JSON query form", nil)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.queryTimeout)
	defer cancel()

	state, err := h.session(r).Submit(ctx, form)

	var verr *controller.ValidationError
	switch {
	case errors.Is(err, controller.ErrBusy):
		response.QueryInProgress(w, r, err.Error())
	case errors.As(err, &verr):
		response.BadRequest(w, r, verr.Error(), fieldErrors(verr))
	case err != nil:
		h.logger.Error().Err(err).Msg("evacuation query failed")
		response.InternalError(w, r, "evacuation query failed")
	default:
		response.JSON(w, r, http.StatusOK, state)
	}
}

func fieldErrors(verr *controller.ValidationError) []models.FieldError {
	out := make([]models.FieldError, 0, len(verr.Fields))
	for _, f := range verr.Fields {
		out = append(out, models.FieldError{Field: f.Field, Message: f.Message, Code: f.Code})
	}
	return out
}

// Display handles GET /v1/display.
func (h *EvacuationHandler) Display(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, h.session(r).Snapshot())
}

// ResetDisplay handles DELETE /v1/display.
func (h *EvacuationHandler) ResetDisplay(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, h.session(r).Reset())
}

// GeoJSON handles GET /v1/display.geojson.
func (h *EvacuationHandler) GeoJSON(w http.ResponseWriter, r *http.Request) {
	data, err := h.renderer.GeoJSON(h.session(r).Snapshot()).MarshalJSON()
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to encode geojson")
		response.InternalError(w, r, "failed to render display state")
		return
	}

	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// SVG handles GET /v1/display.svg.
func (h *EvacuationHandler) SVG(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := h.renderer.SVG(&buf, h.session(r).Snapshot()); err != nil {
		h.logger.Error().Err(err).Msg("failed to render svg")
		response.InternalError(w, r, "failed to render display state")
		return
	}

	w.Header().Set("Content-Type", "image/svg+xml")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// Events handles GET /v1/display/events - a server-sent event per display change.
// The current state is sent first. Slow readers only see the latest state.
func (h *EvacuationHandler) Events(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	// Streams outlive the server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	states, cancel := h.session(r).Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	ticker := h.clock.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case state, ok := <-states:
			if !ok {
				return
			}
			if err := writeEvent(w, DisplayEvent, state); err != nil {
				h.logger.Debug().Err(err).Msg("event stream write failed")
				return
			}
		case <-ticker.Chan():
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			h.logger.Debug().Err(err).Msg("event stream flush failed")
			return
		}
	}
}

func writeEvent(w io.Writer, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	return err
}
