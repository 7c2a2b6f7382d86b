package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/evacmap/evacmap/internal/api/models"
	"github.com/evacmap/evacmap/internal/api/response"
	"github.com/evacmap/evacmap/internal/controller"
	"github.com/evacmap/evacmap/internal/evacuation"
	"github.com/evacmap/evacmap/internal/weather"
)

// PresetService suggests environmental values from current weather.
type PresetService interface {
	Preset(ctx context.Context, loc evacuation.LatLng, params evacuation.ParameterSet) (*weather.Preset, error)
}

// PresetHandler handles weather preset requests.
type PresetHandler struct {
	service PresetService
	params  evacuation.ParameterSet
	logger  zerolog.Logger
}

// NewPresetHandler creates a new PresetHandler. A nil service answers 503.
func NewPresetHandler(service PresetService, params evacuation.ParameterSet, logger zerolog.Logger) *PresetHandler {
	if len(params) == 0 {
		params = evacuation.DefaultParameters()
	}
	return &PresetHandler{service: service, params: params, logger: logger}
}

// WeatherPreset handles GET /v1/presets/weather?location=lat,lng.
func (h *PresetHandler) WeatherPreset(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		response.ServiceUnavailable(w, r, "weather presets are not configured")
		return
	}

	raw := r.URL.Query().Get("location")
	loc, err := evacuation.ParseCoordinate(raw)
	if err != nil {
		response.BadRequest(w, r, "invalid location", []models.FieldError{{
			Field:   "location",
			Message: err.Error(),
			Code:    controller.CodeInvalidCoordinates,
		}})
		return
	}

	preset, err := h.service.Preset(r.Context(), loc, h.params)
	switch {
	case errors.Is(err, evacuation.ErrInvalidCoordinates):
		response.BadRequest(w, r, err.Error(), nil)
		return
	case errors.Is(err, weather.ErrNotConfigured):
		h.logger.Warn().Err(err).Msg("weather provider rejected credentials")
		response.ServiceUnavailable(w, r, "weather presets are not configured")
		return
	case err != nil:
		h.logger.Warn().Err(err).Str("location", evacuation.FormatCoordinate(loc)).Msg("weather preset failed")
		response.ServiceUnavailable(w, r, "weather data is temporarily unavailable")
		return
	}

	response.JSON(w, r, http.StatusOK, models.WeatherPresetResponse{
		Location:    loc,
		Environment: preset.Environment,
		Condition:   preset.Condition,
		Description: preset.Description,
		ObservedAt:  models.Timestamp(preset.ObservedAt),
		Source:      preset.Source,
	})
}
