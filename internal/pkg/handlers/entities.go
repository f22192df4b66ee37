package handlers

import (
	"net/http"

	"github.com/go-openapi/errors"
	"github.com/go-openapi/strfmt"
	"github.com/go-openapi/swag"
	"github.com/go-openapi/validate"
	"github.com/gorilla/mux"

	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/entities"
	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/logging"
)

const (
	ServicePresetMode  = "preset_mode"
	ServiceTemperature = "temperature"
	ServiceHVACMode    = "hvac_mode"
)

type EntitiesHandler struct {
	rt Runtime
}

func NewEntitiesHandler(rt Runtime) *EntitiesHandler {
	return &EntitiesHandler{rt: rt}
}

type presetModeRequest struct {
	PresetMode *string `json:"preset_mode"`
}

func (m *presetModeRequest) Validate(formats strfmt.Registry) error {
	if err := validate.Required("preset_mode", "body", m.PresetMode); err != nil {
		return err
	}
	return nil
}

type temperatureRequest struct {
	Temperature *float64 `json:"temperature"`
}

func (m *temperatureRequest) Validate(formats strfmt.Registry) error {
	if err := validate.Required("temperature", "body", m.Temperature); err != nil {
		return err
	}
	return nil
}

type hvacModeRequest struct {
	HVACMode *string `json:"hvac_mode"`
}

func (m *hvacModeRequest) Validate(formats strfmt.Registry) error {
	var res []error

	if err := validate.Required("hvac_mode", "body", m.HVACMode); err != nil {
		res = append(res, err)
	} else if err := validate.Enum("hvac_mode", "body", swag.StringValue(m.HVACMode),
		[]interface{}{string(entities.HVACModeHeat), string(entities.HVACModeAuto)}); err != nil {
		res = append(res, err)
	}

	if len(res) > 0 {
		return errors.CompositeValidationError(res...)
	}
	return nil
}

func (h *EntitiesHandler) List(w http.ResponseWriter, r *http.Request) {
	platform := entities.Platform(r.URL.Query().Get("platform"))

	states := []entities.State{}
	for _, e := range h.rt.Entities() {
		if platform != "" && e.Platform() != platform {
			continue
		}
		states = append(states, e.State())
	}

	sendJSONResponse(w, r, http.StatusOK, states)
}

func (h *EntitiesHandler) Get(w http.ResponseWriter, r *http.Request) {
	e, err := h.rt.Entity(mux.Vars(r)["unique_id"])
	if err != nil {
		sendErrorResponse(w, r, err)
		return
	}

	sendJSONResponse(w, r, http.StatusOK, e.State())
}

// ServeHTTP handles the service calls against a climate entity.  The response
// carries the state read after the post-write refresh.
func (h *EntitiesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ctxLogger := logging.Logger(r.Context())

	e, err := h.rt.Entity(vars["unique_id"])
	if err != nil {
		sendErrorResponse(w, r, err)
		return
	}

	climate, ok := e.(*entities.Climate)
	if !ok {
		sendJSONResponse(w, r, http.StatusBadRequest, errorResponse{
			Code:    http.StatusBadRequest,
			Message: "entity " + e.UniqueID() + " is a " + string(e.Platform()) + " and takes no commands",
		})
		return
	}

	switch service := vars["service"]; service {
	case ServicePresetMode:
		var req presetModeRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}
		err = climate.SetPresetMode(r.Context(), swag.StringValue(req.PresetMode))

	case ServiceTemperature:
		var req temperatureRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}
		err = climate.SetTemperature(r.Context(), swag.Float64Value(req.Temperature))

	case ServiceHVACMode:
		var req hvacModeRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}
		err = climate.SetHVACMode(r.Context(), entities.HVACMode(swag.StringValue(req.HVACMode)))

	default:
		ctxLogger.Errorf("unsupported service: %s", service)
		sendJSONResponse(w, r, http.StatusNotFound, errorResponse{
			Code:    http.StatusNotFound,
			Message: "unknown service " + service,
		})
		return
	}

	if err != nil {
		sendErrorResponse(w, r, err)
		return
	}

	ctxLogger.Infof("%s called on %s", vars["service"], climate.UniqueID())
	sendJSONResponse(w, r, http.StatusOK, climate.State())
}

type validatable interface {
	Validate(formats strfmt.Registry) error
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, req validatable) bool {
	if err := decodeJSONBody(w, r, req); err != nil {
		sendBadRequest(w, r, err)
		return false
	}

	if err := req.Validate(formats); err != nil {
		logging.Logger(r.Context()).WithError(err).Errorf("request validation failure")
		sendErrorResponse(w, r, err)
		return false
	}

	return true
}
