package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	goerrors "github.com/go-openapi/errors"
	"github.com/go-openapi/runtime/middleware/header"
	"github.com/go-openapi/strfmt"
	"github.com/pkg/errors"

	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/configentry"
	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/entities"
	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/hub"
	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/logging"
)

// For request validation routines
var formats strfmt.Registry

func init() {
	// Default validators
	formats = strfmt.NewFormats()
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	if r.Header.Get("Content-Type") != "" {
		value, _ := header.ParseValueAndParams(r.Header, "Content-Type")
		if value != "application/json" {
			return fmt.Errorf("expected JSON request, got %s", value)
		}
	}

	// 100kb max body
	reader := http.MaxBytesReader(w, r.Body, 100*1024)
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return err
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("request body must only contain a single JSON object")
	}

	return nil
}

func sendJSONResponse(w http.ResponseWriter, r *http.Request, status int, d interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	if err := enc.Encode(d); err != nil {
		logging.Logger(r.Context()).WithError(err).Error("sending json response")
	}
}

func statusFromError(err error) int {
	var composite *goerrors.CompositeError
	var validation *goerrors.Validation

	switch {
	case errors.As(err, &composite), errors.As(err, &validation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, configentry.ErrNotFound), errors.Is(err, hub.ErrEntityNotFound):
		return http.StatusNotFound
	case errors.Is(err, entities.ErrUnknownPreset), errors.Is(err, entities.ErrUnknownHVACMode):
		return http.StatusBadRequest
	case errors.Is(err, entities.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, hub.ErrEntryNotLoaded):
		return http.StatusConflict
	}

	return http.StatusInternalServerError
}

func sendErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFromError(err)

	if status >= 500 {
		logging.Logger(r.Context()).WithError(err).Error("request failed")
	} else {
		logging.Logger(r.Context()).WithError(err).Debug("request rejected")
	}

	sendJSONResponse(w, r, status, errorResponse{Code: status, Message: err.Error()})
}

func sendBadRequest(w http.ResponseWriter, r *http.Request, err error) {
	logging.Logger(r.Context()).WithError(err).Errorf("decoding JSON")
	sendJSONResponse(w, r, http.StatusBadRequest, errorResponse{
		Code:    http.StatusBadRequest,
		Message: "unable to parse JSON: " + err.Error(),
	})
}
