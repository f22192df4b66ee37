package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/configentry"
	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/logging"
)

type EntriesHandler struct {
	rt Runtime
}

func NewEntriesHandler(rt Runtime) *EntriesHandler {
	return &EntriesHandler{rt: rt}
}

type createEntryRequest struct {
	configentry.Data
	Options *configentry.Options `json:"options,omitempty"`
}

func (h *EntriesHandler) List(w http.ResponseWriter, r *http.Request) {
	views, err := h.rt.Entries(r.Context())
	if err != nil {
		sendErrorResponse(w, r, err)
		return
	}

	sendJSONResponse(w, r, http.StatusOK, views)
}

func (h *EntriesHandler) Get(w http.ResponseWriter, r *http.Request) {
	view, err := h.rt.Entry(r.Context(), mux.Vars(r)["entry"])
	if err != nil {
		sendErrorResponse(w, r, err)
		return
	}

	sendJSONResponse(w, r, http.StatusOK, view)
}

// Create runs the user step of the config flow
func (h *EntriesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createEntryRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		sendBadRequest(w, r, err)
		return
	}

	res, err := h.rt.CreateEntry(r.Context(), req.Data, req.Options)
	if err != nil {
		sendErrorResponse(w, r, err)
		return
	}

	status := http.StatusCreated
	switch res.Type {
	case configentry.ResultForm:
		status = http.StatusBadRequest
	case configentry.ResultAbort:
		status = http.StatusConflict
	}

	sendJSONResponse(w, r, status, res)
}

func (h *EntriesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.rt.RemoveEntry(r.Context(), mux.Vars(r)["entry"]); err != nil {
		sendErrorResponse(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Reload answers with the entry view; setup failures show up in its state
func (h *EntriesHandler) Reload(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["entry"]

	if err := h.rt.ReloadEntry(r.Context(), id); err != nil {
		if errors.Is(err, configentry.ErrNotFound) {
			sendErrorResponse(w, r, err)
			return
		}
		logging.Logger(r.Context()).WithError(err).Warnf("reloading entry %s", id)
	}

	h.Get(w, r)
}

func (h *EntriesHandler) UpdateOptions(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["entry"]

	var opts configentry.Options
	if err := decodeJSONBody(w, r, &opts); err != nil {
		sendBadRequest(w, r, err)
		return
	}

	if err := opts.Validate(formats); err != nil {
		sendErrorResponse(w, r, err)
		return
	}

	if err := h.rt.UpdateOptions(r.Context(), id, opts); err != nil {
		if errors.Is(err, configentry.ErrNotFound) {
			sendErrorResponse(w, r, err)
			return
		}
		logging.Logger(r.Context()).WithError(err).Warnf("reloading entry %s after options update", id)
	}

	h.Get(w, r)
}
