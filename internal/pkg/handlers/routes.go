package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/hub"
)

type healthResponse struct {
	Status  string `json:"status"`
	Loaded  int    `json:"loaded_entries"`
	Entries int    `json:"entries"`
}

// Register mounts the API on r
func Register(r *mux.Router, rt Runtime, checkOrigin func(*http.Request) bool) {
	eh := NewEntriesHandler(rt)
	nh := NewEntitiesHandler(rt)
	sh := NewStreamHandler(rt, checkOrigin)

	r.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		views, err := rt.Entries(req.Context())
		if err != nil {
			sendErrorResponse(w, req, err)
			return
		}

		res := healthResponse{Status: "ok", Entries: len(views)}
		for _, v := range views {
			if v.State == hub.StateLoaded {
				res.Loaded++
			}
		}
		sendJSONResponse(w, req, http.StatusOK, res)
	}).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/entries", eh.List).Methods(http.MethodGet)
	api.HandleFunc("/entries", eh.Create).Methods(http.MethodPost)
	api.HandleFunc("/entries/{entry}", eh.Get).Methods(http.MethodGet)
	api.HandleFunc("/entries/{entry}", eh.Delete).Methods(http.MethodDelete)
	api.HandleFunc("/entries/{entry}/reload", eh.Reload).Methods(http.MethodPost)
	api.HandleFunc("/entries/{entry}/options", eh.UpdateOptions).Methods(http.MethodPut)

	api.HandleFunc("/entities", nh.List).Methods(http.MethodGet)
	api.HandleFunc("/entities/{unique_id}", nh.Get).Methods(http.MethodGet)
	api.Handle("/entities/{unique_id}/{service}", nh).Methods(http.MethodPost)

	api.Handle("/stream", sh).Methods(http.MethodGet)
}
