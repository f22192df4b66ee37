package middlewares

import (
	"encoding/json"
	"net/http"
	"runtime/debug"

	"github.com/gorilla/mux"

	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/logging"
)

type RecoveryMw struct {
	next http.Handler
}

func NewRecoveryMw() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return NewRecovery(next)
	}
}

func NewRecovery(next http.Handler) *RecoveryMw {
	return &RecoveryMw{next: next}
}

// ServeHTTP turns a handler panic into a JSON 500 shaped like the API errors
func (mw *RecoveryMw) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	defer func() {
		if err := recover(); err != nil {
			if err == http.ErrAbortHandler {
				panic(err)
			}

			logging.Logger(r.Context()).Errorf("caught panic: %v : %s", err, debug.Stack())

			rw.Header().Set("Content-Type", "application/json")
			rw.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(rw).Encode(map[string]interface{}{
				"code":    http.StatusInternalServerError,
				"message": http.StatusText(http.StatusInternalServerError),
			})
		}
	}()

	mw.next.ServeHTTP(rw, r)
}
