package middlewares

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

type CorsMw struct {
	h http.Handler
}

// CorsOptions allows the given origins to drive the API.  An empty list
// allows any origin.
func CorsOptions(origins []string) cors.Options {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	return cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "X-Correlation-Id"},
		ExposedHeaders: []string{TxnIDHeader, "X-Correlation-Id"},
	}
}

// OriginChecker applies the CorsOptions origin list to requests that bypass
// the CORS handler, such as websocket upgrades
func OriginChecker(origins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(origins) == 0 {
			return true
		}

		for _, o := range origins {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

func NewCorsMw(opts cors.Options) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return NewCors(opts, next)
	}
}

// Called once for each middleware chain
func NewCors(opts cors.Options, next http.Handler) *CorsMw {
	c := cors.New(opts)

	return &CorsMw{
		h: c.Handler(next),
	}
}

// This should be the first Middleware in the chain
func (mw *CorsMw) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	mw.h.ServeHTTP(rw, r)
}
