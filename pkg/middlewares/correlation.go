package middlewares

import (
	"net/http"
	"regexp"

	"github.com/gorilla/mux"

	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/logging"
)

const CorrelationIDHeader = "X-Correlation-Id"

const badCorrelationID = "<Bad_Correlation_Id>"

var correlationIDRegexp = regexp.MustCompile(`^[\w-_]{3,64}$`)

// CorrelationMw echoes a caller supplied correlation ID on the response
type CorrelationMw struct {
	headerName string
	next       http.Handler
}

func NewCorrelationMw(headerName string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return NewCorrelation(headerName, next)
	}
}

func NewCorrelation(headerName string, next http.Handler) *CorrelationMw {
	if headerName == "" {
		headerName = CorrelationIDHeader
	}
	return &CorrelationMw{headerName: headerName, next: next}
}

func (mw *CorrelationMw) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if id, ok := mw.validateID(r); ok {
		rw.Header().Set(mw.headerName, id)
		logging.Logger(r.Context()).Debugf("correlation id %s", id)
	}

	mw.next.ServeHTTP(rw, r)
}

func (mw *CorrelationMw) validateID(r *http.Request) (string, bool) {
	id := r.Header.Get(mw.headerName)
	if id == "" {
		return "", false
	}

	if correlationIDRegexp.MatchString(id) {
		return id, true
	}
	return badCorrelationID, true
}
