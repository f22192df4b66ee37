package middlewares

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/logging"
)

func TestLoggingSetsTxnID(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = logging.TxnID(r.Context())
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	})

	rr := httptest.NewRecorder()
	NewLogging(true, next).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/x", strings.NewReader("{}")))

	if rr.Code != http.StatusTeapot {
		t.Errorf("status %d", rr.Code)
	}
	if seen == "" || rr.Header().Get(TxnIDHeader) != seen {
		t.Errorf("txn id header %q, context %q", rr.Header().Get(TxnIDHeader), seen)
	}
}

func TestLoggingHijack(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := w.(http.Hijacker); !ok {
			t.Error("wrapped writer is not a hijacker")
		}
		if _, _, err := w.(http.Hijacker).Hijack(); err == nil {
			t.Error("recorder cannot be hijacked, expected an error")
		}
	})

	NewLogging(false, next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestRecovery(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	rr := httptest.NewRecorder()
	NewRecovery(next).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status %d", rr.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["code"] != float64(500) {
		t.Errorf("body %v", body)
	}
}

func TestCorrelation(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"none", "", ""},
		{"good", "abc-123_x", "abc-123_x"},
		{"too short", "ab", badCorrelationID},
		{"bad chars", "a b c", badCorrelationID},
	}

	h := NewCorrelation("", http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.in != "" {
				req.Header.Set(CorrelationIDHeader, tt.in)
			}

			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if got := rr.Header().Get(CorrelationIDHeader); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCorsPreflight(t *testing.T) {
	r := mux.NewRouter()
	r.Use(NewCorsMw(CorsOptions([]string{"http://example.com"})))
	r.HandleFunc("/api/entries", func(w http.ResponseWriter, r *http.Request) {}).Methods(http.MethodGet, http.MethodOptions)

	req := httptest.NewRequest(http.MethodOptions, "/api/entries", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Errorf("allow origin %q", got)
	}
}

func TestOriginChecker(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		origin  string
		want    bool
	}{
		{"no origin header", []string{"http://a"}, "", true},
		{"any", nil, "http://b", true},
		{"listed", []string{"http://a", "http://b"}, "http://b", true},
		{"wildcard", []string{"*"}, "http://c", true},
		{"not listed", []string{"http://a"}, "http://evil", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/stream", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := OriginChecker(tt.origins)(req); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
