package httpapi

import (
	"expvar"
	"log"
	"net/http"
	"strings"
	"time"
)

var (
	requestsTotal  = expvar.NewInt("requests_total")
	requestsErrors = expvar.NewInt("requests_errors_total")
	checkinsTotal  = expvar.NewInt("checkins_total")
	callNextTotal  = expvar.NewInt("call_next_total")
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs one line per request and feeds the expvar
// counters. Operation counters only count accepted requests.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		writer := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(writer, r)
		duration := time.Since(start)

		requestsTotal.Add(1)
		if writer.status >= http.StatusBadRequest {
			requestsErrors.Add(1)
		} else if r.Method == http.MethodPost {
			switch {
			case r.URL.Path == "/api/checkin":
				checkinsTotal.Add(1)
			case strings.HasSuffix(r.URL.Path, "/call-next"):
				callNextTotal.Add(1)
			}
		}

		clinicID := r.URL.Query().Get("clinic_id")
		requestID := r.Header.Get("X-Request-ID")
		log.Printf("request method=%s path=%s status=%d duration_ms=%d clinic=%s request_id=%s", r.Method, r.URL.Path, writer.status, duration.Milliseconds(), clinicID, requestID)
	})
}
