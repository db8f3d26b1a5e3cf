package log

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ethereum/go-ethereum/log"

	"github.com/mantlenetworkio/teleport/op-service/httputil"
)

// RequestIDHeader is echoed back on every response that passed through the logging middleware.
const RequestIDHeader = "X-Request-Id"

// NewLoggingMiddleware logs every request at debug level, tagged with a request ID.
// An incoming X-Request-Id header is reused, otherwise a fresh UUID is assigned.
func NewLoggingMiddleware(lgr log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(RequestIDHeader)
		if reqID == "" {
			reqID = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, reqID)
		ww := httputil.NewResponseRecorder(w)
		start := time.Now()
		next.ServeHTTP(ww, r)
		lgr.Debug(
			"served HTTP request",
			"req_id", reqID,
			"status", ww.StatusCode,
			"response_len", ww.ResponseLen,
			"path", r.URL.EscapedPath(),
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
		)
	})
}
