package httputil

import (
	"bufio"
	"errors"
	"net"
	"net/http"
)

// ResponseRecorder wraps a http.ResponseWriter and records the status and size of the response.
type ResponseRecorder struct {
	http.ResponseWriter

	StatusCode  int
	ResponseLen int

	wroteHeader bool
}

var _ http.Hijacker = (*ResponseRecorder)(nil)

func NewResponseRecorder(w http.ResponseWriter) *ResponseRecorder {
	return &ResponseRecorder{ResponseWriter: w, StatusCode: http.StatusOK}
}

func (r *ResponseRecorder) WriteHeader(statusCode int) {
	if r.wroteHeader {
		return
	}
	r.wroteHeader = true
	r.StatusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *ResponseRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	n, err := r.ResponseWriter.Write(b)
	r.ResponseLen += n
	return n, err
}

// Hijack hands the connection over to a websocket upgrade.
func (r *ResponseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer cannot be hijacked")
	}
	return h.Hijack()
}
