package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mantlenetworkio/teleport/op-service/httputil"
)

const HTTPServerSubsystem = "http_server"

type HTTPParams struct {
	Method      string
	StatusCode  int
	Duration    time.Duration
	ResponseLen int
}

type HTTPRecorder interface {
	RecordHTTPRequest(params *HTTPParams)
}

type noopHTTPRecorder struct{}

func (noopHTTPRecorder) RecordHTTPRequest(*HTTPParams) {}

var NoopHTTPRecorder HTTPRecorder = noopHTTPRecorder{}

// HTTPMetrics tracks the requests served by a HTTP server, labeled by method and status code.
type HTTPMetrics struct {
	requestsTotal          *prometheus.CounterVec
	requestDurationSeconds *prometheus.HistogramVec
	responseSizeTotal      *prometheus.CounterVec
}

var _ HTTPRecorder = (*HTTPMetrics)(nil)

func MakeHTTPMetrics(ns string, factory Factory) HTTPMetrics {
	return HTTPMetrics{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: HTTPServerSubsystem,
			Name:      "requests_total",
			Help:      "Total HTTP requests served",
		}, []string{"method", "status"}),
		requestDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: HTTPServerSubsystem,
			Name:      "request_duration_seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			Help:      "Histogram of HTTP server request durations",
		}, []string{"method"}),
		responseSizeTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: HTTPServerSubsystem,
			Name:      "response_size_total",
			Help:      "Total bytes of HTTP responses written",
		}, []string{"method"}),
	}
}

func (m *HTTPMetrics) RecordHTTPRequest(params *HTTPParams) {
	m.requestsTotal.WithLabelValues(params.Method, strconv.Itoa(params.StatusCode)).Inc()
	m.requestDurationSeconds.WithLabelValues(params.Method).Observe(params.Duration.Seconds())
	m.responseSizeTotal.WithLabelValues(params.Method).Add(float64(params.ResponseLen))
}

// NewHTTPRecordingMiddleware records every request served by next.
func NewHTTPRecordingMiddleware(rec HTTPRecorder, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := httputil.NewResponseRecorder(w)
		next.ServeHTTP(ww, r)
		rec.RecordHTTPRequest(&HTTPParams{
			Method:      r.Method,
			StatusCode:  ww.StatusCode,
			Duration:    time.Since(start),
			ResponseLen: ww.ResponseLen,
		})
	})
}
