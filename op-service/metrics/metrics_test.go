package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestFactoryDocument(t *testing.T) {
	reg := NewRegistry()
	factory := With(reg)
	_ = MakeHTTPMetrics("testservice", factory)

	docs := factory.Document()
	require.Len(t, docs, 3)
	require.Equal(t, "testservice_http_server_request_duration_seconds", docs[0].Name)
	require.Equal(t, "histogram", docs[0].Type)
	require.Equal(t, []string{"method"}, docs[0].Labels)
}

func TestHTTPRecordingMiddleware(t *testing.T) {
	reg := NewRegistry()
	m := MakeHTTPMetrics("testservice", With(reg))
	h := NewHTTPRecordingMiddleware(&m, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("hello"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	checker := NewMetricChecker(t, reg)
	reqs := checker.FindByName("testservice_http_server_requests_total")
	require.Equal(t, 1.0, reqs.CounterValue(map[string]string{"method": "GET", "status": "418"}))
	size := checker.FindByName("testservice_http_server_response_size_total")
	require.Equal(t, 5.0, size.CounterValue(map[string]string{"method": "GET"}))
}

func TestRefMetrics(t *testing.T) {
	reg := NewRegistry()
	m := MakeRefMetrics("testservice", With(reg))

	m.RecordRef("l2", "head", 10, common.Hash{0x01})
	m.RecordRef("l2", "head", 10, common.Hash{0x01})
	m.RecordRef("l2", "head", 11, common.Hash{0x02})

	checker := NewMetricChecker(t, reg)
	labels := map[string]string{"domain": "l2", "type": "head"}
	require.Equal(t, 11.0, checker.FindByName("testservice_refs_height").GaugeValue(labels))
	require.Equal(t, 2.0, checker.FindByName("testservice_refs_seen_total").CounterValue(labels))
}

func TestCLIConfigCheck(t *testing.T) {
	cfg := DefaultCLIConfig()
	require.NoError(t, cfg.Check())
	cfg.Enabled = true
	cfg.ListenPort = 70000
	require.ErrorIs(t, cfg.Check(), ErrInvalidPort)
}
