package log

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/ethereum/go-ethereum/log"
)

func TestDynamicLogLevel(t *testing.T) {
	var buf bytes.Buffer
	h := NewLogHandler(&buf, CLIConfig{Level: log.LevelInfo, Format: FormatLogFmt})
	lgr := log.NewLogger(h).New("component", "test")

	lgr.Debug("hidden")
	require.Empty(t, buf.String())

	setter, ok := h.(LvlSetter)
	require.True(t, ok)
	setter.SetLogLevel(log.LevelDebug)

	// the child logger shares the level of its parent handler
	lgr.Debug("visible", "amount", uint256.NewInt(1000))
	require.Contains(t, buf.String(), "visible")
	require.Contains(t, buf.String(), "amount=1000")
	require.Contains(t, buf.String(), "lvl=debug")
}

func TestLevelFromString(t *testing.T) {
	lvl, err := LevelFromString("EROR")
	require.NoError(t, err)
	require.Equal(t, log.LevelError, lvl)

	_, err = LevelFromString("loud")
	require.ErrorContains(t, err, "unknown level")
}

func TestFormatCheck(t *testing.T) {
	cfg := DefaultCLIConfig()
	require.NoError(t, cfg.Check())
	cfg.Format = "xml"
	require.Error(t, cfg.Check())
}

func TestLoggingMiddlewareRequestID(t *testing.T) {
	var buf bytes.Buffer
	lgr := NewLogger(&buf, CLIConfig{Level: log.LevelDebug, Format: FormatJSON})
	h := NewLoggingMiddleware(lgr, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?type=teleport", nil))
	require.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, "abc", rec.Header().Get(RequestIDHeader))
	require.Contains(t, buf.String(), `"req_id":"abc"`)
}
