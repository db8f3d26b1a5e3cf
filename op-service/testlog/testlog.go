// Package testlog provides a log handler for unit tests.
package testlog

import (
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/log"
)

var useColorInTestLog = os.Getenv("OP_TESTLOG_DISABLE_COLOR") != "true"

// Testing interface to log to. Standard Go testing.TB implements this.
type Testing interface {
	Logf(format string, args ...any)
	Helper()
	FailNow()
	Name() string
	Cleanup(func())
}

// testWriter forwards every formatted log line to t.Logf.
// Lines written after the test cleanup ran are dropped, since background
// routines may still log while shutting down.
type testWriter struct {
	t    Testing
	mu   sync.Mutex
	done bool
}

func newTestWriter(t Testing) *testWriter {
	w := &testWriter{t: t}
	t.Cleanup(func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		w.done = true
	})
	return w
}

func (w *testWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return len(p), nil
	}
	w.t.Logf("%s", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// Logger returns a logger which logs to the unit test log of t.
func Logger(t Testing, level slog.Level) log.Logger {
	return LoggerWithHandlerMod(t, level)
}

// LoggerWithHandlerMod returns a test logger, with the handler wrapped by each of the mods.
func LoggerWithHandlerMod(t Testing, level slog.Level, handlerMods ...func(slog.Handler) slog.Handler) log.Logger {
	var handler slog.Handler = log.NewTerminalHandlerWithLevel(newTestWriter(t), level, useColorInTestLog)
	for _, mod := range handlerMods {
		handler = mod(handler)
	}
	return log.NewLogger(handler)
}
