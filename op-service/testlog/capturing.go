package testlog

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/log"
)

// CapturedRecord is a log record together with the attributes inherited from the logger that wrote it.
type CapturedRecord struct {
	slog.Record
	inherited []slog.Attr
}

// AttrValue returns the value of the named attribute, or nil if the record does not carry it.
func (r *CapturedRecord) AttrValue(name string) (v any) {
	r.Record.Attrs(func(a slog.Attr) bool {
		if a.Key == name {
			v = a.Value.Any()
			return false
		}
		return true
	})
	if v != nil {
		return v
	}
	for _, a := range r.inherited {
		if a.Key == name {
			return a.Value.Any()
		}
	}
	return nil
}

type captureStore struct {
	mu   sync.Mutex
	logs []*CapturedRecord
}

// CapturingHandler captures all log records and forwards them to a delegate.
// Derived handlers share the captured records.
type CapturingHandler struct {
	handler slog.Handler
	store   *captureStore
	attrs   []slog.Attr
}

var _ slog.Handler = (*CapturingHandler)(nil)

func WrapCaptureLogger(h slog.Handler) slog.Handler {
	return &CapturingHandler{handler: h, store: new(captureStore)}
}

// CaptureLogger returns a test logger and the handler that captures its records.
func CaptureLogger(t Testing, level slog.Level) (log.Logger, *CapturingHandler) {
	var capt *CapturingHandler
	logger := LoggerWithHandlerMod(t, level, func(h slog.Handler) slog.Handler {
		capt = WrapCaptureLogger(h).(*CapturingHandler)
		return capt
	})
	return logger, capt
}

func (c *CapturingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return c.handler.Enabled(ctx, level)
}

func (c *CapturingHandler) Handle(ctx context.Context, r slog.Record) error {
	c.store.mu.Lock()
	c.store.logs = append(c.store.logs, &CapturedRecord{Record: r.Clone(), inherited: c.attrs})
	c.store.mu.Unlock()
	return c.handler.Handle(ctx, r)
}

func (c *CapturingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	inherited := make([]slog.Attr, 0, len(c.attrs)+len(attrs))
	inherited = append(inherited, c.attrs...)
	inherited = append(inherited, attrs...)
	return &CapturingHandler{
		handler: c.handler.WithAttrs(attrs),
		store:   c.store,
		attrs:   inherited,
	}
}

func (c *CapturingHandler) WithGroup(name string) slog.Handler {
	return &CapturingHandler{
		handler: c.handler.WithGroup(name),
		store:   c.store,
		attrs:   c.attrs,
	}
}

func (c *CapturingHandler) Clear() {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	c.store.logs = nil
}

type LogFilter func(record *CapturedRecord) bool

func NewLevelFilter(level slog.Level) LogFilter {
	return func(r *CapturedRecord) bool {
		return r.Level == level
	}
}

func NewMessageFilter(message string) LogFilter {
	return func(r *CapturedRecord) bool {
		return r.Message == message
	}
}

func NewMessageContainsFilter(message string) LogFilter {
	return func(r *CapturedRecord) bool {
		return strings.Contains(r.Message, message)
	}
}

func NewAttributesFilter(key, value string) LogFilter {
	return func(r *CapturedRecord) bool {
		v := r.AttrValue(key)
		return v != nil && slog.AnyValue(v).String() == value
	}
}

func NewErrContainsFilter(errMessage string) LogFilter {
	return func(r *CapturedRecord) bool {
		err, ok := r.AttrValue("err").(error)
		return ok && strings.Contains(err.Error(), errMessage)
	}
}

// FindLogs returns every captured record that passes all filters, in order of logging.
func (c *CapturingHandler) FindLogs(filters ...LogFilter) []*CapturedRecord {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	var out []*CapturedRecord
outer:
	for _, record := range c.store.logs {
		for _, filter := range filters {
			if !filter(record) {
				continue outer
			}
		}
		out = append(out, record)
	}
	return out
}

// FindLog returns the first captured record that passes all filters, or nil.
func (c *CapturingHandler) FindLog(filters ...LogFilter) *CapturedRecord {
	if logs := c.FindLogs(filters...); len(logs) > 0 {
		return logs[0]
	}
	return nil
}
