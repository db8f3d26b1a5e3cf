package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/big"
	"reflect"
	"time"

	"github.com/holiman/uint256"

	elog "github.com/ethereum/go-ethereum/log"
)

const (
	timeFormatMs                 = "2006-01-02T15:04:05.000-0700"
	levelMaxVerbosity slog.Level = math.MinInt
)

// LvlSetter is implemented by handlers that can change their log level at runtime.
type LvlSetter interface {
	SetLogLevel(lvl slog.Level)
}

// DynamicLogHandler filters records by a level that can be changed while the handler is in use.
// Handlers derived with WithAttrs or WithGroup share the level.
type DynamicLogHandler struct {
	slog.Handler
	minLvl *slog.LevelVar
}

var _ LvlSetter = (*DynamicLogHandler)(nil)

func NewDynamicLogHandler(lvl slog.Level, h slog.Handler) *DynamicLogHandler {
	minLvl := new(slog.LevelVar)
	minLvl.Set(lvl)
	return &DynamicLogHandler{Handler: h, minLvl: minLvl}
}

func (d *DynamicLogHandler) SetLogLevel(lvl slog.Level) {
	d.minLvl.Set(lvl)
}

func (d *DynamicLogHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return lvl >= d.minLvl.Level() && d.Handler.Enabled(ctx, lvl)
}

func (d *DynamicLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &DynamicLogHandler{Handler: d.Handler.WithAttrs(attrs), minLvl: d.minLvl}
}

func (d *DynamicLogHandler) WithGroup(name string) slog.Handler {
	return &DynamicLogHandler{Handler: d.Handler.WithGroup(name), minLvl: d.minLvl}
}

// JSONMsHandler logs json with millisecond timestamps, at every level.
func JSONMsHandler(wr io.Writer) slog.Handler {
	return JSONMsHandlerWithLevel(wr, levelMaxVerbosity)
}

func JSONMsHandlerWithLevel(wr io.Writer, level slog.Level) slog.Handler {
	return slog.NewJSONHandler(wr, &slog.HandlerOptions{
		ReplaceAttr: replaceAttrMs(false),
		Level:       level,
	})
}

// LogfmtMsHandler logs logfmt with millisecond timestamps, at every level.
func LogfmtMsHandler(wr io.Writer) slog.Handler {
	return LogfmtMsHandlerWithLevel(wr, levelMaxVerbosity)
}

func LogfmtMsHandlerWithLevel(wr io.Writer, level slog.Level) slog.Handler {
	return slog.NewTextHandler(wr, &slog.HandlerOptions{
		ReplaceAttr: replaceAttrMs(true),
		Level:       level,
	})
}

func replaceAttrMs(logfmt bool) func([]string, slog.Attr) slog.Attr {
	return func(_ []string, attr slog.Attr) slog.Attr {
		switch attr.Key {
		case slog.TimeKey:
			if attr.Value.Kind() != slog.KindTime {
				break
			}
			if logfmt {
				return slog.String("t", attr.Value.Time().Format(timeFormatMs))
			}
			return slog.Attr{Key: "t", Value: attr.Value}
		case slog.LevelKey:
			if l, ok := attr.Value.Any().(slog.Level); ok {
				return slog.Any("lvl", elog.LevelString(l))
			}
		}
		attr.Value = formatValue(attr.Value, logfmt)
		return attr
	}
}

// formatValue renders token amounts and other stringers in decimal / human form.
func formatValue(v slog.Value, logfmt bool) slog.Value {
	switch x := v.Any().(type) {
	case time.Time:
		if logfmt {
			return slog.StringValue(x.Format(timeFormatMs))
		}
	case *big.Int:
		if x == nil {
			return slog.StringValue("<nil>")
		}
		return slog.StringValue(x.String())
	case *uint256.Int:
		if x == nil {
			return slog.StringValue("<nil>")
		}
		return slog.StringValue(x.Dec())
	case fmt.Stringer:
		if x == nil || (reflect.ValueOf(x).Kind() == reflect.Pointer && reflect.ValueOf(x).IsNil()) {
			return slog.StringValue("<nil>")
		}
		return slog.StringValue(x.String())
	}
	return v
}
