package pipeline

import (
	"fmt"

	"go.uber.org/zap"
)

// Tracer receives short diagnostic messages from plugins.
type Tracer interface {
	Trace(format string, args ...any)
}

// WarnTracer is implemented by tracers that can surface failures above
// debug level. Tracers without it get failures through Trace.
type WarnTracer interface {
	Warn(format string, args ...any)
}

type NopTracer struct{}

func (NopTracer) Trace(string, ...any) {}

// ZapTracer writes trace lines at debug level and failures at warn level.
type ZapTracer struct {
	Logger *zap.Logger
}

func (t ZapTracer) Trace(format string, args ...any) {
	if t.Logger == nil {
		return
	}
	t.Logger.Debug(fmt.Sprintf(format, args...), zap.String("component", "guard"))
}

func (t ZapTracer) Warn(format string, args ...any) {
	if t.Logger == nil {
		return
	}
	t.Logger.Warn(fmt.Sprintf(format, args...), zap.String("component", "guard"))
}

// safeTrace never lets a tracer failure reach the caller.
func safeTrace(t Tracer, format string, args ...any) {
	if t == nil {
		return
	}
	defer func() { _ = recover() }()
	t.Trace(format, args...)
}

func safeWarn(t Tracer, format string, args ...any) {
	if t == nil {
		return
	}
	defer func() { _ = recover() }()
	if w, ok := t.(WarnTracer); ok {
		w.Warn(format, args...)
		return
	}
	t.Trace(format, args...)
}
