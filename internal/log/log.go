package log

import (
	"context"
	"log/slog"
	"os"
)

type slogKeyT struct{}

var slogKey slogKeyT

// ContextHandler is an slog.Handler which appends attributes carried by
// the context to every record. Use ContextAttrs to attach them.
type ContextHandler struct {
	slog.Handler
}

func NewContextHandler(handler slog.Handler) ContextHandler {
	return ContextHandler{
		Handler: handler,
	}
}

func (h ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if a, ok := ctx.Value(slogKey).([]slog.Attr); ok {
		r.AddAttrs(a...)
	}

	return h.Handler.Handle(ctx, r)
}

// ContextAttrs returns a context carrying attrs in addition to attrs
// already present. Records logged through ContextHandler with this
// context get them all.
func ContextAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	a, ok := ctx.Value(slogKey).([]slog.Attr)
	if !ok || a == nil {
		a = make([]slog.Attr, 0, len(attrs))
	}
	a = append(a, attrs...)
	return context.WithValue(ctx, slogKey, a)
}

// WithWorker returns a context whose log records identify the
// supervised worker they belong to.
func WithWorker(ctx context.Context, name string) context.Context {
	return ContextAttrs(ctx, slog.String("worker", name))
}

// New builds the process-wide logger: JSON records on stderr, debug
// level when verbose is requested.
func New(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	base := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		AddSource: false,
		Level:     level,
	})
	ctxHandler := NewContextHandler(base)
	return slog.New(ctxHandler)
}
