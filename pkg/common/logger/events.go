package logger

import (
	"context"
	"log/slog"
)

// eventHandler forwards records to Events before handing them to the wrapped handler.
type eventHandler struct {
	handler slog.Handler
	events  Events
}

func newEventHandler(h slog.Handler, events Events) *eventHandler {
	return &eventHandler{handler: h, events: events}
}

func (h *eventHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *eventHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &eventHandler{handler: h.handler.WithAttrs(attrs), events: h.events}
}

func (h *eventHandler) WithGroup(name string) slog.Handler {
	return &eventHandler{handler: h.handler.WithGroup(name), events: h.events}
}

func (h *eventHandler) Handle(ctx context.Context, r slog.Record) error {
	var fn EventFn
	switch r.Level {
	case slog.LevelDebug:
		fn = h.events.Debug
	case slog.LevelInfo:
		fn = h.events.Info
	case slog.LevelWarn:
		fn = h.events.Warn
	case slog.LevelError:
		fn = h.events.Error
	}
	if fn != nil {
		fn(ctx, toRecord(r))
	}

	return h.handler.Handle(ctx, r)
}

func toRecord(r slog.Record) Record {
	attrs := make(map[string]any, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	return Record{
		Time:       r.Time,
		Message:    r.Message,
		Level:      Level(r.Level),
		Attributes: attrs,
	}
}
