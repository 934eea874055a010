package logger

import (
	"context"
	"log/slog"
	"strings"
)

// filterHandler wraps the package's base handler with a per-component
// level table, generalizing the single global level into the
// RUST_LOG-style filter string described in SPEC_FULL.md §6.2: a bare
// level sets the default, and "component=level" pairs override it for
// loggers bound to that component via logger.With("component", ...). A
// "component" attribute added per call (as the *Ctx functions do from a
// LogContext) is not consulted; such lines follow the default level.
type filterHandler struct {
	next      slog.Handler
	base      slog.Handler // unwrapped, to rebuild WithAttrs/WithGroup chains
	overrides map[string]slog.Level
	defLevel  slog.Level
	component string // set by WithAttrs when a "component" attr is seen
}

// ParseFilter parses a filter string like "warn,receiver=debug,storer=debug"
// into a default level and a per-component override table. An empty string
// yields the Info default with no overrides.
func ParseFilter(spec string) (def slog.Level, overrides map[string]slog.Level) {
	def = slog.LevelInfo
	overrides = map[string]slog.Level{}

	spec = strings.TrimSpace(spec)
	if spec == "" {
		return def, overrides
	}

	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if comp, lvl, ok := strings.Cut(part, "="); ok {
			if l, ok := parseLevelWord(lvl); ok {
				overrides[strings.ToLower(comp)] = l
			}
			continue
		}
		if l, ok := parseLevelWord(part); ok {
			def = l
		}
	}
	return def, overrides
}

func parseLevelWord(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return 0, false
	}
}

// SetComponentFilter installs a per-component level filter on top of the
// currently configured handler, driven by a RUST_LOG-style spec string.
func SetComponentFilter(spec string) {
	def, overrides := ParseFilter(spec)

	mu.Lock()
	defer mu.Unlock()

	currentLevel.Store(int32(fromSlogLevel(def)))

	fh := &filterHandler{base: handler, overrides: overrides, defLevel: def}
	fh.next = fh.base
	handler = fh
	slogger = slog.New(handler)
}

func fromSlogLevel(l slog.Level) Level {
	switch {
	case l < slog.LevelInfo:
		return LevelDebug
	case l < slog.LevelWarn:
		return LevelInfo
	case l < slog.LevelError:
		return LevelWarn
	default:
		return LevelError
	}
}

func (h *filterHandler) levelFor(component string) slog.Level {
	if component == "" {
		return h.defLevel
	}
	if l, ok := h.overrides[component]; ok {
		return l
	}
	return h.defLevel
}

func (h *filterHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.levelFor(h.component)
}

func (h *filterHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.next.Handle(ctx, r)
}

func (h *filterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	component := h.component
	for _, a := range attrs {
		if a.Key == KeyComponent {
			component = a.Value.String()
		}
	}
	return &filterHandler{
		next:      h.next.WithAttrs(attrs),
		base:      h.base,
		overrides: h.overrides,
		defLevel:  h.defLevel,
		component: component,
	}
}

func (h *filterHandler) WithGroup(name string) slog.Handler {
	return &filterHandler{
		next:      h.next.WithGroup(name),
		base:      h.base,
		overrides: h.overrides,
		defLevel:  h.defLevel,
		component: h.component,
	}
}
