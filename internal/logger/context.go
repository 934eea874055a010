package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey struct{}

var logContextKey = contextKey{}

// LogContext holds descriptor-scoped logging context: which pipeline
// component is acting, on behalf of which row, since when. Attached to a
// context.Context as a worker picks up a descriptor, so every *Ctx log
// call along that descriptor's path carries the same identity without
// re-threading fields through every function signature.
type LogContext struct {
	Component string // observer, receiver, storer, committer, monitor
	Worker    int    // worker index within the component's pool
	Sha1      string // legacy hash of the row being processed
	Oid       uint32 // Large Object id of the row being processed
	StartTime time.Time
}

// WithContext returns a new context carrying the given LogContext.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from ctx, or nil if absent.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a LogContext for a worker about to process a row.
func NewLogContext(component string, worker int) *LogContext {
	return &LogContext{
		Component: component,
		Worker:    worker,
		StartTime: time.Now(),
	}
}

// Clone returns a copy of the LogContext.
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	clone := *lc
	return &clone
}

// WithRow returns a copy with the descriptor identity set.
func (lc *LogContext) WithRow(sha1 string, oid uint32) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Sha1 = sha1
		clone.Oid = oid
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds.
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
