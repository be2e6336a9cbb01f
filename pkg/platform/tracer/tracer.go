// Package tracer is a small tracing facade over OpenTelemetry.
//
// Gate evaluation, profile resolution and watcher event handling open spans
// through the Tracer interface so tests can run with NoopTracer while
// production uses the global OpenTelemetry provider.
package tracer

import (
	"context"
	"time"
)

// Span represents an active trace span.
type Span interface {
	// End completes the span. A non-nil err marks it failed.
	// End must be called exactly once, typically via defer.
	End(err error)
	SetAttributes(attrs ...Attribute)
	AddEvent(name string, attrs ...Attribute)
}

// Tracer creates spans. Implementations must be safe for concurrent use.
type Tracer interface {
	Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

// Attribute represents a key-value pair attached to spans.
type Attribute struct {
	Key   string
	Value any
}

// String creates a string attribute.
func String(key, value string) Attribute {
	return Attribute{Key: key, Value: value}
}

// Bool creates a boolean attribute.
func Bool(key string, value bool) Attribute {
	return Attribute{Key: key, Value: value}
}

// Int creates an integer attribute.
func Int(key string, value int) Attribute {
	return Attribute{Key: key, Value: int64(value)}
}

// Duration creates a duration attribute in milliseconds.
func Duration(key string, value time.Duration) Attribute {
	return Attribute{Key: key, Value: value.Milliseconds()}
}

// Span names.
const (
	SpanGateEvaluate   = "gate.evaluate"
	SpanProfileResolve = "profile.resolve"
	SpanProfileQuery   = "profile.query"
	SpanWatcherEvent   = "watcher.event"
)

// Attribute keys.
const (
	AttrRoute         = "route"
	AttrCategory      = "route.category"
	AttrSession       = "session.present"
	AttrProfileState  = "profile.state"
	AttrProfileRows   = "profile.rows"
	AttrCacheHit      = "cache.hit"
	AttrCircuitState  = "circuit.state"
	AttrDecisionRule  = "decision.rule"
	AttrDecisionOut   = "decision.outcome"
	AttrEventType     = "event.type"
	AttrResolveTimeMs = "resolve.duration_ms"
)
