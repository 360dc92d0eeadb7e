// Package otel records thread lifecycle events on the span carried by the
// context a thread was spawned with.
package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/NetPo4ki/isothread/thread"
)

const (
	EventStarted   = "thread.started"
	EventFinished  = "thread.finished"
	EventJoined    = "thread.joined"
	EventCancelled = "thread.cancelled"
)

// Observer adds span events. Contexts without a recording span cost one
// lookup per event.
type Observer struct{}

var _ thread.Observer = Observer{}

func New() Observer { return Observer{} }

func (Observer) ThreadStarted(ctx context.Context) {
	trace.SpanFromContext(ctx).AddEvent(EventStarted)
}

func (Observer) ThreadFinished(ctx context.Context, dur time.Duration, outcome thread.Outcome) {
	trace.SpanFromContext(ctx).AddEvent(EventFinished, trace.WithAttributes(
		attribute.String("thread.outcome", outcome.String()),
		attribute.Int64("thread.duration_ns", dur.Nanoseconds()),
	))
}

func (Observer) ThreadJoined(ctx context.Context, wait time.Duration) {
	trace.SpanFromContext(ctx).AddEvent(EventJoined, trace.WithAttributes(
		attribute.Int64("thread.join_wait_ns", wait.Nanoseconds()),
	))
}

func (Observer) ThreadCancelled(ctx context.Context) {
	trace.SpanFromContext(ctx).AddEvent(EventCancelled)
}
