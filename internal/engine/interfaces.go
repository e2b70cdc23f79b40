package engine

import (
	"context"

	"notifyd/internal/eventbus"
	"notifyd/internal/notification"
	"notifyd/pkg/logx"
)

// Scorer maps a record to a priority hint. Implementations may be
// network-backed; the engine wraps every call with a bounded timeout.
// A zero Hint means "no opinion".
type Scorer interface {
	Score(ctx context.Context, r notification.Record) (Score, error)
}

// Score is a scorer's verdict.
type Score struct {
	Hint       notification.Priority
	Confidence float64
}

// Feedback is the explicit learning loop, kept apart from scoring so that a
// scorer stays a pure function of the record. The pipeline never calls it;
// UIs invoke it when the user acts on (or dismisses) a notification.
type Feedback interface {
	RecordFeedback(ctx context.Context, r notification.Record, acted bool) error
}

// Sink receives deliverable records: single records and synthetic grouped
// records (the latter carry metadata["bundled_count"]). Implementations may
// do I/O; the engine wraps every call with a bounded timeout.
type Sink interface {
	Deliver(ctx context.Context, r notification.Record) error
}

// Reporter receives internal failures (scorer, sink, rule predicates).
// Report must never block or panic.
type Reporter interface {
	Report(context string, err error)
}

// logReporter is the default Reporter: it logs the failure and, when a bus is
// wired, publishes it so inspection subscribers see scorer/sink/predicate
// errors alongside the delivery events.
type logReporter struct {
	log logx.Logger
	bus eventbus.Bus
}

func (r logReporter) Report(context string, err error) {
	if err == nil {
		return
	}
	r.log.Warn("internal error reported", logx.String("ctx", context), logx.Err(err))
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{
			Type: eventbus.EventRuleError,
			Data: ErrorEvent{Context: context, Error: err.Error()},
		})
	}
}
