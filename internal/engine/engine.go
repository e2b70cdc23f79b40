// Package engine ties the scorer, rule engine, DND gate, bundler and history
// store together into the delivery pipeline.
//
// Submit runs synchronously on the caller's goroutine; the only background
// work is the bundler's tick. Scorer and sink calls happen outside every lock
// and under bounded timeouts, so a slow external collaborator cannot
// serialize concurrent producers.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"notifyd/internal/engine/bundler"
	"notifyd/internal/engine/dnd"
	"notifyd/internal/engine/rules"
	"notifyd/internal/eventbus"
	"notifyd/internal/history"
	"notifyd/internal/notification"
	"notifyd/pkg/logx"
)

// Config controls pipeline behavior. Zero values fall back to defaults.
type Config struct {
	BundleInterval time.Duration // default 5m
	BundleTick     time.Duration // default 10s
	HistorySize    int           // default 1000
	ScorerTimeout  time.Duration // default 2s
	SinkTimeout    time.Duration // default 5s
}

func (c *Config) applyDefaults() {
	if c.BundleInterval <= 0 {
		c.BundleInterval = bundler.DefaultInterval
	}
	if c.BundleTick <= 0 {
		c.BundleTick = bundler.DefaultTick
	}
	if c.HistorySize <= 0 {
		c.HistorySize = history.DefaultCapacity
	}
	if c.ScorerTimeout <= 0 {
		c.ScorerTimeout = 2 * time.Second
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = 5 * time.Second
	}
}

// Result is what Submit reports back to the producer.
type Result struct {
	ID          string
	Disposition notification.Disposition
	Priority    notification.Priority // final priority after hint + override
	Delivered   bool                  // true only for the immediate deliver path
	MatchedRule string
}

// ErrorEvent is the bus payload for internal failures reported by the default
// reporter (scorer, sink, rule predicates).
type ErrorEvent struct {
	Context string `json:"context"`
	Error   string `json:"error"`
}

// DeliveryEvent is the bus payload for delivered/silenced/bundled/failed.
type DeliveryEvent struct {
	ID          string                   `json:"id"`
	Type        notification.Type        `json:"type"`
	Priority    notification.Priority    `json:"priority"`
	Disposition notification.Disposition `json:"disposition"`
	Grouped     bool                     `json:"grouped,omitempty"`
	Reason      string                   `json:"reason,omitempty"`
	Error       string                   `json:"error,omitempty"`
}

// Engine is the delivery orchestrator. Construct one per process and hand it
// to producers; it is safe for concurrent use.
type Engine struct {
	cfg Config
	log logx.Logger

	scorer   Scorer
	sink     Sink
	reporter Reporter
	bus      eventbus.Bus

	rules   *rules.Engine
	gate    *dnd.Gate
	bundler *bundler.Bundler
	hist    *history.Store

	now func() time.Time
}

type Option func(*Engine)

func WithScorer(s Scorer) Option     { return func(e *Engine) { e.scorer = s } }
func WithReporter(r Reporter) Option { return func(e *Engine) { e.reporter = r } }
func WithBus(b eventbus.Bus) Option  { return func(e *Engine) { e.bus = b } }
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(cfg Config, sink Sink, log logx.Logger, opts ...Option) *Engine {
	cfg.applyDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}

	e := &Engine{
		cfg:  cfg,
		log:  log,
		sink: sink,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.reporter == nil {
		e.reporter = logReporter{log: log, bus: e.bus}
	}

	e.rules = rules.New(log.With(logx.String("comp", "rules")), rules.WithReporter(e.reporter))
	e.gate = dnd.New(dnd.WithClock(func() time.Time { return e.now() }))
	e.hist = history.New(cfg.HistorySize)
	e.bundler = bundler.New(e.flushBundle, log.With(logx.String("comp", "bundler")),
		bundler.WithInterval(cfg.BundleInterval),
		bundler.WithTick(cfg.BundleTick),
		bundler.WithClock(func() time.Time { return e.now() }),
	)
	return e
}

// Start launches the bundler tick.
func (e *Engine) Start(ctx context.Context) {
	e.bundler.Start(ctx)
	e.log.Info("engine started",
		logx.Duration("bundle_interval", e.cfg.BundleInterval),
		logx.Int("history_size", e.cfg.HistorySize))
}

// Close stops the bundler and force-flushes whatever it still holds, so
// pending records reach the sink before shutdown.
func (e *Engine) Close() {
	e.bundler.Stop()
	for _, f := range e.bundler.FlushAll() {
		e.deliverGroup(f)
	}
	e.log.Info("engine stopped")
}

// ---- Producer API ----

// Submit validates inputs, runs the decision pipeline and returns the
// disposition taken. Only validation failures surface as errors; scorer and
// sink failures are absorbed (reported + history-visible) so producers don't
// need failure handling beyond this check.
//
// ctx cancellation is honored up to the disposition branch; after that the
// operation runs to completion so no partial history entries exist.
func (e *Engine) Submit(ctx context.Context, title, body string, typ notification.Type, prio notification.Priority, meta map[string]string, actions []notification.Action) (Result, error) {
	rec, err := notification.New(title, body, typ, prio, meta, actions)
	if err != nil {
		return Result{}, err
	}

	// Scorer may raise the priority but never lowers what the producer set.
	rec = e.applyScore(ctx, rec)

	verdict := e.rules.Evaluate(rec)
	if verdict.Override != nil {
		// Rule overrides replace outright; an explicit author decision.
		rec = rec.WithPriority(*verdict.Override)
	}

	if err := ctx.Err(); err != nil {
		// Canceled before the branch: the record never entered a terminal
		// state and leaves no trace.
		return Result{}, err
	}

	res := Result{
		ID:          rec.ID,
		Disposition: verdict.Disposition,
		Priority:    rec.Priority,
		MatchedRule: verdict.Matched,
	}

	switch verdict.Disposition {
	case notification.Silence:
		e.hist.Append(history.Entry{Record: rec, Disposition: notification.Silence, At: e.now()})
		e.publish(eventbus.EventSilenced, DeliveryEvent{
			ID: rec.ID, Type: rec.Type, Priority: rec.Priority,
			Disposition: notification.Silence, Reason: "rule:" + verdict.Matched,
		})
	case notification.Bundle:
		key := e.bundler.Add(rec)
		e.hist.Append(history.Entry{Record: rec, Disposition: notification.Bundle, At: e.now()})
		e.publish(eventbus.EventBundled, DeliveryEvent{
			ID: rec.ID, Type: rec.Type, Priority: rec.Priority,
			Disposition: notification.Bundle, Reason: key.String(),
		})
	default:
		res.Delivered = e.deliver(rec, false)
	}

	return res, nil
}

// applyScore consults the scorer under a timeout. Failures are non-fatal.
func (e *Engine) applyScore(ctx context.Context, rec notification.Record) notification.Record {
	if e.scorer == nil {
		return rec
	}

	sctx, cancel := context.WithTimeout(ctx, e.cfg.ScorerTimeout)
	defer cancel()

	score, err := e.scorer.Score(sctx, rec)
	if err != nil {
		e.log.Debug("scorer unavailable; keeping producer priority",
			logx.String("id", rec.ID), logx.Err(err))
		e.reporter.Report("scorer", err)
		return rec
	}
	if score.Hint > rec.Priority && score.Hint.Valid() {
		e.log.Debug("scorer raised priority",
			logx.String("id", rec.ID),
			logx.String("from", rec.Priority.String()),
			logx.String("to", score.Hint.String()))
		return rec.WithPriority(score.Hint)
	}
	return rec
}

// deliver runs the DND check and the sink call for one deliverable record.
// Returns true when the sink accepted it.
func (e *Engine) deliver(rec notification.Record, grouped bool) bool {
	now := e.now()

	if e.gate.IsSuppressed(rec.Priority, now) {
		e.hist.Append(history.Entry{
			Record: rec, Disposition: notification.Silence, Grouped: grouped, At: now,
		})
		e.publish(eventbus.EventSilenced, DeliveryEvent{
			ID: rec.ID, Type: rec.Type, Priority: rec.Priority,
			Disposition: notification.Silence, Grouped: grouped, Reason: "dnd",
		})
		return false
	}

	sctx, cancel := context.WithTimeout(context.Background(), e.cfg.SinkTimeout)
	err := e.sink.Deliver(sctx, rec)
	cancel()

	if err != nil {
		// At-least-once attempt, no automatic retry. The record stays visible
		// in history with the failure flag instead of being silently lost.
		e.log.Warn("sink delivery failed", logx.String("id", rec.ID), logx.Err(err))
		e.reporter.Report("sink", err)
		e.hist.Append(history.Entry{
			Record: rec, Disposition: notification.Deliver,
			Failed: true, Grouped: grouped, At: now,
		})
		e.publish(eventbus.EventFailed, DeliveryEvent{
			ID: rec.ID, Type: rec.Type, Priority: rec.Priority,
			Disposition: notification.Deliver, Grouped: grouped, Error: err.Error(),
		})
		return false
	}

	at := e.now()
	e.hist.Append(history.Entry{
		Record: rec, Disposition: notification.Deliver,
		Delivered: true, DeliveredAt: &at, Grouped: grouped, At: at,
	})
	e.publish(eventbus.EventDelivered, DeliveryEvent{
		ID: rec.ID, Type: rec.Type, Priority: rec.Priority,
		Disposition: notification.Deliver, Grouped: grouped,
	})
	return true
}

// flushBundle is the bundler's callback: it turns a flushed bundle into one
// synthetic grouped record and routes it through the normal delivery path.
func (e *Engine) flushBundle(f bundler.Flushed) {
	e.deliverGroup(f)
}

func (e *Engine) deliverGroup(f bundler.Flushed) {
	if len(f.Records) == 0 {
		return
	}

	rec := groupRecord(f)
	e.log.Info("flushing bundle",
		logx.String("key", f.Key.String()), logx.Int("count", len(f.Records)))
	e.deliver(rec, true)
}

// groupRecord builds the synthetic record for a flushed bundle. Member order
// is preserved in the body and in the actions passthrough.
func groupRecord(f bundler.Flushed) notification.Record {
	n := len(f.Records)

	var b strings.Builder
	for i, m := range f.Records {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- ")
		b.WriteString(m.Title)
	}

	title := fmt.Sprintf("%d %s notifications", n, strings.ToLower(string(f.Key.Type)))
	if n == 1 {
		title = f.Records[0].Title
	}

	rec, err := notification.New(title, b.String(), f.Key.Type, f.Key.Priority,
		map[string]string{
			notification.MetaBundledCount: fmt.Sprintf("%d", n),
			notification.MetaBundleKey:    f.Key.String(),
		}, nil)
	if err != nil {
		// Key fields come from validated member records; this cannot fail.
		panic(err)
	}
	return rec
}

func (e *Engine) publish(typ string, data DeliveryEvent) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

// ---- Inspection / configuration API ----

// AddRule registers (or replaces) a routing rule.
func (e *Engine) AddRule(r rules.Rule) error { return e.rules.Add(r) }

// SetRules replaces the whole rule set (config reload path).
func (e *Engine) SetRules(rs []rules.Rule) error { return e.rules.SetAll(rs) }

// RemoveRule drops a rule by name.
func (e *Engine) RemoveRule(name string) error { return e.rules.Remove(name) }

// ReplaceRule swaps a rule in place, keeping its evaluation position.
func (e *Engine) ReplaceRule(name string, r rules.Rule) error { return e.rules.Replace(name, r) }

// RuleNames lists rules in evaluation order.
func (e *Engine) RuleNames() []string { return e.rules.Names() }

// SetDNDSchedule replaces the recurring do-not-disturb schedule.
func (e *Engine) SetDNDSchedule(entries []dnd.Entry) { e.gate.SetSchedule(entries) }

// EnableManualDND suppresses deliveries for the given duration.
func (e *Engine) EnableManualDND(d time.Duration) { e.gate.EnableManual(d) }

// DisableManualDND lifts a manual override immediately.
func (e *Engine) DisableManualDND() { e.gate.DisableManual() }

// Recent returns up to limit history entries, newest first.
func (e *Engine) Recent(limit int) []history.Entry { return e.hist.Recent(limit) }

// Stats returns the running counters.
func (e *Engine) Stats() history.Counters { return e.hist.Stats() }

// PendingBundled returns how many records are waiting in bundles.
func (e *Engine) PendingBundled() int { return e.bundler.Pending() }

// History exposes the underlying store for snapshotting.
func (e *Engine) History() *history.Store { return e.hist }
