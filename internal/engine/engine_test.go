package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"notifyd/internal/engine/dnd"
	"notifyd/internal/engine/rules"
	"notifyd/internal/engine/timewin"
	"notifyd/internal/eventbus"
	"notifyd/internal/notification"
	"notifyd/pkg/logx"
)

// ---- Test doubles ----

type fakeSink struct {
	mu   sync.Mutex
	got  []notification.Record
	fail error
}

func (s *fakeSink) Deliver(_ context.Context, r notification.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.got = append(s.got, r)
	return nil
}

func (s *fakeSink) delivered() []notification.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notification.Record, len(s.got))
	copy(out, s.got)
	return out
}

type fixedScorer struct {
	hint notification.Priority
	err  error
}

func (s fixedScorer) Score(context.Context, notification.Record) (Score, error) {
	if s.err != nil {
		return Score{}, s.err
	}
	return Score{Hint: s.hint, Confidence: 1}, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestEngine(t *testing.T, sink Sink, opts ...Option) *Engine {
	t.Helper()
	return New(Config{}, sink, logx.Nop(), opts...)
}

func submit(t *testing.T, e *Engine, title string, typ notification.Type, prio notification.Priority, meta map[string]string) Result {
	t.Helper()
	res, err := e.Submit(context.Background(), title, "body", typ, prio, meta, nil)
	if err != nil {
		t.Fatalf("Submit(%q): %v", title, err)
	}
	return res
}

// ---- Tests ----

func TestSubmitDeliversByDefault(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	e := newTestEngine(t, sink)

	res := submit(t, e, "hello", notification.TypeEmail, notification.PriorityLow, nil)
	if res.Disposition != notification.Deliver || !res.Delivered {
		t.Fatalf("result = %+v, want delivered", res)
	}
	if got := sink.delivered(); len(got) != 1 || got[0].Title != "hello" {
		t.Fatalf("sink got %+v", got)
	}
	if c := e.Stats(); c.Submitted != 1 || c.Delivered != 1 {
		t.Fatalf("counters = %+v", c)
	}
}

func TestSubmitRejectsInvalidRecord(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, &fakeSink{})
	_, err := e.Submit(context.Background(), "t", "b", notification.Type("SMOKE"), notification.PriorityLow, nil, nil)
	if !errors.Is(err, notification.ErrInvalidType) {
		t.Fatalf("err = %v, want ErrInvalidType", err)
	}
	if c := e.Stats(); c.Submitted != 0 {
		t.Fatalf("invalid record must leave no trace, counters = %+v", c)
	}
}

// A VIP sender rule escalates priority and the record delivers immediately,
// even during quiet hours, because the override lands it at CRITICAL.
func TestRuleOverrideBeatsDND(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	e := newTestEngine(t, sink)

	crit := notification.PriorityCritical
	if err := e.AddRule(rules.Rule{
		Name:             "vip",
		Predicate:        rules.FieldEquals("meta.sender", "boss@example.com"),
		Disposition:      notification.Deliver,
		PriorityOverride: &crit,
	}); err != nil {
		t.Fatalf("AddRule: %v", err)
	}
	e.SetDNDSchedule([]dnd.Entry{{
		Window:   timewin.Window{Start: 0, End: 24 * 60},
		Weekdays: dnd.AllWeekdays,
	}})

	res := submit(t, e, "deploy broke", notification.TypeEmail, notification.PriorityLow,
		map[string]string{"sender": "boss@example.com"})
	if !res.Delivered {
		t.Fatal("CRITICAL override must bypass quiet hours")
	}
	if res.Priority != notification.PriorityCritical {
		t.Fatalf("Priority = %v, want CRITICAL", res.Priority)
	}

	// A non-VIP record at the same hour is suppressed.
	res = submit(t, e, "newsletter", notification.TypeEmail, notification.PriorityLow, nil)
	if res.Delivered {
		t.Fatal("plain record must be suppressed by DND")
	}
}

func TestDNDSuppressionRecordedAsSilenced(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	e := newTestEngine(t, sink)
	e.EnableManualDND(time.Hour)

	res := submit(t, e, "quiet", notification.TypeTask, notification.PriorityMedium, nil)
	if res.Delivered {
		t.Fatal("manual DND must suppress")
	}
	recent := e.Recent(1)
	if len(recent) != 1 || recent[0].Disposition != notification.Silence {
		t.Fatalf("history = %+v, want silenced entry", recent)
	}
	if c := e.Stats(); c.Silenced != 1 || c.Delivered != 0 {
		t.Fatalf("counters = %+v", c)
	}
}

func TestScorerRaisesButNeverLowers(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		hint notification.Priority
		in   notification.Priority
		want notification.Priority
	}{
		{name: "raise", hint: notification.PriorityHigh, in: notification.PriorityLow, want: notification.PriorityHigh},
		{name: "never lower", hint: notification.PriorityLow, in: notification.PriorityHigh, want: notification.PriorityHigh},
		{name: "no opinion", hint: 0, in: notification.PriorityMedium, want: notification.PriorityMedium},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sink := &fakeSink{}
			e := newTestEngine(t, sink, WithScorer(fixedScorer{hint: tt.hint}))
			res := submit(t, e, "n", notification.TypeEmail, tt.in, nil)
			if res.Priority != tt.want {
				t.Fatalf("Priority = %v, want %v", res.Priority, tt.want)
			}
		})
	}
}

func TestScorerFailureIsNonFatal(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	e := newTestEngine(t, sink, WithScorer(fixedScorer{err: errors.New("model offline")}))

	res := submit(t, e, "n", notification.TypeEmail, notification.PriorityMedium, nil)
	if !res.Delivered || res.Priority != notification.PriorityMedium {
		t.Fatalf("result = %+v, want delivered at producer priority", res)
	}
}

func TestSinkFailureRecordedNotRetried(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{fail: errors.New("socket closed")}
	e := newTestEngine(t, sink)

	res := submit(t, e, "doomed", notification.TypeEmail, notification.PriorityHigh, nil)
	if res.Delivered {
		t.Fatal("failed delivery must not report success")
	}
	recent := e.Recent(1)
	if len(recent) != 1 || !recent[0].Failed || recent[0].Delivered {
		t.Fatalf("history = %+v, want failed entry", recent)
	}
	if c := e.Stats(); c.Failed != 1 || c.Delivered != 0 {
		t.Fatalf("counters = %+v", c)
	}
}

func TestCancelledContextBeforeBranch(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	e := newTestEngine(t, sink)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Submit(ctx, "n", "b", notification.TypeEmail, notification.PriorityLow, nil, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if c := e.Stats(); c.Submitted != 0 {
		t.Fatalf("canceled submit must leave no trace, counters = %+v", c)
	}
	if len(sink.delivered()) != 0 {
		t.Fatal("canceled submit must not reach the sink")
	}
}

// Bundled records flush as one synthetic grouped record once the interval
// passes, and the group delivers through the normal DND-checked path.
func TestBundleFlushProducesGroupedRecord(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{now: time.Date(2024, 3, 12, 12, 0, 0, 0, time.UTC)}
	sink := &fakeSink{}
	e := New(Config{BundleInterval: 5 * time.Minute}, sink, logx.Nop(), WithClock(clk.Now))

	if err := e.AddRule(rules.Rule{
		Name:        "bundle-email",
		Predicate:   rules.TypeIs(notification.TypeEmail),
		Disposition: notification.Bundle,
	}); err != nil {
		t.Fatalf("AddRule: %v", err)
	}

	for _, title := range []string{"one", "two", "three"} {
		res := submit(t, e, title, notification.TypeEmail, notification.PriorityLow, nil)
		if res.Disposition != notification.Bundle || res.Delivered {
			t.Fatalf("result = %+v, want bundled", res)
		}
	}
	if got := e.PendingBundled(); got != 3 {
		t.Fatalf("PendingBundled = %d, want 3", got)
	}

	clk.Advance(5 * time.Minute)
	e.Close() // drains pending bundles through the delivery path

	got := sink.delivered()
	if len(got) != 1 {
		t.Fatalf("sink got %d records, want 1 grouped", len(got))
	}
	g := got[0]
	if g.Meta(notification.MetaBundledCount) != "3" {
		t.Fatalf("bundled_count = %q, want 3", g.Meta(notification.MetaBundledCount))
	}
	if !strings.Contains(g.Title, "3") || !strings.Contains(g.Title, "email") {
		t.Fatalf("group title = %q", g.Title)
	}
	for _, member := range []string{"- one", "- two", "- three"} {
		if !strings.Contains(g.Body, member) {
			t.Fatalf("group body missing %q: %q", member, g.Body)
		}
	}

	c := e.Stats()
	if c.Submitted != 3 {
		t.Fatalf("Submitted = %d, want 3 (grouped record is not a submission)", c.Submitted)
	}
	if c.Bundled != 3 || c.Delivered != 1 {
		t.Fatalf("counters = %+v", c)
	}
}

func TestSingleMemberBundleKeepsOriginalTitle(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	e := newTestEngine(t, sink)
	if err := e.AddRule(rules.Rule{
		Name:        "bundle-all",
		Predicate:   rules.All(),
		Disposition: notification.Bundle,
	}); err != nil {
		t.Fatalf("AddRule: %v", err)
	}

	submit(t, e, "lonely", notification.TypeTask, notification.PriorityLow, nil)
	e.Close()

	got := sink.delivered()
	if len(got) != 1 || got[0].Title != "lonely" {
		t.Fatalf("sink got %+v, want single record with original title", got)
	}
	if got[0].Meta(notification.MetaBundledCount) != "1" {
		t.Fatalf("bundled_count = %q, want 1", got[0].Meta(notification.MetaBundledCount))
	}
}

func TestSilenceRuleLeavesHistoryEntry(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	e := newTestEngine(t, sink)
	if err := e.AddRule(rules.Rule{
		Name:        "mute-network",
		Predicate:   rules.TypeIs(notification.TypeProfessionalNetwork),
		Disposition: notification.Silence,
	}); err != nil {
		t.Fatalf("AddRule: %v", err)
	}

	res := submit(t, e, "someone viewed your profile", notification.TypeProfessionalNetwork, notification.PriorityInfo, nil)
	if res.Disposition != notification.Silence || res.Delivered {
		t.Fatalf("result = %+v, want silenced", res)
	}
	if len(sink.delivered()) != 0 {
		t.Fatal("silenced record must not reach the sink")
	}
	recent := e.Recent(1)
	if len(recent) != 1 || recent[0].Disposition != notification.Silence {
		t.Fatalf("history = %+v", recent)
	}
	if res.MatchedRule != "mute-network" {
		t.Fatalf("MatchedRule = %q", res.MatchedRule)
	}
}

// Internal failures reported through the default reporter are visible to bus
// subscribers, not just the log.
func TestReportedFailuresReachBus(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8)
	defer unsub()

	sink := &fakeSink{}
	e := newTestEngine(t, sink,
		WithBus(bus),
		WithScorer(fixedScorer{err: errors.New("model offline")}))

	submit(t, e, "n", notification.TypeEmail, notification.PriorityLow, nil)

	var errEvents []ErrorEvent
	for drained := false; !drained; {
		select {
		case ev := <-ch:
			if ev.Type == eventbus.EventRuleError {
				data, ok := ev.Data.(ErrorEvent)
				if !ok {
					t.Fatalf("rule_error payload = %T, want ErrorEvent", ev.Data)
				}
				errEvents = append(errEvents, data)
			}
		default:
			drained = true
		}
	}
	if len(errEvents) != 1 {
		t.Fatalf("rule_error events = %d, want 1", len(errEvents))
	}
	if errEvents[0].Context != "scorer" || !strings.Contains(errEvents[0].Error, "model offline") {
		t.Fatalf("event = %+v", errEvents[0])
	}
}

func TestPredicateFailureReachesBus(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8)
	defer unsub()

	sink := &fakeSink{}
	e := newTestEngine(t, sink, WithBus(bus))
	if err := e.AddRule(rules.Rule{
		Name:        "broken",
		Predicate:   rules.Custom(func(notification.Record) (bool, error) { return false, errors.New("boom") }),
		Disposition: notification.Silence,
	}); err != nil {
		t.Fatalf("AddRule: %v", err)
	}

	submit(t, e, "n", notification.TypeEmail, notification.PriorityLow, nil)

	found := false
	for drained := false; !drained; {
		select {
		case ev := <-ch:
			if ev.Type == eventbus.EventRuleError {
				found = true
				drained = true
			}
		default:
			drained = true
		}
	}
	if !found {
		t.Fatal("predicate failure never reached the bus")
	}
}

func TestConcurrentSubmit(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	e := newTestEngine(t, sink)

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, _ = e.Submit(context.Background(), "n", "b",
				notification.TypeSystem, notification.PriorityLow, nil, nil)
		}()
	}
	wg.Wait()

	if c := e.Stats(); c.Submitted != n || c.Delivered != n {
		t.Fatalf("counters = %+v, want %d/%d", c, n, n)
	}
	if got := len(sink.delivered()); got != n {
		t.Fatalf("sink got %d, want %d", got, n)
	}
}
