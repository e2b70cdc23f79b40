package rules

import (
	"errors"
	"sync"
	"testing"
	"time"

	"notifyd/internal/engine/timewin"
	"notifyd/internal/notification"
	"notifyd/pkg/logx"
)

func record(t *testing.T, typ notification.Type, prio notification.Priority, meta map[string]string) notification.Record {
	t.Helper()
	r, err := notification.New("title", "body", typ, prio, meta, nil)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	return r
}

type captureReporter struct {
	mu   sync.Mutex
	errs []error
}

func (c *captureReporter) Report(_ string, err error) {
	c.mu.Lock()
	c.errs = append(c.errs, err)
	c.mu.Unlock()
}

func (c *captureReporter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.errs)
}

func TestFirstMatchWins(t *testing.T) {
	t.Parallel()
	e := New(logx.Nop())
	mustAdd(t, e, Rule{Name: "r1", Predicate: All(), Disposition: notification.Silence})
	mustAdd(t, e, Rule{Name: "r2", Predicate: All(), Disposition: notification.Deliver})

	res := e.Evaluate(record(t, notification.TypeEmail, notification.PriorityLow, nil))
	if res.Disposition != notification.Silence {
		t.Fatalf("Disposition = %v, want silence", res.Disposition)
	}
	if res.Matched != "r1" {
		t.Fatalf("Matched = %q, want r1", res.Matched)
	}
}

func TestNoMatchDefaultsToDeliver(t *testing.T) {
	t.Parallel()
	e := New(logx.Nop())
	mustAdd(t, e, Rule{
		Name:        "email-only",
		Predicate:   TypeIs(notification.TypeEmail),
		Disposition: notification.Silence,
	})

	res := e.Evaluate(record(t, notification.TypeCalendar, notification.PriorityLow, nil))
	if res.Disposition != notification.Deliver {
		t.Fatalf("Disposition = %v, want deliver", res.Disposition)
	}
	if res.Matched != "" {
		t.Fatalf("Matched = %q, want empty", res.Matched)
	}
}

func TestPriorityOverrideResolvedIndependently(t *testing.T) {
	t.Parallel()
	// The disposition comes from the first rule; the override from the
	// second. Both first-match passes run over the same ordered list.
	e := New(logx.Nop())
	mustAdd(t, e, Rule{Name: "route", Predicate: All(), Disposition: notification.Bundle})
	high := notification.PriorityHigh
	mustAdd(t, e, Rule{
		Name:             "escalate",
		Predicate:        All(),
		Disposition:      notification.Deliver,
		PriorityOverride: &high,
	})

	res := e.Evaluate(record(t, notification.TypeEmail, notification.PriorityLow, nil))
	if res.Disposition != notification.Bundle {
		t.Fatalf("Disposition = %v, want bundle", res.Disposition)
	}
	if res.Override == nil || *res.Override != notification.PriorityHigh {
		t.Fatalf("Override = %v, want HIGH", res.Override)
	}
	if res.OverrideRule != "escalate" {
		t.Fatalf("OverrideRule = %q, want escalate", res.OverrideRule)
	}
}

func TestPredicateErrorTreatedAsNonMatch(t *testing.T) {
	t.Parallel()
	rep := &captureReporter{}
	e := New(logx.Nop(), WithReporter(rep))
	mustAdd(t, e, Rule{
		Name:        "broken",
		Predicate:   Custom(func(notification.Record) (bool, error) { return false, errors.New("boom") }),
		Disposition: notification.Silence,
	})
	mustAdd(t, e, Rule{Name: "fallback", Predicate: All(), Disposition: notification.Bundle})

	res := e.Evaluate(record(t, notification.TypeEmail, notification.PriorityLow, nil))
	if res.Disposition != notification.Bundle {
		t.Fatalf("Disposition = %v, want bundle (broken rule skipped)", res.Disposition)
	}
	if rep.count() != 1 {
		t.Fatalf("reported errors = %d, want 1", rep.count())
	}
}

func TestPredicatePanicTreatedAsNonMatch(t *testing.T) {
	t.Parallel()
	rep := &captureReporter{}
	e := New(logx.Nop(), WithReporter(rep))
	mustAdd(t, e, Rule{
		Name:        "panicky",
		Predicate:   Custom(func(notification.Record) (bool, error) { panic("ouch") }),
		Disposition: notification.Silence,
	})

	res := e.Evaluate(record(t, notification.TypeEmail, notification.PriorityLow, nil))
	if res.Disposition != notification.Deliver {
		t.Fatalf("Disposition = %v, want deliver", res.Disposition)
	}
	if rep.count() != 1 {
		t.Fatalf("reported errors = %d, want 1", rep.count())
	}
}

func TestRuleWindowRestrictsCandidacy(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 12, 12, 0, 0, 0, time.Local) // noon
	e := New(logx.Nop(), WithClock(func() time.Time { return now }))

	work := timewin.Window{Start: 9 * 60, End: 17 * 60}
	night := timewin.Window{Start: 22 * 60, End: 6 * 60}
	mustAdd(t, e, Rule{Name: "off-hours", Predicate: All(), Disposition: notification.Silence, Window: &night})
	mustAdd(t, e, Rule{Name: "work-hours", Predicate: All(), Disposition: notification.Bundle, Window: &work})

	res := e.Evaluate(record(t, notification.TypeEmail, notification.PriorityLow, nil))
	if res.Matched != "work-hours" || res.Disposition != notification.Bundle {
		t.Fatalf("got %q/%v, want work-hours/bundle", res.Matched, res.Disposition)
	}
}

func TestAddReplacesByName(t *testing.T) {
	t.Parallel()
	e := New(logx.Nop())
	mustAdd(t, e, Rule{Name: "r", Predicate: All(), Disposition: notification.Silence})
	mustAdd(t, e, Rule{Name: "r", Predicate: All(), Disposition: notification.Bundle})

	if n := e.Len(); n != 1 {
		t.Fatalf("Len = %d, want 1", n)
	}
	res := e.Evaluate(record(t, notification.TypeEmail, notification.PriorityLow, nil))
	if res.Disposition != notification.Bundle {
		t.Fatalf("Disposition = %v, want bundle", res.Disposition)
	}
}

func TestRemoveAndReplace(t *testing.T) {
	t.Parallel()
	e := New(logx.Nop())
	mustAdd(t, e, Rule{Name: "a", Predicate: All(), Disposition: notification.Silence})
	mustAdd(t, e, Rule{Name: "b", Predicate: All(), Disposition: notification.Bundle})

	if err := e.Remove("a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := e.Remove("a"); !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("Remove missing = %v, want ErrRuleNotFound", err)
	}
	if err := e.Replace("b", Rule{Predicate: All(), Disposition: notification.Deliver}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if got := e.Names(); len(got) != 1 || got[0] != "b" {
		t.Fatalf("Names = %v, want [b]", got)
	}
}

func TestSetAllRejectsDuplicates(t *testing.T) {
	t.Parallel()
	e := New(logx.Nop())
	err := e.SetAll([]Rule{
		{Name: "x", Predicate: All(), Disposition: notification.Deliver},
		{Name: "x", Predicate: All(), Disposition: notification.Silence},
	})
	if err == nil {
		t.Fatal("expected duplicate-name error")
	}
}

func TestPredicateVariants(t *testing.T) {
	t.Parallel()
	rec := record(t, notification.TypeEmail, notification.PriorityHigh,
		map[string]string{"sender": "boss@example.com"})

	tests := []struct {
		name string
		pred Predicate
		want bool
	}{
		{name: "type match", pred: TypeIs(notification.TypeEmail), want: true},
		{name: "type mismatch", pred: TypeIs(notification.TypeVoice), want: false},
		{name: "priority at least", pred: PriorityAtLeast(notification.PriorityMedium), want: true},
		{name: "priority too low", pred: PriorityAtLeast(notification.PriorityCritical), want: false},
		{name: "meta equals", pred: FieldEquals("meta.sender", "boss@example.com"), want: true},
		{name: "title equals", pred: FieldEquals("title", "title"), want: true},
		{name: "field in", pred: FieldIn("meta.sender", "x@example.com", "boss@example.com"), want: true},
		{name: "and", pred: All(TypeIs(notification.TypeEmail), PriorityAtLeast(notification.PriorityHigh)), want: true},
		{name: "and short-circuit", pred: All(TypeIs(notification.TypeVoice), PriorityAtLeast(notification.PriorityInfo)), want: false},
		{name: "or", pred: Any(TypeIs(notification.TypeVoice), TypeIs(notification.TypeEmail)), want: true},
		{name: "empty all matches", pred: All(), want: true},
		{name: "empty any matches nothing", pred: Any(), want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := tt.pred.Match(rec)
			if err != nil {
				t.Fatalf("Match: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Match = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUnknownFieldErrors(t *testing.T) {
	t.Parallel()
	rec := record(t, notification.TypeEmail, notification.PriorityLow, nil)
	if _, err := FieldEquals("subject", "x").Match(rec); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func mustAdd(t *testing.T, e *Engine, r Rule) {
	t.Helper()
	if err := e.Add(r); err != nil {
		t.Fatalf("Add(%q): %v", r.Name, err)
	}
}
