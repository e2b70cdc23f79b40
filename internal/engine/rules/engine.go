// Package rules implements the ordered condition->action rule set that decides
// how a record is routed (deliver, bundle, silence).
//
// Resolution is two independent first-match passes over the same ordered list:
// the first matching rule with a disposition decides routing, and the first
// matching rule with a priority override decides priority. Resolving the two
// concerns separately keeps priority rules from shadowing routing rules and
// vice versa.
package rules

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"notifyd/internal/engine/timewin"
	"notifyd/internal/notification"
	"notifyd/pkg/logx"
)

var ErrRuleNotFound = errors.New("rule not found")

// Reporter receives predicate failures. Report must never block or panic.
type Reporter interface {
	Report(context string, err error)
}

// Rule is one condition->action entry. Name is unique within an engine and is
// the handle for Remove/Replace.
type Rule struct {
	Name        string
	Predicate   Predicate
	Disposition notification.Disposition

	// PriorityOverride, when non-nil, replaces the record's priority outright.
	// Unlike scorer hints it may lower priority: it is an explicit author call.
	PriorityOverride *notification.Priority

	// Window, when non-nil, restricts when this rule is a candidate match,
	// judged against wall-clock "now" at evaluation time.
	Window *timewin.Window
}

// Result is the outcome of one evaluation.
type Result struct {
	Disposition notification.Disposition
	Matched     string // name of the rule that decided disposition, "" if none

	Override     *notification.Priority
	OverrideRule string
}

// Engine holds the ordered rule list. Safe for concurrent use; rule counts are
// expected to be small (tens), so by-name lookups are linear scans.
type Engine struct {
	mu    sync.RWMutex
	rules []Rule

	log      logx.Logger
	reporter Reporter
	now      func() time.Time
}

type Option func(*Engine)

func WithReporter(r Reporter) Option  { return func(e *Engine) { e.reporter = r } }
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(log logx.Logger, opts ...Option) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{log: log, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Add appends a rule. Adding a name that already exists replaces the existing
// rule in place (idempotent re-registration, e.g. on config reload).
func (e *Engine) Add(r Rule) error {
	if r.Name == "" {
		return errors.New("rule name is required")
	}
	if !r.Disposition.Valid() {
		return fmt.Errorf("rule %q: invalid disposition %q", r.Name, string(r.Disposition))
	}
	if r.PriorityOverride != nil && !r.PriorityOverride.Valid() {
		return fmt.Errorf("rule %q: invalid priority override %d", r.Name, int(*r.PriorityOverride))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.rules {
		if e.rules[i].Name == r.Name {
			e.rules[i] = r
			return nil
		}
	}
	e.rules = append(e.rules, r)
	return nil
}

// Remove deletes a rule by name.
func (e *Engine) Remove(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.rules {
		if e.rules[i].Name == name {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrRuleNotFound, name)
}

// Replace swaps the rule registered under name, keeping its position.
func (e *Engine) Replace(name string, r Rule) error {
	if r.Name == "" {
		r.Name = name
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.rules {
		if e.rules[i].Name == name {
			e.rules[i] = r
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrRuleNotFound, name)
}

// SetAll replaces the whole rule set in one step (config reload).
// The incoming order becomes the evaluation order.
func (e *Engine) SetAll(rs []Rule) error {
	seen := make(map[string]struct{}, len(rs))
	for i := range rs {
		r := &rs[i]
		if r.Name == "" {
			return errors.New("rule name is required")
		}
		if _, dup := seen[r.Name]; dup {
			return fmt.Errorf("duplicate rule name %q", r.Name)
		}
		seen[r.Name] = struct{}{}
		if !r.Disposition.Valid() {
			return fmt.Errorf("rule %q: invalid disposition %q", r.Name, string(r.Disposition))
		}
		if r.PriorityOverride != nil && !r.PriorityOverride.Valid() {
			return fmt.Errorf("rule %q: invalid priority override %d", r.Name, int(*r.PriorityOverride))
		}
	}

	cp := make([]Rule, len(rs))
	copy(cp, rs)
	e.mu.Lock()
	e.rules = cp
	e.mu.Unlock()
	return nil
}

// Names returns rule names in registration order.
func (e *Engine) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, len(e.rules))
	for i := range e.rules {
		out[i] = e.rules[i].Name
	}
	return out
}

// Len returns the number of registered rules.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// Evaluate runs both first-match passes for a record.
//
// A predicate error or panic counts as "does not match": it is reported and
// evaluation continues with the next rule. With no matching disposition rule
// the default is Deliver.
func (e *Engine) Evaluate(r notification.Record) Result {
	e.mu.RLock()
	ruleset := make([]Rule, len(e.rules))
	copy(ruleset, e.rules)
	e.mu.RUnlock()

	now := e.now()
	res := Result{Disposition: notification.Deliver}

	haveDisp := false
	for i := range ruleset {
		rule := &ruleset[i]
		if rule.Window != nil && !rule.Window.Contains(now) {
			continue
		}
		ok := e.match(rule, r)
		if !ok {
			continue
		}
		if !haveDisp {
			res.Disposition = rule.Disposition
			res.Matched = rule.Name
			haveDisp = true
		}
		if res.Override == nil && rule.PriorityOverride != nil {
			p := *rule.PriorityOverride
			res.Override = &p
			res.OverrideRule = rule.Name
		}
		if haveDisp && res.Override != nil {
			break
		}
	}
	return res
}

// match wraps predicate evaluation with panic recovery.
func (e *Engine) match(rule *Rule, r notification.Record) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
			err := fmt.Errorf("rule %q predicate panic: %v", rule.Name, rec)
			e.log.Error("predicate panicked",
				logx.String("rule", rule.Name),
				logx.Any("panic", rec),
				logx.String("stack", string(debug.Stack())))
			e.report(rule.Name, err)
		}
	}()

	ok, err := rule.Predicate.Match(r)
	if err != nil {
		e.log.Warn("predicate error; treating as non-match",
			logx.String("rule", rule.Name), logx.Err(err))
		e.report(rule.Name, fmt.Errorf("rule %q predicate: %w", rule.Name, err))
		return false
	}
	return ok
}

func (e *Engine) report(rule string, err error) {
	if e.reporter == nil {
		return
	}
	e.reporter.Report("rules."+rule, err)
}
