// Package dnd implements do-not-disturb suppression: recurring weekday
// windows plus a manually toggled override.
//
// Suppression is judged at delivery time, not at ingestion time, so a record
// routed through a bundle is still checked against the schedule that is
// active when the bundle flushes.
package dnd

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"notifyd/internal/engine/timewin"
	"notifyd/internal/notification"
)

// WeekdaySet is a bitmask over time.Weekday (bit 0 = Sunday).
type WeekdaySet uint8

const AllWeekdays WeekdaySet = 0x7f

func Weekdays(days ...time.Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		s |= 1 << uint(d)
	}
	return s
}

func (s WeekdaySet) Contains(d time.Weekday) bool { return s&(1<<uint(d)) != 0 }

// ParseWeekday accepts short or long English day names, case-insensitive.
func ParseWeekday(raw string) (time.Weekday, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sun", "sunday":
		return time.Sunday, nil
	case "mon", "monday":
		return time.Monday, nil
	case "tue", "tuesday":
		return time.Tuesday, nil
	case "wed", "wednesday":
		return time.Wednesday, nil
	case "thu", "thursday":
		return time.Thursday, nil
	case "fri", "friday":
		return time.Friday, nil
	case "sat", "saturday":
		return time.Saturday, nil
	default:
		return 0, fmt.Errorf("unknown weekday %q", raw)
	}
}

// Entry is one recurring quiet-hours window.
type Entry struct {
	Window   timewin.Window
	Weekdays WeekdaySet

	// AllowCritical lets CRITICAL records through this window. This is the
	// default; set BlockCritical to suppress even CRITICAL.
	BlockCritical bool
}

// Gate evaluates whether delivery is currently suppressed.
// Safe for concurrent use.
type Gate struct {
	mu      sync.Mutex
	entries []Entry

	manualUntil         time.Time // zero when no manual override
	manualBlockCritical bool

	now func() time.Time
}

type Option func(*Gate)

func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

func New(opts ...Option) *Gate {
	g := &Gate{now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SetSchedule replaces the recurring schedule wholesale.
func (g *Gate) SetSchedule(entries []Entry) {
	cp := make([]Entry, len(entries))
	copy(cp, entries)
	g.mu.Lock()
	g.entries = cp
	g.mu.Unlock()
}

// Schedule returns a copy of the recurring schedule.
func (g *Gate) Schedule() []Entry {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := make([]Entry, len(g.entries))
	copy(cp, g.entries)
	return cp
}

// EnableManual suppresses delivery for the given duration, regardless of
// weekday. Expiry is lazy: the entry is simply ignored once past its
// deadline, there is no background sweep for this rarely-used feature.
func (g *Gate) EnableManual(d time.Duration) {
	g.mu.Lock()
	g.manualUntil = g.now().Add(d)
	g.manualBlockCritical = false
	g.mu.Unlock()
}

// DisableManual removes the manual override immediately.
func (g *Gate) DisableManual() {
	g.mu.Lock()
	g.manualUntil = time.Time{}
	g.mu.Unlock()
}

// ManualActive reports whether a manual override is currently in effect.
func (g *Gate) ManualActive(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.manualUntil.IsZero() && now.Before(g.manualUntil)
}

// IsSuppressed reports whether a record at the given priority must not be
// delivered at "now". CRITICAL bypasses any window that does not explicitly
// block it.
func (g *Gate) IsSuppressed(p notification.Priority, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.manualUntil.IsZero() && now.Before(g.manualUntil) {
		if p != notification.PriorityCritical || g.manualBlockCritical {
			return true
		}
	}

	for i := range g.entries {
		e := &g.entries[i]
		if !e.Weekdays.Contains(activeWeekday(e.Window, now)) {
			continue
		}
		if !e.Window.Contains(now) {
			continue
		}
		if p == notification.PriorityCritical && !e.BlockCritical {
			continue
		}
		return true
	}
	return false
}

// activeWeekday returns the weekday the window started on. For a window that
// wraps past midnight, times after midnight belong to the previous day's
// entry (a Mon 22:00-06:00 window covers Tue 01:00).
func activeWeekday(w timewin.Window, now time.Time) time.Weekday {
	min := now.Hour()*60 + now.Minute()
	if w.Start > w.End && min < w.End {
		return now.Add(-24 * time.Hour).Weekday()
	}
	return now.Weekday()
}
