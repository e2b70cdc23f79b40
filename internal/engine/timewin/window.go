// Package timewin implements local wall-clock windows ("22:30-07:00").
// Windows may wrap past midnight.
package timewin

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Window is a pair of local wall-clock times in minutes from midnight.
// Start == End means the window never matches.
type Window struct {
	Start int // 0..1439
	End   int // 0..1439
}

// Parse accepts "HH:MM-HH:MM".
func Parse(raw string) (Window, error) {
	lo, hi, ok := strings.Cut(strings.TrimSpace(raw), "-")
	if !ok {
		return Window{}, fmt.Errorf("invalid window %q (want HH:MM-HH:MM)", raw)
	}
	start, err := ParseHHMM(lo)
	if err != nil {
		return Window{}, err
	}
	end, err := ParseHHMM(hi)
	if err != nil {
		return Window{}, err
	}
	return Window{Start: start, End: end}, nil
}

// ParseHHMM converts "HH:MM" to minutes from midnight.
func ParseHHMM(raw string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok {
		return 0, fmt.Errorf("invalid time %q (want HH:MM)", raw)
	}
	hh, err := strconv.Atoi(h)
	if err != nil || hh < 0 || hh > 23 {
		return 0, fmt.Errorf("invalid hour in %q", raw)
	}
	mm, err := strconv.Atoi(m)
	if err != nil || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("invalid minute in %q", raw)
	}
	return hh*60 + mm, nil
}

// Contains reports whether the window contains the local wall-clock time of t.
// The start edge is inclusive, the end edge exclusive.
func (w Window) Contains(t time.Time) bool {
	if w.Start == w.End {
		return false
	}
	min := t.Hour()*60 + t.Minute()
	if w.Start < w.End {
		return min >= w.Start && min < w.End
	}
	// Wraps past midnight, e.g. 22:30-07:00.
	return min >= w.Start || min < w.End
}

func (w Window) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", w.Start/60, w.Start%60, w.End/60, w.End%60)
}
