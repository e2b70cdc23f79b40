// Package sink provides reference delivery sinks. A sink renders a record to
// a user-visible surface; the engine treats all of them uniformly through the
// engine.Sink interface.
package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"notifyd/internal/notification"
)

// Console renders records as plain text lines. Intended for local runs and
// debugging; it is not a log (use logx for logs).
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

func NewConsole(out io.Writer) *Console {
	if out == nil {
		out = os.Stdout
	}
	return &Console{out: out}
}

func (c *Console) Deliver(_ context.Context, r notification.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "[%s/%s] %s", r.Type, r.Priority, r.Title)
	if count := r.Meta(notification.MetaBundledCount); count != "" {
		fmt.Fprintf(&b, " (x%s)", count)
	}
	if r.Body != "" {
		b.WriteString("\n")
		b.WriteString(r.Body)
	}
	for _, a := range r.Actions {
		fmt.Fprintf(&b, "\n  [%s]", a.Label)
	}
	b.WriteString("\n")

	_, err := io.WriteString(c.out, b.String())
	return err
}

// Deliverer mirrors the engine's Sink contract so sinks can be composed
// without importing the engine package.
type Deliverer interface {
	Deliver(ctx context.Context, r notification.Record) error
}

// Multi fans a record out to several sinks. The first error is returned but
// every sink still gets its attempt.
type Multi struct {
	sinks []Deliverer
}

func NewMulti(sinks ...Deliverer) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) Deliver(ctx context.Context, r notification.Record) error {
	var first error
	for _, s := range m.sinks {
		if err := s.Deliver(ctx, r); err != nil && first == nil {
			first = err
		}
	}
	return first
}
