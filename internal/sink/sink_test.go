package sink

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"notifyd/internal/notification"
)

func record(t *testing.T, title, body string, actions []notification.Action, meta map[string]string) notification.Record {
	t.Helper()
	r, err := notification.New(title, body, notification.TypeEmail, notification.PriorityHigh, meta, actions)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	return r
}

func TestConsoleRendering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	c := NewConsole(&buf)

	rec := record(t, "build failed", "main branch is red",
		[]notification.Action{{Label: "Open CI", Token: "ci"}}, nil)
	if err := c.Deliver(context.Background(), rec); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"[EMAIL/HIGH]", "build failed", "main branch is red", "[Open CI]"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestConsoleShowsBundleCount(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	c := NewConsole(&buf)

	rec := record(t, "7 email notifications", "- a\n- b", nil,
		map[string]string{notification.MetaBundledCount: "7"})
	if err := c.Deliver(context.Background(), rec); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if !strings.Contains(buf.String(), "(x7)") {
		t.Fatalf("output missing bundle count:\n%s", buf.String())
	}
}

func TestTruncateNeverSplitsRunes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{name: "short passes through", in: "héllo", n: 10, want: "héllo"},
		{name: "exact length passes through", in: "héllo", n: 5, want: "héllo"},
		{name: "ascii cut", in: "hello world", n: 5, want: "hello…"},
		{name: "multibyte cut", in: "héllo wörld", n: 5, want: "héllo…"},
		{name: "cut before multibyte rune", in: "ab日本語", n: 3, want: "ab日…"},
		{name: "zero budget", in: "héllo", n: 0, want: ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := truncate(tt.in, tt.n)
			if got != tt.want {
				t.Fatalf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Fatalf("truncate(%q, %d) produced invalid UTF-8: %q", tt.in, tt.n, got)
			}
		})
	}
}

type stubSink struct {
	calls int
	err   error
}

func (s *stubSink) Deliver(context.Context, notification.Record) error {
	s.calls++
	return s.err
}

func TestMultiAttemptsEverySink(t *testing.T) {
	t.Parallel()
	a := &stubSink{err: errors.New("a down")}
	b := &stubSink{}
	m := NewMulti(a, b)

	err := m.Deliver(context.Background(), record(t, "t", "", nil, nil))
	if err == nil || err.Error() != "a down" {
		t.Fatalf("err = %v, want first failure", err)
	}
	if a.calls != 1 || b.calls != 1 {
		t.Fatalf("calls = %d/%d, want 1/1", a.calls, b.calls)
	}
}
