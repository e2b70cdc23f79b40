package config

import (
	"testing"
	"time"
)

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want time.Duration
		ok   bool
	}{
		{raw: "5m", want: 5 * time.Minute, ok: true},
		{raw: " 10s ", want: 10 * time.Second, ok: true},
		{raw: "", want: 0, ok: true},
		{raw: "five minutes", ok: false},
		{raw: "-1s", ok: false},
	}
	for _, tt := range tests {
		got, err := ParseDurationField("field", tt.raw)
		if tt.ok != (err == nil) {
			t.Fatalf("ParseDurationField(%q) error = %v", tt.raw, err)
		}
		if tt.ok && got != tt.want {
			t.Fatalf("ParseDurationField(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	def := 2 * time.Second

	if got, err := ParseDurationOrDefault("field", "3s", def); err != nil || got != 3*time.Second {
		t.Fatalf("explicit value: %v, %v", got, err)
	}
	if got, err := ParseDurationOrDefault("field", "", def); err != nil || got != def {
		t.Fatalf("empty must fall back to default: %v, %v", got, err)
	}
	if got, err := ParseDurationOrDefault("field", "0s", def); err != nil || got != def {
		t.Fatalf("zero must fall back to default: %v, %v", got, err)
	}
	if _, err := ParseDurationOrDefault("field", "later", def); err == nil {
		t.Fatal("malformed value must error, not default")
	}
}
