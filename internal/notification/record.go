// Package notification defines the immutable record that flows through the
// decision pipeline, plus its closed type/priority/disposition enums.
package notification

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidType     = errors.New("invalid notification type")
	ErrInvalidPriority = errors.New("priority out of range")
)

// Metadata keys the engine itself writes. Everything else in Metadata is
// producer context, passed through untouched.
const (
	MetaBundledCount = "bundled_count"
	MetaBundleKey    = "bundle_key"
)

// Action is a (label, token) pair surfaced to the delivery sink. The engine
// never interprets tokens.
type Action struct {
	Label string `json:"label"`
	Token string `json:"token"`
}

// Record is an immutable notification. Delivery/read state lives in the
// history store, never on the record itself.
type Record struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Type      Type              `json:"type"`
	Priority  Priority          `json:"priority"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Actions   []Action          `json:"actions,omitempty"`
}

// New validates inputs and builds a record with a fresh ID and CreatedAt.
// Metadata and actions are copied so later caller mutation cannot leak in.
func New(title, body string, typ Type, prio Priority, meta map[string]string, actions []Action) (Record, error) {
	if !typ.Valid() {
		return Record{}, fmt.Errorf("%w: %q", ErrInvalidType, string(typ))
	}
	if !prio.Valid() {
		return Record{}, fmt.Errorf("%w: %d (want 1..5)", ErrInvalidPriority, int(prio))
	}

	var md map[string]string
	if len(meta) > 0 {
		md = make(map[string]string, len(meta))
		for k, v := range meta {
			md[k] = v
		}
	}
	var acts []Action
	if len(actions) > 0 {
		acts = append(acts, actions...)
	}

	return Record{
		ID:        uuid.NewString(),
		Title:     title,
		Body:      body,
		Type:      typ,
		Priority:  prio,
		CreatedAt: time.Now(),
		Metadata:  md,
		Actions:   acts,
	}, nil
}

// WithPriority returns a copy of the record at a different priority.
// Used by the pipeline when a scorer hint or rule override applies.
func (r Record) WithPriority(p Priority) Record {
	r.Priority = p
	return r
}

// Meta returns a metadata value ("" when absent).
func (r Record) Meta(key string) string {
	if r.Metadata == nil {
		return ""
	}
	return r.Metadata[key]
}
