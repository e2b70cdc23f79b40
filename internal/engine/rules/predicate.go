package rules

import (
	"errors"
	"fmt"
	"strings"

	"notifyd/internal/notification"
)

// PredicateKind tags the variant a Predicate carries.
//
// Keeping predicates as data (rather than opaque closures) makes rule sets
// declarable in the config file and inspectable at runtime. KindCustom is the
// escape hatch for callers that need arbitrary logic.
type PredicateKind string

const (
	KindFieldEquals     PredicateKind = "field_equals"
	KindFieldIn         PredicateKind = "field_in"
	KindTypeIs          PredicateKind = "type_is"
	KindPriorityAtLeast PredicateKind = "priority_at_least"
	KindAll             PredicateKind = "all"
	KindAny             PredicateKind = "any"
	KindCustom          PredicateKind = "custom"
)

// Predicate is a pure condition over a record. Exactly the fields relevant to
// Kind are set; the rest stay zero.
//
// Field addressing: "title", "body", or "meta.<key>".
type Predicate struct {
	Kind PredicateKind

	Field  string
	Value  string
	Values []string

	Type        notification.Type
	MinPriority notification.Priority

	Sub []Predicate // KindAll / KindAny

	Fn func(notification.Record) (bool, error) // KindCustom
}

// FieldEquals matches when the addressed field equals value exactly.
func FieldEquals(field, value string) Predicate {
	return Predicate{Kind: KindFieldEquals, Field: field, Value: value}
}

// FieldIn matches when the addressed field equals any of values.
func FieldIn(field string, values ...string) Predicate {
	return Predicate{Kind: KindFieldIn, Field: field, Values: values}
}

// TypeIs matches records of the given type.
func TypeIs(t notification.Type) Predicate {
	return Predicate{Kind: KindTypeIs, Type: t}
}

// PriorityAtLeast matches records at or above the given priority.
func PriorityAtLeast(p notification.Priority) Predicate {
	return Predicate{Kind: KindPriorityAtLeast, MinPriority: p}
}

// All matches when every sub-predicate matches (empty matches everything).
func All(sub ...Predicate) Predicate { return Predicate{Kind: KindAll, Sub: sub} }

// Any matches when at least one sub-predicate matches.
func Any(sub ...Predicate) Predicate { return Predicate{Kind: KindAny, Sub: sub} }

// Custom wraps an arbitrary predicate function. fn must be pure; an error or
// panic is treated as "does not match" by the engine.
func Custom(fn func(notification.Record) (bool, error)) Predicate {
	return Predicate{Kind: KindCustom, Fn: fn}
}

var errNilCustomFn = errors.New("custom predicate has nil fn")

// Match evaluates the predicate against a record.
func (p Predicate) Match(r notification.Record) (bool, error) {
	switch p.Kind {
	case KindFieldEquals:
		v, err := fieldValue(r, p.Field)
		if err != nil {
			return false, err
		}
		return v == p.Value, nil
	case KindFieldIn:
		v, err := fieldValue(r, p.Field)
		if err != nil {
			return false, err
		}
		for _, want := range p.Values {
			if v == want {
				return true, nil
			}
		}
		return false, nil
	case KindTypeIs:
		return r.Type == p.Type, nil
	case KindPriorityAtLeast:
		return r.Priority >= p.MinPriority, nil
	case KindAll:
		for _, sub := range p.Sub {
			ok, err := sub.Match(r)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case KindAny:
		for _, sub := range p.Sub {
			ok, err := sub.Match(r)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case KindCustom:
		if p.Fn == nil {
			return false, errNilCustomFn
		}
		return p.Fn(r)
	default:
		return false, fmt.Errorf("unknown predicate kind %q", string(p.Kind))
	}
}

func fieldValue(r notification.Record, field string) (string, error) {
	switch {
	case field == "title":
		return r.Title, nil
	case field == "body":
		return r.Body, nil
	case strings.HasPrefix(field, "meta."):
		return r.Meta(strings.TrimPrefix(field, "meta.")), nil
	default:
		return "", fmt.Errorf("unknown predicate field %q", field)
	}
}
