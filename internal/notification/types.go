package notification

import (
	"fmt"
	"strings"
)

// Type classifies the producer surface a record originated from.
// The set is closed; Submit rejects anything else.
type Type string

const (
	TypeEmail               Type = "EMAIL"
	TypeCalendar            Type = "CALENDAR"
	TypeTask                Type = "TASK"
	TypeRepository          Type = "REPOSITORY"
	TypeProfessionalNetwork Type = "PROFESSIONAL_NETWORK"
	TypeSystem              Type = "SYSTEM"
	TypeAI                  Type = "AI"
	TypeVoice               Type = "VOICE"
)

var allTypes = []Type{
	TypeEmail, TypeCalendar, TypeTask, TypeRepository,
	TypeProfessionalNetwork, TypeSystem, TypeAI, TypeVoice,
}

func (t Type) Valid() bool {
	for _, k := range allTypes {
		if t == k {
			return true
		}
	}
	return false
}

// ParseType accepts case-insensitive type names (config files, CLIs).
func ParseType(s string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown notification type %q", s)
	}
	return t, nil
}

// Priority is an ordered urgency class. Critical is the only level that
// bypasses do-not-disturb suppression.
type Priority int

const (
	PriorityInfo     Priority = 1
	PriorityLow      Priority = 2
	PriorityMedium   Priority = 3
	PriorityHigh     Priority = 4
	PriorityCritical Priority = 5
)

func (p Priority) Valid() bool { return p >= PriorityInfo && p <= PriorityCritical }

func (p Priority) String() string {
	switch p {
	case PriorityInfo:
		return "INFO"
	case PriorityLow:
		return "LOW"
	case PriorityMedium:
		return "MEDIUM"
	case PriorityHigh:
		return "HIGH"
	case PriorityCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("PRIORITY(%d)", int(p))
	}
}

// ParsePriority accepts either a level name or its numeric value.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INFO", "1":
		return PriorityInfo, nil
	case "LOW", "2":
		return PriorityLow, nil
	case "MEDIUM", "3":
		return PriorityMedium, nil
	case "HIGH", "4":
		return PriorityHigh, nil
	case "CRITICAL", "5":
		return PriorityCritical, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", s)
	}
}

// Disposition is the routing decision made for a record.
type Disposition string

const (
	Deliver Disposition = "deliver"
	Bundle  Disposition = "bundle"
	Silence Disposition = "silence"
)

func (d Disposition) Valid() bool {
	return d == Deliver || d == Bundle || d == Silence
}

// ParseDisposition accepts case-insensitive disposition names.
func ParseDisposition(s string) (Disposition, error) {
	d := Disposition(strings.ToLower(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", fmt.Errorf("unknown disposition %q", s)
	}
	return d, nil
}
