// Package scorer provides reference implementations of the engine's Scorer
// interface. Real deployments may plug a model-backed scorer instead; the
// engine only needs the Score contract.
package scorer

import (
	"context"
	"strings"
	"sync"

	"notifyd/internal/engine"
	"notifyd/internal/notification"
)

// Noop never has an opinion. Valid stand-in when no model is wired.
type Noop struct{}

func (Noop) Score(context.Context, notification.Record) (engine.Score, error) {
	return engine.Score{}, nil
}

// KeywordConfig tunes the heuristic scorer.
type KeywordConfig struct {
	// UrgentKeywords raise a record to HIGH when found in title or body.
	UrgentKeywords []string
	// VIPSenders raise records whose metadata "sender" matches to HIGH.
	VIPSenders []string
}

// Keyword is a heuristic scorer: urgency keywords and sender reputation.
// Sender reputation starts from the VIP list and is adjusted through the
// explicit feedback loop (RecordFeedback); scoring itself never mutates state.
type Keyword struct {
	keywords []string

	mu      sync.RWMutex
	senders map[string]int // positive = important
}

func NewKeyword(cfg KeywordConfig) *Keyword {
	k := &Keyword{senders: map[string]int{}}
	for _, w := range cfg.UrgentKeywords {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			k.keywords = append(k.keywords, w)
		}
	}
	for _, s := range cfg.VIPSenders {
		if s = strings.TrimSpace(s); s != "" {
			k.senders[s] = 3
		}
	}
	return k
}

func (k *Keyword) Score(_ context.Context, r notification.Record) (engine.Score, error) {
	text := strings.ToLower(r.Title + " " + r.Body)
	for _, w := range k.keywords {
		if strings.Contains(text, w) {
			return engine.Score{Hint: notification.PriorityHigh, Confidence: 0.9}, nil
		}
	}

	if sender := r.Meta("sender"); sender != "" {
		k.mu.RLock()
		score := k.senders[sender]
		k.mu.RUnlock()
		switch {
		case score >= 3:
			return engine.Score{Hint: notification.PriorityHigh, Confidence: 0.7}, nil
		case score >= 1:
			return engine.Score{Hint: notification.PriorityMedium, Confidence: 0.5}, nil
		}
	}
	return engine.Score{}, nil
}

// RecordFeedback adjusts sender reputation: acted-on notifications promote
// the sender, dismissed ones demote. This is the only mutation path; it is
// never called by the pipeline itself.
func (k *Keyword) RecordFeedback(_ context.Context, r notification.Record, acted bool) error {
	sender := r.Meta("sender")
	if sender == "" {
		return nil
	}
	k.mu.Lock()
	if acted {
		k.senders[sender]++
	} else {
		k.senders[sender]--
	}
	k.mu.Unlock()
	return nil
}
