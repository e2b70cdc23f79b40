package app

import (
	"errors"
	"fmt"

	"notifyd/internal/config"
	"notifyd/internal/engine"
	"notifyd/internal/engine/dnd"
	"notifyd/internal/engine/rules"
	"notifyd/internal/engine/timewin"
	"notifyd/internal/notification"
	"notifyd/internal/scorer"
	"notifyd/internal/sink"
	"notifyd/pkg/logx"
)

// buildEngineConfig maps the duration-string config block onto engine.Config.
func buildEngineConfig(cfg config.EngineConfig) (engine.Config, error) {
	interval, err := config.ParseDurationField("engine.bundle_interval", cfg.BundleInterval)
	if err != nil {
		return engine.Config{}, err
	}
	tick, err := config.ParseDurationField("engine.bundle_tick", cfg.BundleTick)
	if err != nil {
		return engine.Config{}, err
	}
	scorerTO, err := config.ParseDurationField("engine.scorer_timeout", cfg.ScorerTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	sinkTO, err := config.ParseDurationField("engine.sink_timeout", cfg.SinkTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		BundleInterval: interval,
		BundleTick:     tick,
		HistorySize:    cfg.HistorySize,
		ScorerTimeout:  scorerTO,
		SinkTimeout:    sinkTO,
	}, nil
}

func buildRules(specs []config.RuleSpec) ([]rules.Rule, error) {
	out := make([]rules.Rule, 0, len(specs))
	for i := range specs {
		r, err := buildRule(specs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func buildRule(spec config.RuleSpec) (rules.Rule, error) {
	if spec.Name == "" {
		return rules.Rule{}, errors.New("rules[].name is required")
	}

	disp, err := notification.ParseDisposition(spec.Disposition)
	if err != nil {
		return rules.Rule{}, fmt.Errorf("rule %q: %w", spec.Name, err)
	}

	pred, err := buildPredicate(spec.When)
	if err != nil {
		return rules.Rule{}, fmt.Errorf("rule %q: %w", spec.Name, err)
	}

	r := rules.Rule{Name: spec.Name, Predicate: pred, Disposition: disp}

	if spec.Priority != "" {
		p, err := notification.ParsePriority(spec.Priority)
		if err != nil {
			return rules.Rule{}, fmt.Errorf("rule %q: %w", spec.Name, err)
		}
		r.PriorityOverride = &p
	}
	if spec.Window != "" {
		w, err := timewin.Parse(spec.Window)
		if err != nil {
			return rules.Rule{}, fmt.Errorf("rule %q: %w", spec.Name, err)
		}
		r.Window = &w
	}
	return r, nil
}

// buildPredicate converts the declarative form. Several leaf conditions in
// one spec AND together; an empty spec matches everything.
func buildPredicate(spec config.PredicateSpec) (rules.Predicate, error) {
	if len(spec.All) > 0 || len(spec.Any) > 0 {
		if spec.Type != "" || spec.PriorityAtLeast != "" || spec.Field != "" {
			return rules.Predicate{}, errors.New("composite predicate cannot also carry leaf conditions")
		}
		sub := spec.All
		composite := rules.All
		if len(spec.Any) > 0 {
			if len(spec.All) > 0 {
				return rules.Predicate{}, errors.New(`predicate cannot set both "all" and "any"`)
			}
			sub = spec.Any
			composite = rules.Any
		}
		preds := make([]rules.Predicate, 0, len(sub))
		for i := range sub {
			p, err := buildPredicate(sub[i])
			if err != nil {
				return rules.Predicate{}, err
			}
			preds = append(preds, p)
		}
		return composite(preds...), nil
	}

	var leaves []rules.Predicate
	if spec.Type != "" {
		t, err := notification.ParseType(spec.Type)
		if err != nil {
			return rules.Predicate{}, err
		}
		leaves = append(leaves, rules.TypeIs(t))
	}
	if spec.PriorityAtLeast != "" {
		p, err := notification.ParsePriority(spec.PriorityAtLeast)
		if err != nil {
			return rules.Predicate{}, err
		}
		leaves = append(leaves, rules.PriorityAtLeast(p))
	}
	if spec.Field != "" {
		switch {
		case spec.Equals != "" && len(spec.In) > 0:
			return rules.Predicate{}, errors.New(`field predicate cannot set both "equals" and "in"`)
		case len(spec.In) > 0:
			leaves = append(leaves, rules.FieldIn(spec.Field, spec.In...))
		default:
			leaves = append(leaves, rules.FieldEquals(spec.Field, spec.Equals))
		}
	} else if spec.Equals != "" || len(spec.In) > 0 {
		return rules.Predicate{}, errors.New(`"equals"/"in" require "field"`)
	}

	switch len(leaves) {
	case 0:
		return rules.All(), nil // matches everything
	case 1:
		return leaves[0], nil
	default:
		return rules.All(leaves...), nil
	}
}

func buildDNDSchedule(cfg config.DNDConfig) ([]dnd.Entry, error) {
	out := make([]dnd.Entry, 0, len(cfg.Schedule))
	for i := range cfg.Schedule {
		spec := &cfg.Schedule[i]
		w, err := timewin.Parse(spec.Window)
		if err != nil {
			return nil, fmt.Errorf("dnd.schedule[%d]: %w", i, err)
		}
		days := dnd.AllWeekdays
		if len(spec.Weekdays) > 0 {
			days = 0
			for _, raw := range spec.Weekdays {
				d, err := dnd.ParseWeekday(raw)
				if err != nil {
					return nil, fmt.Errorf("dnd.schedule[%d]: %w", i, err)
				}
				days |= dnd.Weekdays(d)
			}
		}
		out = append(out, dnd.Entry{Window: w, Weekdays: days, BlockCritical: spec.BlockCritical})
	}
	return out, nil
}

func buildScorer(cfg *config.ScorerConfig) (engine.Scorer, error) {
	if cfg == nil {
		return scorer.Noop{}, nil
	}
	switch cfg.Kind {
	case "", "noop":
		return scorer.Noop{}, nil
	case "keyword":
		return scorer.NewKeyword(scorer.KeywordConfig{
			UrgentKeywords: cfg.UrgentKeywords,
			VIPSenders:     cfg.VIPSenders,
		}), nil
	default:
		return nil, fmt.Errorf("unknown scorer kind %q", cfg.Kind)
	}
}

func buildSink(cfg config.SinkConfig, log logx.Logger) (engine.Sink, error) {
	var sinks []sink.Deliverer
	if cfg.Console.Enabled {
		sinks = append(sinks, sink.NewConsole(nil))
	}
	if tg := cfg.Telegram; tg != nil && tg.Enabled {
		t, err := sink.NewTelegram(sink.TelegramConfig{
			Token:      tg.Token,
			ChatID:     tg.ChatID,
			RatePerSec: tg.RatePerSec,
		}, log.With(logx.String("comp", "sink.telegram")))
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, t)
	}

	switch len(sinks) {
	case 0:
		return nil, errors.New("no sink enabled; enable sink.console or sink.telegram")
	case 1:
		return sinks[0], nil
	default:
		return sink.NewMulti(sinks...), nil
	}
}
