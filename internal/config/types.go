package config

// Config is the on-disk configuration. YAML and JSON are both accepted;
// unknown keys are rejected so typos surface at load time instead of
// silently doing nothing.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "5m").
type Config struct {
	Logging LoggingConfig `json:"logging"`
	Engine  EngineConfig  `json:"engine"`

	Scorer *ScorerConfig `json:"scorer,omitempty"`
	Sink   SinkConfig    `json:"sink"`

	DND   DNDConfig  `json:"dnd"`
	Rules []RuleSpec `json:"rules,omitempty"`

	Storage     *StorageConfig     `json:"storage,omitempty"`
	Maintenance *MaintenanceConfig `json:"maintenance,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// EngineConfig tunes the decision pipeline.
//
// Defaults (when fields are omitted/zero):
//   - bundle_interval: "5m"
//   - bundle_tick: "10s"
//   - history_size: 1000
//   - scorer_timeout: "2s"
//   - sink_timeout: "5s"
type EngineConfig struct {
	BundleInterval string `json:"bundle_interval,omitempty"`
	BundleTick     string `json:"bundle_tick,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	ScorerTimeout  string `json:"scorer_timeout,omitempty"`
	SinkTimeout    string `json:"sink_timeout,omitempty"`
}

// ScorerConfig selects the importance scorer.
// Kind values: "noop" (default), "keyword".
type ScorerConfig struct {
	Kind           string   `json:"kind"`
	UrgentKeywords []string `json:"urgent_keywords,omitempty"`
	VIPSenders     []string `json:"vip_senders,omitempty"`
}

type SinkConfig struct {
	Console  ConsoleSinkConfig   `json:"console"`
	Telegram *TelegramSinkConfig `json:"telegram,omitempty"`
}

type ConsoleSinkConfig struct {
	Enabled bool `json:"enabled"`
}

type TelegramSinkConfig struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token"`
	ChatID     int64  `json:"chat_id"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// DNDConfig declares the recurring quiet-hours schedule.
type DNDConfig struct {
	Schedule []DNDEntrySpec `json:"schedule,omitempty"`
}

// DNDEntrySpec is one recurring window.
//
// Example:
//
//	{ "window": "22:00-07:00", "weekdays": ["mon","tue"], "block_critical": false }
//
// An empty weekdays list means every day.
type DNDEntrySpec struct {
	Window        string   `json:"window"`
	Weekdays      []string `json:"weekdays,omitempty"`
	BlockCritical bool     `json:"block_critical,omitempty"`
}

// RuleSpec is one declarative routing rule. Rules are evaluated in file
// order; the first match decides routing and the first match carrying
// "priority" decides the override.
type RuleSpec struct {
	Name        string        `json:"name"`
	When        PredicateSpec `json:"when"`
	Disposition string        `json:"disposition"`
	Priority    string        `json:"priority,omitempty"` // override, replaces outright
	Window      string        `json:"window,omitempty"`   // "HH:MM-HH:MM", rule candidacy window
}

// PredicateSpec is the declarative predicate form. Set exactly one of the
// leaf conditions, or compose with all/any.
type PredicateSpec struct {
	Type            string   `json:"type,omitempty"`              // type_is
	PriorityAtLeast string   `json:"priority_at_least,omitempty"` // name or number
	Field           string   `json:"field,omitempty"`             // with equals or in
	Equals          string   `json:"equals,omitempty"`
	In              []string `json:"in,omitempty"`

	All []PredicateSpec `json:"all,omitempty"`
	Any []PredicateSpec `json:"any,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./notifyd.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// MaintenanceConfig controls periodic snapshots and stats logging.
type MaintenanceConfig struct {
	Enabled      bool   `json:"enabled"`
	SnapshotSpec string `json:"snapshot_spec,omitempty"` // cron spec, default "@every 5m"
	StatsSpec    string `json:"stats_spec,omitempty"`    // cron spec, default "@daily"
	Timezone     string `json:"timezone,omitempty"`
}
