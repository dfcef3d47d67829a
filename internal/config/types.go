package config

// Config is the tickd configuration file.
//
// JSON, YAML and TOML are accepted (by extension). Unknown fields are rejected.
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Tasks     []TaskConfig    `json:"tasks"`
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

// StorageConfig controls the firing journal.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./tickd.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	MaxEntries  int    `json:"max_entries,omitempty"`
}

type SchedulerConfig struct {
	// Timezone used to evaluate `align` cron expressions. Default: local.
	Timezone string `json:"timezone,omitempty"`
	// FailureLogEvery limits callback failure warnings per task. Default: 5s.
	FailureLogEvery string `json:"failure_log_every,omitempty"`
	// Watchdog enables the systemd watchdog task when WATCHDOG_USEC is set.
	Watchdog bool `json:"watchdog,omitempty"`
}

// TaskConfig declares one task.
//
//	policy: loop | countdown | delay
//	period: Go duration, "HH:MM" or "interval:<...>" (loop, countdown)
//	initial_delay: defaults to period (delay: required unless align is set)
//	align: optional cron; the first firing happens at its next occurrence
type TaskConfig struct {
	Tag          string `json:"tag"`
	Policy       string `json:"policy"`
	Period       string `json:"period,omitempty"`
	InitialDelay string `json:"initial_delay,omitempty"`
	Align        string `json:"align,omitempty"`
	TakeWhile    int64  `json:"take_while,omitempty"`

	// Manual tasks are declared but only started by a `start` action.
	Manual bool `json:"manual,omitempty"`

	OnTick     *ActionConfig `json:"on_tick,omitempty"`
	OnComplete *ActionConfig `json:"on_complete,omitempty"`
}

// ActionConfig declares what a callback does.
//
// Types:
//   - log:     Message (placeholders {tag} {remaining} {now}), Level
//   - exec:    Command argv, Timeout; runs off the loop
//   - start, cancel, pause, resume: Target (a declared tag)
//   - fail:    Message as the error text
type ActionConfig struct {
	Type    string   `json:"type"`
	Message string   `json:"message,omitempty"`
	Level   string   `json:"level,omitempty"`
	Command []string `json:"command,omitempty"`
	Timeout string   `json:"timeout,omitempty"`
	Target  string   `json:"target,omitempty"`
}
