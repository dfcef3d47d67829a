package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"

	"ticktock/internal/task/timer"
	logx "ticktock/pkg/logx"
)

// Action types understood by internal/action.
const (
	ActionLog    = "log"
	ActionExec   = "exec"
	ActionStart  = "start"
	ActionCancel = "cancel"
	ActionPause  = "pause"
	ActionResume = "resume"
	ActionFail   = "fail"
)

// ReservedTagPrefix marks tags the daemon registers itself (e.g. the systemd watchdog).
const ReservedTagPrefix = "tickd."

var storageDrivers = map[string]bool{"": true, "none": true, "file": true, "sqlite": true, "sqlite3": true}

// Validate checks cfg semantically and returns every problem found, joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" && !logx.ValidLevel(lvl) {
		add("logging.level: unknown level %q", lvl)
	}
	if st := cfg.Storage; st != nil {
		if !storageDrivers[strings.ToLower(strings.TrimSpace(st.Driver))] {
			add("storage.driver: unknown driver %q (use file, sqlite or none)", st.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", st.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
		if st.MaxEntries < 0 {
			add("storage.max_entries must be >= 0")
		}
	}
	if _, err := cfg.Location(); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("scheduler.failure_log_every", cfg.Scheduler.FailureLogEvery); err != nil {
		errs = append(errs, err)
	}

	tags := cfg.Tags()
	seen := make(map[string]int, len(cfg.Tasks))
	for i, tc := range cfg.Tasks {
		where := fmt.Sprintf("tasks[%d]", i)
		if tag := strings.TrimSpace(tc.Tag); tag != "" {
			where = fmt.Sprintf("tasks[%d] (%s)", i, tag)
			if strings.HasPrefix(tag, ReservedTagPrefix) {
				add("%s: tags starting with %q are reserved", where, ReservedTagPrefix)
			}
			if j, dup := seen[tag]; dup {
				add("%s: duplicate tag (also tasks[%d])", where, j)
			}
			seen[tag] = i
		}

		p, err := PlanTask(tc)
		if err != nil {
			add("%s: %w", where, err)
			continue
		}
		if _, err := buildCheck(p); err != nil {
			add("%s: %w", where, err)
		}
		if (p.Kind == timer.KindLoop || p.Kind == timer.KindCountDown) && p.Period <= 0 {
			add("%s: period must be > 0", where)
		}
		if p.OnTick != nil {
			if err := validateAction(p.OnTick, tags); err != nil {
				add("%s.on_tick: %w", where, err)
			}
		}
		if p.OnComplete != nil {
			if err := validateAction(p.OnComplete, tags); err != nil {
				add("%s.on_complete: %w", where, err)
			}
		}
	}
	return errors.Join(errs...)
}

// buildCheck runs the timer builder with placeholder callbacks so a task
// that could never start is rejected here instead of being silently inert.
func buildCheck(p TaskPlan) (timer.Spec, error) {
	b := new(timer.Builder).
		Tag(p.Tag).
		PeriodDelay(p.Period, p.InitialDelay).
		TakeWhile(p.TakeWhile).
		Policy(p.Kind)
	if p.OnTick != nil {
		b.OnTick(func(int64) error { return nil })
	}
	if p.OnComplete != nil {
		b.OnComplete(func() error { return nil })
	}
	return b.Build()
}

func validateAction(a *ActionConfig, tags []string) error {
	switch strings.ToLower(strings.TrimSpace(a.Type)) {
	case ActionLog:
		if strings.TrimSpace(a.Message) == "" {
			return errors.New("log action needs a message")
		}
		if a.Level != "" && !logx.ValidLevel(a.Level) {
			return fmt.Errorf("unknown level %q", a.Level)
		}
	case ActionExec:
		if len(a.Command) == 0 || strings.TrimSpace(a.Command[0]) == "" {
			return errors.New("exec action needs a command")
		}
		if _, err := ParseDurationField("timeout", a.Timeout); err != nil {
			return err
		}
	case ActionStart, ActionCancel, ActionPause, ActionResume:
		target := strings.TrimSpace(a.Target)
		if target == "" {
			return fmt.Errorf("%s action needs a target", a.Type)
		}
		for _, t := range tags {
			if t == target {
				return nil
			}
		}
		if s := Suggest(target, tags); s != "" {
			return fmt.Errorf("unknown target %q (did you mean %q?)", target, s)
		}
		return fmt.Errorf("unknown target %q", target)
	case ActionFail:
	case "":
		return errors.New("action type required")
	default:
		return fmt.Errorf("unknown action type %q (use log, exec, start, cancel, pause, resume or fail)", a.Type)
	}
	return nil
}

// Suggest returns the candidate closest to s by edit distance, or "" if none is close.
func Suggest(s string, candidates []string) string {
	best, bestDist := "", -1
	for _, c := range candidates {
		d := levenshtein.ComputeDistance(strings.ToLower(s), strings.ToLower(c))
		if bestDist < 0 || d < bestDist {
			best, bestDist = c, d
		}
	}
	if bestDist < 0 || bestDist > max(2, len(s)/3) {
		return ""
	}
	return best
}
