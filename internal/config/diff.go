package config

import (
	"reflect"
	"sort"
	"strings"

	logx "ticktock/pkg/logx"
)

// TaskChanges lists tags whose declaration differs between two configs.
type TaskChanges struct {
	Added   []string
	Removed []string
	Changed []string
}

func (c TaskChanges) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Changed) == 0
}

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) structured attrs for logging and (3) the per-task changes.
//
// A timezone change marks every aligned task as changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, TaskChanges) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 12)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		if newCfg.Storage != nil {
			attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
		}
	}
	tzChanged := strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone)
	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
			logx.String("scheduler.failure_log_every", newCfg.Scheduler.FailureLogEvery),
		)
	}

	tc := diffTasks(oldCfg.Tasks, newCfg.Tasks, tzChanged)
	if !tc.Empty() {
		changed = append(changed, "tasks")
		attrs = append(attrs,
			logx.Any("tasks.added", tc.Added),
			logx.Any("tasks.removed", tc.Removed),
			logx.Any("tasks.changed", tc.Changed),
		)
	}
	return changed, attrs, tc
}

func diffTasks(oldTasks, newTasks []TaskConfig, tzChanged bool) TaskChanges {
	index := func(ts []TaskConfig) map[string]TaskConfig {
		m := make(map[string]TaskConfig, len(ts))
		for _, t := range ts {
			m[strings.TrimSpace(t.Tag)] = t
		}
		return m
	}
	o, n := index(oldTasks), index(newTasks)

	var tc TaskChanges
	for tag, nt := range n {
		ot, ok := o[tag]
		switch {
		case !ok:
			tc.Added = append(tc.Added, tag)
		case !reflect.DeepEqual(ot, nt):
			tc.Changed = append(tc.Changed, tag)
		case tzChanged && strings.TrimSpace(nt.Align) != "":
			tc.Changed = append(tc.Changed, tag)
		}
	}
	for tag := range o {
		if _, ok := n[tag]; !ok {
			tc.Removed = append(tc.Removed, tag)
		}
	}
	sort.Strings(tc.Added)
	sort.Strings(tc.Removed)
	sort.Strings(tc.Changed)
	return tc
}
