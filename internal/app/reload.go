package app

import (
	"context"
	"slices"

	"ticktock/internal/config"
	"ticktock/internal/eventbus"
	logx "ticktock/pkg/logx"
)

// EventConfigReloaded is published after a new config has been applied.
const EventConfigReloaded = "config.reloaded"

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer, ok := <-sub:
					if !ok {
						return
					}
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			if newCfg == nil {
				continue
			}
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig brings the running state in line with newCfg.
// Removed tasks are cancelled; added and changed ones are (re)started from
// their first firing; untouched tasks keep their schedule.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs, changes := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	plans, err := newCfg.Plan()
	if err != nil {
		a.log.Warn("invalid tasks in reloaded config; keeping previous", logx.Err(err))
		return
	}
	loc, err := newCfg.Location()
	if err != nil {
		a.log.Warn("invalid timezone in reloaded config; keeping previous", logx.Err(err))
		loc = nil
	}

	if slices.Contains(sections, "logging") {
		if err := a.logs.Apply(mapLogConfig(newCfg)); err != nil {
			a.log.Warn("logging config partially applied", logx.Err(err))
		}
	}
	if slices.Contains(sections, "storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	a.sched.SetFailureLogEvery(newCfg.FailureLogEvery(defaultFailureLogEvery))

	a.mu.Lock()
	a.plans = indexPlans(plans)
	if loc != nil {
		a.loc = loc
	}
	a.mu.Unlock()

	for _, tag := range changes.Removed {
		a.sched.Cancel(tag)
	}
	restart := append(slices.Clone(changes.Added), changes.Changed...)
	for _, tag := range restart {
		if a.plan(tag).Manual {
			// A changed manual task waits for its next start action.
			a.sched.Cancel(tag)
			continue
		}
		if err := a.StartTask(tag); err != nil {
			a.log.Warn("task not restarted", logx.Tag(tag), logx.Err(err))
		}
	}

	a.bus.Publish(eventbus.Event{Type: EventConfigReloaded, Time: a.loop.Now(), Data: changes})

	fields := append([]logx.Field{logx.String("changed", joinSections(sections))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
