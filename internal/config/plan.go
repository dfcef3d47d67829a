package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"ticktock/internal/task/timer"
)

// TaskPlan is a TaskConfig with every field parsed.
type TaskPlan struct {
	Tag          string
	Kind         timer.Kind
	Period       time.Duration
	InitialDelay time.Duration
	Align        cron.Schedule
	TakeWhile    int64
	Manual       bool
	OnTick       *ActionConfig
	OnComplete   *ActionConfig
}

// FirstDelay is the time from now until the first firing. With align set it
// is the time until the next cron occurrence in now's location.
func (p TaskPlan) FirstDelay(now time.Time) time.Duration {
	if p.Align == nil {
		return p.InitialDelay
	}
	return max(0, p.Align.Next(now).Sub(now))
}

// PlanTask parses one task declaration.
func PlanTask(tc TaskConfig) (TaskPlan, error) {
	p := TaskPlan{
		Tag:        strings.TrimSpace(tc.Tag),
		TakeWhile:  tc.TakeWhile,
		Manual:     tc.Manual,
		OnTick:     tc.OnTick,
		OnComplete: tc.OnComplete,
	}
	if p.Tag == "" {
		return p, timer.ErrMissingTag
	}
	kind, err := timer.ParseKind(tc.Policy)
	if err != nil {
		return p, err
	}
	p.Kind = kind

	if kind != timer.KindDelayOnce || strings.TrimSpace(tc.Period) != "" {
		if p.Period, err = ParseInterval(tc.Period); err != nil {
			return p, fmt.Errorf("period: %w", err)
		}
	}
	p.InitialDelay = p.Period
	if strings.TrimSpace(tc.InitialDelay) != "" {
		if p.InitialDelay, err = ParseDelay(tc.InitialDelay); err != nil {
			return p, fmt.Errorf("initial_delay: %w", err)
		}
	}
	if strings.TrimSpace(tc.Align) != "" {
		if p.Align, err = ParseAlign(tc.Align); err != nil {
			return p, fmt.Errorf("align: %w", err)
		}
	}
	if p.TakeWhile < 0 {
		return p, fmt.Errorf("take_while must be >= 0")
	}
	if kind != timer.KindCountDown {
		if p.OnTick != nil {
			return p, fmt.Errorf("on_tick is only used by countdown tasks")
		}
		if p.TakeWhile != 0 {
			return p, fmt.Errorf("take_while is only used by countdown tasks")
		}
	}
	return p, nil
}

// Plan parses every declared task.
func (c *Config) Plan() ([]TaskPlan, error) {
	out := make([]TaskPlan, 0, len(c.Tasks))
	for i, tc := range c.Tasks {
		p, err := PlanTask(tc)
		if err != nil {
			return nil, fmt.Errorf("tasks[%d] (%s): %w", i, strings.TrimSpace(tc.Tag), err)
		}
		out = append(out, p)
	}
	return out, nil
}

// Tags returns the declared tags in file order.
func (c *Config) Tags() []string {
	out := make([]string, 0, len(c.Tasks))
	for _, tc := range c.Tasks {
		if tag := strings.TrimSpace(tc.Tag); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}
