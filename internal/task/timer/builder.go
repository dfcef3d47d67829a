package timer

import (
	"fmt"
	"strings"
	"time"

	logx "ticktock/pkg/logx"
)

// Spec is the immutable description of a task, produced by Builder.Build.
type Spec struct {
	Tag          string
	InitialDelay time.Duration
	Period       time.Duration

	policy policy
}

func (s Spec) Kind() Kind {
	if s.policy == nil {
		return KindNone
	}
	return s.policy.kind()
}

// TakeWhile returns the countdown length (0 for other policies).
func (s Spec) TakeWhile() int64 {
	if cd, ok := s.policy.(countDown); ok {
		return cd.takeWhile
	}
	return 0
}

// resumeDelay is the delay used when a paused task is resumed.
// A one-shot task has no period, so it re-arms its initial delay.
func (s Spec) resumeDelay() time.Duration {
	if s.Kind() == KindDelayOnce {
		return s.InitialDelay
	}
	return s.Period
}

// Builder configures one task. It is not safe for concurrent use;
// the Task it starts is.
type Builder struct {
	s *Scheduler

	tag          string
	initialDelay time.Duration
	period       time.Duration
	takeWhile    int64
	onTick       Consumer
	onComplete   Action
	kind         Kind
}

func (b *Builder) Tag(tag string) *Builder {
	b.tag = tag
	return b
}

// Period fires every p, starting after p.
func (b *Builder) Period(p time.Duration) *Builder {
	b.period = p
	b.initialDelay = p
	return b
}

// InitialDelay sets only the time before the first firing.
func (b *Builder) InitialDelay(d time.Duration) *Builder {
	b.initialDelay = d
	return b
}

// PeriodDelay sets the period and a different time before the first firing.
func (b *Builder) PeriodDelay(period, initialDelay time.Duration) *Builder {
	b.period = period
	b.initialDelay = initialDelay
	return b
}

// TakeWhile sets the countdown length. Ignored by other policies.
func (b *Builder) TakeWhile(n int64) *Builder {
	b.takeWhile = n
	return b
}

func (b *Builder) OnTick(fn Consumer) *Builder {
	b.onTick = fn
	return b
}

func (b *Builder) OnComplete(fn Action) *Builder {
	b.onComplete = fn
	return b
}

func (b *Builder) Accept(onTick Consumer, onComplete Action) *Builder {
	b.onTick = onTick
	b.onComplete = onComplete
	return b
}

func (b *Builder) CountDown() *Builder {
	b.kind = KindCountDown
	return b
}

func (b *Builder) LoopExecute() *Builder {
	b.kind = KindLoop
	return b
}

func (b *Builder) DelayExecute() *Builder {
	b.kind = KindDelayOnce
	return b
}

// Policy selects the policy by Kind (used by declarative configs).
func (b *Builder) Policy(k Kind) *Builder {
	b.kind = k
	return b
}

// Build validates the configuration and returns the immutable Spec.
// Durations and the countdown length are floored at zero.
func (b *Builder) Build() (Spec, error) {
	tag := strings.TrimSpace(b.tag)
	if tag == "" {
		return Spec{}, ErrMissingTag
	}
	spec := Spec{
		Tag:          tag,
		InitialDelay: max(0, b.initialDelay),
		Period:       max(0, b.period),
	}
	switch b.kind {
	case KindCountDown:
		if b.onTick == nil {
			return Spec{}, fmt.Errorf("task %q: %w: countdown needs OnTick", tag, ErrMissingCallback)
		}
		spec.policy = countDown{takeWhile: max(0, b.takeWhile), onTick: b.onTick, onComplete: b.onComplete}
	case KindLoop:
		if b.onComplete == nil {
			return Spec{}, fmt.Errorf("task %q: %w: loop needs OnComplete", tag, ErrMissingCallback)
		}
		spec.policy = loop{onComplete: b.onComplete}
	case KindDelayOnce:
		if b.onComplete == nil {
			return Spec{}, fmt.Errorf("task %q: %w: delay needs OnComplete", tag, ErrMissingCallback)
		}
		spec.policy = delayOnce{onComplete: b.onComplete}
	default:
		return Spec{}, fmt.Errorf("task %q: %w", tag, ErrMissingPolicy)
	}
	return spec, nil
}

// Start registers the task and queues its first firing.
//
// An incomplete configuration makes Start a no-op: nothing is registered and
// the returned *Task is nil (its methods are safe to call). Use Build to get
// the reason.
func (b *Builder) Start() *Task {
	spec, err := b.Build()
	if err != nil {
		if b.s != nil {
			b.s.log.Debug("task not started", logx.Tag(b.tag), logx.Err(err))
		}
		return nil
	}
	if b.s == nil {
		return nil
	}
	return b.s.Schedule(spec)
}
