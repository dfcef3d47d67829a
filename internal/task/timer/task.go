package timer

import (
	"time"

	logx "ticktock/pkg/logx"
)

// runState is the mutable side of a task. Only the loop goroutine touches it.
type runState struct {
	registered bool
	pending    bool
	paused     bool
	remaining  int64
	due        time.Time

	fires    uint64
	failures uint64
	skipped  uint64
}

// Task is a started task. All methods are safe on a nil *Task and from any goroutine.
type Task struct {
	s    *Scheduler
	spec Spec
	st   *runState
}

func (t *Task) Tag() string {
	if t == nil {
		return ""
	}
	return t.spec.Tag
}

func (t *Task) Kind() Kind {
	if t == nil {
		return KindNone
	}
	return t.spec.Kind()
}

func (t *Task) Spec() Spec {
	if t == nil {
		return Spec{}
	}
	return t.spec
}

// Pause drops the pending firing but keeps the task registered.
func (t *Task) Pause() {
	if t == nil {
		return
	}
	t.s.submit(t.pause)
}

// Resume re-queues a firing if none is pending. A countdown re-delivers its
// current remaining count first.
func (t *Task) Resume() {
	if t == nil {
		return
	}
	t.s.submit(t.resume)
}

// Cancel unregisters the task and drops its pending firing. It is terminal.
func (t *Task) Cancel() {
	if t == nil {
		return
	}
	t.s.submit(t.cancel)
}

// ---- loop side ----

// live reports whether t is still the registered task for its tag.
func (t *Task) live() bool {
	return t.st.registered && t.s.tasks[t.spec.Tag] == t
}

func (t *Task) arm(due time.Time) {
	t.st.due = due
	t.st.pending = t.s.loop.PostAt(t, due, t.fire)
	if !t.st.pending {
		t.s.log.Debug("loop not alive; firing dropped", logx.Tag(t.spec.Tag))
	}
}

// rearm queues the next periodic firing at a fixed rate: previous due time
// plus period. If that is not in the future the task realigns to
// now+period and counts the missed ticks.
func (t *Task) rearm() {
	p := t.spec.Period
	now := t.s.loop.Now()
	next := t.st.due.Add(p)
	if p > 0 && !next.After(now) {
		missed := uint64(now.Sub(next)/p) + 1
		t.st.skipped += missed
		t.s.log.Debug("task fell behind; realigned",
			logx.Tag(t.spec.Tag), logx.Uint64("missed", missed), logx.Duration("period", p))
		next = now.Add(p)
	} else if p == 0 && next.Before(now) {
		next = now
	}
	t.arm(next)
}

func (t *Task) fire() {
	st := t.st
	st.pending = false
	if !t.live() {
		return
	}
	st.fires++

	switch p := t.spec.policy.(type) {
	case delayOnce:
		t.s.publish(EventFired, t, "", nil)
		t.s.invoke(t, "on_complete", p.onComplete)
		t.finish(EventCompleted)

	case loop:
		// Queue the next firing before the callback so a slow or failing
		// callback cannot push the schedule back.
		t.rearm()
		t.s.publish(EventFired, t, "", nil)
		t.s.invoke(t, "on_complete", p.onComplete)

	case countDown:
		if st.remaining > 0 {
			st.remaining--
			t.rearm()
			t.s.publish(EventFired, t, "", nil)
			t.deliverTick(p)
			return
		}
		t.s.publish(EventFired, t, "", nil)
		if p.onComplete != nil {
			t.s.invoke(t, "on_complete", p.onComplete)
		}
		t.finish(EventCompleted)
	}
}

func (t *Task) deliverTick(p countDown) {
	remaining := t.st.remaining
	t.s.invoke(t, "on_tick", func() error { return p.onTick(remaining) })
}

func (t *Task) pause() {
	if !t.live() || !t.st.pending {
		return
	}
	t.s.loop.Remove(t)
	t.st.pending = false
	t.st.paused = true
	t.s.publish(EventPaused, t, "", nil)
}

func (t *Task) resume() {
	if !t.live() || t.st.pending {
		return
	}
	t.st.paused = false
	t.s.publish(EventResumed, t, "", nil)
	t.arm(t.s.loop.Now().Add(t.spec.resumeDelay()))
	if cd, ok := t.spec.policy.(countDown); ok {
		t.deliverTick(cd)
	}
}

func (t *Task) cancel() {
	if !t.live() {
		return
	}
	t.finish(EventCancelled)
}

// finish unregisters the task and drops any pending firing.
func (t *Task) finish(event string) {
	s := t.s
	if s.tasks[t.spec.Tag] == t {
		delete(s.tasks, t.spec.Tag)
		delete(s.failures, t.spec.Tag)
	}
	s.loop.Remove(t)
	t.st.registered = false
	t.st.pending = false
	s.publish(event, t, "", nil)
	s.log.Debug("task finished", logx.Tag(t.spec.Tag), logx.String("event", event), logx.Uint64("fires", t.st.fires))
}

func (t *Task) info() TaskInfo {
	st := t.st
	ti := TaskInfo{
		Tag:          t.spec.Tag,
		Kind:         t.spec.Kind(),
		InitialDelay: t.spec.InitialDelay,
		Period:       t.spec.Period,
		Remaining:    st.remaining,
		Pending:      st.pending,
		Paused:       st.paused,
		Fires:        st.fires,
		Failures:     st.failures,
		Skipped:      st.skipped,
	}
	if st.pending {
		ti.Next = st.due
	}
	return ti
}
