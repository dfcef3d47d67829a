package timer

import (
	"time"

	"ticktock/internal/eventbus"
)

// Event types published on the bus. Subscribe with the "task." prefix to get all of them.
const (
	EventStarted   = "task.started"
	EventFired     = "task.fired"
	EventPaused    = "task.paused"
	EventResumed   = "task.resumed"
	EventCompleted = "task.completed"
	EventCancelled = "task.cancelled"
	EventFailed    = "task.failed"
)

// TaskEvent is the Data of every task.* event.
type TaskEvent struct {
	Tag       string
	Kind      Kind
	Remaining int64
	Fires     uint64
	Due       time.Time

	// Set on task.failed only.
	Hook  string
	Error error
}

func (s *Scheduler) publish(typ string, t *Task, hook string, err error) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{
		Type: typ,
		Time: s.loop.Now(),
		Data: TaskEvent{
			Tag:       t.spec.Tag,
			Kind:      t.spec.Kind(),
			Remaining: t.st.remaining,
			Fires:     t.st.fires,
			Due:       t.st.due,
			Hook:      hook,
			Error:     err,
		},
	})
}
