package storage

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"ticktock/internal/eventbus"
	"ticktock/internal/task/timer"
	logx "ticktock/pkg/logx"
)

const appendTimeout = 2 * time.Second

// Recorder writes task.* events from the bus into a Store.
type Recorder struct {
	store Store
	log   logx.Logger

	events      <-chan eventbus.Event
	unsubscribe func()
}

// NewRecorder subscribes immediately so no event published after it returns is missed.
func NewRecorder(store Store, bus eventbus.Bus, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	ch, unsub := bus.Subscribe(1024, "task.")
	return &Recorder{store: store, log: log, events: ch, unsubscribe: unsub}
}

// Run drains events until ctx is done. Append errors are logged and skipped.
func (r *Recorder) Run(ctx context.Context) error {
	defer r.unsubscribe()
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return nil
		case ev, ok := <-r.events:
			if !ok {
				return nil
			}
			r.record(ctx, ev)
		}
	}
}

// drain records what is already buffered (e.g. the cancellations of a shutdown).
func (r *Recorder) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()
	for {
		select {
		case ev, ok := <-r.events:
			if !ok {
				return
			}
			r.record(ctx, ev)
		default:
			return
		}
	}
}

func (r *Recorder) record(ctx context.Context, ev eventbus.Event) {
	e, ok := EntryFromEvent(ev)
	if !ok {
		return
	}
	actx, cancel := context.WithTimeout(ctx, appendTimeout)
	defer cancel()
	if err := r.store.Append(actx, e); err != nil {
		r.log.Warn("journal append failed", logx.Tag(e.Tag), logx.String("event", e.Event), logx.Err(err))
	}
}

// EntryFromEvent maps a task.* event to a journal entry.
func EntryFromEvent(ev eventbus.Event) (Entry, bool) {
	te, ok := ev.Data.(timer.TaskEvent)
	if !ok {
		return Entry{}, false
	}
	e := Entry{
		ID:        uuid.NewString(),
		At:        ev.Time,
		Tag:       te.Tag,
		Kind:      te.Kind.String(),
		Event:     strings.TrimPrefix(ev.Type, "task."),
		Remaining: te.Remaining,
		Fires:     te.Fires,
		Hook:      te.Hook,
	}
	if te.Error != nil {
		e.Error = te.Error.Error()
	}
	return e, true
}
