package timer

import (
	"context"
	"sort"
	"time"

	"ticktock/internal/eventbus"
	"ticktock/internal/task/looper"
	logx "ticktock/pkg/logx"
)

type Option func(*Scheduler)

func WithLogger(log logx.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

// WithBus publishes task.* lifecycle events on b.
func WithBus(b eventbus.Bus) Option {
	return func(s *Scheduler) { s.bus = b }
}

// WithFailureLogEvery limits callback failure warnings to one per d per tag.
func WithFailureLogEvery(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.failEvery = d
		}
	}
}

// Scheduler is the tag registry. Its operations may be called from any
// goroutine, including from task callbacks; they are queued on the loop and
// return immediately.
type Scheduler struct {
	loop      *looper.Looper
	log       logx.Logger
	bus       eventbus.Bus
	failEvery time.Duration

	// loop-owned
	tasks    map[string]*Task
	failures map[string]*failureLog
}

// TaskInfo is a point-in-time view of a registered task.
type TaskInfo struct {
	Tag          string
	Kind         Kind
	InitialDelay time.Duration
	Period       time.Duration
	Remaining    int64
	Pending      bool
	Paused       bool
	Next         time.Time
	Fires        uint64
	Failures     uint64
	Skipped      uint64
}

func New(loop *looper.Looper, opts ...Option) *Scheduler {
	s := &Scheduler{
		loop:      loop,
		failEvery: defaultFailureLogEvery,
		tasks:     make(map[string]*Task),
		failures:  make(map[string]*failureLog),
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

// NewTask returns a builder bound to s.
func (s *Scheduler) NewTask() *Builder {
	return &Builder{s: s}
}

// Schedule registers spec and queues its first firing. A task already
// registered under the same tag is cancelled first.
func (s *Scheduler) Schedule(spec Spec) *Task {
	t := &Task{s: s, spec: spec, st: &runState{}}
	s.submit(func() { s.register(t) })
	return t
}

func (s *Scheduler) register(t *Task) {
	if old := s.tasks[t.spec.Tag]; old != nil {
		s.log.Debug("replacing task", logx.Tag(t.spec.Tag))
		old.finish(EventCancelled)
	}
	t.st.registered = true
	t.st.remaining = t.spec.TakeWhile()
	s.tasks[t.spec.Tag] = t
	t.arm(s.loop.Now().Add(t.spec.InitialDelay))
	s.publish(EventStarted, t, "", nil)
	s.log.Debug("task started",
		logx.Tag(t.spec.Tag),
		logx.String("policy", t.spec.Kind().String()),
		logx.Duration("initial_delay", t.spec.InitialDelay),
		logx.Duration("period", t.spec.Period))

	if cd, ok := t.spec.policy.(countDown); ok {
		t.deliverTick(cd)
	}
}

// Cancel unregisters the task under tag. Unknown tags are ignored.
func (s *Scheduler) Cancel(tag string) *Scheduler {
	s.submit(func() {
		if t := s.tasks[tag]; t != nil {
			t.cancel()
		}
	})
	return s
}

// Pause drops the pending firing of the task under tag.
func (s *Scheduler) Pause(tag string) *Scheduler {
	s.submit(func() {
		if t := s.tasks[tag]; t != nil {
			t.pause()
		}
	})
	return s
}

// Resume re-queues the task under tag if it has no pending firing.
func (s *Scheduler) Resume(tag string) *Scheduler {
	s.submit(func() {
		if t := s.tasks[tag]; t != nil {
			t.resume()
		}
	})
	return s
}

// CancelAll cancels every registered task.
func (s *Scheduler) CancelAll() *Scheduler {
	s.submit(func() {
		for _, t := range s.tasks {
			t.cancel()
		}
	})
	return s
}

// Lookup returns the state of the task under tag.
// It must not be called from a task callback.
func (s *Scheduler) Lookup(ctx context.Context, tag string) (TaskInfo, bool, error) {
	var (
		info TaskInfo
		ok   bool
	)
	err := s.loop.Call(ctx, func() {
		if t := s.tasks[tag]; t != nil {
			info, ok = t.info(), true
		}
	})
	return info, ok, err
}

// Snapshot returns every registered task, sorted by tag.
// It must not be called from a task callback.
func (s *Scheduler) Snapshot(ctx context.Context) ([]TaskInfo, error) {
	var out []TaskInfo
	err := s.loop.Call(ctx, func() {
		out = make([]TaskInfo, 0, len(s.tasks))
		for _, t := range s.tasks {
			out = append(out, t.info())
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out, nil
}

// Sync waits until every operation submitted before it has run.
func (s *Scheduler) Sync(ctx context.Context) error {
	return s.loop.Sync(ctx)
}

func (s *Scheduler) submit(fn func()) {
	if !s.loop.Post(fn) {
		s.log.Debug("loop not alive; operation dropped")
	}
}

// SetFailureLogEvery changes the failure warning interval for every tag.
func (s *Scheduler) SetFailureLogEvery(d time.Duration) {
	if d <= 0 {
		return
	}
	s.submit(func() {
		s.failEvery = d
		clear(s.failures)
	})
}
