package looper

import (
	"container/heap"
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	logx "ticktock/pkg/logx"
)

var (
	ErrQuit    = errors.New("looper has quit")
	ErrRunning = errors.New("looper already running")
)

type Option func(*Looper)

// WithClock replaces the wall clock (tests use a ManualClock).
func WithClock(c Clock) Option {
	return func(l *Looper) {
		if c != nil {
			l.clock = c
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(l *Looper) { l.log = log }
}

// Looper is a single-goroutine message loop.
type Looper struct {
	clock Clock
	log   logx.Logger

	mu      sync.Mutex
	q       queue
	seq     uint64
	running bool
	quit    bool

	wake     chan struct{}
	quitCh   chan struct{}
	quitOnce sync.Once

	dispatched atomic.Uint64
	panics     atomic.Uint64
}

func New(opts ...Option) *Looper {
	l := &Looper{
		clock:  realClock{},
		wake:   make(chan struct{}, 1),
		quitCh: make(chan struct{}),
	}
	for _, o := range opts {
		if o != nil {
			o(l)
		}
	}
	if l.log.IsZero() {
		l.log = logx.Nop()
	}
	return l
}

// Now returns the loop's clock time.
func (l *Looper) Now() time.Time { return l.clock.Now() }

// Alive reports whether the loop still accepts messages.
// A loop that has not been started yet is alive; one that has quit is not.
func (l *Looper) Alive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.quit
}

// Done is closed once the loop has quit.
func (l *Looper) Done() <-chan struct{} { return l.quitCh }

// Len returns the number of pending messages.
func (l *Looper) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.q)
}

// Stats returns counters for diagnostics: messages dispatched and messages that panicked.
func (l *Looper) Stats() (dispatched, panics uint64) {
	return l.dispatched.Load(), l.panics.Load()
}

// Post queues fn to run as soon as possible, after everything already due.
func (l *Looper) Post(fn func()) bool {
	return l.PostAt(nil, l.clock.Now(), fn)
}

// PostDelayed queues fn to run after d. Negative delays count as zero.
func (l *Looper) PostDelayed(owner any, d time.Duration, fn func()) bool {
	if d < 0 {
		d = 0
	}
	return l.PostAt(owner, l.clock.Now().Add(d), fn)
}

// PostAt queues fn to run at when. owner must be comparable (or nil).
// It returns false if the loop has quit; the message is dropped.
func (l *Looper) PostAt(owner any, when time.Time, fn func()) bool {
	if fn == nil {
		return false
	}
	l.mu.Lock()
	if l.quit {
		l.mu.Unlock()
		return false
	}
	l.seq++
	m := &message{when: when, seq: l.seq, owner: owner, fn: fn}
	heap.Push(&l.q, m)
	l.mu.Unlock()

	// Always wake the loop: besides a new head, the clock may have moved
	// since the loop computed its wait.
	l.signal()
	return true
}

// Remove drops every pending message posted with owner and returns how many were dropped.
// A nil owner matches nothing.
func (l *Looper) Remove(owner any) int {
	if owner == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	kept := l.q[:0]
	for _, m := range l.q {
		if m.owner == owner {
			n++
			continue
		}
		kept = append(kept, m)
	}
	if n == 0 {
		return 0
	}
	for i := len(kept); i < len(l.q); i++ {
		l.q[i] = nil
	}
	l.q = kept
	for i, m := range l.q {
		m.index = i
	}
	heap.Init(&l.q)
	return n
}

// Has reports whether any message of owner is pending.
func (l *Looper) Has(owner any) bool {
	if owner == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.q {
		if m.owner == owner {
			return true
		}
	}
	return false
}

// Call runs fn on the loop and waits for it to finish.
// It must not be called from the loop goroutine itself.
func (l *Looper) Call(ctx context.Context, fn func()) error {
	if ctx == nil {
		ctx = context.Background()
	}
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		if fn != nil {
			fn()
		}
	}) {
		return ErrQuit
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.quitCh:
		// The message may have run just before quitting.
		select {
		case <-done:
			return nil
		default:
			return ErrQuit
		}
	}
}

// Sync returns once every message that was due before the call has run.
func (l *Looper) Sync(ctx context.Context) error {
	return l.Call(ctx, nil)
}

// Quit stops the loop and drops pending messages. It is idempotent.
func (l *Looper) Quit() {
	l.mu.Lock()
	l.quit = true
	for i := range l.q {
		l.q[i] = nil
	}
	l.q = l.q[:0]
	l.mu.Unlock()
	l.quitOnce.Do(func() { close(l.quitCh) })
}

// Run dispatches messages on the calling goroutine until ctx is done or Quit is called.
// The loop quits when Run returns; a Looper runs at most once.
func (l *Looper) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	l.mu.Lock()
	if l.quit {
		l.mu.Unlock()
		return ErrQuit
	}
	if l.running {
		l.mu.Unlock()
		return ErrRunning
	}
	l.running = true
	l.mu.Unlock()
	defer l.Quit()

	l.log.Debug("loop started")
	defer l.log.Debug("loop stopped", logx.Uint64("dispatched", l.dispatched.Load()))

	for {
		if ctx.Err() != nil {
			return nil
		}
		m, wait, pending, quit := l.next()
		if quit {
			return nil
		}
		if m != nil {
			l.dispatch(m)
			continue
		}

		var (
			t      Timer
			timerC <-chan time.Time
		)
		if pending {
			t = l.clock.NewTimer(wait)
			timerC = t.C()
		}
		select {
		case <-ctx.Done():
		case <-l.quitCh:
		case <-l.wake:
		case <-timerC:
		}
		if t != nil {
			t.Stop()
		}
	}
}

// next pops the head message if it is due. Otherwise it reports how long
// until the head is due (pending=true) or that the queue is empty.
func (l *Looper) next() (m *message, wait time.Duration, pending bool, quit bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.quit {
		return nil, 0, false, true
	}
	if len(l.q) == 0 {
		return nil, 0, false, false
	}
	head := l.q[0]
	now := l.clock.Now()
	if head.when.After(now) {
		return nil, head.when.Sub(now), true, false
	}
	return heap.Pop(&l.q).(*message), 0, false, false
}

func (l *Looper) dispatch(m *message) {
	l.dispatched.Add(1)
	defer func() {
		if r := recover(); r != nil {
			l.panics.Add(1)
			l.log.Error("message panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	m.fn()
}

func (l *Looper) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}
