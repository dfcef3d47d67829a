// Package action turns declarative action configs into task callbacks.
package action

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"ticktock/internal/config"
	"ticktock/internal/runtime/supervisor"
	"ticktock/internal/task/timer"
	logx "ticktock/pkg/logx"
)

const (
	defaultExecTimeout = 30 * time.Second
	maxOutputLog       = 512
)

// ErrBusy is returned by an exec callback whose previous run has not finished.
var ErrBusy = errors.New("previous run still active")

// Starter (re)starts a declared task by tag.
type Starter func(tag string) error

// Factory builds callbacks. Control actions go through Sched and Start;
// exec actions run under Sup, off the loop.
type Factory struct {
	Log   logx.Logger
	Sched *timer.Scheduler
	Sup   *supervisor.Supervisor
	Start Starter
	Now   func() time.Time

	mu      sync.Mutex
	running map[string]bool
}

// Action builds a callback without arguments. {remaining} renders as 0.
func (f *Factory) Action(tag string, a *config.ActionConfig) (timer.Action, error) {
	fn, err := f.build(tag, a)
	if err != nil {
		return nil, err
	}
	return func() error { return fn(0) }, nil
}

// Consumer builds a countdown tick callback.
func (f *Factory) Consumer(tag string, a *config.ActionConfig) (timer.Consumer, error) {
	fn, err := f.build(tag, a)
	if err != nil {
		return nil, err
	}
	return timer.Consumer(fn), nil
}

func (f *Factory) build(tag string, a *config.ActionConfig) (func(int64) error, error) {
	if a == nil {
		return nil, errors.New("action is nil")
	}
	log := f.Log.With(logx.Tag(tag), logx.String("action", a.Type))
	target := strings.TrimSpace(a.Target)

	switch strings.ToLower(strings.TrimSpace(a.Type)) {
	case config.ActionLog:
		return func(remaining int64) error {
			log.Log(a.Level, f.render(a.Message, tag, remaining))
			return nil
		}, nil

	case config.ActionExec:
		if len(a.Command) == 0 {
			return nil, errors.New("exec action needs a command")
		}
		timeout, err := config.ParseDurationOrDefault("timeout", a.Timeout, defaultExecTimeout)
		if err != nil {
			return nil, err
		}
		argv := append([]string(nil), a.Command...)
		return func(remaining int64) error { return f.spawn(log, tag, argv, timeout, remaining) }, nil

	case config.ActionStart:
		return func(int64) error {
			if f.Start == nil {
				return errors.New("start action: no starter")
			}
			return f.Start(target)
		}, nil

	case config.ActionCancel:
		return func(int64) error { f.Sched.Cancel(target); return nil }, nil
	case config.ActionPause:
		return func(int64) error { f.Sched.Pause(target); return nil }, nil
	case config.ActionResume:
		return func(int64) error { f.Sched.Resume(target); return nil }, nil

	case config.ActionFail:
		msg := strings.TrimSpace(a.Message)
		if msg == "" {
			msg = "fail action"
		}
		return func(remaining int64) error { return errors.New(f.render(msg, tag, remaining)) }, nil

	default:
		return nil, fmt.Errorf("unknown action type %q", a.Type)
	}
}

func (f *Factory) render(msg, tag string, remaining int64) string {
	now := time.Now()
	if f.Now != nil {
		now = f.Now()
	}
	return strings.NewReplacer(
		"{tag}", tag,
		"{remaining}", strconv.FormatInt(remaining, 10),
		"{now}", now.Format(time.RFC3339),
	).Replace(msg)
}

// spawn starts the command under the supervisor and returns at once.
// At most one run per tag is active.
func (f *Factory) spawn(log logx.Logger, tag string, argv []string, timeout time.Duration, remaining int64) error {
	if f.Sup == nil {
		return errors.New("exec action: no supervisor")
	}
	f.mu.Lock()
	if f.running == nil {
		f.running = map[string]bool{}
	}
	if f.running[tag] {
		f.mu.Unlock()
		return fmt.Errorf("exec %s: %w", argv[0], ErrBusy)
	}
	f.running[tag] = true
	f.mu.Unlock()

	f.Sup.Go("exec:"+tag, func(ctx context.Context) error {
		defer func() {
			f.mu.Lock()
			delete(f.running, tag)
			f.mu.Unlock()
		}()
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		// Children may hold the output pipe after the kill.
		cmd.WaitDelay = time.Second
		cmd.Env = append(os.Environ(),
			"TICKD_TAG="+tag,
			"TICKD_REMAINING="+strconv.FormatInt(remaining, 10),
		)
		start := time.Now()
		out, err := cmd.CombinedOutput()
		fields := []logx.Field{
			logx.String("cmd", argv[0]),
			logx.Duration("took", time.Since(start)),
			logx.String("output", truncate(strings.TrimSpace(string(out)), maxOutputLog)),
		}
		if err != nil {
			// A failing command is the task's problem, not the supervisor's.
			log.Warn("exec failed", append(fields, logx.Err(err))...)
			return nil
		}
		log.Debug("exec done", fields...)
		return nil
	})
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
