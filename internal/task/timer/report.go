package timer

import (
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/time/rate"

	logx "ticktock/pkg/logx"
)

const defaultFailureLogEvery = 5 * time.Second

// failureLog throttles warnings for one tag. Failures that are not logged
// are counted and reported with the next warning.
type failureLog struct {
	limiter    *rate.Limiter
	suppressed uint64
}

// invoke runs a callback on the loop. Errors and panics are reported and
// swallowed; the caller's bookkeeping always continues.
func (s *Scheduler) invoke(t *Task, hook string, fn func() error) {
	if fn == nil {
		return
	}
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &PanicError{Hook: hook, Value: r, Stack: debug.Stack()}
			}
		}()
		return fn()
	}()
	if err != nil {
		s.reportFailure(t, hook, err)
	}
}

func (s *Scheduler) reportFailure(t *Task, hook string, err error) {
	t.st.failures++
	s.publish(EventFailed, t, hook, err)

	tag := t.spec.Tag
	fl := s.failures[tag]
	if fl == nil {
		fl = &failureLog{limiter: rate.NewLimiter(rate.Every(s.failEvery), 1)}
		s.failures[tag] = fl
	}
	if !fl.limiter.AllowN(s.loop.Now(), 1) {
		fl.suppressed++
		return
	}
	fields := []logx.Field{
		logx.Tag(tag),
		logx.String("hook", hook),
		logx.Uint64("failures", t.st.failures),
		logx.Err(err),
	}
	if fl.suppressed > 0 {
		fields = append(fields, logx.Uint64("suppressed", fl.suppressed))
		fl.suppressed = 0
	}
	var pe *PanicError
	if errors.As(err, &pe) {
		fields = append(fields, logx.Stack(string(pe.Stack)))
	}
	s.log.Warn(fmt.Sprintf("task callback failed (%s)", t.spec.Kind()), fields...)
}
