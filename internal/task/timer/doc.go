// Package timer is a tag-addressed task scheduler on top of a looper.Looper.
//
// Tasks are described with a fluent Builder and run under one of three
// policies:
//   - DelayExecute: fire once after the initial delay.
//   - LoopExecute: fire every period (fixed rate), starting after the initial delay.
//   - CountDown: tick every period with a decrementing counter, then run a
//     terminal action when the counter is exhausted.
//
// Every callback, registry mutation and pause/resume/cancel request runs on
// the looper goroutine, so no two callbacks ever overlap. Public methods may
// be called from any goroutine: they are posted to the loop and return
// immediately. Use Scheduler.Sync to wait until earlier requests have been
// applied.
//
// Example:
//
//	s := timer.New(loop, timer.WithLogger(log))
//	s.NewTask().
//		Tag("CountDown").
//		Period(time.Second).
//		TakeWhile(30).
//		CountDown().
//		Accept(showRemaining, launch).
//		Start()
//	...
//	s.Pause("CountDown").Resume("CountDown")
package timer
