package timer

import (
	"fmt"
	"strings"
)

// Kind names an execution policy.
type Kind int

const (
	KindNone Kind = iota
	KindCountDown
	KindLoop
	KindDelayOnce
)

func (k Kind) String() string {
	switch k {
	case KindCountDown:
		return "countdown"
	case KindLoop:
		return "loop"
	case KindDelayOnce:
		return "delay"
	default:
		return "none"
	}
}

// ParseKind accepts the names produced by Kind.String plus a few aliases.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "countdown", "count_down", "count-down":
		return KindCountDown, nil
	case "loop", "loop_execute", "repeat":
		return KindLoop, nil
	case "delay", "delay_execute", "once":
		return KindDelayOnce, nil
	default:
		return KindNone, fmt.Errorf("unknown task policy %q (use countdown, loop or delay)", s)
	}
}

// Action is a callback without arguments. A returned error is logged, never propagated.
type Action func() error

// Consumer receives the remaining count of a countdown.
type Consumer func(remaining int64) error

// policy is a closed set: countDown, loop, delayOnce. Each carries only
// the fields its execution needs.
type policy interface {
	kind() Kind
}

type countDown struct {
	takeWhile  int64
	onTick     Consumer
	onComplete Action // optional
}

type loop struct {
	onComplete Action
}

type delayOnce struct {
	onComplete Action
}

func (countDown) kind() Kind { return KindCountDown }
func (loop) kind() Kind      { return KindLoop }
func (delayOnce) kind() Kind { return KindDelayOnce }
