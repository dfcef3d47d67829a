package timer

import (
	"errors"
	"fmt"
)

var (
	ErrMissingTag      = errors.New("task tag required")
	ErrMissingPolicy   = errors.New("task policy required (CountDown, LoopExecute or DelayExecute)")
	ErrMissingCallback = errors.New("task callback required by policy")
)

// PanicError wraps a value recovered from a panicking callback.
type PanicError struct {
	Hook  string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("%s panicked: %v", e.Hook, e.Value) }
