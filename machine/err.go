package machine

import (
	"github.com/ezrec/uvm16/translate"
)

var f = translate.From

// ErrRuntime locates a run fault within the program.
type ErrRuntime struct {
	Addr  uint16
	Steps uint64
	Err   error
}

func (err *ErrRuntime) Error() string {
	return f("at %d after %d steps: %v", err.Addr, err.Steps, err.Err)
}

func (err *ErrRuntime) Unwrap() error {
	return err.Err
}
