package snapshot

import (
	"errors"

	"github.com/ezrec/uvm16/translate"
)

var f = translate.From

var (
	// ErrCorrupt tags every load failure: a corrupt snapshot aborts
	// the load, it never partially applies.
	ErrCorrupt  = errors.New(f("snapshot corrupt"))
	ErrMagic    = errors.New(f("bad magic"))
	ErrVersion  = errors.New(f("version mismatch"))
	ErrChecksum = errors.New(f("checksum mismatch"))
	ErrShape    = errors.New(f("malformed structure"))
)
