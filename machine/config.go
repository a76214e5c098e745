package machine

import (
	"github.com/BurntSushi/toml"

	"github.com/ezrec/uvm16/vm"
)

// Config is a machine profile, loadable from a TOML file.
type Config struct {
	Program  string      `toml:"program"`  // Program image path.
	Budget   uint64      `toml:"budget"`   // Instructions per run; 0 = unlimited.
	Patching bool        `toml:"patching"` // Native patching enabled at start.
	Trace    TraceConfig `toml:"trace"`
}

// TraceConfig selects what the execution trace retains.
type TraceConfig struct {
	Opcodes []string `toml:"opcodes"` // Traced mnemonics; empty = all.
	From    uint16   `toml:"from"`    // Traced address range, inclusive.
	To      uint16   `toml:"to"`
	Cap     int      `toml:"cap"` // Ring retention; 0 = default.
}

// LoadConfig reads a TOML machine profile.
func LoadConfig(path string) (config Config, err error) {
	_, err = toml.DecodeFile(path, &config)
	return
}

// filter converts the profile to a vm trace filter. Tracing is enabled
// only when the profile names something to trace.
func (tc TraceConfig) filter() (filter vm.TraceFilter, enabled bool) {
	if len(tc.Opcodes) == 0 && tc.From == 0 && tc.To == 0 && tc.Cap == 0 {
		return
	}

	for _, name := range tc.Opcodes {
		if op, ok := vm.OpByName(name); ok {
			filter.Ops |= op.Mask()
		}
	}
	filter.From = tc.From
	filter.To = tc.To
	filter.Cap = tc.Cap

	enabled = true
	return
}
