// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

// Package machine is the driver harness around a vm.Vm: program image
// loading, budgeted runs, input/output plumbing, snapshot persistence,
// and validated register/memory access for external tools.
package machine

import (
	"encoding/binary"
	"fmt"
	"iter"
	"maps"
	"os"
	"strings"

	"github.com/ezrec/uvm16/internal"
	"github.com/ezrec/uvm16/snapshot"
	"github.com/ezrec/uvm16/vm"
)

var _machine_defines = map[string]string{
	"VAL_LIMIT": fmt.Sprintf("%v", vm.VAL_LIMIT),
}

// Machine wraps one interpreter instance with its driver-facing
// surface. External collaborators (game explorer, memory scanner) are
// expected to work through this surface and through snapshots, never on
// the inner machine directly.
type Machine struct {
	Verbose bool // If set, enables verbose logging.
	*vm.Vm

	Config Config

	// Messages collects output drained at each input prompt, so a
	// driver can always read back "the last message".
	Messages []string

	patches []*vm.Patch
}

// New creates a machine with default configuration.
func New() (m *Machine) {
	return NewWithConfig(Config{})
}

// NewWithConfig creates a machine from a configuration profile.
func NewWithConfig(config Config) (m *Machine) {
	m = &Machine{
		Vm:     vm.NewVm(),
		Config: config,
	}

	m.Vm.Patches.Enabled = config.Patching
	if filter, enabled := config.Trace.filter(); enabled {
		m.Vm.Debug.EnableTrace(filter)
	}

	return
}

// Defines returns an iterator over all of the defines.
func (m *Machine) Defines() iter.Seq2[string, string] {
	return internal.IterSeq2Concat(maps.All(_machine_defines), m.Vm.Defines())
}

// Load reads a program image: little-endian 16-bit words, no header,
// loaded verbatim starting at address 0.
func (m *Machine) Load(path string) (err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	return m.LoadImage(data)
}

// LoadImage loads a program image from bytes.
func (m *Machine) LoadImage(data []byte) (err error) {
	words := make([]uint16, len(data)/2)
	for n := range words {
		words[n] = binary.LittleEndian.Uint16(data[n*2:])
	}

	return m.Vm.LoadProgram(words)
}

// Step executes up to n instructions.
func (m *Machine) Step(n uint64) (stop vm.Stop, err error) {
	stop, err = m.Vm.Run(n)
	stop, err = m.afterRun(stop, err)
	return
}

// Run executes until halt, breakpoint, input starvation, or the
// configured budget (0 = unlimited).
func (m *Machine) Run() (stop vm.Stop, err error) {
	stop, err = m.Vm.Run(m.Config.Budget)
	stop, err = m.afterRun(stop, err)
	return
}

// afterRun flushes output to the message log at driver-visible
// boundaries and wraps faults with the machine position.
func (m *Machine) afterRun(stop vm.Stop, err error) (vm.Stop, error) {
	if err != nil {
		return stop, &ErrRuntime{Addr: m.Vm.Ip, Steps: m.Vm.Steps, Err: err}
	}
	if stop.Reason == vm.STOP_INPUT || stop.Reason == vm.STOP_HALT {
		if out := m.Vm.TakeOutput(); len(out) > 0 {
			m.Messages = append(m.Messages, string(out))
		}
	}
	return stop, nil
}

// Feed appends a line of input, newline-terminated.
func (m *Machine) Feed(text string) {
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	m.Vm.Feed(text)
}

// LastMessage returns the most recently flushed message.
func (m *Machine) LastMessage() (message string) {
	if len(m.Messages) > 0 {
		message = m.Messages[len(m.Messages)-1]
	}
	return
}

// RegisterGet reads a register.
func (m *Machine) RegisterGet(index int) (value uint16, err error) {
	if index < 0 || index >= vm.REG_COUNT {
		err = vm.ErrAddressRange
		return
	}

	value = m.Vm.Register[index]
	return
}

// RegisterSet writes a register. Values at or above the modulus are
// faults, not silent truncations.
func (m *Machine) RegisterSet(index int, value uint16) (err error) {
	if index < 0 || index >= vm.REG_COUNT {
		err = vm.ErrAddressRange
		return
	}
	if value >= vm.MOD_BASE {
		err = vm.ErrValueRange
		return
	}

	m.Vm.Register[index] = value
	return
}

// MemoryRead reads one word of memory.
func (m *Machine) MemoryRead(addr uint16) (value uint16, err error) {
	if addr >= vm.MEM_SIZE {
		err = vm.ErrAddressRange
		return
	}

	value = m.Vm.Memory[addr]
	return
}

// MemoryWrite writes one word of memory. This is the only write path
// external tools get; a value above the operand range is a fault.
func (m *Machine) MemoryWrite(addr uint16, value uint16) (err error) {
	if addr >= vm.MEM_SIZE {
		err = vm.ErrAddressRange
		return
	}
	if value >= vm.VAL_LIMIT {
		err = vm.ErrValueRange
		return
	}

	m.Vm.Memory[addr] = value
	return
}

// SetPatching toggles native patching globally.
func (m *Machine) SetPatching(enabled bool) {
	m.Vm.Patches.Enabled = enabled
}

// RegisterPatch registers a native replacement and remembers it so a
// snapshot restore can re-attach it.
func (m *Machine) RegisterPatch(patch *vm.Patch) (err error) {
	err = m.Vm.Patches.Register(patch)
	if err != nil {
		return
	}

	m.patches = append(m.patches, patch)
	return
}

// SaveSnapshot persists the complete machine state.
func (m *Machine) SaveSnapshot(path string) (err error) {
	return snapshot.Capture(m.Vm).Save(path)
}

// LoadSnapshot replaces the live state wholesale from a persisted
// snapshot, then re-attaches the machine's registered patches.
func (m *Machine) LoadSnapshot(path string) (err error) {
	snap, err := snapshot.Load(path)
	if err != nil {
		return
	}

	return m.RestoreSnapshot(snap)
}

// RestoreSnapshot replaces the live state from an in-memory snapshot.
func (m *Machine) RestoreSnapshot(snap *snapshot.Snapshot) (err error) {
	restored, err := snap.Restore()
	if err != nil {
		return
	}

	for _, patch := range m.patches {
		if err = restored.Patches.Register(patch); err != nil {
			return
		}
	}

	restored.Verbose = m.Vm.Verbose
	m.Vm = restored
	return
}

// Snapshot captures the complete machine state.
func (m *Machine) Snapshot() *snapshot.Snapshot {
	return snapshot.Capture(m.Vm)
}

// AssembleAndWrite assembles mnemonic text and writes the words into
// memory at addr, rewriting the bytecode itself. This is a distinct
// mechanism from native patching: it changes what the decoder sees.
func (m *Machine) AssembleAndWrite(text string, addr uint16) (err error) {
	asm := &vm.Assembler{Verbose: m.Verbose}
	for key, value := range m.Defines() {
		asm.Predefine(key, value)
	}

	words, err := asm.Assemble(strings.NewReader(text))
	if err != nil {
		return
	}

	if int(addr)+len(words) > vm.MEM_SIZE {
		err = vm.ErrAddressRange
		return
	}
	copy(m.Vm.Memory[addr:], words)
	return
}
