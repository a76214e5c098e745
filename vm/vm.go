package vm

import (
	"fmt"
	"iter"
	"maps"
	"slices"
)

// VmState is the run state of a machine.
type VmState int

const (
	STATE_RUNNING = VmState(0) // running
	STATE_HALTED  = VmState(1) // halted
	STATE_AWAIT   = VmState(2) // await-input
)

func (s VmState) String() string {
	switch s {
	case STATE_RUNNING:
		return "running"
	case STATE_HALTED:
		return "halted"
	case STATE_AWAIT:
		return "await-input"
	}
	return fmt.Sprintf("state%d", int(s))
}

var _vm_defines = map[string]string{
	"MEM_SIZE":  fmt.Sprintf("%v", MEM_SIZE),
	"MOD_BASE":  fmt.Sprintf("%v", MOD_BASE),
	"REG_BASE":  fmt.Sprintf("%v", REG_BASE),
	"REG_COUNT": fmt.Sprintf("%v", REG_COUNT),
}

// Vm is the complete state of one interpreter instance: memory,
// registers, stack, program counter, I/O buffers, plus the patch
// registry and debug layer that the executor consults on every step.
//
// Exactly one executor drives one Vm; external tools work on snapshots,
// never on a live Vm.
type Vm struct {
	Verbose bool // Set to enable verbose logging.

	Memory   [MEM_SIZE]uint16  // Addressable memory, mutable, self-modifying code is legal.
	Register [REG_COUNT]uint16 // Register bank.
	Stack    Stack             // Explicit call/data stack.
	Ip       uint16            // Program counter.
	Steps    uint64            // Global instruction counter.
	State    VmState           // Current run state.

	Input  []byte // Pending input characters for the `in` opcode.
	Output []byte // Emitted characters not yet drained.

	Patches Patches // Native replacement registry.
	Debug   Debug   // Breakpoints, trace, call counters.
}

// NewVm creates a machine with zeroed state.
func NewVm() (vm *Vm) {
	vm = &Vm{}
	return
}

// Defines for the architecture, used as assembler predefines.
func (vm *Vm) Defines() iter.Seq2[string, string] {
	return maps.All(_vm_defines)
}

// LoadProgram copies a program image into memory starting at address 0.
func (vm *Vm) LoadProgram(words []uint16) (err error) {
	if len(words) > MEM_SIZE {
		err = ErrProgramSize
		return
	}

	copy(vm.Memory[:], words)
	return
}

// Feed appends input characters. If the machine was suspended waiting
// for input, it becomes runnable again.
func (vm *Vm) Feed(text string) {
	vm.Input = append(vm.Input, []byte(text)...)
	if vm.State == STATE_AWAIT && len(vm.Input) > 0 {
		vm.State = STATE_RUNNING
	}
}

// TakeOutput drains and returns the pending output characters.
func (vm *Vm) TakeOutput() (out []byte) {
	out = vm.Output
	vm.Output = nil
	return
}

// String returns the current machine state as a string.
func (vm *Vm) String() (text string) {
	text = fmt.Sprintf("   ip: %d (%v)\n", vm.Ip, vm.State)
	for n, val := range vm.Register {
		text += fmt.Sprintf("   r%d: %d\n", n, val)
	}
	top := "----"
	if val, ok := vm.Stack.Peek(); ok {
		top = fmt.Sprintf("%d", val)
	}
	text += fmt.Sprintf("stack: depth %d, top %v\n", vm.Stack.Depth(), top)
	text += fmt.Sprintf("steps: %d\n", vm.Steps)

	return
}

// Clone returns a deep, independent copy of the machine. Patch entries
// share their (immutable) native functions; everything else is copied.
func (vm *Vm) Clone() (clone *Vm) {
	clone = &Vm{}
	*clone = *vm
	clone.Stack = vm.Stack.Clone()
	clone.Input = slices.Clone(vm.Input)
	clone.Output = slices.Clone(vm.Output)
	clone.Patches = vm.Patches.clone()
	clone.Debug = vm.Debug.clone()
	return
}

// value resolves an operand: a literal yields itself, a register operand
// yields the current register contents.
func (vm *Vm) value(at uint16, v Val) (value uint16, err error) {
	switch {
	case v.IsNum():
		value = uint16(v)
	case v.IsReg():
		value = vm.Register[v.Reg()]
	default:
		err = ErrOperand{Addr: at, Word: uint16(v)}
	}

	return
}

// register resolves an operand that must name a register.
func (vm *Vm) register(at uint16, v Val) (reg int, err error) {
	if !v.IsReg() {
		err = ErrOperand{Addr: at, Word: uint16(v)}
		return
	}

	reg = v.Reg()
	return
}
