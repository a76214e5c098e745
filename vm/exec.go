package vm

import (
	"log"
)

// StopReason classifies why a run returned. None of these are faults:
// every one of them leaves the machine fully inspectable and, except for
// a halt, resumable.
type StopReason int

const (
	STOP_HALT  = StopReason(0) // halt
	STOP_LIMIT = StopReason(1) // limit
	STOP_BREAK = StopReason(2) // breakpoint
	STOP_INPUT = StopReason(3) // input
)

func (r StopReason) String() string {
	switch r {
	case STOP_HALT:
		return "halt"
	case STOP_LIMIT:
		return "limit"
	case STOP_BREAK:
		return "breakpoint"
	case STOP_INPUT:
		return "input"
	}
	return "unknown"
}

// Stop is the outcome of a run.
type Stop struct {
	Reason     StopReason
	Breakpoint int // Breakpoint id when Reason is STOP_BREAK.
}

// Step executes a single instruction, or a single native patch
// invocation if a patch is registered at the current program counter and
// patching is enabled.
//
// Faults (decode, operand, stack, patch contract) halt the machine but
// never destroy accumulated state; registers, memory, trace, and
// counters remain readable for postmortem inspection.
func (vm *Vm) Step() (err error) {
	switch vm.State {
	case STATE_HALTED:
		return ErrNotRunning
	case STATE_AWAIT:
		if len(vm.Input) == 0 {
			return ErrNotRunning
		}
		vm.State = STATE_RUNNING
	}

	defer func() {
		if err != nil {
			vm.State = STATE_HALTED
		}
	}()

	if vm.Patches.Enabled {
		if patch := vm.Patches.Lookup(vm.Ip); patch != nil {
			if vm.Verbose {
				log.Printf("%d: patch %v", vm.Ip, patch.Name)
			}
			err = vm.callPatch(patch)
			if err != nil {
				return
			}
			vm.Steps++
			return
		}
	}

	instr, next, err := vm.Decode(vm.Ip)
	if err != nil {
		return
	}

	if vm.Verbose {
		log.Printf("%v", instr)
	}

	trace, record := vm.Debug.want(instr), TraceRecord{}
	if trace {
		record, err = vm.traceRecord(instr)
		if err != nil {
			return
		}
	}

	err = vm.exec(instr, next)
	if err != nil || vm.State == STATE_AWAIT {
		// A suspended `in` consumed nothing; it re-executes on resume.
		return
	}

	if trace {
		vm.Debug.record(record)
	}
	vm.Steps++
	return
}

// Run executes up to budget instructions (0 = no limit), stopping early
// on halt, breakpoint, or input starvation. Running budget N and then M
// from the resulting state is equivalent to running N+M from the
// original state, given unchanged patch and breakpoint configuration.
//
// A breakpoint at the current program counter does not re-trigger on the
// first step of a run, so a stopped machine can be resumed. This is the
// one exception to the split-run equivalence: a breakpoint sitting
// exactly where a budget ran out is skipped by the resuming run, where
// the unsplit run would have stopped on it.
func (vm *Vm) Run(budget uint64) (stop Stop, err error) {
	var executed uint64

	for {
		switch vm.State {
		case STATE_HALTED:
			stop = Stop{Reason: STOP_HALT}
			return
		case STATE_AWAIT:
			if len(vm.Input) == 0 {
				stop = Stop{Reason: STOP_INPUT}
				return
			}
		}

		if budget != 0 && executed >= budget {
			stop = Stop{Reason: STOP_LIMIT}
			return
		}

		if executed > 0 {
			var id int
			var hit bool
			id, hit, err = vm.Debug.check(vm)
			if err != nil {
				vm.State = STATE_HALTED
				return
			}
			if hit {
				stop = Stop{Reason: STOP_BREAK, Breakpoint: id}
				return
			}
		}

		before := vm.Steps
		err = vm.Step()
		if err != nil {
			return
		}
		if vm.Steps != before {
			executed++
		}
	}
}

// exec applies one instruction's semantics. The program counter has
// already been advanced to next; jump opcodes overwrite it.
func (vm *Vm) exec(in Instr, next uint16) (err error) {
	at := in.Addr
	vm.Ip = next

	switch in.Op {
	case OP_HALT:
		vm.State = STATE_HALTED

	case OP_SET:
		var reg int
		var val uint16
		reg, err = vm.register(at, in.Args[0])
		if err != nil {
			return
		}
		val, err = vm.value(at, in.Args[1])
		if err != nil {
			return
		}
		vm.Register[reg] = val

	case OP_PUSH:
		var val uint16
		val, err = vm.value(at, in.Args[0])
		if err != nil {
			return
		}
		vm.Stack.Push(val)

	case OP_POP:
		var reg int
		reg, err = vm.register(at, in.Args[0])
		if err != nil {
			return
		}
		val, ok := vm.Stack.Pop()
		if !ok {
			err = ErrStackUnderflow
			return
		}
		vm.Register[reg] = val

	case OP_EQ, OP_GT:
		var reg int
		var b, c uint16
		reg, err = vm.register(at, in.Args[0])
		if err != nil {
			return
		}
		b, err = vm.value(at, in.Args[1])
		if err != nil {
			return
		}
		c, err = vm.value(at, in.Args[2])
		if err != nil {
			return
		}
		hold := false
		if in.Op == OP_EQ {
			hold = b == c
		} else {
			hold = b > c
		}
		if hold {
			vm.Register[reg] = 1
		} else {
			vm.Register[reg] = 0
		}

	case OP_JMP:
		var target uint16
		target, err = vm.value(at, in.Args[0])
		if err != nil {
			return
		}
		vm.Ip = target

	case OP_JT, OP_JF:
		var cond, target uint16
		cond, err = vm.value(at, in.Args[0])
		if err != nil {
			return
		}
		target, err = vm.value(at, in.Args[1])
		if err != nil {
			return
		}
		if (in.Op == OP_JT) == (cond != 0) {
			vm.Ip = target
		}

	case OP_ADD, OP_MULT, OP_MOD, OP_AND, OP_OR:
		var reg int
		var b, c uint16
		reg, err = vm.register(at, in.Args[0])
		if err != nil {
			return
		}
		b, err = vm.value(at, in.Args[1])
		if err != nil {
			return
		}
		c, err = vm.value(at, in.Args[2])
		if err != nil {
			return
		}
		var out uint32
		switch in.Op {
		case OP_ADD:
			out = (uint32(b) + uint32(c)) % MOD_BASE
		case OP_MULT:
			out = (uint32(b) * uint32(c)) % MOD_BASE
		case OP_MOD:
			if c == 0 {
				err = ErrZeroDivisor
				return
			}
			out = uint32(b % c)
		case OP_AND:
			out = uint32(b & c)
		case OP_OR:
			out = uint32(b | c)
		}
		vm.Register[reg] = uint16(out)

	case OP_NOT:
		var reg int
		var b uint16
		reg, err = vm.register(at, in.Args[0])
		if err != nil {
			return
		}
		b, err = vm.value(at, in.Args[1])
		if err != nil {
			return
		}
		vm.Register[reg] = (^b) & (MOD_BASE - 1)

	case OP_RMEM:
		var reg int
		var addr uint16
		reg, err = vm.register(at, in.Args[0])
		if err != nil {
			return
		}
		addr, err = vm.value(at, in.Args[1])
		if err != nil {
			return
		}
		if addr >= MEM_SIZE {
			err = ErrAddressRange
			return
		}
		vm.Register[reg] = vm.Memory[addr]

	case OP_WMEM:
		var addr, val uint16
		addr, err = vm.value(at, in.Args[0])
		if err != nil {
			return
		}
		val, err = vm.value(at, in.Args[1])
		if err != nil {
			return
		}
		if addr >= MEM_SIZE {
			err = ErrAddressRange
			return
		}
		vm.Memory[addr] = val

	case OP_CALL:
		var target uint16
		target, err = vm.value(at, in.Args[0])
		if err != nil {
			return
		}
		vm.Debug.countCall(at, target)
		vm.Stack.Push(next)
		vm.Ip = target

	case OP_RET:
		addr, ok := vm.Stack.Pop()
		if !ok {
			err = ErrStackUnderflow
			return
		}
		vm.Ip = addr

	case OP_OUT:
		var val uint16
		val, err = vm.value(at, in.Args[0])
		if err != nil {
			return
		}
		vm.Output = append(vm.Output, byte(val))

	case OP_IN:
		var reg int
		reg, err = vm.register(at, in.Args[0])
		if err != nil {
			return
		}
		if len(vm.Input) == 0 {
			// Suspend on the `in` instruction itself.
			vm.Ip = at
			vm.State = STATE_AWAIT
			return
		}
		vm.Register[reg] = uint16(vm.Input[0])
		vm.Input = vm.Input[1:]

	case OP_NOOP:
		// no effect
	}

	return
}

// traceRecord resolves the operands and captures the register bank for a
// trace entry, before the instruction mutates either.
func (vm *Vm) traceRecord(in Instr) (record TraceRecord, err error) {
	record.Ip = in.Addr
	record.Op = in.Op
	record.Reg = vm.Register

	for n := range in.Op.Arity() {
		record.Args[n], err = vm.value(in.Addr, in.Args[n])
		if err != nil {
			return
		}
	}

	return
}
