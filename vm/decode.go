package vm

import (
	"errors"
	"fmt"
)

// Instr is one decoded instruction. Operands are kept as raw words;
// resolution to values happens at execution time.
type Instr struct {
	Addr uint16
	Op   Opcode
	Args [3]Val // Valid up to Op.Arity().
}

func (in Instr) String() (text string) {
	text = fmt.Sprintf("%d: %v", in.Addr, in.Op)
	for n := range in.Op.Arity() {
		text += " " + in.Args[n].String()
	}
	return
}

// Words returns the encoded form of the instruction.
func (in Instr) Words() (words []uint16) {
	words = append(words, uint16(in.Op))
	for n := range in.Op.Arity() {
		words = append(words, uint16(in.Args[n]))
	}
	return
}

// Decode decodes the instruction at addr. Decoded instructions are never
// cached: the same address may legitimately decode differently after a
// memory write.
//
// A program counter past the top of memory is a fault. The preceding
// instruction may well have been valid: a noop at 32767 decodes and
// executes, and the fault lands on the step after it.
func (vm *Vm) Decode(addr uint16) (instr Instr, next uint16, err error) {
	if addr >= MEM_SIZE {
		err = ErrAddressRange
		return
	}

	op := Opcode(vm.Memory[addr])
	if !op.Valid() {
		err = ErrOpcode{Addr: addr, Word: uint16(op)}
		return
	}

	width := op.Width()
	if uint32(addr)+uint32(width) > MEM_SIZE {
		err = errors.Join(ErrOpcode{Addr: addr, Word: uint16(op)}, ErrAddressRange)
		return
	}

	instr.Addr = addr
	instr.Op = op
	for n := range op.Arity() {
		instr.Args[n] = Val(vm.Memory[addr+1+uint16(n)])
	}

	next = addr + width
	return
}
