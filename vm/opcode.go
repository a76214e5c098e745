package vm

import (
	"fmt"
)

// Architecture constants.
const (
	MEM_SIZE  = 32768 // Addressable words of memory.
	MOD_BASE  = 32768 // Modulus for all arithmetic.
	REG_BASE  = 32768 // First word encoding a register operand.
	REG_COUNT = 8     // Number of general-purpose registers.
	VAL_LIMIT = REG_BASE + REG_COUNT // First invalid operand encoding.
)

// Opcode is an instruction kind.
type Opcode uint16

const (
	OP_HALT = Opcode(0)  // halt
	OP_SET  = Opcode(1)  // set
	OP_PUSH = Opcode(2)  // push
	OP_POP  = Opcode(3)  // pop
	OP_EQ   = Opcode(4)  // eq
	OP_GT   = Opcode(5)  // gt
	OP_JMP  = Opcode(6)  // jmp
	OP_JT   = Opcode(7)  // jt
	OP_JF   = Opcode(8)  // jf
	OP_ADD  = Opcode(9)  // add
	OP_MULT = Opcode(10) // mult
	OP_MOD  = Opcode(11) // mod
	OP_AND  = Opcode(12) // and
	OP_OR   = Opcode(13) // or
	OP_NOT  = Opcode(14) // not
	OP_RMEM = Opcode(15) // rmem
	OP_WMEM = Opcode(16) // wmem
	OP_CALL = Opcode(17) // call
	OP_RET  = Opcode(18) // ret
	OP_OUT  = Opcode(19) // out
	OP_IN   = Opcode(20) // in
	OP_NOOP = Opcode(21) // noop

	OP_COUNT = 22
)

// opTable fixes the mnemonic and operand count for every opcode.
var opTable = [OP_COUNT]struct {
	Name  string
	Arity int
}{
	OP_HALT: {"halt", 0},
	OP_SET:  {"set", 2},
	OP_PUSH: {"push", 1},
	OP_POP:  {"pop", 1},
	OP_EQ:   {"eq", 3},
	OP_GT:   {"gt", 3},
	OP_JMP:  {"jmp", 1},
	OP_JT:   {"jt", 2},
	OP_JF:   {"jf", 2},
	OP_ADD:  {"add", 3},
	OP_MULT: {"mult", 3},
	OP_MOD:  {"mod", 3},
	OP_AND:  {"and", 3},
	OP_OR:   {"or", 3},
	OP_NOT:  {"not", 2},
	OP_RMEM: {"rmem", 2},
	OP_WMEM: {"wmem", 2},
	OP_CALL: {"call", 1},
	OP_RET:  {"ret", 0},
	OP_OUT:  {"out", 1},
	OP_IN:   {"in", 1},
	OP_NOOP: {"noop", 0},
}

// opByName maps mnemonics back to opcodes for the assembler.
var opByName = func() map[string]Opcode {
	byName := map[string]Opcode{}
	for op, info := range opTable {
		byName[info.Name] = Opcode(op)
	}
	return byName
}()

// OpByName returns the opcode for a mnemonic.
func OpByName(name string) (op Opcode, ok bool) {
	op, ok = opByName[name]
	return
}

// Valid returns true if op names a recognized instruction.
func (op Opcode) Valid() bool {
	return op < OP_COUNT
}

// Arity returns the operand count of the opcode.
func (op Opcode) Arity() int {
	return opTable[op].Arity
}

// Width returns the encoded instruction width in words.
func (op Opcode) Width() uint16 {
	return uint16(1 + opTable[op].Arity)
}

// Mask returns the opcode's bit in a trace filter mask.
func (op Opcode) Mask() uint32 {
	return uint32(1) << op
}

func (op Opcode) String() string {
	if !op.Valid() {
		return fmt.Sprintf("op%d", uint16(op))
	}
	return opTable[op].Name
}

// Val is a raw operand word. Whether it names a literal or a register is
// positional and resolved at execution time, never at decode time, since
// register contents change between executions of the same address.
type Val uint16

// MakeReg returns the operand word naming register r.
func MakeReg(r int) Val {
	return Val(REG_BASE + r)
}

// IsNum returns true if the operand is a literal value.
func (v Val) IsNum() bool {
	return v < REG_BASE
}

// IsReg returns true if the operand names a register.
func (v Val) IsReg() bool {
	return v >= REG_BASE && v < VAL_LIMIT
}

// Reg returns the register index named by the operand.
func (v Val) Reg() int {
	return int(v - REG_BASE)
}

func (v Val) String() string {
	if v.IsReg() {
		return fmt.Sprintf("r%d", v.Reg())
	}
	return fmt.Sprintf("%d", uint16(v))
}
