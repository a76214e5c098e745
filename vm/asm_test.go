package vm

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssembler_Empty(t *testing.T) {
	assert := assert.New(t)

	asm := &Assembler{}

	words, err := asm.Assemble(strings.NewReader(""))
	assert.NoError(err)
	assert.Equal(0, len(words))

	assert.Equal("0", asm.Equate["LINENO"])
	assert.Equal("32768", asm.Equate["MEM_SIZE"])
	assert.Equal("32768", asm.Equate["MOD_BASE"])
	assert.Equal("32768", asm.Equate["REG_BASE"])
	assert.Equal("8", asm.Equate["REG_COUNT"])
}

func TestAssembler_AllOpcodes(t *testing.T) {
	assert := assert.New(t)

	asm := &Assembler{}

	program := []string{
		"halt",
		"set r0 123",
		"push r0",
		"pop r1",
		"eq r2 r0 r1",
		"gt r2 r0 r1",
		"jmp 100",
		"jt r2 100",
		"jf r2 100",
		"add r3 r0 r1",
		"mult r3 r0 r1",
		"mod r3 r0 r1",
		"and r3 r0 r1",
		"or r3 r0 r1",
		"not r3 r0",
		"rmem r4 1000",
		"wmem 1000 r4",
		"call 200",
		"ret",
		"out 65",
		"in r5",
		"noop",
	}

	words, err := asm.Assemble(strings.NewReader(strings.Join(program, "\n")))
	assert.NoError(err)

	expected := []uint16{
		0,
		1, 32768, 123,
		2, 32768,
		3, 32769,
		4, 32770, 32768, 32769,
		5, 32770, 32768, 32769,
		6, 100,
		7, 32770, 100,
		8, 32770, 100,
		9, 32771, 32768, 32769,
		10, 32771, 32768, 32769,
		11, 32771, 32768, 32769,
		12, 32771, 32768, 32769,
		13, 32771, 32768, 32769,
		14, 32771, 32768,
		15, 32772, 1000,
		16, 1000, 32772,
		17, 200,
		18,
		19, 65,
		20, 32773,
		21,
	}
	assert.Equal(expected, words)
}

func TestAssembler_RoundTrip(t *testing.T) {
	assert := assert.New(t)

	asm := &Assembler{}
	program := []string{
		"set r0 32767",
		"add r0 r0 5",
		"out 'a'",
		"halt",
	}

	words, err := asm.Assemble(strings.NewReader(strings.Join(program, "\n")))
	assert.NoError(err)

	vm := NewVm()
	assert.NoError(vm.LoadProgram(words))

	lines, err := vm.Disassemble(0, 4)
	assert.NoError(err)
	assert.Equal(4, len(lines))
	assert.Equal("0: set r0 32767", lines[0].String())
	assert.Equal("3: add r0 r0 5", lines[1].String())
	assert.Equal("7: out 97", lines[2].String())
	assert.Equal("9: halt", lines[3].String())

	// The listing reassembles to the identical words, including the
	// "addr:" markers the disassembler emits.
	listing := []string{}
	for _, line := range lines {
		listing = append(listing, line.String())
	}
	again, err := asm.Assemble(strings.NewReader(strings.Join(listing, "\n")))
	assert.NoError(err)
	assert.Equal(words, again)
}

func TestAssembler_CharLiterals(t *testing.T) {
	assert := assert.New(t)

	asm := &Assembler{}
	program := []string{
		"out 'h'",
		"out '\\n'",
		"halt ; with a trailing comment",
		"; a full-line comment",
		"",
	}

	words, err := asm.Assemble(strings.NewReader(strings.Join(program, "\n")))
	assert.NoError(err)
	assert.Equal([]uint16{19, 'h', 19, '\n', 0}, words)
}

func TestAssembler_Equ(t *testing.T) {
	assert := assert.New(t)

	asm := &Assembler{}
	program := []string{
		".equ GREET 104",
		"out GREET",
		"out $(GREET + 1)",
		".equ LOOP $(2 * GREET)",
		"jmp LOOP",
		"out $(LINENO)",
	}

	words, err := asm.Assemble(strings.NewReader(strings.Join(program, "\n")))
	assert.NoError(err)
	assert.Equal([]uint16{19, 104, 19, 105, 6, 208, 19, 6}, words)
}

func TestAssembler_Predefine(t *testing.T) {
	assert := assert.New(t)

	asm := &Assembler{}
	asm.Predefine("ENTRY", "100")

	words, err := asm.Assemble(strings.NewReader("call ENTRY\ncall $(ENTRY + 2)\n"))
	assert.NoError(err)
	assert.Equal([]uint16{17, 100, 17, 102}, words)
}

func TestAssembler_Defines(t *testing.T) {
	assert := assert.New(t)

	asm := &Assembler{}

	// Architecture defines are usable in expressions.
	words, err := asm.Assemble(strings.NewReader("out $(MOD_BASE - 32703)\n"))
	assert.NoError(err)
	assert.Equal([]uint16{19, 65}, words)
}

func TestAssembler_ErrSyntax(t *testing.T) {
	assert := assert.New(t)

	table := [](struct {
		prog string
		line int
	}){
		{"bogus r0\n", 1},
		{"set r0\n", 1},
		{"set r0 1 2\n", 1},
		{"set r8 1\n", 1},
		{"set r0 nothing\n", 1},
		{"out 32776\n", 1},
		{"out $(\"aaa\")\n", 1},
		{".equ\n", 1},
		{".equ A\n", 1},
		{".equ A 1\n.equ A 2\n", 2},
		{"halt\nhalt\nout\n", 3},
	}

	for _, entry := range table {
		asm := &Assembler{}
		_, err := asm.Assemble(strings.NewReader(entry.prog))
		var se ErrSyntax
		assert.NotNil(err, entry.prog)
		if err != nil {
			assert.True(errors.As(err, &se), entry.prog)
			assert.Equal(entry.line, se.LineNo, entry.prog)
		}
	}
}

func TestDisassembleFunc(t *testing.T) {
	assert := assert.New(t)

	asm := &Assembler{}
	// A routine with a conditional branch and a call; the callee body
	// is not descended into.
	program := []string{
		"jt r0 8", // 0
		"add r0 r1 1", // 3
		"ret",  // 7
		"push r0", // 8
		"call 20", // 10
		"pop r0",  // 12
		"ret",     // 14
	}

	words, err := asm.Assemble(strings.NewReader(strings.Join(program, "\n")))
	assert.NoError(err)

	vm := NewVm()
	assert.NoError(vm.LoadProgram(words))
	// Give the skipped callee a decodable body anyway.
	vm.Memory[20] = uint16(OP_RET)

	lines, err := vm.DisassembleFunc(0)
	assert.NoError(err)

	addrs := []uint16{}
	for _, line := range lines {
		addrs = append(addrs, line.Addr)
	}
	assert.Equal([]uint16{0, 3, 7, 8, 10, 12, 14}, addrs)
}

func TestDisassembleFunc_RegisterTarget(t *testing.T) {
	assert := assert.New(t)

	// A computed jump target cannot be followed statically.
	vm := loadVm(t,
		uint16(OP_JMP), uint16(MakeReg(0)),
	)

	lines, err := vm.DisassembleFunc(0)
	assert.NoError(err)
	assert.Equal(1, len(lines))
	assert.Equal("0: jmp r0", lines[0].String())
}

func TestVal_String(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("123", Val(123).String())
	assert.Equal("r0", MakeReg(0).String())
	assert.Equal("r7", MakeReg(7).String())
	assert.True(Val(32767).IsNum())
	assert.False(Val(32768).IsNum())
	assert.True(Val(32775).IsReg())
	assert.False(Val(32776).IsReg())
}

func TestOpcode_Table(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("halt", OP_HALT.String())
	assert.Equal("noop", OP_NOOP.String())
	assert.Equal(uint16(4), OP_ADD.Width())
	assert.Equal(uint16(1), OP_RET.Width())
	assert.False(Opcode(22).Valid())

	op, ok := OpByName("wmem")
	assert.True(ok)
	assert.Equal(OP_WMEM, op)
	_, ok = OpByName("bogus")
	assert.False(ok)
}
