// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package vm

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Line is one disassembled instruction.
type Line struct {
	Addr uint16
	Op   Opcode
	Args []Val
}

func (l Line) String() (text string) {
	text = fmt.Sprintf("%d: %v", l.Addr, l.Op)
	for _, arg := range l.Args {
		text += " " + arg.String()
	}
	return
}

// Disassemble decodes count instructions starting at addr. Operands are
// rendered literal or register exactly as the opcode table dictates,
// never guessed.
func (vm *Vm) Disassemble(addr uint16, count int) (lines []Line, err error) {
	for range count {
		var instr Instr
		var next uint16
		instr, next, err = vm.Decode(addr)
		if err != nil {
			return
		}

		lines = append(lines, Line{
			Addr: instr.Addr,
			Op:   instr.Op,
			Args: slices.Clone(instr.Args[:instr.Op.Arity()]),
		})
		addr = next
	}

	return
}

// DisassembleFunc lists a whole routine from its entry address,
// following static jump targets breadth-first but not descending into
// called routines. Register-valued targets cannot be followed
// statically and are skipped. The listing is ordered by address.
func (vm *Vm) DisassembleFunc(entry uint16) (lines []Line, err error) {
	explored := map[uint16]bool{}
	queue := []uint16{entry}

	for len(queue) > 0 {
		addr := queue[0]
		queue = queue[1:]
		if explored[addr] {
			continue
		}
		explored[addr] = true

		var instr Instr
		var next uint16
		instr, next, err = vm.Decode(addr)
		if err != nil {
			return
		}
		lines = append(lines, Line{
			Addr: instr.Addr,
			Op:   instr.Op,
			Args: slices.Clone(instr.Args[:instr.Op.Arity()]),
		})

		var follow []Val
		switch instr.Op {
		case OP_HALT, OP_RET:
			// terminal
		case OP_JMP:
			follow = []Val{instr.Args[0]}
		case OP_JT, OP_JF:
			follow = []Val{instr.Args[1], Val(next)}
		default:
			// Calls fall through to the next instruction; the callee
			// body is a separate routine.
			follow = []Val{Val(next)}
		}

		for _, target := range follow {
			if !target.IsNum() {
				continue
			}
			if !explored[uint16(target)] {
				queue = append(queue, uint16(target))
			}
		}
	}

	slices.SortFunc(lines, func(a, b Line) int {
		return int(a.Addr) - int(b.Addr)
	})
	return
}

// Assembler turns mnemonic text back into memory words: the exact
// inverse of the disassembler's listing. It supports `.equ` equates,
// `'c'` character literals, and compile-time `$(...)` expressions.
type Assembler struct {
	Verbose bool // If set, verbosely logs the assembler actions.

	Equate    map[string]string // Map of equates.
	predefine map[string]string // Predefines.
}

// Predefine defines a new equate or redefines an existing equate.
func (asm *Assembler) Predefine(equ string, value string) {
	if asm.predefine == nil {
		asm.predefine = map[string]string{equ: value}
	} else {
		asm.predefine[equ] = value
	}
}

// valueOf returns the value of a simple numeric word.
func (asm *Assembler) valueOf(word string) (value uint16, err error) {
	v64, perr := strconv.ParseUint(word, 0, 16)
	if perr != nil {
		err = ErrParseNumber(word)
		return
	}

	value = uint16(v64)
	return
}

// operandOf encodes a single operand word: rN names a register, anything
// else must be a literal below the register encodings.
func (asm *Assembler) operandOf(word string) (val Val, err error) {
	if len(word) == 2 && word[0] == 'r' && word[1] >= '0' && word[1] < '0'+REG_COUNT {
		val = MakeReg(int(word[1] - '0'))
		return
	}

	value, err := asm.valueOf(word)
	if err != nil {
		err = ErrParseValue(word)
		return
	}
	if value >= VAL_LIMIT {
		err = ErrOperandRange
		return
	}

	val = Val(value)
	return
}

// parenEval does compile-time $(...) evaluations.
func (asm *Assembler) parenEval(expr string) (value uint16, err error) {
	thread := starlark.Thread{}
	opts := syntax.FileOptions{}
	pred := starlark.StringDict{}
	for key, str := range asm.Equate {
		var value16 uint16
		value16, err = asm.valueOf(str)
		if err != nil {
			// Ignore non-integer equates. They may be registers
			// or something else.
			err = nil
			continue
		}
		pred[key] = starlark.MakeInt(int(value16))
	}
	prog := "rc=" + expr + "\n"
	dict, err := starlark.ExecFileOptions(&opts, &thread, "expr", prog, pred)
	if err != nil {
		return
	}
	st_rc, ok := dict["rc"]
	if !ok {
		err = ErrParseExpression(expr)
		return
	}
	st_int, ok := st_rc.(starlark.Int)
	if !ok {
		err = ErrParseExpression(expr)
		return
	}
	st_int64, ok := st_int.Int64()
	if !ok {
		err = ErrParseExpression(expr)
		return
	}
	value = uint16(st_int64)
	return
}

// parseLine parses a single line into its words.
func (asm *Assembler) parseLine(line string, lineno int) (words []string, err error) {
	// Set line number.
	asm.Equate["LINENO"] = fmt.Sprintf("%v", lineno)

	// Strip comments.
	if n := strings.IndexByte(line, ';'); n >= 0 {
		line = line[:n]
	}

	// Do 'x' evaluations
	re := regexp.MustCompile(`'\\?[^']'`)
	line = re.ReplaceAllStringFunc(line, func(word string) string {
		str := word[1 : len(word)-1]
		if str[0] == '\\' {
			switch str[1:] {
			case "n":
				str = "\n"
			case "r":
				str = "\r"
			case "\\":
				str = "\\"
			default:
				return word
			}
		} else if len(str) != 1 {
			return word
		}
		return fmt.Sprintf("%v", str[0])
	})

	// Do $() evaluations
	re = regexp.MustCompile(`\$\([^\$]*\)`)
	line = re.ReplaceAllStringFunc(line, func(str string) string {
		value, _err := asm.parenEval(str[2 : len(str)-1])
		if _err != nil {
			err = _err
		}
		return fmt.Sprintf("%v", value)
	})
	if err != nil {
		return
	}

	words = slices.DeleteFunc(strings.Fields(line), func(a string) bool { return len(a) == 0 })

	if len(words) == 0 {
		return
	}

	// .equ CONST VALUE
	if words[0] == ".equ" {
		if len(words) != 3 {
			err = ErrEquateSyntax
			return
		}
		_, ok := asm.Equate[words[1]]
		if ok {
			err = ErrEquateDuplicate
			return
		}
		asm.Equate[words[1]] = words[2]
		words = words[:0]
		return
	}

	// Drop a leading "addr:" marker, as produced by the disassembler.
	if strings.HasSuffix(words[0], ":") {
		if _, perr := strconv.ParseUint(words[0][:len(words[0])-1], 0, 16); perr == nil {
			words = words[1:]
		}
	}

	// Substitute equates.
	for n, word := range words {
		equate, ok := asm.Equate[word]
		if ok {
			words[n] = equate
		}
	}

	return
}

// Assemble reads mnemonic text and returns the encoded word sequence.
func (asm *Assembler) Assemble(r io.Reader) (words []uint16, err error) {
	asm.Equate = map[string]string{"LINENO": "0"}
	for key, value := range _vm_defines {
		asm.Equate[key] = value
	}
	for key, value := range asm.predefine {
		asm.Equate[key] = value
	}

	lineno := 0
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineno++
		line := scanner.Text()

		var parsed []string
		parsed, err = asm.parseLine(line, lineno)
		if err != nil {
			err = ErrSyntax{LineNo: lineno, Line: line, Err: err}
			return
		}
		if len(parsed) == 0 {
			continue
		}

		op, ok := opByName[parsed[0]]
		if !ok {
			err = ErrSyntax{LineNo: lineno, Line: line, Err: ErrOpcodeMissing}
			return
		}
		if len(parsed)-1 != op.Arity() {
			err = ErrSyntax{LineNo: lineno, Line: line, Err: ErrOperandCount}
			return
		}

		encoded := []uint16{uint16(op)}
		for _, word := range parsed[1:] {
			var val Val
			val, err = asm.operandOf(word)
			if err != nil {
				err = ErrSyntax{LineNo: lineno, Line: line, Err: err}
				return
			}
			encoded = append(encoded, uint16(val))
		}

		if asm.Verbose {
			log.Printf("asm %d: %v -> %v", lineno, parsed, encoded)
		}

		words = append(words, encoded...)
	}
	err = scanner.Err()

	return
}
