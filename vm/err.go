package vm

import (
	"errors"

	"github.com/ezrec/uvm16/translate"
)

var f = translate.From

var (
	// Executor errors
	ErrStackUnderflow = errors.New(f("stack underflow"))
	ErrNotRunning     = errors.New(f("vm is not running"))
	ErrZeroDivisor    = errors.New(f("zero divisor"))
	ErrValueRange     = errors.New(f("value out of range"))
	ErrAddressRange   = errors.New(f("address out of range"))
	ErrProgramSize    = errors.New(f("program image too large"))

	// Patch registry errors
	ErrPatchDuplicate = errors.New(f("patch duplicated"))
	ErrPatchUnknown   = errors.New(f("patch unknown"))

	// Debug layer errors
	ErrBreakpointUnknown = errors.New(f("breakpoint unknown"))

	// Assembler errors
	ErrEquateSyntax    = errors.New(f(".equ syntax"))
	ErrEquateDuplicate = errors.New(f(".equ duplicated"))
	ErrOpcodeMissing   = errors.New(f("opcode missing"))
	ErrOperandCount    = errors.New(f("operand count"))
	ErrOperandRange    = errors.New(f("operand out of range"))
)

// ErrOpcode is a decode fault: the word at an address is not a
// recognized opcode.
type ErrOpcode struct {
	Addr uint16
	Word uint16
}

func (eo ErrOpcode) Error() string {
	return f("invalid opcode %d at %d", eo.Word, eo.Addr)
}

func (eo ErrOpcode) Is(err error) (ok bool) {
	_, ok = err.(ErrOpcode)
	return
}

// ErrOperand is a resolution fault: an operand word is outside both the
// literal and the register ranges.
type ErrOperand struct {
	Addr uint16
	Word uint16
}

func (eo ErrOperand) Error() string {
	return f("invalid operand %d at %d", eo.Word, eo.Addr)
}

func (eo ErrOperand) Is(err error) (ok bool) {
	_, ok = err.(ErrOperand)
	return
}

// ErrPatchContract reports a native replacement that was invoked outside
// its verified input domain, or that left the stack or program counter in
// a state the original routine could not have produced. It fails loudly:
// a plausible-looking wrong result is worse than a crash here.
type ErrPatchContract struct {
	Addr uint16
	Name string
	Err  error
}

func (ep ErrPatchContract) Error() string {
	return f("patch %v at %d: %v", ep.Name, ep.Addr, ep.Err)
}

func (ep ErrPatchContract) Unwrap() error {
	return ep.Err
}

func (ep ErrPatchContract) Is(err error) (ok bool) {
	_, ok = err.(ErrPatchContract)
	return
}

// ErrCond reports a breakpoint condition that failed to evaluate.
type ErrCond struct {
	Breakpoint int
	Cond       string
	Err        error
}

func (ec ErrCond) Error() string {
	return f("breakpoint %d condition '%v' %v", ec.Breakpoint, ec.Cond, ec.Err)
}

func (ec ErrCond) Unwrap() error {
	return ec.Err
}

// ErrSyntax reports an assembler parse failure with its source line.
type ErrSyntax struct {
	LineNo int
	Line   string
	Err    error
}

func (err ErrSyntax) Error() string {
	return f("line %d '%v' %v", err.LineNo, err.Line, err.Err)
}

func (err ErrSyntax) Unwrap() error {
	return err.Err
}

// ErrParseNumber reports a word that should have been a number.
type ErrParseNumber string

func (err ErrParseNumber) Error() string {
	return f("'%v' is not a number", string(err))
}

// ErrParseValue reports a word that is neither a value nor a register.
type ErrParseValue string

func (err ErrParseValue) Error() string {
	return f("'%v' is not a value or register", string(err))
}

// ErrParseExpression reports an invalid $(...) expression.
type ErrParseExpression string

func (err ErrParseExpression) Error() string {
	return f("$(%v) is not a valid expression", string(err))
}
