// Package vm implements the interpreter core for a fixed 16-bit
// register/stack virtual machine with a 15-bit address space.
//
// The machine consists of 32768 words of addressable memory, eight
// general-purpose registers (r0-r7), an unbounded explicit stack, and a
// program counter. Words 0..32767 are literal values, 32768..32775 name
// registers when used in an operand position, and anything above that is
// invalid. All arithmetic wraps modulo 32768.
//
// Program-level call/ret is driven entirely through the in-state stack,
// so host stack depth stays flat no matter how deeply the interpreted
// program recurses. The executor consults a per-machine patch registry
// before decoding, letting a verified native replacement stand in for a
// hot bytecode routine, and a debug layer providing breakpoints, a
// bounded execution trace, and call-site counters.
//
// The package also provides a disassembler and a matching assembler for
// inspecting and rewriting memory in place.
package vm
