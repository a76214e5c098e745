package vm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

// xorRoutine encodes the xor helper at base: r0 ^= r1 via and/not/or,
// preserving r1 and r2.
func xorRoutine(vm *Vm, base uint16) {
	words := []uint16{
		uint16(OP_PUSH), uint16(MakeReg(1)),
		uint16(OP_PUSH), uint16(MakeReg(2)),
		uint16(OP_AND), uint16(MakeReg(2)), uint16(MakeReg(0)), uint16(MakeReg(1)),
		uint16(OP_NOT), uint16(MakeReg(2)), uint16(MakeReg(2)),
		uint16(OP_OR), uint16(MakeReg(0)), uint16(MakeReg(0)), uint16(MakeReg(1)),
		uint16(OP_AND), uint16(MakeReg(0)), uint16(MakeReg(0)), uint16(MakeReg(2)),
		uint16(OP_POP), uint16(MakeReg(2)),
		uint16(OP_POP), uint16(MakeReg(1)),
		uint16(OP_RET),
	}
	copy(vm.Memory[base:], words)
}

// confirmRoutine encodes the confirmation recursion at base:
//
//	f(0, n) = n + 1
//	f(m, 0) = f(m-1, r7)
//	f(m, n) = f(m-1, f(m, n-1))
func confirmRoutine(vm *Vm, base uint16) {
	words := []uint16{
		// base+0: jt r0 base+8
		uint16(OP_JT), uint16(MakeReg(0)), base + 8,
		// base+3: add r0 r1 1; ret
		uint16(OP_ADD), uint16(MakeReg(0)), uint16(MakeReg(1)), 1,
		uint16(OP_RET),
		// base+8: jt r1 base+21
		uint16(OP_JT), uint16(MakeReg(1)), base + 21,
		// base+11: add r0 r0 32767; set r1 r7; call base; ret
		uint16(OP_ADD), uint16(MakeReg(0)), uint16(MakeReg(0)), 32767,
		uint16(OP_SET), uint16(MakeReg(1)), uint16(MakeReg(7)),
		uint16(OP_CALL), base,
		uint16(OP_RET),
		// base+21: push r0; add r1 r1 32767; call base;
		//          set r1 r0; pop r0; add r0 r0 32767; call base; ret
		uint16(OP_PUSH), uint16(MakeReg(0)),
		uint16(OP_ADD), uint16(MakeReg(1)), uint16(MakeReg(1)), 32767,
		uint16(OP_CALL), base,
		uint16(OP_SET), uint16(MakeReg(1)), uint16(MakeReg(0)),
		uint16(OP_POP), uint16(MakeReg(0)),
		uint16(OP_ADD), uint16(MakeReg(0)), uint16(MakeReg(0)), 32767,
		uint16(OP_CALL), base,
		uint16(OP_RET),
	}
	copy(vm.Memory[base:], words)
}

func TestPatches_Registry(t *testing.T) {
	assert := assert.New(t)

	p := &Patches{}
	assert.Nil(p.Lookup(100))

	patch := XorPatch(100)
	assert.NoError(p.Register(patch))
	assert.Equal(patch, p.Lookup(100))
	assert.ErrorIs(p.Register(XorPatch(100)), ErrPatchDuplicate)

	assert.Equal(1, len(p.All()))

	assert.ErrorIs(p.Remove(200), ErrPatchUnknown)
	assert.NoError(p.Remove(100))
	assert.Nil(p.Lookup(100))
}

func TestPatch_Xor(t *testing.T) {
	assert := assert.New(t)

	vm := NewVm()
	xorRoutine(vm, 100)
	// A caller at 0 with halt after the call.
	vm.Memory[0] = uint16(OP_CALL)
	vm.Memory[1] = 100
	vm.Memory[2] = uint16(OP_HALT)

	vm.Register[0] = 0x1234
	vm.Register[1] = 0x0ff0
	vm.Register[2] = 0x5555

	assert.NoError(vm.Patches.Register(XorPatch(100)))
	vm.Patches.Enable()

	stop, err := vm.Run(0)
	assert.NoError(err)
	assert.Equal(STOP_HALT, stop.Reason)

	assert.Equal(uint16(0x1234^0x0ff0), vm.Register[0])
	assert.Equal(uint16(0x0ff0), vm.Register[1])
	assert.Equal(uint16(0x5555), vm.Register[2])
	assert.True(vm.Stack.Empty())

	// call + patched routine + halt: the whole replaced routine
	// counts as a single step.
	assert.Equal(uint64(3), vm.Steps)
}

func TestPatch_Disabled(t *testing.T) {
	assert := assert.New(t)

	vm := NewVm()
	xorRoutine(vm, 100)
	vm.Memory[0] = uint16(OP_CALL)
	vm.Memory[1] = 100
	vm.Memory[2] = uint16(OP_HALT)

	vm.Register[0] = 0x1234
	vm.Register[1] = 0x0ff0

	// Registered but disabled: the bytecode routine runs instead, and
	// computes the same result.
	assert.NoError(vm.Patches.Register(XorPatch(100)))

	stop, err := vm.Run(0)
	assert.NoError(err)
	assert.Equal(STOP_HALT, stop.Reason)
	assert.Equal(uint16(0x1234^0x0ff0), vm.Register[0])
	assert.Greater(vm.Steps, uint64(2))
}

func TestPatch_ContractViolation(t *testing.T) {
	assert := assert.New(t)

	vm := NewVm()
	vm.Memory[0] = uint16(OP_CALL)
	vm.Memory[1] = 100
	vm.Memory[2] = uint16(OP_HALT)

	// A broken replacement that never consumes the return address.
	broken := &Patch{
		Addr: 100,
		Name: "broken",
		Fn: func(vm *Vm) error {
			vm.Register[0] = 1
			return nil
		},
	}
	assert.NoError(vm.Patches.Register(broken))
	vm.Patches.Enable()

	_, err := vm.Run(0)
	var pc ErrPatchContract
	assert.True(errors.As(err, &pc))
	assert.Equal("broken", pc.Name)
	assert.Equal(uint16(100), pc.Addr)
	assert.Equal(STATE_HALTED, vm.State)
}

func TestPatch_NoReturnAddress(t *testing.T) {
	assert := assert.New(t)

	// Jumping to a patched address, rather than calling it, leaves no
	// return address to consume.
	vm := NewVm()
	vm.Memory[0] = uint16(OP_JMP)
	vm.Memory[1] = 100

	assert.NoError(vm.Patches.Register(XorPatch(100)))
	vm.Patches.Enable()

	_, err := vm.Run(0)
	var pc ErrPatchContract
	assert.True(errors.As(err, &pc))
	assert.ErrorIs(err, ErrStackUnderflow)
}

func TestPatch_ConfirmDomain(t *testing.T) {
	assert := assert.New(t)

	vm := NewVm()
	vm.Memory[0] = uint16(OP_CALL)
	vm.Memory[1] = 100
	vm.Memory[2] = uint16(OP_HALT)

	vm.Register[0] = CONFIRM_MAX_DEPTH + 1
	vm.Register[1] = 1
	vm.Register[7] = 1

	assert.NoError(vm.Patches.Register(ConfirmPatch(100)))
	vm.Patches.Enable()

	// Inputs outside the verified domain fail loudly instead of
	// returning a plausible wrong answer.
	_, err := vm.Run(0)
	var pc ErrPatchContract
	assert.True(errors.As(err, &pc))
	assert.Equal("confirm", pc.Name)
}

func TestConfirm_Values(t *testing.T) {
	assert := assert.New(t)

	// naive mirrors the recursion directly, usable for tiny inputs.
	var naive func(m, n, k uint16) uint16
	naive = func(m, n, k uint16) uint16 {
		switch {
		case m == 0:
			return (n + 1) % MOD_BASE
		case n == 0:
			return naive(m-1, k, k)
		default:
			return naive(m-1, naive(m, n-1, k), k)
		}
	}

	table := [](struct {
		m, n, k uint16
	}){
		{0, 0, 0},
		{0, 5, 3},
		{0, 32767, 9},
		{1, 0, 4},
		{1, 7, 2},
		{2, 0, 3},
		{2, 4, 3},
		{3, 2, 1},
	}

	for _, entry := range table {
		assert.Equal(naive(entry.m, entry.n, entry.k),
			confirm(entry.m, entry.n, entry.k),
			"m=%d n=%d k=%d", entry.m, entry.n, entry.k)
	}
}

func TestVerify_Xor(t *testing.T) {
	assert := assert.New(t)

	base := NewVm()
	xorRoutine(base, 100)
	base.Ip = 500 // sentinel return address for verification calls

	samples := [][]uint16{
		{0, 0},
		{0x1234, 0x0ff0},
		{32767, 32767},
		{1, 32767},
	}

	assert.NoError(Verify(base, XorPatch(100), samples, 0))
}

func TestVerify_Confirm(t *testing.T) {
	assert := assert.New(t)

	base := NewVm()
	confirmRoutine(base, 100)
	base.Ip = 500

	// Contract.In order is r0, r1, r7: depth, argument, seed.
	samples := [][]uint16{
		{0, 0, 0},
		{0, 9, 5},
		{1, 3, 2},
		{2, 2, 3},
		{2, 0, 5},
	}

	assert.NoError(Verify(base, ConfirmPatch(100), samples, 0))
}

func TestVerify_Divergent(t *testing.T) {
	assert := assert.New(t)

	base := NewVm()
	xorRoutine(base, 100)
	base.Ip = 500

	// A replacement that computes the wrong function.
	wrong := &Patch{
		Addr: 100,
		Name: "wrong",
		Contract: Contract{
			In:  []int{0, 1},
			Out: 0,
		},
		Fn: func(vm *Vm) (err error) {
			vm.Register[0] = vm.Register[0] & vm.Register[1]
			ret, ok := vm.Stack.Pop()
			if !ok {
				return ErrStackUnderflow
			}
			vm.Ip = ret
			return
		},
	}

	err := Verify(base, wrong, [][]uint16{{0x1234, 0x0ff0}}, 0)
	var pc ErrPatchContract
	assert.True(errors.As(err, &pc))
	assert.Equal("wrong", pc.Name)
}

func TestVerify_Budget(t *testing.T) {
	assert := assert.New(t)

	base := NewVm()
	confirmRoutine(base, 100)
	base.Ip = 500

	// Two interpreted steps cannot finish the routine.
	err := Verify(base, ConfirmPatch(100), [][]uint16{{1, 1, 1}}, 2)
	var pc ErrPatchContract
	assert.True(errors.As(err, &pc))
	assert.ErrorIs(err, errPatchBudget)
}
