package vm

import (
	"errors"
	"maps"
	"slices"
)

// PatchFn is a native replacement for a bytecode routine. It reads its
// inputs from registers per its contract, performs the equivalent of the
// whole routine including its `ret` (popping exactly one return address
// into the program counter), and leaves every caller unaware of the
// substitution.
type PatchFn func(vm *Vm) error

// Contract declares the calling convention a native replacement was
// verified against: the registers it reads, the register its result
// lands in, and the obligation to consume one return address.
type Contract struct {
	In  []int // Register indexes read as input.
	Out int   // Register index holding the result.
}

// Patch is a native replacement registered at a routine's entry address.
type Patch struct {
	Addr     uint16
	Name     string
	Contract Contract
	Fn       PatchFn
}

// Patches is the address → native replacement registry consulted by the
// executor before decoding. The Enabled toggle is global, not per-entry,
// so patched and unpatched runs of the same program can be compared.
type Patches struct {
	Enabled bool

	entry map[uint16]*Patch
}

// Register adds a patch to the registry.
func (p *Patches) Register(patch *Patch) (err error) {
	if p.entry == nil {
		p.entry = map[uint16]*Patch{}
	}
	if _, ok := p.entry[patch.Addr]; ok {
		err = ErrPatchDuplicate
		return
	}

	p.entry[patch.Addr] = patch
	return
}

// Remove deletes the patch at addr.
func (p *Patches) Remove(addr uint16) (err error) {
	if _, ok := p.entry[addr]; !ok {
		err = ErrPatchUnknown
		return
	}

	delete(p.entry, addr)
	return
}

// Lookup returns the patch registered at addr, or nil.
func (p *Patches) Lookup(addr uint16) *Patch {
	return p.entry[addr]
}

// Enable turns native patching on.
func (p *Patches) Enable() {
	p.Enabled = true
}

// Disable turns native patching off without removing any entry.
func (p *Patches) Disable() {
	p.Enabled = false
}

// All returns the registered patches by address.
func (p *Patches) All() map[uint16]*Patch {
	return maps.Clone(p.entry)
}

func (p *Patches) clone() (clone Patches) {
	clone.Enabled = p.Enabled
	clone.entry = maps.Clone(p.entry)
	return
}

// callPatch invokes a native replacement and audits its contract: the
// replacement must consume exactly one return address and move the
// program counter to it.
func (vm *Vm) callPatch(patch *Patch) (err error) {
	depth := vm.Stack.Depth()
	if depth == 0 {
		err = ErrPatchContract{Addr: patch.Addr, Name: patch.Name, Err: ErrStackUnderflow}
		return
	}
	ret, _ := vm.Stack.Peek()

	err = patch.Fn(vm)
	if err != nil {
		err = ErrPatchContract{Addr: patch.Addr, Name: patch.Name, Err: err}
		return
	}

	if vm.Stack.Depth() != depth-1 || vm.Ip != ret {
		err = ErrPatchContract{Addr: patch.Addr, Name: patch.Name, Err: errPatchReturn}
		return
	}

	return
}

var (
	errPatchReturn = errors.New(f("replacement did not consume the return address"))
	errPatchDomain = errors.New(f("input outside verified domain"))
	errPatchBudget = errors.New(f("verification budget exceeded"))
)

// Verify checks a native replacement against the bytecode routine it
// replaces, over a sampled set of register inputs, before the patch is
// trusted. Each sample assigns the contract's input registers; both the
// original routine and the replacement run from identical cloned states,
// and the resulting registers, stack, and program counter must match
// exactly. budget caps the interpreted steps per sample (0 = default).
func Verify(base *Vm, patch *Patch, samples [][]uint16, budget uint64) (err error) {
	const verify_budget = 100_000_000

	if budget == 0 {
		budget = verify_budget
	}

	for _, sample := range samples {
		ref, err := runRoutine(base, patch, sample, budget, false)
		if err != nil {
			return err
		}
		nat, err := runRoutine(base, patch, sample, budget, true)
		if err != nil {
			return err
		}

		if ref.Register != nat.Register ||
			!slices.Equal(ref.Stack.Data, nat.Stack.Data) ||
			ref.Ip != nat.Ip {
			return ErrPatchContract{
				Addr: patch.Addr,
				Name: patch.Name,
				Err:  errVerifySample(sample),
			}
		}
	}

	return
}

// runRoutine clones base, applies the sampled inputs, and runs the
// routine at the patch address to completion, natively or interpreted.
func runRoutine(base *Vm, patch *Patch, sample []uint16, budget uint64, native bool) (clone *Vm, err error) {
	clone = base.Clone()
	clone.State = STATE_RUNNING
	clone.Patches.Enabled = native
	if native && clone.Patches.Lookup(patch.Addr) == nil {
		if err = clone.Patches.Register(patch); err != nil {
			return
		}
	}

	for n, reg := range patch.Contract.In {
		if n < len(sample) {
			clone.Register[reg] = sample[n]
		}
	}

	// Call the routine from a sentinel return address: push it, jump to
	// the entry, and run until control returns to it.
	sentinel := clone.Ip
	floor := clone.Stack.Depth()
	clone.Stack.Push(sentinel)
	clone.Ip = patch.Addr

	for range budget {
		err = clone.Step()
		if err != nil {
			return
		}
		if clone.Ip == sentinel && clone.Stack.Depth() == floor {
			return
		}
	}

	err = ErrPatchContract{Addr: patch.Addr, Name: patch.Name, Err: errPatchBudget}
	return
}

type errVerifySample []uint16

func (ev errVerifySample) Error() string {
	return f("diverges from bytecode routine on input %v", []uint16(ev))
}
