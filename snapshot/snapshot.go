// Package snapshot captures, restores, and persists complete machine
// state. A snapshot is a deep, independent copy: external tools branch
// from it freely without touching the live machine, which matters when
// re-running from program start would cost billions of instructions.
package snapshot

import (
	"slices"

	"github.com/ezrec/uvm16/vm"
)

// Version of the persisted snapshot structure.
const Version = 1

// BreakpointSpec persists one breakpoint as address plus condition
// source; conditions are recompiled on restore.
type BreakpointSpec struct {
	Addr uint16 `cbor:"addr"`
	Cond string `cbor:"cond,omitempty"`
}

// Snapshot is an immutable full-state copy. It is never mutated after
// capture; Restore builds a fresh machine from it.
//
// Patch registry entries are native code and cannot be persisted; the
// snapshot records only the enablement flag, and the host re-registers
// its patches after a restore.
type Snapshot struct {
	Version  int      `cbor:"version"`
	Memory   []uint16 `cbor:"memory"`
	Register []uint16 `cbor:"register"`
	Stack    []uint16 `cbor:"stack"`
	Ip       uint16   `cbor:"ip"`
	State    int      `cbor:"state"`
	Steps    uint64   `cbor:"steps"`
	Input    []byte   `cbor:"input,omitempty"`
	Output   []byte   `cbor:"output,omitempty"`

	Breakpoints []BreakpointSpec `cbor:"breakpoints,omitempty"`
	Patching    bool             `cbor:"patching"`
}

// Capture returns a deep snapshot of the machine. Nothing in the result
// aliases live state.
func Capture(m *vm.Vm) (snap *Snapshot) {
	snap = &Snapshot{
		Version:  Version,
		Memory:   slices.Clone(m.Memory[:]),
		Register: slices.Clone(m.Register[:]),
		Stack:    slices.Clone(m.Stack.Data),
		Ip:       m.Ip,
		State:    int(m.State),
		Steps:    m.Steps,
		Input:    slices.Clone(m.Input),
		Output:   slices.Clone(m.Output),
		Patching: m.Patches.Enabled,
	}

	for _, bp := range m.Debug.Breakpoints() {
		snap.Breakpoints = append(snap.Breakpoints, BreakpointSpec{
			Addr: bp.Addr,
			Cond: bp.Cond,
		})
	}

	return
}

// Restore builds a fresh machine from the snapshot. The result is
// bit-identical to the captured state: Capture(Restore(s)) equals s.
func (snap *Snapshot) Restore() (m *vm.Vm, err error) {
	if err = snap.validate(); err != nil {
		return
	}

	m = vm.NewVm()
	copy(m.Memory[:], snap.Memory)
	copy(m.Register[:], snap.Register)
	m.Stack.Data = slices.Clone(snap.Stack)
	m.Ip = snap.Ip
	m.State = vm.VmState(snap.State)
	m.Steps = snap.Steps
	m.Input = slices.Clone(snap.Input)
	m.Output = slices.Clone(snap.Output)
	m.Patches.Enabled = snap.Patching

	for _, spec := range snap.Breakpoints {
		_, err = m.Debug.AddBreakpoint(spec.Addr, spec.Cond)
		if err != nil {
			m = nil
			return
		}
	}

	return
}

// Diff returns the addresses whose memory value changed between two
// snapshots, in ascending order. This is the entire surface the
// external memory scanner consumes: read-only, on independent copies.
func Diff(a, b *Snapshot) (changed []uint16) {
	for addr := range vm.MEM_SIZE {
		var va, vb uint16
		if addr < len(a.Memory) {
			va = a.Memory[addr]
		}
		if addr < len(b.Memory) {
			vb = b.Memory[addr]
		}
		if va != vb {
			changed = append(changed, uint16(addr))
		}
	}
	return
}
