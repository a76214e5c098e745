package vm

import (
	"fmt"
	"maps"
	"slices"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// DEFAULT_TRACE_CAP is the trace ring retention when none is configured.
// Unbounded logs are not safe at billion-instruction scale.
const DEFAULT_TRACE_CAP = 4096

// Breakpoint suspends the run loop at an address, optionally only when a
// condition over the live machine state holds. The condition is a
// Starlark expression over r0..r7, ip, steps, depth, and top.
type Breakpoint struct {
	ID   int
	Addr uint16
	Cond string // Empty = unconditional.
}

// CallSite identifies one call edge: the address of the `call`
// instruction and its resolved target.
type CallSite struct {
	From uint16
	To   uint16
}

// CallCount is one entry of the profile, hottest first.
type CallCount struct {
	Target uint16
	Count  uint64
}

// TraceRecord is one executed instruction: address, opcode, operands
// resolved to values, and the register bank before execution.
type TraceRecord struct {
	Ip   uint16
	Op   Opcode
	Args [3]uint16
	Reg  [REG_COUNT]uint16
}

func (r TraceRecord) String() (text string) {
	text = fmt.Sprintf("%d: %v", r.Ip, r.Op)
	for n := range r.Op.Arity() {
		text += fmt.Sprintf(" %d", r.Args[n])
	}
	return
}

// TraceFilter selects which executed instructions are retained.
type TraceFilter struct {
	Ops  uint32 // Bitmask of Opcode.Mask() values; 0 = every opcode.
	From uint16 // Traced address range, inclusive.
	To   uint16 // 0 with From 0 = every address.
	Cap  int    // Ring retention; 0 = DEFAULT_TRACE_CAP.
}

// Debug is the per-machine debug layer: breakpoints, a bounded execution
// trace, and call counters keyed by (call site, target). The counters
// are the profiling primitive that identifies a hot routine and its call
// sites before patching.
type Debug struct {
	breakpoints []Breakpoint
	nextID      int

	tracing bool
	filter  TraceFilter
	ring    []TraceRecord
	head    int

	counters map[CallSite]uint64
}

// AddBreakpoint registers a breakpoint at addr. A non-empty cond must be
// a valid Starlark expression; it is checked here so a bad expression
// fails at creation, not mid-run.
func (d *Debug) AddBreakpoint(addr uint16, cond string) (id int, err error) {
	if cond != "" {
		opts := syntax.FileOptions{}
		_, err = starlark.EvalOptions(&opts, &starlark.Thread{}, "cond", cond, condEnv(&Vm{}))
		if err != nil {
			err = ErrCond{Breakpoint: d.nextID, Cond: cond, Err: err}
			return
		}
	}

	id = d.nextID
	d.nextID++
	d.breakpoints = append(d.breakpoints, Breakpoint{ID: id, Addr: addr, Cond: cond})
	return
}

// RemoveBreakpoint deletes a breakpoint by id.
func (d *Debug) RemoveBreakpoint(id int) (err error) {
	for n, bp := range d.breakpoints {
		if bp.ID == id {
			d.breakpoints = slices.Delete(d.breakpoints, n, n+1)
			return
		}
	}

	err = ErrBreakpointUnknown
	return
}

// Breakpoints returns a copy of the breakpoint set.
func (d *Debug) Breakpoints() []Breakpoint {
	return slices.Clone(d.breakpoints)
}

// check reports the first breakpoint at the machine's program counter
// whose condition holds. A condition that fails to evaluate is a fault,
// not a silent skip.
func (d *Debug) check(vm *Vm) (id int, hit bool, err error) {
	for _, bp := range d.breakpoints {
		if bp.Addr != vm.Ip {
			continue
		}
		if bp.Cond == "" {
			return bp.ID, true, nil
		}

		opts := syntax.FileOptions{}
		val, everr := starlark.EvalOptions(&opts, &starlark.Thread{}, "cond", bp.Cond, condEnv(vm))
		if everr != nil {
			err = ErrCond{Breakpoint: bp.ID, Cond: bp.Cond, Err: everr}
			return
		}
		if bool(val.Truth()) {
			return bp.ID, true, nil
		}
	}

	return
}

// condEnv builds the Starlark environment a condition evaluates in.
func condEnv(vm *Vm) starlark.StringDict {
	env := starlark.StringDict{}
	for n, val := range vm.Register {
		env[fmt.Sprintf("r%d", n)] = starlark.MakeInt(int(val))
	}
	env["ip"] = starlark.MakeInt(int(vm.Ip))
	env["steps"] = starlark.MakeUint64(vm.Steps)
	env["depth"] = starlark.MakeInt(vm.Stack.Depth())
	top, _ := vm.Stack.Peek()
	env["top"] = starlark.MakeInt(int(top))

	return env
}

// EnableTrace starts retaining executed instructions that pass filter.
// Any previously retained trace is discarded.
func (d *Debug) EnableTrace(filter TraceFilter) {
	if filter.Cap <= 0 {
		filter.Cap = DEFAULT_TRACE_CAP
	}

	d.tracing = true
	d.filter = filter
	d.ring = make([]TraceRecord, 0, filter.Cap)
	d.head = 0
}

// DisableTrace stops tracing; the retained trace stays readable.
func (d *Debug) DisableTrace() {
	d.tracing = false
}

// Trace returns the retained records, oldest first.
func (d *Debug) Trace() (records []TraceRecord) {
	records = append(records, d.ring[d.head:]...)
	records = append(records, d.ring[:d.head]...)
	return
}

// want reports whether an instruction passes the trace filter.
func (d *Debug) want(in Instr) bool {
	if !d.tracing {
		return false
	}
	if d.filter.Ops != 0 && (d.filter.Ops&in.Op.Mask()) == 0 {
		return false
	}
	if d.filter.To != 0 || d.filter.From != 0 {
		if in.Addr < d.filter.From || in.Addr > d.filter.To {
			return false
		}
	}
	return true
}

// record retains a trace record, evicting the oldest past the cap.
func (d *Debug) record(rec TraceRecord) {
	if len(d.ring) < d.filter.Cap {
		d.ring = append(d.ring, rec)
		return
	}

	d.ring[d.head] = rec
	d.head = (d.head + 1) % d.filter.Cap
}

// countCall bumps the (call site, target) counter.
func (d *Debug) countCall(from, to uint16) {
	if d.counters == nil {
		d.counters = map[CallSite]uint64{}
	}
	d.counters[CallSite{From: from, To: to}]++
}

// CallSites returns the raw (call site, target) counters.
func (d *Debug) CallSites() map[CallSite]uint64 {
	return maps.Clone(d.counters)
}

// Counters aggregates invocation counts per target address.
func (d *Debug) Counters() (counts map[uint16]uint64) {
	counts = map[uint16]uint64{}
	for site, count := range d.counters {
		counts[site.To] += count
	}
	return
}

// Hot returns call targets ordered by invocation count, hottest first.
func (d *Debug) Hot() (hot []CallCount) {
	for target, count := range d.Counters() {
		hot = append(hot, CallCount{Target: target, Count: count})
	}
	slices.SortFunc(hot, func(a, b CallCount) int {
		switch {
		case a.Count > b.Count:
			return -1
		case a.Count < b.Count:
			return 1
		case a.Target < b.Target:
			return -1
		case a.Target > b.Target:
			return 1
		}
		return 0
	})
	return
}

func (d *Debug) clone() (clone Debug) {
	clone = *d
	clone.breakpoints = slices.Clone(d.breakpoints)
	clone.ring = slices.Clone(d.ring)
	clone.counters = maps.Clone(d.counters)
	return
}
