package vm

// Native replacements for routine shapes that show up in practice. Each
// constructor takes the entry address the routine was found at in the
// running program, since bytecode images place them differently.

// CONFIRM_MAX_DEPTH bounds the first argument of the confirmation
// routine. The replacement is verified for depths up to this value;
// anything beyond it is rejected as outside the contract domain.
const CONFIRM_MAX_DEPTH = 4

// XorPatch replaces the common xor-via-and/or/not helper:
//
//	push r1
//	push r2
//	and r2 r0 r1
//	not r2 r2
//	or r0 r0 r1
//	and r0 r0 r2
//	pop r2
//	pop r1
//	ret
//
// The replacement computes r0 = r0 xor r1 and preserves r1 and r2.
func XorPatch(addr uint16) *Patch {
	return &Patch{
		Addr: addr,
		Name: "xor",
		Contract: Contract{
			In:  []int{0, 1},
			Out: 0,
		},
		Fn: func(vm *Vm) (err error) {
			vm.Register[0] ^= vm.Register[1]

			ret, ok := vm.Stack.Pop()
			if !ok {
				err = ErrStackUnderflow
				return
			}
			vm.Ip = ret
			return
		},
	}
}

// ConfirmPatch replaces the confirmation routine, a two-argument
// recursion over r0/r1 seeded by r7:
//
//	f(0, n) = n + 1
//	f(m, 0) = f(m-1, r7)
//	f(m, n) = f(m-1, f(m, n-1))
//
// all modulo 32768. Interpreted, the recursion runs for billions of
// steps and its call depth is far beyond any fixed stack; the
// replacement fills the value table row by row instead, with no
// recursion at all. On return r0 holds f(r0, r1) and r1 holds the last
// inner result, which is always r0 - 1 modulo 32768.
func ConfirmPatch(addr uint16) *Patch {
	return &Patch{
		Addr: addr,
		Name: "confirm",
		Contract: Contract{
			In:  []int{0, 1, 7},
			Out: 0,
		},
		Fn: func(vm *Vm) (err error) {
			m := vm.Register[0]
			n := vm.Register[1]
			k := vm.Register[7]

			if m > CONFIRM_MAX_DEPTH {
				err = errPatchDomain
				return
			}

			result := confirm(m, n, k)
			vm.Register[0] = result
			vm.Register[1] = (result + MOD_BASE - 1) % MOD_BASE

			ret, ok := vm.Stack.Pop()
			if !ok {
				err = ErrStackUnderflow
				return
			}
			vm.Ip = ret
			return
		},
	}
}

// confirm computes f(m, n) by dynamic programming. Row m depends only on
// row m-1: f(m, 0) = prev[k] and f(m, n) = prev[f(m, n-1)], so two rows
// of 32768 words suffice.
func confirm(m, n, k uint16) uint16 {
	prev := make([]uint16, MOD_BASE)
	for i := range prev {
		prev[i] = uint16((i + 1) % MOD_BASE)
	}

	cur := make([]uint16, MOD_BASE)
	for range m {
		cur[0] = prev[k]
		for i := 1; i < MOD_BASE; i++ {
			cur[i] = prev[cur[i-1]]
		}
		prev, cur = cur, prev
	}

	return prev[n]
}
