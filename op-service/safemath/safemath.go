// Package safemath provides overflow-aware arithmetic on unsigned integers,
// used for event heights, nonces and confirmation depths.
package safemath

import "golang.org/x/exp/constraints"

// SafeAdd returns a+b, wrapping on overflow, and whether it overflowed.
func SafeAdd[V constraints.Unsigned](a, b V) (out V, overflow bool) {
	out = a + b
	return out, out < a
}

// SaturatingAdd returns a+b capped at the max value of the type.
func SaturatingAdd[V constraints.Unsigned](a, b V) V {
	if out, overflow := SafeAdd(a, b); !overflow {
		return out
	}
	return ^V(0)
}

// SafeSub returns a-b, wrapping on underflow, and whether it underflowed.
func SafeSub[V constraints.Unsigned](a, b V) (out V, underflow bool) {
	out = a - b
	return out, b > a
}

// SaturatingSub returns a-b floored at zero.
func SaturatingSub[V constraints.Unsigned](a, b V) V {
	if out, underflow := SafeSub(a, b); !underflow {
		return out
	}
	return 0
}

// SafeMul returns a*b, wrapping on overflow, and whether it overflowed.
func SafeMul[V constraints.Unsigned](a, b V) (out V, overflow bool) {
	if a == 0 || b == 0 {
		return 0, false
	}
	out = a * b
	return out, out/b != a
}

// NextBelow returns v+1 if the result stays strictly below limit.
// It is used to hand out counters that must stay within a bit width narrower than the type.
func NextBelow[V constraints.Unsigned](v V, limit V) (V, bool) {
	next, overflow := SafeAdd(v, 1)
	if overflow || next >= limit {
		return v, false
	}
	return next, true
}
