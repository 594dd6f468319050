// Package bitdiff provides the sparse bit-difference sets ("diffs") that every
// experiment produces, and the algebra used to reason about them.
//
// A Diff maps a bit location to the value observed in a perturbed run. It
// only holds the bits that changed relative to the experiment's baseline, so
// an empty Diff means the perturbation had no visible effect.
//
// # Algebra
//
// The operations are chosen so that known effects can be peeled off a
// measurement until nothing is left:
//
//	// remove the bits already explained by a resolved dependency
//	rest := measured.Combine(known.Not())
//	if err := rest.AssertEmpty("SLICE0.FFSYNC"); err != nil {
//		return err
//	}
//
// Combine keeps every bit of both operands, except that a location present in
// both with different values cancels out. Negation flips every stored value,
// which turns Combine into subtraction.
//
// Split separates two diffs into the bits they share and the bits unique to
// each; SplitBitsBy destructively moves the bits matching a predicate into a
// new diff.
//
// # Errors
//
// Residual bits are never dropped silently. AssertEmpty and AssertEq return
// an *InconsistentDiffError carrying the context and the full bit listing.
package bitdiff
