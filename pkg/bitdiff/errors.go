package bitdiff

import "fmt"

// InconsistentDiffError reports bits that the model could not explain. It is
// the primary correctness gate of a collection pass: either the experiment
// measured something the catalog does not describe, or the hardware does
// something nobody has modeled yet.
type InconsistentDiffError struct {
	Context  string // What was being resolved, e.g. "CLB.SLICE0.FFSYNC"
	Residual Diff   // Bits left over (or, for AssertEq, the symmetric difference)
	Reason   string // Optional extra detail
	Err      error  // Optional sentinel classifying the failure
}

func (e *InconsistentDiffError) Error() string {
	msg := fmt.Sprintf("bitdiff: %s: %d unexplained bit(s) %s", e.Context, len(e.Residual), e.Residual)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the classifying sentinel, if any.
func (e *InconsistentDiffError) Unwrap() error {
	return e.Err
}

// AssertEmpty returns an *InconsistentDiffError if d still holds bits.
func (d Diff) AssertEmpty(context string) error {
	if len(d) == 0 {
		return nil
	}
	return &InconsistentDiffError{Context: context, Residual: d.Clone()}
}

// AssertEq returns an *InconsistentDiffError if a and b differ. The residual
// holds the bits on which they disagree, with a's value where a has one.
func AssertEq(a, b Diff, context string) error {
	if a.Equal(b) {
		return nil
	}
	aOnly, bOnly, _ := Split(a, b)
	residual := bOnly.Clone()
	for k, v := range aOnly {
		residual[k] = v
	}
	return &InconsistentDiffError{
		Context:  context,
		Residual: residual,
		Reason:   fmt.Sprintf("expected %s, got %s", a, b),
	}
}
