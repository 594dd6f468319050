package fuzzer

import (
	"errors"
	"fmt"
)

// ErrIncompatible is returned by Compatible for experiments that must not
// share a batch.
var ErrIncompatible = errors.New("fuzzer: incompatible experiments")

// Compatible reports whether a and b can run in the same batch without
// either observing the other's change.
func Compatible(a, b *Fuzzer) error {
	for k, v := range a.base {
		if w, ok := b.base[k]; ok && w != v {
			return fmt.Errorf("%w: %s and %s disagree on %s (%q vs %q)", ErrIncompatible, a.ID(), b.ID(), k, v, w)
		}
	}
	if err := fuzzTouches(a, b); err != nil {
		return err
	}
	if err := fuzzTouches(b, a); err != nil {
		return err
	}
	for t, o := range a.mutexes {
		if p, ok := b.mutexes[t]; ok && p != o {
			return fmt.Errorf("%w: %s and %s hold mutex %s as %q and %q", ErrIncompatible, a.ID(), b.ID(), t, o, p)
		}
	}
	for _, r := range a.feature.Rects {
		for _, s := range b.feature.Rects {
			if r.Overlaps(s) {
				return fmt.Errorf("%w: %s and %s measure overlapping %s and %s", ErrIncompatible, a.ID(), b.ID(), r, s)
			}
		}
	}
	return nil
}

func fuzzTouches(a, b *Fuzzer) error {
	for k := range a.fuzz {
		if _, ok := b.base[k]; ok {
			return fmt.Errorf("%w: %s changes %s which %s sets", ErrIncompatible, a.ID(), k, b.ID())
		}
		if _, ok := b.fuzz[k]; ok {
			return fmt.Errorf("%w: %s and %s both change %s", ErrIncompatible, a.ID(), b.ID(), k)
		}
	}
	return nil
}
