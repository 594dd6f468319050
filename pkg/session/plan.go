package session

import (
	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/fuzzer"
)

// Batch is a set of mutually compatible experiments run together.
type Batch struct {
	Index   int
	Members []*fuzzer.Fuzzer
}

// Plan packs experiments into batches of at most maxBatch members, first
// fit in insertion order. Two experiments share a batch only if
// fuzzer.Compatible accepts them.
func Plan(fuzzers []*fuzzer.Fuzzer, maxBatch int) []Batch {
	if maxBatch < 1 {
		maxBatch = 1
	}
	var batches []Batch
next:
	for _, f := range fuzzers {
		for i := range batches {
			b := &batches[i]
			if len(b.Members) >= maxBatch {
				continue
			}
			fits := true
			for _, m := range b.Members {
				if fuzzer.Compatible(m, f) != nil {
					fits = false
					break
				}
			}
			if fits {
				b.Members = append(b.Members, f)
				continue next
			}
		}
		batches = append(batches, Batch{Index: len(batches), Members: []*fuzzer.Fuzzer{f}})
	}
	return batches
}
