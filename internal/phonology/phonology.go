// Package phonology is the FST driver specialization for phonologies:
// boundaries are always on and the verification string is fixed, per
// spec.md §4.4.
package phonology

import (
	"github.com/fieldlang/morphoparse/internal/fst"
	"github.com/fieldlang/morphoparse/internal/store"
)

// New returns an fst.Driver configured as a phonology.
func New(obj store.Object, wordBoundary string) *fst.Driver {
	return fst.New(obj, fst.Config{
		ObjectType: "phonology",
		ScriptType: fst.ScriptRegex,
		Boundaries: true,
		WordBoundary: wordBoundary,
		VerificationFor: func(objectType string, _ fst.ScriptType) string {
			return "defined phonology: "
		},
	})
}
