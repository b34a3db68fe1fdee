// Package morphology is the FST driver specialization for morphologies:
// the verification string depends on script formalism (spec.md §4.4), and
// a morphology optionally persists a lexicon dictionary used to
// disambiguate form-only ("impoverished") analyses back into rich
// morphemes.
package morphology

import (
	"encoding/gob"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/surgebase/porter2"

	mperrors "github.com/fieldlang/morphoparse/internal/errors"
	"github.com/fieldlang/morphoparse/internal/fst"
	"github.com/fieldlang/morphoparse/internal/lexicon"
	"github.com/fieldlang/morphoparse/internal/rules"
	"github.com/fieldlang/morphoparse/internal/store"
	"github.com/fieldlang/morphoparse/internal/types"
)

// extraFileTypes adds the morphology-only file types to the base table.
var extraFileTypes = map[store.FileType]string{
	store.FileLexicon:    ".pickle",
	store.FileDictionary: "_dictionary.pickle",
}

// Morphology wraps an fst.Driver with the dictionary/rich-morpheme state
// named in spec.md §3/§4.4.
type Morphology struct {
	*fst.Driver
	RareDelimiter string
	RichMorphemes bool // mutually exclusive with form-only ("impoverished") disambiguation mode

	// Normalize enables the porter2-stemmed fallback lookup bucket
	// described in SPEC_FULL §4.5: consulted only when the exact surface
	// form is absent from the dictionary. Off by default; never changes
	// the dictionary's primary (exact-match) semantics.
	Normalize bool
}

// New returns a Morphology whose verification string and extra file types
// are wired per spec.md §4.4.
func New(obj store.Object, scriptType fst.ScriptType, rareDelimiter, wordBoundary string, richMorphemes bool) *Morphology {
	m := &Morphology{RareDelimiter: rareDelimiter, RichMorphemes: richMorphemes}
	m.Driver = fst.New(obj, fst.Config{
		ObjectType:     "morphology",
		ScriptType:     scriptType,
		Boundaries:     false,
		WordBoundary:   wordBoundary,
		ExtraFileTypes: extraFileTypes,
		VerificationFor: func(objectType string, st fst.ScriptType) string {
			if st == fst.ScriptLexc {
				return "Done!"
			}
			return "defined " + objectType + ": "
		},
	})
	return m
}

// Dictionary maps a surface form to the senses (gloss, category pairs)
// that justify it, built from a LexiconProvider and persisted as a gob
// blob (Go's idiomatic stand-in for the original's pickle, matching
// spec.md's "persisted as a blob" requirement without inventing a custom
// binary format).
type Dictionary map[string][]types.Sense

// BuildDictionary constructs a Dictionary from lexicon entries, each a
// (form, gloss, category) triple, optionally adding a porter2-stemmed
// fallback bucket (SPEC_FULL §4.5) when m.Normalize is set.
func (m *Morphology) BuildDictionary(entries []LexiconEntry) Dictionary {
	dict := make(Dictionary)
	for _, e := range entries {
		dict[e.Form] = append(dict[e.Form], types.Sense{Gloss: e.Gloss, Category: e.Category})
	}
	if m.Normalize {
		stemmed := make(Dictionary)
		for form, senses := range dict {
			key := porter2.Stem(form)
			if key == form {
				continue
			}
			if _, exists := dict[key]; exists {
				continue
			}
			stemmed[key] = append(stemmed[key], senses...)
		}
		for k, v := range stemmed {
			dict[k] = v
		}
	}
	return dict
}

// LexiconEntry is a single (form, gloss, category) triple extracted from a
// lexicon corpus, per spec.md §6's lexicon_provider contract.
type LexiconEntry struct {
	Form     string
	Gloss    string
	Category string
}

// SaveDictionary persists dict to the morphology's dictionary file.
func (m *Morphology) SaveDictionary(dict Dictionary) error {
	path := m.Object.Path(store.FileDictionary, extraFileTypes)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return gob.NewEncoder(f).Encode(dict)
}

// LoadDictionary reads the persisted dictionary blob. A decode failure is
// reported as a *errors.DataError; unlike the parse cache, a corrupt
// dictionary is not silently treated as empty, since disambiguation
// correctness depends on it (spec.md §7's Data error policy: "candidates
// are rejected in disambiguation mode because no ranking is possible" --
// analogously, disambiguation cannot proceed without the dictionary).
func (m *Morphology) LoadDictionary() (Dictionary, error) {
	path := m.Object.Path(store.FileDictionary, extraFileTypes)
	f, err := os.Open(path)
	if err != nil {
		return nil, mperrors.NewNotFoundError(path)
	}
	defer f.Close()
	var dict Dictionary
	if err := gob.NewDecoder(f).Decode(&dict); err != nil {
		return nil, mperrors.NewDataError(path, err)
	}
	return dict, nil
}

// GenerateScript synthesizes the morphology's lexical axioms from lexicon
// entries and, when known, the morphotactic rule set -- spec.md §6's
// "lexicon_provider ... used to synthesize the morphology script's lexical
// axioms". Entries are grouped by category into named sub-regexes; ruleSet
// membership (category sequences joined by delimiter) gates which
// concatenations of those categories the resulting network accepts. A nil
// or empty ruleSet falls back to accepting any single category's forms
// (no morphotactic constraint yet known), so a lexicon can be turned into
// a working script before a rules corpus exists.
func GenerateScript(entries []lexicon.Entry, ruleSet map[string]bool, scriptType fst.ScriptType, delimiter string) string {
	byCategory := groupByCategory(entries)
	if scriptType == fst.ScriptLexc {
		return generateLexc(byCategory, ruleSet, delimiter)
	}
	return generateRegex(byCategory, ruleSet, delimiter)
}

func groupByCategory(entries []lexicon.Entry) map[string][]string {
	byCategory := make(map[string][]string)
	seen := make(map[string]map[string]bool)
	for _, e := range entries {
		if seen[e.Category] == nil {
			seen[e.Category] = make(map[string]bool)
		}
		if seen[e.Category][e.Form] {
			continue
		}
		seen[e.Category][e.Form] = true
		byCategory[e.Category] = append(byCategory[e.Category], e.Form)
	}
	for _, forms := range byCategory {
		sort.Strings(forms)
	}
	return byCategory
}

func sortedCategories(byCategory map[string][]string) []string {
	cats := make([]string, 0, len(byCategory))
	for c := range byCategory {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	return cats
}

// sortedRuleSequences returns ruleSet's category sequences in deterministic
// order, each still split on delimiter into its category slots.
func sortedRuleSequences(ruleSet map[string]bool, delimiter string) [][]string {
	seqs := make([]string, 0, len(ruleSet))
	for seq := range ruleSet {
		seqs = append(seqs, seq)
	}
	sort.Strings(seqs)
	out := make([][]string, len(seqs))
	for i, seq := range seqs {
		out[i] = strings.Split(seq, delimiter)
	}
	return out
}

// generateRegex emits a foma regex script: one named define per category
// (the union of its forms), and a top-level "morphology" define unioning
// one concatenation per accepted rule sequence, each slot joined by
// delimiter as spec.md's disambiguation step later expects to split on.
func generateRegex(byCategory map[string][]string, ruleSet map[string]bool, delimiter string) string {
	var b strings.Builder
	for _, cat := range sortedCategories(byCategory) {
		fmt.Fprintf(&b, "define %s [", regexSafeName(cat))
		forms := byCategory[cat]
		escaped := make([]string, len(forms))
		for i, f := range forms {
			escaped[i] = fst.Escape(f)
		}
		b.WriteString(strings.Join(escaped, " | "))
		b.WriteString("];\n")
	}

	sequences := sortedRuleSequences(ruleSet, delimiter)
	if len(sequences) == 0 {
		sequences = make([][]string, 0, len(byCategory))
		for _, cat := range sortedCategories(byCategory) {
			sequences = append(sequences, []string{cat})
		}
	}

	var alternatives []string
	for _, seq := range sequences {
		slots := make([]string, len(seq))
		complete := true
		for i, cat := range seq {
			if _, ok := byCategory[cat]; !ok {
				complete = false
				break
			}
			slots[i] = regexSafeName(cat)
		}
		if !complete {
			continue
		}
		alternatives = append(alternatives, strings.Join(slots, fmt.Sprintf(" %q ", delimiter)))
	}

	b.WriteString("define morphology ")
	if len(alternatives) == 0 {
		b.WriteString("[];\n")
	} else {
		fmt.Fprintf(&b, "[%s];\n", strings.Join(alternatives, " | "))
	}
	return b.String()
}

// generateLexc emits a lexc script: one LEXICON per category listing its
// forms, chained by CONTINUE classes that follow the accepted rule
// sequences, each rooted from LEXICON Root.
func generateLexc(byCategory map[string][]string, ruleSet map[string]bool, delimiter string) string {
	sequences := sortedRuleSequences(ruleSet, delimiter)
	if len(sequences) == 0 {
		for _, cat := range sortedCategories(byCategory) {
			sequences = append(sequences, []string{cat})
		}
	}

	roots := make(map[string]bool)
	continuations := make(map[string]map[string]bool) // lexicon name -> set of continuation lexicon names
	for _, seq := range sequences {
		complete := true
		for _, cat := range seq {
			if _, ok := byCategory[cat]; !ok {
				complete = false
				break
			}
		}
		if !complete || len(seq) == 0 {
			continue
		}
		roots[seq[0]] = true
		for i := 0; i < len(seq)-1; i++ {
			if continuations[seq[i]] == nil {
				continuations[seq[i]] = make(map[string]bool)
			}
			continuations[seq[i]][seq[i+1]] = true
		}
	}

	var b strings.Builder
	b.WriteString("Multichar_Symbols\n\n")
	b.WriteString("LEXICON Root\n")
	for _, cat := range sortedStringSet(roots) {
		fmt.Fprintf(&b, "%s ;\n", lexcSafeName(cat))
	}
	b.WriteString("\n")

	for _, cat := range sortedCategories(byCategory) {
		fmt.Fprintf(&b, "LEXICON %s\n", lexcSafeName(cat))
		next := sortedStringSet(continuations[cat])
		for _, form := range byCategory[cat] {
			if len(next) == 0 {
				fmt.Fprintf(&b, "%s # ;\n", fst.Escape(form))
				continue
			}
			for _, n := range next {
				fmt.Fprintf(&b, "%s%s%s ;\n", fst.Escape(form), delimiter, lexcSafeName(n))
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

func sortedStringSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func regexSafeName(category string) string {
	return "cat_" + fst.Strip(strings.ReplaceAll(category, ".", "_"))
}

func lexcSafeName(category string) string {
	return regexSafeName(category)
}
