// Package lm wraps an external n-gram toolkit (spec.md §4.5): writes a
// corpus/vocabulary, estimates an ARPA file under subprocess control,
// parses the ARPA file into a Trie, and answers sentence log-probability
// queries with back-off.
package lm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/surgebase/porter2"

	mperrors "github.com/fieldlang/morphoparse/internal/errors"
	"github.com/fieldlang/morphoparse/internal/process"
	"github.com/fieldlang/morphoparse/internal/store"
	"github.com/fieldlang/morphoparse/internal/trace"
)

// extraFileTypes adds the LM-only file types to the base table.
var extraFileTypes = map[store.FileType]string{
	store.FileCorpus:     ".txt",
	store.FileARPA:       ".lm",
	store.FileTrie:       "_trie.pickle",
	store.FileVocabulary: ".vocab",
}

// Smoothing algorithms supported by the mitlm estimate-ngram toolkit
// (cf. http://code.google.com/p/mitlm/wiki/Tutorial), carried verbatim
// from original_source since the estimator's CLI contract is external.
const (
	SmoothingML      = "ML"
	SmoothingFixKN   = "FixKN"
	SmoothingModKN   = "ModKN" // default
	SmoothingFixModKN = "FixModKN"
	SmoothingKN      = "KN"
	SmoothingKNn     = "KNn"
)

// LanguageModel is the n-gram morpheme (or, in categorial mode, category)
// language model named in spec.md §2/§4.5.
type LanguageModel struct {
	Object store.Object

	Order      int
	Smoothing  string // default SmoothingModKN
	Estimator  string // default "estimate-ngram"
	StartSymbol string
	EndSymbol   string
	Categorial  bool // alphabet is syntactic categories, not morphemes
	RareDelimiter string

	// Stemmed pre-stems the vocabulary list with porter2 before writing
	// .vocab (SPEC_FULL §4.6): a corpus-size reduction knob, off by
	// default, orthogonal to Categorial mode.
	Stemmed bool

	// Runner is the subprocess seam WriteARPA invokes the estimator
	// through; defaults to process.DefaultRunner. Tests substitute a
	// stub so estimator success/failure/verification handling can be
	// exercised without estimate-ngram on PATH.
	Runner process.Runner

	trie *Trie
}

// New returns a LanguageModel with spec.md defaults filled in.
func New(obj store.Object, order int) *LanguageModel {
	return &LanguageModel{
		Object:      obj,
		Order:       order,
		Smoothing:   SmoothingModKN,
		Estimator:   "estimate-ngram",
		StartSymbol: "<s>",
		EndSymbol:   "</s>",
		RareDelimiter: "⦀",
		Runner:      process.DefaultRunner,
	}
}

func (l *LanguageModel) path(ft store.FileType) string {
	return l.Object.Path(ft, extraFileTypes)
}

// WriteCorpus writes one whitespace-joined morpheme (or category) sequence
// per line. The estimator supplies sentence-start/end symbols implicitly.
func (l *LanguageModel) WriteCorpus(sentences [][]string) error {
	if err := store.EnsureDirectory(l.Object.Directory()); err != nil {
		return err
	}
	lines := make([]string, len(sentences))
	for i, s := range sentences {
		lines[i] = strings.Join(s, " ")
	}
	return os.WriteFile(l.path(store.FileCorpus), []byte(strings.Join(lines, "\n")), 0o644)
}

// WriteVocabulary writes the optional vocabulary file, pre-stemming tokens
// with porter2 when l.Stemmed is set.
func (l *LanguageModel) WriteVocabulary(tokens []string) error {
	if err := store.EnsureDirectory(l.Object.Directory()); err != nil {
		return err
	}
	if l.Stemmed {
		seen := make(map[string]bool, len(tokens))
		stemmed := make([]string, 0, len(tokens))
		for _, t := range tokens {
			s := porter2.Stem(t)
			if !seen[s] {
				seen[s] = true
				stemmed = append(stemmed, s)
			}
		}
		tokens = stemmed
	}
	return os.WriteFile(l.path(store.FileVocabulary), []byte(strings.Join(tokens, "\n")), 0o644)
}

func (l *LanguageModel) hasVocabulary() bool {
	_, err := os.Stat(l.path(store.FileVocabulary))
	return err == nil
}

// WriteARPA invokes the n-gram estimator to produce the ARPA file, per
// spec.md §4.5 step 2. Returns a *errors.DataError-wrapping failure
// (LanguageModelGenerationError in the spec's vocabulary) when the
// verification check fails.
func (l *LanguageModel) WriteARPA(ctx context.Context, timeout time.Duration) error {
	arpaPath := l.path(store.FileARPA)
	corpusPath := l.path(store.FileCorpus)
	logPath := l.path(store.FileLog)

	before, beforeErr := mtimeOf(arpaPath)

	argv := []string{l.Estimator, "-o", itoa(l.Order), "-s", l.Smoothing, "-t", corpusPath, "-wl", arpaPath}
	if l.hasVocabulary() {
		argv = append(argv, "-v", l.path(store.FileVocabulary))
	}

	runner := l.Runner
	if runner == nil {
		runner = process.DefaultRunner
	}
	result, err := runner.Run(ctx, argv, timeout, logPath)
	verification := fmt.Sprintf("Saving LM to %s", arpaPath)

	after, afterErr := mtimeOf(arpaPath)
	succeeded := err == nil &&
		result.ExitCode == 0 &&
		strings.Contains(result.Log, verification) &&
		afterErr == nil &&
		(beforeErr != nil || !after.Equal(before))

	if !succeeded {
		return mperrors.NewDataError("language model generation", fmt.Errorf("write_arpa failed (exit=%d)", result.ExitCode))
	}
	trace.Event("lm", "arpa written to %s", arpaPath)
	return nil
}

func mtimeOf(path string) (t timeStamp, err error) {
	info, statErr := os.Stat(path)
	if statErr != nil {
		return timeStamp{}, statErr
	}
	return timeStamp{info.ModTime().UnixNano()}, nil
}

type timeStamp struct{ nanos int64 }

func (t timeStamp) Equal(o timeStamp) bool { return t.nanos == o.nanos }

func itoa(n int) string {
	return fmt.Sprintf("%d", n)
}

// GenerateTrie parses the ARPA file into a Trie and persists it as a gob
// blob (spec.md §4.5 step 3 / §3 "LM trie").
func (l *LanguageModel) GenerateTrie() error {
	trie, err := LoadARPA(l.path(store.FileARPA))
	if err != nil {
		return mperrors.NewDataError(l.path(store.FileARPA), err)
	}
	l.trie = trie
	return saveTrie(trie, l.path(store.FileTrie))
}

// Trie returns the in-memory trie, loading it from the persisted blob (or
// regenerating it from the ARPA file) on first access.
func (l *LanguageModel) Trie() (*Trie, error) {
	if l.trie != nil {
		return l.trie, nil
	}
	trie, err := loadTrie(l.path(store.FileTrie))
	if err == nil {
		l.trie = trie
		return trie, nil
	}
	if genErr := l.GenerateTrie(); genErr != nil {
		return nil, genErr
	}
	return l.trie, nil
}

// Prob returns log P(morphemeSequence), bracketing it with start/end
// symbols, per spec.md §4.5 step 4.
func (l *LanguageModel) Prob(tokens []string) (float64, error) {
	trie, err := l.Trie()
	if err != nil {
		return 0, err
	}
	full := make([]string, 0, len(tokens)+2)
	full = append(full, l.StartSymbol)
	full = append(full, tokens...)
	full = append(full, l.EndSymbol)
	return trie.SentenceLogProb(full), nil
}

// CategoryTokens extracts the category slot from each rich-morpheme token
// (form⦀gloss⦀category), for Categorial-mode LMs.
func (l *LanguageModel) CategoryTokens(richMorphemes []string) []string {
	out := make([]string, len(richMorphemes))
	for i, m := range richMorphemes {
		parts := strings.Split(m, l.RareDelimiter)
		if len(parts) == 3 {
			out[i] = parts[2]
		} else {
			out[i] = m
		}
	}
	return out
}
