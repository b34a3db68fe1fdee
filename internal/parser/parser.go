// Package parser is the morphological parser engine (spec.md §4.7): it
// composes a phonology and a morphology into one morphophonology
// fst.Driver, orchestrates cache lookup, apply-up candidate enumeration,
// optional disambiguation against the morphology's lexicon dictionary, LM
// scoring, and persistent caching.
//
// Dependency replication (spec.md §9 "Cyclic/upstream mutation"): the
// parser never reads its morphology or language model live. Recompile
// takes a value snapshot of everything it needs from them, and Parse reads
// only that snapshot, so editing the upstream morphology or LM after a
// successful Recompile has no observable effect until the next Recompile.
package parser

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hbollon/go-edlib"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/fieldlang/morphoparse/internal/config"
	mperrors "github.com/fieldlang/morphoparse/internal/errors"
	"github.com/fieldlang/morphoparse/internal/fst"
	"github.com/fieldlang/morphoparse/internal/lm"
	"github.com/fieldlang/morphoparse/internal/morphology"
	"github.com/fieldlang/morphoparse/internal/parsecache"
	"github.com/fieldlang/morphoparse/internal/rules"
	"github.com/fieldlang/morphoparse/internal/store"
	"github.com/fieldlang/morphoparse/internal/trace"
	"github.com/fieldlang/morphoparse/internal/types"
)

// LifecycleState is the parser's state machine per spec.md §4.7.
type LifecycleState string

const (
	Empty           LifecycleState = "empty"
	ScriptReady     LifecycleState = "script_ready"
	CompileInFlight LifecycleState = "compile_in_flight"
	Compiled        LifecycleState = "compiled"
	CompileFailed   LifecycleState = "compile_failed"
	Deleted         LifecycleState = "deleted"
)

// morphologySnapshot is the value snapshot of everything Parse needs from
// the morphology, frozen at the most recent successful Recompile.
type morphologySnapshot struct {
	RareDelimiter      string
	RichMorphemes      bool
	MorphemeDelimiters []string
	Dictionary         morphology.Dictionary
	RuleSet            map[string]bool
	RuleNames          []string
}

// languageModelSnapshot is the value snapshot of everything Parse needs
// from the language model.
type languageModelSnapshot struct {
	Trie        *lm.Trie
	StartSymbol string
	EndSymbol   string
	Categorial  bool
}

// Diagnostic is the optional SuggestNearestRule side channel (SPEC_FULL
// §4.9): it never changes Parse's returned best-parse value.
type Diagnostic struct {
	NearestRule string
}

// Parser is the morphological parser engine.
type Parser struct {
	*fst.Driver

	Object        store.Object
	Phonology     *fst.Driver
	Morphology    *morphology.Morphology
	LanguageModel *lm.LanguageModel
	RulesProvider rules.Provider
	MinRuleCount  int

	Cache        parsecache.Cache
	PersistCache bool
	CachePath    string

	// MorphemeDelimiters separates morpheme slots within a candidate
	// string for disambiguation (types.Symbols.MorphemeDelimiters);
	// defaults to the spec.md §6 default ("-") but is overridable per
	// composition so a project configuring a different delimiter set
	// still splits candidates correctly.
	MorphemeDelimiters []string

	// SuggestNearestRule enables the go-edlib fuzzy-match diagnostic
	// fallback described in SPEC_FULL §4.9, off by default.
	SuggestNearestRule bool

	state LifecycleState

	mu              sync.RWMutex
	myMorphology    *morphologySnapshot
	myLanguageModel *languageModelSnapshot

	diagMu      sync.Mutex
	diagnostics map[string]Diagnostic

	sf singleflight.Group
}

// extraFileTypes: the morphophonology parser reuses the base store
// extension table; it has no extra file types of its own beyond what
// fst.Driver already covers.
var extraFileTypes map[store.FileType]string

// New returns a Parser in the Empty state, composing phon and morph into a
// single morphophonology fst.Driver.
func New(obj store.Object, phon *fst.Driver, morph *morphology.Morphology, languageModel *lm.LanguageModel, rulesProvider rules.Provider, minRuleCount int, cache parsecache.Cache) *Parser {
	p := &Parser{
		Object:             obj,
		Phonology:          phon,
		Morphology:         morph,
		LanguageModel:      languageModel,
		RulesProvider:      rulesProvider,
		MinRuleCount:       minRuleCount,
		Cache:              cache,
		state:              Empty,
		diagnostics:        make(map[string]Diagnostic),
		MorphemeDelimiters: []string{types.DefaultMorphemeDelimiter},
	}
	p.Driver = fst.New(obj, fst.Config{
		ObjectType:     "morphophonology",
		ScriptType:     fst.ScriptRegex,
		Boundaries:     true,
		WordBoundary:   phon.WordBoundary,
		ExtraFileTypes: extraFileTypes,
	})
	return p
}

// State returns the parser's current lifecycle state.
func (p *Parser) State() LifecycleState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *Parser) setState(s LifecycleState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// ComposeScript builds the morphophonology script: the phonology and
// morphology source concatenated, followed by a definition composing the
// two named networks with foma's composition operator (.o.).
func ComposeScript(phonologyScript, morphologyScript string) string {
	var b strings.Builder
	b.WriteString(phonologyScript)
	b.WriteString("\n")
	b.WriteString(morphologyScript)
	b.WriteString("\n")
	b.WriteString("define morphophonology phonology .o. morphology;\n")
	return b.String()
}

// SaveScript composes the phonology and morphology scripts and saves the
// result, transitioning Empty/CompileFailed/Compiled → ScriptReady.
func (p *Parser) SaveScript() error {
	if !p.Phonology.Config.Boundaries {
		return mperrors.NewConfigError("phonology.boundaries", fmt.Errorf("phonology must apply with boundaries=true"))
	}
	if err := p.checkSymbolsAgree(); err != nil {
		return err
	}
	p.Script = ComposeScript(p.Phonology.Script, p.Morphology.Script)
	if err := p.Driver.SaveScript(); err != nil {
		return err
	}
	p.setState(ScriptReady)
	return nil
}

// checkSymbolsAgree enforces spec.md §3's composition invariant ("symbol
// disagreement between phonology and morphology is a configuration error
// detected at parser composition time") via types.Symbols.Agrees. Only
// word_boundary is a field phonology itself configures, so the other
// fields are mirrored from morphology's own settings to isolate that
// comparison rather than flagging fields phonology never declares.
func (p *Parser) checkSymbolsAgree() error {
	morphSymbols := types.Symbols{
		WordBoundary:       p.Morphology.WordBoundary,
		RareDelimiter:      p.Morphology.RareDelimiter,
		MorphemeDelimiters: p.MorphemeDelimiters,
	}
	phonSymbols := morphSymbols
	phonSymbols.WordBoundary = p.Phonology.WordBoundary

	if !phonSymbols.Agrees(morphSymbols) {
		return mperrors.NewConfigError("symbols.word_boundary", fmt.Errorf(
			"phonology word_boundary %q disagrees with morphology word_boundary %q",
			phonSymbols.WordBoundary, morphSymbols.WordBoundary))
	}
	return nil
}

// Recompile compiles the composed script and, on success, refreshes the
// frozen morphology/language-model snapshots Parse reads from. A failure
// to refresh a snapshot (e.g. a corrupt dictionary blob) does not itself
// fail Recompile: per spec.md §7's Data error policy it degrades scoring
// or disambiguation at Parse time instead of raising here.
func (p *Parser) Recompile(ctx context.Context, timeout time.Duration) error {
	p.setState(CompileInFlight)

	if err := p.Driver.Compile(ctx, timeout, ""); err != nil {
		p.setState(CompileFailed)
		return err
	}

	if !p.Driver.CompileSucceeded {
		p.setState(CompileFailed)
		return nil
	}

	snapshot, err := p.buildMorphologySnapshot(ctx)
	if err != nil {
		trace.Event("parser", "morphology snapshot refresh failed: %v", err)
	}
	lmSnapshot, lmErr := p.buildLanguageModelSnapshot()
	if lmErr != nil {
		trace.Event("parser", "language model snapshot refresh failed: %v", lmErr)
	}

	p.mu.Lock()
	p.myMorphology = snapshot
	p.myLanguageModel = lmSnapshot
	p.state = Compiled
	p.mu.Unlock()
	return nil
}

func (p *Parser) buildMorphologySnapshot(ctx context.Context) (*morphologySnapshot, error) {
	morphemeDelimiters := p.MorphemeDelimiters
	if len(morphemeDelimiters) == 0 {
		morphemeDelimiters = []string{types.DefaultMorphemeDelimiter}
	}
	snap := &morphologySnapshot{
		RareDelimiter:      p.Morphology.RareDelimiter,
		RichMorphemes:      p.Morphology.RichMorphemes,
		MorphemeDelimiters: morphemeDelimiters,
	}
	if !snap.RichMorphemes {
		dict, err := p.Morphology.LoadDictionary()
		if err != nil {
			return snap, err
		}
		snap.Dictionary = dict
	}
	if p.RulesProvider != nil {
		counts, err := p.RulesProvider.Counts(ctx)
		if err != nil {
			return snap, err
		}
		snap.RuleSet = rules.BuildSet(counts, p.MinRuleCount)
	} else {
		snap.RuleSet = map[string]bool{}
	}
	for seq := range snap.RuleSet {
		snap.RuleNames = append(snap.RuleNames, seq)
	}
	sort.Strings(snap.RuleNames)
	return snap, nil
}

func (p *Parser) buildLanguageModelSnapshot() (*languageModelSnapshot, error) {
	if p.LanguageModel == nil {
		return nil, mperrors.NewConfigError("language_model", fmt.Errorf("no language model configured"))
	}
	trie, err := p.LanguageModel.Trie()
	if err != nil {
		return nil, err
	}
	return &languageModelSnapshot{
		Trie:        trie,
		StartSymbol: p.LanguageModel.StartSymbol,
		EndSymbol:   p.LanguageModel.EndSymbol,
		Categorial:  p.LanguageModel.Categorial,
	}, nil
}

func (p *Parser) snapshots() (*morphologySnapshot, *languageModelSnapshot) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.myMorphology, p.myLanguageModel
}

// Delete transitions the parser to Deleted from any state and removes its
// artifact directory.
func (p *Parser) Delete() {
	store.RemoveDirectory(p.Object.Directory())
	p.setState(Deleted)
}

// Diagnostics returns a copy of the side-channel diagnostics recorded so far
// for transcriptions whose candidates were all filtered by disambiguation
// (only populated when SuggestNearestRule is set). Entries accumulate
// across Parse calls and are never cleared.
func (p *Parser) Diagnostics() map[string]Diagnostic {
	p.diagMu.Lock()
	defer p.diagMu.Unlock()
	out := make(map[string]Diagnostic, len(p.diagnostics))
	for k, v := range p.diagnostics {
		out[k] = v
	}
	return out
}

// Parse resolves each transcription to its best parse string (nil for "no
// valid parse"), per spec.md §4.7. Concurrent calls for the same
// transcription are coalesced via singleflight so only one reaches
// apply-up.
func (p *Parser) Parse(ctx context.Context, transcriptions []string, timeout time.Duration) (map[string]*string, error) {
	result := make(map[string]*string, len(transcriptions))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range transcriptions {
		t := t
		g.Go(func() error {
			r, err := p.parseOne(gctx, t, timeout)
			if err != nil {
				return err
			}
			mu.Lock()
			result[t] = r
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if p.PersistCache && p.CachePath != "" {
		if err := p.Cache.Flush(p.CachePath); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (p *Parser) parseOne(ctx context.Context, t string, timeout time.Duration) (*string, error) {
	v, err, _ := p.sf.Do(t, func() (any, error) {
		if value, isNull, present := p.Cache.Get(t); present {
			if isNull {
				return (*string)(nil), nil
			}
			vv := value
			return &vv, nil
		}

		candidatesMap, err := p.Driver.Apply(ctx, fst.Up, []string{t}, boolPtr(true), timeout)
		if err != nil {
			return nil, err
		}
		candidates := candidatesMap[t]

		myMorphology, myLanguageModel := p.snapshots()
		if myMorphology != nil && !myMorphology.RichMorphemes {
			candidates = p.disambiguate(t, candidates, myMorphology)
		}

		best, found := p.pickBest(candidates, myMorphology, myLanguageModel)
		if !found {
			p.Cache.Put(t, "", true)
			return (*string)(nil), nil
		}
		p.Cache.Put(t, best, false)
		return &best, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*string), nil
}

func boolPtr(b bool) *bool { return &b }

func splitMorphemeSlots(s string, delimiters []string) []string {
	if len(delimiters) == 0 {
		return []string{s}
	}
	pattern := make([]string, len(delimiters))
	for i, d := range delimiters {
		pattern[i] = regexp.QuoteMeta(d)
	}
	re := regexp.MustCompile(strings.Join(pattern, "|"))
	return re.Split(s, -1)
}

func joinMorphemeSlots(slots []string, delimiter string) string {
	return strings.Join(slots, delimiter)
}

// disambiguate implements spec.md §4.7 step 3: split a form-only candidate
// into morpheme slots, look each slot up in the dictionary, take the
// Cartesian product of senses, and keep only rich candidates whose
// category sequence is a recognized morphotactic rule.
func (p *Parser) disambiguate(t string, candidates []string, snap *morphologySnapshot) []string {
	var rich []string
	var rejectedCategorySequences []string

	for _, c := range candidates {
		slots := splitMorphemeSlots(c, snap.MorphemeDelimiters)
		senseLists := make([][]types.Sense, len(slots))
		ok := true
		for i, slot := range slots {
			senses, present := snap.Dictionary[slot]
			if !present || len(senses) == 0 {
				ok = false
				break
			}
			senseLists[i] = senses
		}
		if !ok {
			continue
		}

		combos := cartesianProduct(senseLists)
		for _, combo := range combos {
			richSlots := make([]string, len(slots))
			categories := make([]string, len(slots))
			for i, sense := range combo {
				richSlots[i] = slots[i] + snap.RareDelimiter + sense.Gloss + snap.RareDelimiter + sense.Category
				categories[i] = sense.Category
			}
			delim := "-"
			if len(snap.MorphemeDelimiters) > 0 {
				delim = snap.MorphemeDelimiters[0]
			}
			categorySeq := joinMorphemeSlots(categories, delim)
			if snap.RuleSet[categorySeq] {
				rich = append(rich, joinMorphemeSlots(richSlots, delim))
			} else {
				rejectedCategorySequences = append(rejectedCategorySequences, categorySeq)
			}
		}
	}

	if len(rich) == 0 && len(rejectedCategorySequences) > 0 && p.SuggestNearestRule {
		p.recordNearestRule(t, rejectedCategorySequences, snap.RuleNames)
	}
	return rich
}

func cartesianProduct(lists [][]types.Sense) [][]types.Sense {
	if len(lists) == 0 {
		return nil
	}
	result := [][]types.Sense{{}}
	for _, list := range lists {
		var next [][]types.Sense
		for _, prefix := range result {
			for _, item := range list {
				combo := make([]types.Sense, len(prefix)+1)
				copy(combo, prefix)
				combo[len(prefix)] = item
				next = append(next, combo)
			}
		}
		result = next
	}
	return result
}

// recordNearestRule computes, via go-edlib, the morphotactic rule string
// closest (edit distance) to the first rejected category sequence,
// attaching it as a diagnostic side channel (SPEC_FULL §4.9). It never
// changes Parse's returned best-parse value.
func (p *Parser) recordNearestRule(t string, rejected []string, ruleNames []string) {
	if len(ruleNames) == 0 || len(rejected) == 0 {
		return
	}
	nearest, err := edlib.FuzzySearch(rejected[0], ruleNames, edlib.Levenshtein)
	if err != nil {
		return
	}
	p.diagMu.Lock()
	p.diagnostics[t] = Diagnostic{NearestRule: nearest}
	p.diagMu.Unlock()
}

// pickBest scores each candidate with the LM and returns the highest-
// scoring one. Ties keep the first candidate seen (spec.md's stable
// (score desc, fst_order asc) tie-break), since a later candidate only
// replaces the incumbent on a strictly higher score.
func (p *Parser) pickBest(candidates []string, myMorphology *morphologySnapshot, myLanguageModel *languageModelSnapshot) (string, bool) {
	if len(candidates) == 0 || myLanguageModel == nil || myLanguageModel.Trie == nil {
		return "", false
	}

	delimiters := []string{"-"}
	if myMorphology != nil && len(myMorphology.MorphemeDelimiters) > 0 {
		delimiters = myMorphology.MorphemeDelimiters
	}

	best := ""
	bestScore := 0.0
	found := false
	for _, c := range candidates {
		tokens := splitMorphemeSlots(c, delimiters)
		if myLanguageModel.Categorial {
			tokens = extractCategoryTokens(tokens, rareDelimiterOf(myMorphology))
		}
		bracketed := make([]string, 0, len(tokens)+2)
		bracketed = append(bracketed, myLanguageModel.StartSymbol)
		bracketed = append(bracketed, tokens...)
		bracketed = append(bracketed, myLanguageModel.EndSymbol)
		score := myLanguageModel.Trie.SentenceLogProb(bracketed)
		if !found || score > bestScore {
			best, bestScore, found = c, score, true
		}
	}
	return best, found
}

func rareDelimiterOf(snap *morphologySnapshot) string {
	if snap == nil || snap.RareDelimiter == "" {
		return types.DefaultRareDelimiter
	}
	return snap.RareDelimiter
}

// Export returns the human-readable snapshot spec.md §4.7's `export`
// operation produces, serialized via config.ParserExport (SPEC_FULL §2).
func (p *Parser) Export() config.ParserExport {
	myMorphology, _ := p.snapshots()
	e := config.ParserExport{
		ObjectID:         p.Object.ID,
		State:            string(p.State()),
		CompileAttempt:   p.CompileAttempt,
		CompileSucceeded: p.CompileSucceeded,
		CompileMessage:   p.CompileMessage,
		ExportedAt:       time.Now(),
	}
	if myMorphology != nil {
		e.RareDelimiter = myMorphology.RareDelimiter
		e.RichMorphemes = myMorphology.RichMorphemes
		e.RuleCount = len(myMorphology.RuleSet)
	}
	p.mu.RLock()
	if p.myLanguageModel != nil {
		e.Categorial = p.myLanguageModel.Categorial
	}
	p.mu.RUnlock()
	return e
}

func extractCategoryTokens(tokens []string, rareDelimiter string) []string {
	out := make([]string, len(tokens))
	for i, tok := range tokens {
		parts := strings.Split(tok, rareDelimiter)
		if len(parts) == 3 {
			out[i] = parts[2]
		} else {
			out[i] = tok
		}
	}
	return out
}
