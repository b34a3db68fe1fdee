package parser

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mperrors "github.com/fieldlang/morphoparse/internal/errors"
	"github.com/fieldlang/morphoparse/internal/fst"
	"github.com/fieldlang/morphoparse/internal/lm"
	"github.com/fieldlang/morphoparse/internal/morphology"
	"github.com/fieldlang/morphoparse/internal/store"
	"github.com/fieldlang/morphoparse/internal/types"
)

func TestComposeScript_DefinesMorphophonologyAsComposition(t *testing.T) {
	got := ComposeScript("define phonology id;", "define morphology cat;")
	assert.Contains(t, got, "define phonology id;")
	assert.Contains(t, got, "define morphology cat;")
	assert.Contains(t, got, "define morphophonology phonology .o. morphology;")
}

func TestSplitMorphemeSlots_SplitsOnDelimiter(t *testing.T) {
	got := splitMorphemeSlots("tombe-ait", []string{"-"})
	assert.Equal(t, []string{"tombe", "ait"}, got)
}

func TestSplitMorphemeSlots_NoDelimiterPresentReturnsWholeString(t *testing.T) {
	got := splitMorphemeSlots("tombe", []string{"-"})
	assert.Equal(t, []string{"tombe"}, got)
}

func TestCartesianProduct_BuildsAllCombinations(t *testing.T) {
	lists := [][]types.Sense{
		{{Gloss: "fall", Category: "V"}},
		{{Gloss: "3SG.IMPV", Category: "AGR"}, {Gloss: "3IMP", Category: "Agr"}},
	}
	combos := cartesianProduct(lists)
	require.Len(t, combos, 2)
	assert.Equal(t, "AGR", combos[0][1].Category)
	assert.Equal(t, "Agr", combos[1][1].Category)
}

func toyFrenchSnapshot(ruleSet map[string]bool) *morphologySnapshot {
	dict := morphology.Dictionary{
		"tombe": {{Gloss: "fall", Category: "V"}},
		"ait":   {{Gloss: "3SG.IMPV", Category: "AGR"}, {Gloss: "3IMP", Category: "Agr"}},
	}
	return &morphologySnapshot{
		RareDelimiter:      "⦀",
		RichMorphemes:      false,
		MorphemeDelimiters: []string{"-"},
		Dictionary:         dict,
		RuleSet:            ruleSet,
		RuleNames:          []string{"V-AGR", "V-Agr"},
	}
}

func TestParser_Disambiguate_KeepsOnlyRecognizedCategorySequences(t *testing.T) {
	p := &Parser{}
	snap := toyFrenchSnapshot(map[string]bool{"V-AGR": true, "V-Agr": true})

	rich := p.disambiguate("tombait", []string{"tombe-ait"}, snap)

	require.Len(t, rich, 2)
	assert.Contains(t, rich, "tombe⦀fall⦀V-ait⦀3SG.IMPV⦀AGR")
	assert.Contains(t, rich, "tombe⦀fall⦀V-ait⦀3IMP⦀Agr")
}

func TestParser_Disambiguate_DropsCandidatesFailingRuleCheck(t *testing.T) {
	p := &Parser{}
	snap := toyFrenchSnapshot(map[string]bool{"V-AGR": true}) // V-Agr not a recognized rule

	rich := p.disambiguate("tombait", []string{"tombe-ait"}, snap)

	require.Len(t, rich, 1)
	assert.Equal(t, "tombe⦀fall⦀V-ait⦀3SG.IMPV⦀AGR", rich[0])
}

func TestParser_Disambiguate_SlotAbsentFromDictionaryDropsCandidate(t *testing.T) {
	p := &Parser{}
	snap := toyFrenchSnapshot(map[string]bool{"V-AGR": true, "V-Agr": true})

	rich := p.disambiguate("xyzzyait", []string{"xyzzy-ait"}, snap)
	assert.Empty(t, rich)
}

func newTestTrie(t *testing.T, arpa string) *lm.Trie {
	t.Helper()
	dir := t.TempDir()
	path := dir + "/test.lm"
	require.NoError(t, os.WriteFile(path, []byte(arpa), 0o644))
	trie, err := lm.LoadARPA(path)
	require.NoError(t, err)
	return trie
}

const frenchARPA = `\data\
ngram 1=6
ngram 2=4

\1-grams:
-1.0	<s>	-0.3
-1.0	</s>
-1.0	V
-1.0	AGR	-0.1
-1.0	Agr	-0.9
-1.0	ait

\2-grams:
-0.1	<s> V
-0.2	V AGR
-1.5	V Agr
-0.1	AGR </s>

\end\
`

func TestParser_PickBest_PrefersHigherScoringCandidate(t *testing.T) {
	trie := newTestTrie(t, frenchARPA)
	p := &Parser{}
	snap := toyFrenchSnapshot(map[string]bool{"V-AGR": true, "V-Agr": true})
	lmSnap := &languageModelSnapshot{Trie: trie, StartSymbol: "<s>", EndSymbol: "</s>", Categorial: true}

	candidates := []string{
		"tombe⦀fall⦀V-ait⦀3SG.IMPV⦀AGR",
		"tombe⦀fall⦀V-ait⦀3IMP⦀Agr",
	}
	best, found := p.pickBest(candidates, snap, lmSnap)
	require.True(t, found)
	assert.Equal(t, "tombe⦀fall⦀V-ait⦀3SG.IMPV⦀AGR", best)
}

func TestParser_PickBest_NoCandidatesReturnsNotFound(t *testing.T) {
	p := &Parser{}
	_, found := p.pickBest(nil, nil, &languageModelSnapshot{})
	assert.False(t, found)
}

func TestParser_PickBest_NilLanguageModelSnapshotReturnsNotFound(t *testing.T) {
	p := &Parser{}
	_, found := p.pickBest([]string{"a-b"}, nil, nil)
	assert.False(t, found)
}

func TestExtractCategoryTokens_ExtractsThirdRareDelimiterSlot(t *testing.T) {
	got := extractCategoryTokens([]string{"tombe⦀fall⦀V", "ait⦀3SG.IMPV⦀AGR"}, "⦀")
	assert.Equal(t, []string{"V", "AGR"}, got)
}

func newTestParser(t *testing.T, phonBoundary, morphBoundary string) *Parser {
	t.Helper()
	root := t.TempDir()
	phon := fst.New(store.Object{Root: root, Type: "phonology", ID: 1, Stem: "phonology"}, fst.Config{
		ObjectType: "phonology",
		ScriptType: fst.ScriptRegex,
		Boundaries: true,
		WordBoundary: phonBoundary,
	})
	phon.Script = "define phonology id;"
	morph := morphology.New(store.Object{Root: root, Type: "morphology", ID: 1, Stem: "morphology"}, fst.ScriptRegex, "⦀", morphBoundary, false)
	morph.Script = "define morphology id;"

	p := New(store.Object{Root: root, Type: "morphophonology", ID: 1, Stem: "morphophonology"}, phon, morph, nil, nil, 1, nil)
	p.MorphemeDelimiters = []string{"-"}
	return p
}

func TestParser_SaveScript_AgreeingWordBoundariesSucceeds(t *testing.T) {
	p := newTestParser(t, "#", "#")
	require.NoError(t, p.SaveScript())
	assert.Equal(t, ScriptReady, p.State())
	assert.Contains(t, p.Script, "define morphophonology phonology .o. morphology;")
}

func TestParser_SaveScript_DisagreeingWordBoundariesIsConfigError(t *testing.T) {
	p := newTestParser(t, "#", "%")

	err := p.SaveScript()

	var configErr *mperrors.ConfigError
	require.ErrorAs(t, err, &configErr)
	assert.NotEqual(t, ScriptReady, p.State())
}
