package lm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleARPA = `\data\
ngram 1=4
ngram 2=2

\1-grams:
-1.0	<s>	-0.3
-1.5	</s>
-0.8	run	-0.2
-2.0	dog

\2-grams:
-0.1	<s> run
-0.4	run </s>

\end\
`

func writeARPA(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.lm")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadARPA_ParsesOrderAndEntries(t *testing.T) {
	path := writeARPA(t, sampleARPA)
	trie, err := LoadARPA(path)
	require.NoError(t, err)
	assert.Equal(t, 2, trie.Order)

	lp, ok := trie.lookup([]string{"<s>", "run"})
	require.True(t, ok)
	assert.InDelta(t, -0.1, lp, 1e-9)
}

func TestTrie_SentenceLogProb_PrefersSeenBigram(t *testing.T) {
	path := writeARPA(t, sampleARPA)
	trie, err := LoadARPA(path)
	require.NoError(t, err)

	seen := trie.SentenceLogProb([]string{"<s>", "run", "</s>"})
	unseen := trie.SentenceLogProb([]string{"<s>", "dog", "</s>"})

	assert.Greater(t, seen, unseen, "a sentence built from observed bigrams should score higher than one requiring back-off")
}

func TestTrie_LogProb_BacksOffToUnigramWhenBigramUnseen(t *testing.T) {
	path := writeARPA(t, sampleARPA)
	trie, err := LoadARPA(path)
	require.NoError(t, err)

	got := trie.LogProb([]string{"<s>"}, "dog")
	wantUnigram, ok := trie.lookup([]string{"dog"})
	require.True(t, ok)
	wantBackoff := trie.backoffWeight([]string{"<s>"})

	assert.InDelta(t, wantUnigram+wantBackoff, got, 1e-9)
}

func TestTrie_LogProb_UnseenEverywhereReturnsFloor(t *testing.T) {
	path := writeARPA(t, sampleARPA)
	trie, err := LoadARPA(path)
	require.NoError(t, err)

	got := trie.LogProb(nil, "never-appeared")
	assert.Equal(t, negInf, got)
}

func TestSaveLoadTrie_RoundTrips(t *testing.T) {
	path := writeARPA(t, sampleARPA)
	trie, err := LoadARPA(path)
	require.NoError(t, err)

	blobPath := filepath.Join(t.TempDir(), "trie.pickle")
	require.NoError(t, saveTrie(trie, blobPath))

	loaded, err := loadTrie(blobPath)
	require.NoError(t, err)
	assert.Equal(t, trie.Order, loaded.Order)

	want := trie.SentenceLogProb([]string{"<s>", "run", "</s>"})
	got := loaded.SentenceLogProb([]string{"<s>", "run", "</s>"})
	assert.InDelta(t, want, got, 1e-9)
}
