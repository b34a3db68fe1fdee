package lexicon

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileProvider_Entries_ParsesTabSeparatedLines(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "french.lexicon.tsv"),
		[]byte("tombe\tfall\tV\nait\t3SG.IMPV\tAGR\n"), 0o644))

	p := NewFileProvider(dir)
	entries, err := p.Entries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, Entry{Form: "tombe", Gloss: "fall", Category: "V"}, entries[0])
}

func TestFileProvider_Entries_ReadsDialectColumnWhenPresent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.lexicon.tsv"),
		[]byte("chat\tcat\tN\tQuebecois\n"), 0o644))

	p := NewFileProvider(dir)
	entries, err := p.Entries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Quebecois", entries[0].Dialect)
}

func TestFileProvider_Entries_GlobsNestedDirectories(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.lexicon.tsv"),
		[]byte("dog\tdog\tN\n"), 0o644))

	p := NewFileProvider(dir)
	entries, err := p.Entries(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileProvider_Entries_SkipsBlankAndCommentLines(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.lexicon.tsv"),
		[]byte("# comment\n\ndog\tdog\tN\n"), 0o644))

	p := NewFileProvider(dir)
	entries, err := p.Entries(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileProvider_Entries_MalformedLineIsDataError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.lexicon.tsv"),
		[]byte("onlyoneform\n"), 0o644))

	p := NewFileProvider(dir)
	_, err := p.Entries(context.Background())
	assert.Error(t, err)
}

func TestFromJSON_ValidPayloadDecodes(t *testing.T) {
	raw := []byte(`[{"form":"tombe","gloss":"fall","category":"V"}]`)
	entries, err := FromJSON(raw)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "tombe", entries[0].Form)
}

func TestFromJSON_MissingRequiredFieldIsConfigError(t *testing.T) {
	raw := []byte(`[{"form":"tombe","gloss":"fall"}]`)
	_, err := FromJSON(raw)
	assert.Error(t, err)
}

func TestFromJSON_NotAnArrayIsConfigError(t *testing.T) {
	raw := []byte(`{"form":"tombe"}`)
	_, err := FromJSON(raw)
	assert.Error(t, err)
}

func TestStatic_Entries_ReturnsItself(t *testing.T) {
	s := Static{{Form: "a", Gloss: "b", Category: "C"}}
	got, err := s.Entries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Entry(s), got)
}
