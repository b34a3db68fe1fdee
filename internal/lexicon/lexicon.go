// Package lexicon is the morphology's upstream lexical-forms collaborator
// (spec.md §6's "lexicon_provider → iterable of (form, gloss, category)"):
// out of scope is the relational storage those forms actually live in; the
// engine only consumes a small Provider interface, with a doublestar-glob
// file-based default for standalone use and testing.
package lexicon

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/jsonschema-go/jsonschema"

	mperrors "github.com/fieldlang/morphoparse/internal/errors"
)

// Entry is one lexical form contributed to a morphology's lexical axioms
// and dictionary. Dialect is the engine's stand-in for the original
// system's speaker/dialect attribution, carried through without promoting
// it to a persisted user record (SPEC_FULL §3 supplement).
type Entry struct {
	Form     string `json:"form"`
	Gloss    string `json:"gloss"`
	Category string `json:"category"`
	Dialect  string `json:"dialect,omitempty"`
}

// Provider is the external collaborator interface named in spec.md §6.
type Provider interface {
	Entries(ctx context.Context) ([]Entry, error)
}

// FileProvider globs a corpus directory for *.lexicon.tsv files and parses
// tab-separated form/gloss/category[/dialect] lines, scoped down to "what
// the core consumes" per spec.md §1's out-of-scope boundary.
type FileProvider struct {
	Root string
}

func NewFileProvider(root string) *FileProvider {
	return &FileProvider{Root: root}
}

func (p *FileProvider) Entries(ctx context.Context) ([]Entry, error) {
	matches, err := doublestar.Glob(os.DirFS(p.Root), "**/*.lexicon.tsv")
	if err != nil {
		return nil, mperrors.NewConfigError("lexicon_provider.root", err)
	}

	var entries []Entry
	for _, rel := range matches {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		parsed, err := parseLexiconFile(filepath.Join(p.Root, rel))
		if err != nil {
			return nil, mperrors.NewDataError(rel, err)
		}
		entries = append(entries, parsed...)
	}
	return entries, nil
}

func parseLexiconFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 3 {
			return nil, fmt.Errorf("%s:%d: expected form\\tgloss\\tcategory, got %q", path, lineNo, line)
		}
		e := Entry{Form: fields[0], Gloss: fields[1], Category: fields[2]}
		if len(fields) >= 4 {
			e.Dialect = fields[3]
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Static is an in-memory Provider for tests and callers that already have
// entries in hand (e.g. decoded from a jsonschema-validated JSON payload).
type Static []Entry

func (s Static) Entries(context.Context) ([]Entry, error) { return s, nil }

// entrySchema validates the shape of a lexicon JSON payload (a
// []{form,gloss,category,dialect}) before any of it reaches FST script
// generation, for collaborators that hand the engine JSON instead of native
// Go values (e.g. a CLI --lexicon-file corpus.json flag). Grounded in the
// teacher's internal/mcp/server.go use of the same library to validate
// tool-call payloads.
var entrySchema = &jsonschema.Schema{
	Type: "array",
	Items: &jsonschema.Schema{
		Type:     "object",
		Required: []string{"form", "gloss", "category"},
		Properties: map[string]*jsonschema.Schema{
			"form":     {Type: "string"},
			"gloss":    {Type: "string"},
			"category": {Type: "string"},
			"dialect":  {Type: "string"},
		},
	},
}

// FromJSON validates raw against entrySchema and, only if it passes,
// decodes it into Entries. A schema violation is a *errors.ConfigError
// raised before any subprocess runs, per spec.md §7's configuration-error
// policy.
func FromJSON(raw []byte) (Static, error) {
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return nil, mperrors.NewConfigError("lexicon json", err)
	}
	resolved, err := entrySchema.Resolve(nil)
	if err != nil {
		return nil, mperrors.NewConfigError("lexicon json schema", err)
	}
	if err := resolved.Validate(instance); err != nil {
		return nil, mperrors.NewConfigError("lexicon json", err)
	}

	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, mperrors.NewConfigError("lexicon json", err)
	}
	return Static(entries), nil
}
