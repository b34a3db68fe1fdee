// Package rules is the morphology's upstream morphotactic-rule collaborator
// (spec.md §6's "rules_provider → iterable of (category_sequence, count)"):
// counts are filtered by a minimum-count threshold to populate the rule set
// a parser's disambiguation step checks candidate category sequences
// against.
package rules

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/jsonschema-go/jsonschema"

	mperrors "github.com/fieldlang/morphoparse/internal/errors"
)

// RuleCount is one observed category sequence and its corpus frequency.
type RuleCount struct {
	CategorySequence string `json:"category_sequence"`
	Count            int    `json:"count"`
}

// Provider is the external collaborator interface named in spec.md §6.
type Provider interface {
	Counts(ctx context.Context) ([]RuleCount, error)
}

// FileProvider globs a corpus directory for *.rules.tsv files and parses
// tab-separated category_sequence/count lines.
type FileProvider struct {
	Root string
}

func NewFileProvider(root string) *FileProvider {
	return &FileProvider{Root: root}
}

func (p *FileProvider) Counts(ctx context.Context) ([]RuleCount, error) {
	matches, err := doublestar.Glob(os.DirFS(p.Root), "**/*.rules.tsv")
	if err != nil {
		return nil, mperrors.NewConfigError("rules_provider.root", err)
	}

	var counts []RuleCount
	for _, rel := range matches {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		parsed, err := parseRulesFile(filepath.Join(p.Root, rel))
		if err != nil {
			return nil, mperrors.NewDataError(rel, err)
		}
		counts = append(counts, parsed...)
	}
	return counts, nil
}

func parseRulesFile(path string) ([]RuleCount, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var counts []RuleCount
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 2 {
			return nil, fmt.Errorf("%s:%d: expected category_sequence\\tcount, got %q", path, lineNo, line)
		}
		n, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil {
			return nil, fmt.Errorf("%s:%d: bad count %q: %w", path, lineNo, fields[1], err)
		}
		counts = append(counts, RuleCount{CategorySequence: fields[0], Count: n})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}

// BuildSet filters counts to those meeting minCount and returns the
// resulting morphotactic rule set as a membership set, per spec.md §3.
func BuildSet(counts []RuleCount, minCount int) map[string]bool {
	set := make(map[string]bool)
	for _, c := range counts {
		if c.Count >= minCount {
			set[c.CategorySequence] = true
		}
	}
	return set
}

// Static is an in-memory Provider for tests.
type Static []RuleCount

func (s Static) Counts(context.Context) ([]RuleCount, error) { return s, nil }

// countSchema validates a rules JSON payload (a
// []{category_sequence,count}) before it populates a morphotactic rule
// set, the same config-error-before-any-subprocess policy lexicon.FromJSON
// enforces.
var countSchema = &jsonschema.Schema{
	Type: "array",
	Items: &jsonschema.Schema{
		Type:     "object",
		Required: []string{"category_sequence", "count"},
		Properties: map[string]*jsonschema.Schema{
			"category_sequence": {Type: "string"},
			"count":             {Type: "integer"},
		},
	},
}

// FromJSON validates raw against countSchema and decodes it into Static.
func FromJSON(raw []byte) (Static, error) {
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return nil, mperrors.NewConfigError("rules json", err)
	}
	resolved, err := countSchema.Resolve(nil)
	if err != nil {
		return nil, mperrors.NewConfigError("rules json schema", err)
	}
	if err := resolved.Validate(instance); err != nil {
		return nil, mperrors.NewConfigError("rules json", err)
	}

	var counts []RuleCount
	if err := json.Unmarshal(raw, &counts); err != nil {
		return nil, mperrors.NewConfigError("rules json", err)
	}
	return Static(counts), nil
}
