// Package config loads the project manifest (`.morphoparse.kdl`) that
// carries the artifact root, default delimiters/symbols, toolkit
// executable names, default timeouts, and the categorial-mode flag.
// Grounded in the teacher's internal/config.LoadKDL/parseKDL hand-rolled
// document-walk over github.com/sblinch/kdl-go, mirroring its
// node-by-node assignment style rather than a struct-tag unmarshaler (the
// library exposes none).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"

	"github.com/fieldlang/morphoparse/internal/types"
)

// Config is the resolved project manifest.
type Config struct {
	ArtifactRoot string
	Symbols      types.Symbols
	Categorial   bool
	MinRuleCount int

	FomaExecutable    string
	FlookupExecutable string
	EstimatorExecutable string

	CompileTimeout time.Duration
	ApplyTimeout   time.Duration
	EstimateTimeout time.Duration
}

// Default returns a Config with spec.md's default tokens and the teacher's
// style of generous-but-bounded timeouts.
func Default() Config {
	return Config{
		ArtifactRoot:        ".",
		Symbols:             types.DefaultSymbols(),
		MinRuleCount:        1,
		FomaExecutable:      "foma",
		FlookupExecutable:   "flookup",
		EstimatorExecutable: "estimate-ngram",
		CompileTimeout:      2 * time.Minute,
		ApplyTimeout:        30 * time.Second,
		EstimateTimeout:     5 * time.Minute,
	}
}

// Load reads `.morphoparse.kdl` from projectRoot. A missing file is not an
// error: Load returns Default() with ArtifactRoot resolved to
// projectRoot's absolute path.
func Load(projectRoot string) (Config, error) {
	cfg := Default()
	if abs, err := filepath.Abs(projectRoot); err == nil {
		cfg.ArtifactRoot = abs
	}

	manifestPath := filepath.Join(projectRoot, ".morphoparse.kdl")
	if _, err := os.Stat(manifestPath); os.IsNotExist(err) {
		return cfg, nil
	}

	content, err := os.ReadFile(manifestPath)
	if err != nil {
		return cfg, fmt.Errorf("failed to read .morphoparse.kdl: %w", err)
	}

	doc, err := kdl.Parse(strings.NewReader(string(content)))
	if err != nil {
		return cfg, fmt.Errorf("failed to parse .morphoparse.kdl: %w", err)
	}

	for _, n := range doc.Nodes {
		switch nodeName(n) {
		case "artifact_root":
			if s, ok := firstStringArg(n); ok {
				cfg.ArtifactRoot = resolvePath(projectRoot, s)
			}
		case "categorial":
			if b, ok := firstBoolArg(n); ok {
				cfg.Categorial = b
			}
		case "min_rule_count":
			if v, ok := firstIntArg(n); ok {
				cfg.MinRuleCount = v
			}
		case "symbols":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "rare_delimiter":
					if s, ok := firstStringArg(cn); ok {
						cfg.Symbols.RareDelimiter = s
					}
				case "word_boundary":
					if s, ok := firstStringArg(cn); ok {
						cfg.Symbols.WordBoundary = s
					}
				case "start_symbol":
					if s, ok := firstStringArg(cn); ok {
						cfg.Symbols.StartSymbol = s
					}
				case "end_symbol":
					if s, ok := firstStringArg(cn); ok {
						cfg.Symbols.EndSymbol = s
					}
				case "morpheme_delimiters":
					if args := collectStringArgs(cn); len(args) > 0 {
						cfg.Symbols.MorphemeDelimiters = args
					}
				}
			}
		case "toolkit":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "foma":
					if s, ok := firstStringArg(cn); ok {
						cfg.FomaExecutable = s
					}
				case "flookup":
					if s, ok := firstStringArg(cn); ok {
						cfg.FlookupExecutable = s
					}
				case "estimate_ngram":
					if s, ok := firstStringArg(cn); ok {
						cfg.EstimatorExecutable = s
					}
				}
			}
		case "timeouts":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "compile_seconds":
					if v, ok := firstIntArg(cn); ok {
						cfg.CompileTimeout = time.Duration(v) * time.Second
					}
				case "apply_seconds":
					if v, ok := firstIntArg(cn); ok {
						cfg.ApplyTimeout = time.Duration(v) * time.Second
					}
				case "estimate_seconds":
					if v, ok := firstIntArg(cn); ok {
						cfg.EstimateTimeout = time.Duration(v) * time.Second
					}
				}
			}
		}
	}

	return cfg, nil
}

func resolvePath(projectRoot, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Clean(filepath.Join(projectRoot, p))
}

func nodeName(n *document.Node) string {
	if n == nil || n.Name == nil {
		return ""
	}
	return n.Name.NodeNameString()
}

func firstIntArg(n *document.Node) (int, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func firstStringArg(n *document.Node) (string, bool) {
	if len(n.Arguments) == 0 {
		return "", false
	}
	if s, ok := n.Arguments[0].Value.(string); ok {
		return s, true
	}
	return "", false
}

func firstBoolArg(n *document.Node) (bool, bool) {
	if len(n.Arguments) == 0 {
		return false, false
	}
	if b, ok := n.Arguments[0].Value.(bool); ok {
		return b, true
	}
	return false, false
}

func collectStringArgs(n *document.Node) []string {
	if n == nil {
		return nil
	}
	out := make([]string, 0, len(n.Arguments))
	for _, a := range n.Arguments {
		if s, ok := a.Value.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
