// Command morphoparse is the urfave/cli/v2 front end for the morphological
// parser engine: compile, apply-up, apply-down, parse, test (run embedded
// script tests), export, and watch subcommands against an artifact root,
// grounded in the teacher's cmd/lci/main.go structure (global root/config
// flags, one cli.Command per operation).
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/fieldlang/morphoparse/internal/config"
	"github.com/fieldlang/morphoparse/internal/fst"
	"github.com/fieldlang/morphoparse/internal/lexicon"
	"github.com/fieldlang/morphoparse/internal/lm"
	"github.com/fieldlang/morphoparse/internal/morphology"
	"github.com/fieldlang/morphoparse/internal/parser"
	"github.com/fieldlang/morphoparse/internal/parsecache"
	"github.com/fieldlang/morphoparse/internal/phonology"
	"github.com/fieldlang/morphoparse/internal/process"
	"github.com/fieldlang/morphoparse/internal/rules"
	"github.com/fieldlang/morphoparse/internal/store"
	"github.com/fieldlang/morphoparse/internal/trace"
	"github.com/fieldlang/morphoparse/internal/types"
	"github.com/fieldlang/morphoparse/internal/watch"
)

func main() {
	app := &cli.App{
		Name:  "morphoparse",
		Usage: "compile and query finite-state morphological parsers",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "root", Aliases: []string{"r"}, Usage: "project root directory (holds .morphoparse.kdl and the artifact tree)", Value: "."},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "trace subprocess invocations to stderr"},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("verbose") {
				trace.SetOutput(os.Stderr)
			}
			return nil
		},
		Commands: []*cli.Command{
			generateCommand(),
			compileCommand(),
			applyUpCommand(),
			applyDownCommand(),
			testCommand(),
			parseCommand(),
			exportCommand(),
			watchCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "morphoparse:", err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (config.Config, error) {
	return config.Load(c.String("root"))
}

func objectFromArgs(cfg config.Config, objectType string, id int64) store.Object {
	stem := objectType
	if objectType == "morphological_parser" {
		stem = "morphophonology"
	}
	return store.Object{Root: cfg.ArtifactRoot, Type: objectType, ID: id, Stem: stem}
}

func parseID(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

func driverFor(cfg config.Config, objectType string, id int64) (*fst.Driver, error) {
	obj := objectFromArgs(cfg, objectType, id)
	scriptPath := obj.Path(store.FileScript, nil)
	data, err := os.ReadFile(scriptPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", scriptPath, err)
	}

	d := fst.New(obj, fst.Config{
		ObjectType:   objectType,
		Boundaries:   objectType == "phonology" || objectType == "morphophonology",
		WordBoundary: cfg.Symbols.WordBoundary,
	})
	d.Script = string(data)
	return d, nil
}

// generateCommand synthesizes a morphology's lexical axioms from a lexicon
// corpus (and, when present, a rules corpus) into its saved script, per
// spec.md §6's lexicon_provider contract. It writes the script but does not
// compile it; "compile" still performs the save-and-build step for every
// object type, including a freshly generated morphology.
func generateCommand() *cli.Command {
	return &cli.Command{
		Name:      "generate",
		Usage:     "synthesize a morphology's script from a lexicon (and rules) corpus",
		ArgsUsage: "morphology <id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "lexicon-root", Usage: "directory of *.lexicon.tsv files (default: the morphology's own artifact directory)"},
			&cli.StringFlag{Name: "rules-root", Usage: "directory of *.rules.tsv files (default: the morphology's own artifact directory)"},
			&cli.StringFlag{Name: "script-type", Usage: "regex or lexc", Value: "regex"},
			&cli.BoolFlag{Name: "rich-morphemes", Usage: "mark the generated morphology as already emitting form⦀gloss⦀category tokens"},
		},
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 2 || c.Args().Get(0) != "morphology" {
				return fmt.Errorf("expected \"morphology\" <id>")
			}
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			id, err := parseID(c.Args().Get(1))
			if err != nil {
				return err
			}
			obj := objectFromArgs(cfg, "morphology", id)

			lexiconRoot := c.String("lexicon-root")
			if lexiconRoot == "" {
				lexiconRoot = obj.Directory()
			}
			rulesRoot := c.String("rules-root")
			if rulesRoot == "" {
				rulesRoot = obj.Directory()
			}

			scriptType := fst.ScriptRegex
			if c.String("script-type") == "lexc" {
				scriptType = fst.ScriptLexc
			}

			ctx := context.Background()
			entries, err := lexicon.NewFileProvider(lexiconRoot).Entries(ctx)
			if err != nil {
				return err
			}
			counts, err := rules.NewFileProvider(rulesRoot).Counts(ctx)
			if err != nil {
				return err
			}
			ruleSet := rules.BuildSet(counts, cfg.MinRuleCount)

			delimiter := types.DefaultMorphemeDelimiter
			if len(cfg.Symbols.MorphemeDelimiters) > 0 {
				delimiter = cfg.Symbols.MorphemeDelimiters[0]
			}

			script := morphology.GenerateScript(entries, ruleSet, scriptType, delimiter)
			morph := morphology.New(obj, scriptType, cfg.Symbols.RareDelimiter, cfg.Symbols.WordBoundary, c.Bool("rich-morphemes"))
			morph.Script = script
			if err := morph.SaveScript(); err != nil {
				return err
			}
			fmt.Printf("generated %s (%d entries, %d rules)\n", obj.Path(store.FileScript, nil), len(entries), len(ruleSet))
			return nil
		},
	}
}

func compileCommand() *cli.Command {
	return &cli.Command{
		Name:      "compile",
		Usage:     "compile an object's saved script into a binary",
		ArgsUsage: "<phonology|morphology|morphophonology> <id>",
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 2 {
				return fmt.Errorf("expected <type> <id>")
			}
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			objectType := c.Args().Get(0)
			id, err := parseID(c.Args().Get(1))
			if err != nil {
				return err
			}
			if !process.IsInstalled(cfg.FomaExecutable) {
				return fmt.Errorf("%s is not on PATH", cfg.FomaExecutable)
			}

			d, err := driverFor(cfg, objectType, id)
			if err != nil {
				return err
			}
			if err := d.SaveScript(); err != nil {
				return err
			}
			if err := d.Compile(context.Background(), cfg.CompileTimeout, ""); err != nil {
				return err
			}
			fmt.Printf("compile_attempt=%s succeeded=%v message=%q\n", d.CompileAttempt, d.CompileSucceeded, d.CompileMessage)
			if !d.CompileSucceeded {
				os.Exit(1)
			}
			return nil
		},
	}
}

func applyCommand(name string, direction fst.Direction) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     fmt.Sprintf("run apply-%s over the given inputs", direction),
		ArgsUsage: "<phonology|morphology|morphophonology> <id> <input...>",
		Action: func(c *cli.Context) error {
			if c.Args().Len() < 3 {
				return fmt.Errorf("expected <type> <id> <input...>")
			}
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			objectType := c.Args().Get(0)
			id, err := parseID(c.Args().Get(1))
			if err != nil {
				return err
			}
			inputs := c.Args().Slice()[2:]

			if !process.IsInstalled(cfg.FlookupExecutable) {
				return fmt.Errorf("%s is not on PATH", cfg.FlookupExecutable)
			}

			d, err := driverFor(cfg, objectType, id)
			if err != nil {
				return err
			}
			outputs, err := d.Apply(context.Background(), direction, inputs, nil, cfg.ApplyTimeout)
			if err != nil {
				return err
			}
			for _, in := range inputs {
				fmt.Printf("%s\t%v\n", in, outputs[in])
			}
			return nil
		},
	}
}

func applyUpCommand() *cli.Command   { return applyCommand("apply-up", fst.Up) }
func applyDownCommand() *cli.Command { return applyCommand("apply-down", fst.Down) }

func testCommand() *cli.Command {
	return &cli.Command{
		Name:      "test",
		Usage:     "run the #test lines embedded in an object's saved script",
		ArgsUsage: "<phonology|morphology|morphophonology> <id>",
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 2 {
				return fmt.Errorf("expected <type> <id>")
			}
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			objectType := c.Args().Get(0)
			id, err := parseID(c.Args().Get(1))
			if err != nil {
				return err
			}

			d, err := driverFor(cfg, objectType, id)
			if err != nil {
				return err
			}
			report, err := d.RunTests(context.Background(), cfg.ApplyTimeout)
			if err != nil {
				return err
			}
			failures := 0
			for lhs, result := range report {
				ok := stringSlicesEqual(result.Expected, result.Actual)
				if !ok {
					failures++
				}
				fmt.Printf("%s -> expected=%v actual=%v ok=%v\n", lhs, result.Expected, result.Actual, ok)
			}
			if failures > 0 {
				os.Exit(1)
			}
			return nil
		},
	}
}

// assembleParser wires one Parser instance out of its four dependencies
// (phonology, morphology, language model, rules provider), the way a
// caller composing a parser.md §4.7 morphophonology must: every
// dependency is constructed fresh from the artifact root each invocation,
// since the CLI process holds no state between commands.
func assembleParser(cfg config.Config, c *cli.Context) (*parser.Parser, error) {
	phonID, err := parseID(c.String("phonology-id"))
	if err != nil {
		return nil, fmt.Errorf("--phonology-id: %w", err)
	}
	morphID, err := parseID(c.String("morphology-id"))
	if err != nil {
		return nil, fmt.Errorf("--morphology-id: %w", err)
	}
	lmID, err := parseID(c.String("lm-id"))
	if err != nil {
		return nil, fmt.Errorf("--lm-id: %w", err)
	}
	parserID, err := parseID(c.String("parser-id"))
	if err != nil {
		return nil, fmt.Errorf("--parser-id: %w", err)
	}

	phonObj := objectFromArgs(cfg, "phonology", phonID)
	phonData, err := os.ReadFile(phonObj.Path(store.FileScript, nil))
	if err != nil {
		return nil, fmt.Errorf("reading phonology script: %w", err)
	}
	phon := phonology.New(phonObj, cfg.Symbols.WordBoundary)
	phon.Script = string(phonData)

	morphObj := objectFromArgs(cfg, "morphology", morphID)
	morph := morphology.New(morphObj, fst.ScriptRegex, cfg.Symbols.RareDelimiter, cfg.Symbols.WordBoundary, c.Bool("rich-morphemes"))
	morphData, err := os.ReadFile(morphObj.Path(store.FileScript, nil))
	if err != nil {
		return nil, fmt.Errorf("reading morphology script: %w", err)
	}
	morph.Driver.Script = string(morphData)

	lmObj := objectFromArgs(cfg, "morpheme_language_model", lmID)
	languageModel := lm.New(lmObj, c.Int("lm-order"))
	languageModel.Categorial = cfg.Categorial
	languageModel.RareDelimiter = cfg.Symbols.RareDelimiter
	languageModel.StartSymbol = cfg.Symbols.StartSymbol
	languageModel.EndSymbol = cfg.Symbols.EndSymbol

	rulesProvider := &rules.FileProvider{Root: morphObj.Directory()}

	parserObj := objectFromArgs(cfg, "morphological_parser", parserID)
	cachePath := parserObj.Path(store.FileCache, nil)
	// Load never returns a hard error: a missing or corrupt cache blob
	// yields an empty cache (spec.md §7's cache-corruption policy), so
	// there is nothing for this caller to handle specially.
	cache, _ := parsecache.Load(cachePath)

	p := parser.New(parserObj, phon, morph, languageModel, rulesProvider, cfg.MinRuleCount, cache)
	p.PersistCache = true
	p.CachePath = cachePath
	p.SuggestNearestRule = c.Bool("suggest-nearest-rule")
	if len(cfg.Symbols.MorphemeDelimiters) > 0 {
		p.MorphemeDelimiters = cfg.Symbols.MorphemeDelimiters
	}

	if err := p.SaveScript(); err != nil {
		return nil, err
	}
	if err := p.Recompile(context.Background(), cfg.CompileTimeout); err != nil {
		return nil, err
	}
	return p, nil
}

func dependencyFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "phonology-id", Usage: "phonology object id", Required: true},
		&cli.StringFlag{Name: "morphology-id", Usage: "morphology object id", Required: true},
		&cli.StringFlag{Name: "lm-id", Usage: "language model object id", Required: true},
		&cli.StringFlag{Name: "parser-id", Usage: "parser object id", Required: true},
		&cli.IntFlag{Name: "lm-order", Usage: "n-gram order", Value: 3},
		&cli.BoolFlag{Name: "rich-morphemes", Usage: "morphology already emits form⦀gloss⦀category tokens, skip dictionary disambiguation"},
		&cli.BoolFlag{Name: "suggest-nearest-rule", Usage: "attach a fuzzy-matched nearest rule name when every candidate is rejected"},
	}
}

func parseCommand() *cli.Command {
	return &cli.Command{
		Name:      "parse",
		Usage:     "parse one or more surface transcriptions through a composed morphophonology",
		ArgsUsage: "<transcription...>",
		Flags:     dependencyFlags(),
		Action: func(c *cli.Context) error {
			if c.Args().Len() == 0 {
				return fmt.Errorf("expected at least one transcription")
			}
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			p, err := assembleParser(cfg, c)
			if err != nil {
				return err
			}
			results, err := p.Parse(context.Background(), c.Args().Slice(), cfg.ApplyTimeout)
			if err != nil {
				return err
			}
			for _, t := range c.Args().Slice() {
				value := results[t]
				if value == nil {
					fmt.Printf("%s\t<null>\n", t)
				} else {
					fmt.Printf("%s\t%s\n", t, *value)
				}
			}
			return nil
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "recompile the parser and print its descriptive state as TOML",
		ArgsUsage: " ",
		Flags:     dependencyFlags(),
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			p, err := assembleParser(cfg, c)
			if err != nil {
				return err
			}
			data, err := p.Export().ToTOML()
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	}
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "watch an object's script file and corpus directory, recompiling on change",
		ArgsUsage: "<phonology|morphology|morphophonology> <id>",
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 2 {
				return fmt.Errorf("expected <type> <id>")
			}
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			objectType := c.Args().Get(0)
			id, err := parseID(c.Args().Get(1))
			if err != nil {
				return err
			}
			obj := objectFromArgs(cfg, objectType, id)

			w, err := watch.New([]string{obj.Directory()}, func(path string) {
				fmt.Printf("change detected: %s, recompiling %s_%d\n", path, objectType, id)
				d, err := driverFor(cfg, objectType, id)
				if err != nil {
					fmt.Fprintln(os.Stderr, "watch: reload failed:", err)
					return
				}
				if err := d.Compile(context.Background(), cfg.CompileTimeout, ""); err != nil {
					fmt.Fprintln(os.Stderr, "watch: compile failed:", err)
					return
				}
				fmt.Printf("recompiled: succeeded=%v message=%q\n", d.CompileSucceeded, d.CompileMessage)
			})
			if err != nil {
				return err
			}
			w.Start()
			defer w.Stop()

			fmt.Println("watching", obj.Directory(), "- press Ctrl+C to stop")
			<-blockForever()
			return nil
		},
	}
}

func blockForever() <-chan time.Time {
	return make(chan time.Time)
}
