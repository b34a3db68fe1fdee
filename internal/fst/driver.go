// Package fst implements the single driver that replaces the Python
// teacher's Command → FomaFST → {Phonology, Morphology, Parser} inheritance
// chain (Design Note 3). One Driver type, configured per variant, handles
// script save, compile, apply-up/apply-down, and embedded test execution.
package fst

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fieldlang/morphoparse/internal/clock"
	mperrors "github.com/fieldlang/morphoparse/internal/errors"
	"github.com/fieldlang/morphoparse/internal/process"
	"github.com/fieldlang/morphoparse/internal/store"
	"github.com/fieldlang/morphoparse/internal/trace"
)

// ScriptType selects the morphology script formalism; it has no effect on
// phonologies, which are always regex.
type ScriptType string

const (
	ScriptRegex ScriptType = "regex"
	ScriptLexc  ScriptType = "lexc"
)

// Direction is the apply direction.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Config is the per-variant behavior a Driver is parameterized by, in
// place of a subclass (Design Note 3).
type Config struct {
	ObjectType      string               // e.g. "phonology", "morphology", "morphophonology"
	ScriptType      ScriptType           // regex (default) or lexc; only meaningful for morphology
	Boundaries      bool                 // always-on for phonology, configurable elsewhere
	WordBoundary    string               // symbol bracketed onto apply inputs when Boundaries
	VerificationFor func(objectType string, scriptType ScriptType) string
	ExtraFileTypes  map[store.FileType]string
	FomaExecutable  string // default "foma"
	FlookupExecutable string // default "flookup"

	// Runner is the subprocess seam compile and apply invoke through;
	// defaults to process.DefaultRunner. Tests substitute a stub so
	// compile-attempt/mtime/verification and apply-boundary behavior can
	// be exercised without foma/flookup on PATH.
	Runner process.Runner
}

// DefaultVerification implements spec.md §4.3/§4.4's verification string
// rules: "defined <type>: " by default, "Done!" for lexc morphologies.
func DefaultVerification(objectType string, scriptType ScriptType) string {
	if scriptType == ScriptLexc {
		return "Done!"
	}
	return fmt.Sprintf("defined %s: ", objectType)
}

// Driver owns a script file and, after a successful Compile, a binary.
type Driver struct {
	Config
	Object store.Object
	Clock  clock.Clock

	Script string

	CompileAttempt   string
	CompileSucceeded bool
	CompileMessage   string
}

// New returns a Driver with sane defaults filled in.
func New(obj store.Object, cfg Config) *Driver {
	if cfg.VerificationFor == nil {
		cfg.VerificationFor = DefaultVerification
	}
	if cfg.WordBoundary == "" {
		cfg.WordBoundary = "#"
	}
	if cfg.FomaExecutable == "" {
		cfg.FomaExecutable = "foma"
	}
	if cfg.FlookupExecutable == "" {
		cfg.FlookupExecutable = "flookup"
	}
	if cfg.Runner == nil {
		cfg.Runner = process.DefaultRunner
	}
	return &Driver{Config: cfg, Object: obj, Clock: clock.System{}}
}

func (d *Driver) path(ft store.FileType) string {
	return d.Object.Path(ft, d.ExtraFileTypes)
}

// SaveScript writes the script atomically (write-to-temp, rename) and
// (re)generates the compiler shell script that, when run, loads the
// script and materializes the top-level regex named after ObjectType.
func (d *Driver) SaveScript() error {
	if err := store.EnsureDirectory(d.Object.Directory()); err != nil {
		return err
	}
	scriptPath := d.path(store.FileScript)
	if err := writeAtomic(scriptPath, []byte(d.Script)); err != nil {
		return err
	}

	binaryPath := d.path(store.FileBinary)
	compilerPath := d.path(store.FileCompiler)
	compilerSrc := fmt.Sprintf("#!/bin/sh\n%s -e \"source %s\" -e \"regex %s;\" -e \"save stack %s\" -e \"quit\"\n",
		d.FomaExecutable, scriptPath, d.ObjectType, binaryPath)
	if err := writeAtomic(compilerPath, []byte(compilerSrc)); err != nil {
		return err
	}
	return os.Chmod(compilerPath, 0o744)
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Compile invokes the generated compiler shell script under timeout and
// interprets the result per spec.md §4.3.
func (d *Driver) Compile(ctx context.Context, timeout time.Duration, verification string) error {
	if verification == "" {
		verification = d.VerificationFor(d.ObjectType, d.ScriptType)
	}
	binaryPath := d.path(store.FileBinary)
	compilerPath := d.path(store.FileCompiler)
	logPath := d.path(store.FileLog)

	beforeMtime, beforeErr := mtime(binaryPath)
	beforeExists := beforeErr == nil

	d.CompileSucceeded = false
	result, err := d.Runner.Run(ctx, []string{compilerPath}, timeout, logPath)

	switch {
	case err != nil:
		d.CompileMessage = "compilation attempt raised an error"
	case !strings.Contains(result.Log, verification):
		d.CompileMessage = fmt.Sprintf("script is not a well-formed %s", d.ObjectType)
	case result.ExitCode != 0:
		d.CompileMessage = "compilation failed"
	default:
		afterMtime, afterErr := mtime(binaryPath)
		afterExists := afterErr == nil
		if afterExists && (!beforeExists || !afterMtime.Equal(beforeMtime)) {
			d.CompileSucceeded = true
			d.CompileMessage = "compilation terminated successfully and new binary written"
		} else {
			d.CompileMessage = "compilation terminated successfully yet no new binary written"
		}
	}

	if d.CompileSucceeded {
		_ = os.Chmod(binaryPath, 0o744)
	} else {
		_ = os.Remove(binaryPath)
	}
	d.CompileAttempt = uuid.New().String()
	trace.Event("fst", "compile %s attempt=%s succeeded=%v: %s", d.ObjectType, d.CompileAttempt, d.CompileSucceeded, d.CompileMessage)
	return nil
}

func mtime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// Apply runs a batched apply-up or apply-down over inputs, returning a map
// from each input to its list of outputs, in flookup's emission order,
// duplicates preserved. An input with no output has no key in the map. boundaries overrides
// Config.Boundaries for this call; pass nil to use the configured default.
func (d *Driver) Apply(ctx context.Context, direction Direction, inputs []string, boundaries *bool, timeout time.Duration) (map[string][]string, error) {
	result := make(map[string][]string, len(inputs))
	if len(inputs) == 0 {
		return result, nil
	}

	binaryPath := d.path(store.FileBinary)
	if _, err := os.Stat(binaryPath); err != nil {
		return nil, mperrors.NewNotFoundError(binaryPath)
	}

	useBoundaries := d.Boundaries
	if boundaries != nil {
		useBoundaries = *boundaries
	}

	runID := uuid.New().String()
	dir := d.Object.Directory()
	inputsPath := filepath.Join(dir, "inputs_"+runID+".txt")
	outputsPath := filepath.Join(dir, "outputs_"+runID+".txt")
	applyPath := filepath.Join(dir, "apply_"+runID+".sh")
	defer func() {
		os.Remove(inputsPath)
		os.Remove(outputsPath)
		os.Remove(applyPath)
	}()

	lines := make([]string, len(inputs))
	for i, in := range inputs {
		if useBoundaries {
			lines[i] = d.WordBoundary + in + d.WordBoundary
		} else {
			lines[i] = in
		}
	}
	if err := os.WriteFile(inputsPath, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return nil, err
	}

	flag := ""
	if direction == Down {
		flag = "-i "
	}
	script := fmt.Sprintf("#!/bin/sh\ncat %s | %s %s%s\n", inputsPath, d.FlookupExecutable, flag, binaryPath)
	if err := os.WriteFile(applyPath, []byte(script), 0o744); err != nil {
		return nil, err
	}

	if err := d.runApply(ctx, applyPath, outputsPath, timeout); err != nil {
		return nil, mperrors.NewBackendError(string(direction), err)
	}

	raw, err := os.ReadFile(outputsPath)
	if err != nil {
		return nil, mperrors.NewBackendError(string(direction), err)
	}
	return parseApplyOutput(string(raw), useBoundaries, d.WordBoundary), nil
}

// runApply invokes applyPath via the Driver's Runner, writing its combined
// stdout/stderr to outputsPath (flookup writes only the tab-delimited
// output lines spec.md §4.3 step 4 describes, so the same capture file
// process.Run already produces for compile serves apply too). A non-zero
// exit is reported as an error; the caller wraps it as a BackendError.
func (d *Driver) runApply(ctx context.Context, applyPath, outputsPath string, timeout time.Duration) error {
	trace.Event("fst", "applying %s", applyPath)
	result, err := d.Runner.Run(ctx, []string{applyPath}, timeout, outputsPath)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("flookup exited %d", result.ExitCode)
	}
	return nil
}

// parseApplyOutput parses flookup's tab-delimited "input\toutput" lines
// (only the first two tab-separated fields are taken; extra fields some
// tool versions emit are ignored deliberately, per spec.md §9), maps the
// "+?" no-output marker to absence, and strips word-boundary symbols when
// removeBoundaries is set.
func parseApplyOutput(raw string, removeBoundaries bool, boundary string) map[string][]string {
	result := map[string][]string{}
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 3)
		if len(fields) < 2 {
			continue
		}
		in, out := fields[0], fields[1]
		if removeBoundaries {
			in = stripBoundary(in, boundary)
			out = stripBoundary(out, boundary)
		}
		if out == flookupNoOutput {
			continue
		}
		result[in] = append(result[in], out)
	}
	return result
}

const flookupNoOutput = "+?"

func stripBoundary(s, boundary string) string {
	if boundary == "" {
		return s
	}
	if strings.HasPrefix(s, boundary) && strings.HasSuffix(s, boundary) && len(s) >= 2*len(boundary) {
		return s[len(boundary) : len(s)-len(boundary)]
	}
	return s
}

// ApplyUp is Apply(Up, ...) with boundaries=true.
func (d *Driver) ApplyUp(ctx context.Context, inputs []string, timeout time.Duration) (map[string][]string, error) {
	b := true
	return d.Apply(ctx, Up, inputs, &b, timeout)
}

// ApplyDown is Apply(Down, ...) with the configured default boundaries.
func (d *Driver) ApplyDown(ctx context.Context, inputs []string, timeout time.Duration) (map[string][]string, error) {
	return d.Apply(ctx, Down, inputs, nil, timeout)
}

// testLinePattern matches a "#test LHS -> RHS" line within a script.
var testLinePattern = regexp.MustCompile(`^#test\s+(.*?)\s*->\s*(.*)$`)

// Tests returns the {LHS: [RHS, ...]} map defined by "#test " lines in the
// saved script.
func (d *Driver) Tests() map[string][]string {
	result := map[string][]string{}
	for _, line := range strings.Split(d.Script, "\n") {
		m := testLinePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		lhs, rhs := strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
		result[lhs] = append(result[lhs], rhs)
	}
	return result
}

// TestResult is one test's expected vs. actual apply-down outputs.
type TestResult struct {
	Expected []string
	Actual   []string
}

// RunTests applies-down every "#test" LHS defined in the script and
// reports expected vs. actual.
func (d *Driver) RunTests(ctx context.Context, timeout time.Duration) (map[string]TestResult, error) {
	tests := d.Tests()
	if len(tests) == 0 {
		return nil, nil
	}
	lhss := make([]string, 0, len(tests))
	for lhs := range tests {
		lhss = append(lhss, lhs)
	}
	actual, err := d.ApplyDown(ctx, lhss, timeout)
	if err != nil {
		return nil, err
	}
	report := make(map[string]TestResult, len(tests))
	for lhs, expected := range tests {
		report[lhs] = TestResult{Expected: expected, Actual: actual[lhs]}
	}
	return report, nil
}

// RuleNames returns the names of top-level "define <name>" regexes in the
// saved script -- an inspection capability carried over from
// original_source's phonologies controller (spec supplement, SPEC_FULL §3).
var defineNamePattern = regexp.MustCompile(`(?m)^\s*define\s+([A-Za-z_][A-Za-z0-9_]*)\b`)

func (d *Driver) RuleNames() []string {
	matches := defineNamePattern.FindAllStringSubmatch(d.Script, -1)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m[1])
	}
	return names
}

// foma's reserved regex metacharacters (spec.md §4.3 "Regex-reserved
// escaping"); cf. foma's documented reserved-symbol set.
var fomaReserved = []rune("!\"#$%&()*+,-./0:;<>?[\\]^_`{|}~¬¹×Σε⁻₁₂→↔∀∃∅∈∘∥∧∨∩∪≤≥≺≻")

var reservedSet = func() map[rune]bool {
	m := make(map[rune]bool, len(fomaReserved))
	for _, r := range fomaReserved {
		m[r] = true
	}
	return m
}()

// Escape prefixes each reserved symbol in s with '%'.
func Escape(s string) string {
	var b strings.Builder
	for _, r := range s {
		if reservedSet[r] {
			b.WriteByte('%')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Strip deletes every reserved symbol from s.
func Strip(s string) string {
	var b strings.Builder
	for _, r := range s {
		if !reservedSet[r] {
			b.WriteRune(r)
		}
	}
	return b.String()
}
