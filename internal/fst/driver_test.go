package fst

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mperrors "github.com/fieldlang/morphoparse/internal/errors"
	"github.com/fieldlang/morphoparse/internal/process"
	"github.com/fieldlang/morphoparse/internal/store"
)

// stubRunner is a scripted process.Runner standing in for foma/flookup: no
// subprocess is actually spawned, so Compile/Apply's interpretation of
// exit code, log content, and binary mtime can be tested in isolation.
type stubRunner struct {
	result process.Result
	err    error
	// sideEffect lets a test simulate what the real tool would have done
	// to disk (e.g. writing the binary) before the stub returns.
	sideEffect func(argv []string, logPath string)
}

func (s stubRunner) Run(ctx context.Context, argv []string, timeout time.Duration, logPath string) (process.Result, error) {
	if s.sideEffect != nil {
		s.sideEffect(argv, logPath)
	}
	return s.result, s.err
}

func newTestDriver(t *testing.T, runner process.Runner) *Driver {
	t.Helper()
	obj := store.Object{Root: t.TempDir(), Type: "phonology", ID: 1, Stem: "phonology"}
	d := New(obj, Config{ObjectType: "phonology", Boundaries: true, Runner: runner})
	d.Script = "define phonology id;"
	return d
}

func TestDriver_Compile_AttemptTokenAlwaysChanges(t *testing.T) {
	d := newTestDriver(t, stubRunner{result: process.Result{ExitCode: 1}})
	require.NoError(t, d.SaveScript())

	require.NoError(t, d.Compile(context.Background(), time.Second, ""))
	first := d.CompileAttempt
	require.NoError(t, d.Compile(context.Background(), time.Second, ""))
	second := d.CompileAttempt

	assert.NotEmpty(t, first)
	assert.NotEmpty(t, second)
	assert.NotEqual(t, first, second)
}

func TestDriver_Compile_SucceedsWhenVerificationPresentAndBinaryMtimeAdvances(t *testing.T) {
	var binaryPath string
	runner := stubRunner{
		result: process.Result{ExitCode: 0, Log: "defined phonology: "},
	}
	d := newTestDriver(t, runner)
	require.NoError(t, d.SaveScript())
	binaryPath = d.path(store.FileBinary)
	d.Runner = stubRunner{
		result: runner.result,
		sideEffect: func(argv []string, logPath string) {
			require.NoError(t, os.WriteFile(binaryPath, []byte("binary"), 0o644))
		},
	}

	require.NoError(t, d.Compile(context.Background(), time.Second, ""))

	assert.True(t, d.CompileSucceeded)
	info, err := os.Stat(binaryPath)
	require.NoError(t, err)
	assert.NotZero(t, info.ModTime())
}

func TestDriver_Compile_VerificationSubstringAbsentFails(t *testing.T) {
	d := newTestDriver(t, stubRunner{result: process.Result{ExitCode: 0, Log: "some unrelated log"}})
	require.NoError(t, d.SaveScript())

	require.NoError(t, d.Compile(context.Background(), time.Second, ""))

	assert.False(t, d.CompileSucceeded)
	assert.Contains(t, d.CompileMessage, "not a well-formed")
}

func TestDriver_Compile_NonZeroExitFails(t *testing.T) {
	d := newTestDriver(t, stubRunner{result: process.Result{ExitCode: 1, Log: "defined phonology: "}})
	require.NoError(t, d.SaveScript())

	require.NoError(t, d.Compile(context.Background(), time.Second, ""))

	assert.False(t, d.CompileSucceeded)
}

func TestDriver_Compile_FailedCompileLeavesNoBinary(t *testing.T) {
	d := newTestDriver(t, stubRunner{result: process.Result{ExitCode: 1}})
	require.NoError(t, d.SaveScript())
	binaryPath := d.path(store.FileBinary)
	require.NoError(t, os.WriteFile(binaryPath, []byte("stale"), 0o644))

	require.NoError(t, d.Compile(context.Background(), time.Second, ""))

	assert.False(t, d.CompileSucceeded)
	_, err := os.Stat(binaryPath)
	assert.True(t, os.IsNotExist(err))
}

func TestDriver_Compile_VerifiedButBinaryUnchangedFails(t *testing.T) {
	d := newTestDriver(t, nil)
	require.NoError(t, d.SaveScript())
	binaryPath := d.path(store.FileBinary)
	require.NoError(t, os.WriteFile(binaryPath, []byte("unchanged"), 0o644))
	_, err := os.Stat(binaryPath)
	require.NoError(t, err)

	d.Runner = stubRunner{result: process.Result{ExitCode: 0, Log: "defined phonology: "}}
	require.NoError(t, d.Compile(context.Background(), time.Second, ""))

	assert.False(t, d.CompileSucceeded)
	assert.Contains(t, d.CompileMessage, "no new binary written")
	_, err = os.Stat(binaryPath)
	assert.True(t, os.IsNotExist(err))
}

func TestDriver_Compile_RunnerErrorFails(t *testing.T) {
	d := newTestDriver(t, stubRunner{err: mperrors.NewSpawnError([]string{"foma"}, assertErr{})})
	require.NoError(t, d.SaveScript())

	require.NoError(t, d.Compile(context.Background(), time.Second, ""))
	assert.False(t, d.CompileSucceeded)
	assert.Contains(t, d.CompileMessage, "raised an error")
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func withCompiledBinary(t *testing.T, d *Driver) {
	t.Helper()
	require.NoError(t, d.SaveScript())
	require.NoError(t, os.WriteFile(d.path(store.FileBinary), []byte("binary"), 0o644))
}

func TestDriver_Apply_NoBinaryIsNotFoundError(t *testing.T) {
	d := newTestDriver(t, stubRunner{})
	require.NoError(t, d.SaveScript())

	_, err := d.Apply(context.Background(), Up, []string{"chiens"}, nil, time.Second)
	var notFound *mperrors.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestDriver_Apply_WritesBoundaryWrappedInputAndParsesOutput(t *testing.T) {
	var inputData string
	d := newTestDriver(t, nil)
	withCompiledBinary(t, d)
	d.Runner = stubRunner{
		result: process.Result{ExitCode: 0},
		sideEffect: func(argv []string, logPath string) {
			applyPath := argv[0]
			dir := filepath.Dir(applyPath)
			matches, _ := filepath.Glob(filepath.Join(dir, "inputs_*.txt"))
			require.Len(t, matches, 1)
			raw, err := os.ReadFile(matches[0])
			require.NoError(t, err)
			inputData = string(raw)
			require.NoError(t, os.WriteFile(logPath, []byte(fmt.Sprintf("%s\tchien\n", inputData)), 0o644))
		},
	}

	outputs, err := d.Apply(context.Background(), Up, []string{"chien"}, nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "#chien#", inputData)
	assert.Equal(t, []string{"chien"}, outputs["chien"])
}

func TestDriver_Apply_StripsWordBoundaryWhenBoundariesTrue(t *testing.T) {
	d := newTestDriver(t, nil)
	withCompiledBinary(t, d)
	d.Runner = stubRunner{
		result: process.Result{ExitCode: 0},
		sideEffect: func(argv []string, logPath string) {
			require.NoError(t, os.WriteFile(logPath, []byte("#chien#\t#chien#\n"), 0o644))
		},
	}

	b := true
	outputs, err := d.Apply(context.Background(), Up, []string{"chien"}, &b, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"chien"}, outputs["chien"])
}

func TestDriver_Apply_NoOutputMarkerYieldsNoEntry(t *testing.T) {
	d := newTestDriver(t, nil)
	withCompiledBinary(t, d)
	d.Runner = stubRunner{
		result: process.Result{ExitCode: 0},
		sideEffect: func(argv []string, logPath string) {
			require.NoError(t, os.WriteFile(logPath, []byte("xyzzy\t+?\n"), 0o644))
		},
	}

	outputs, err := d.Apply(context.Background(), Up, []string{"xyzzy"}, nil, time.Second)
	require.NoError(t, err)
	assert.Empty(t, outputs["xyzzy"])
}

func TestDriver_Apply_NonZeroExitIsBackendError(t *testing.T) {
	d := newTestDriver(t, nil)
	withCompiledBinary(t, d)
	d.Runner = stubRunner{result: process.Result{ExitCode: 1}}

	_, err := d.Apply(context.Background(), Up, []string{"chien"}, nil, time.Second)
	var backendErr *mperrors.BackendError
	assert.ErrorAs(t, err, &backendErr)
}

func TestDriver_RunTests_ComparesExpectedAgainstApplyDownOutput(t *testing.T) {
	d := newTestDriver(t, nil)
	d.Script = "define phonology id;\n#test chien -> chiens\n"
	withCompiledBinary(t, d)
	d.Runner = stubRunner{
		result: process.Result{ExitCode: 0},
		sideEffect: func(argv []string, logPath string) {
			require.NoError(t, os.WriteFile(logPath, []byte("chien\tchiens\n"), 0o644))
		},
	}

	report, err := d.RunTests(context.Background(), time.Second)
	require.NoError(t, err)
	require.Contains(t, report, "chien")
	assert.Equal(t, []string{"chiens"}, report["chien"].Expected)
	assert.Equal(t, []string{"chiens"}, report["chien"].Actual)
}

func TestDriver_RunTests_NoTestLinesReturnsNil(t *testing.T) {
	d := newTestDriver(t, stubRunner{})
	d.Script = "define phonology id;\n"

	report, err := d.RunTests(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Nil(t, report)
}

func TestParseApplyOutput_SkipsNoOutputMarker(t *testing.T) {
	got := parseApplyOutput("chien\tchiens\nxyzzy\t+?\n", false, "")
	assert.Equal(t, []string{"chiens"}, got["chien"])
	assert.NotContains(t, got, "xyzzy")
}

func TestParseApplyOutput_StripsBoundaryOnBothSides(t *testing.T) {
	got := parseApplyOutput("#chien#\t#chiens#\n", true, "#")
	assert.Equal(t, []string{"chiens"}, got["chien"])
}

func TestParseApplyOutput_IgnoresExtraTabSeparatedFields(t *testing.T) {
	got := parseApplyOutput("chien\tchiens\textra\n", false, "")
	assert.Equal(t, []string{"chiens"}, got["chien"])
}

func TestEscape_PrefixesReservedSymbols(t *testing.T) {
	assert.Equal(t, `chien%-s`, Escape("chien-s"))
}

func TestStrip_RemovesReservedSymbols(t *testing.T) {
	assert.Equal(t, "chiens", Strip("chien-s"))
}

func TestDriver_RuleNames_ExtractsTopLevelDefines(t *testing.T) {
	d := newTestDriver(t, stubRunner{})
	d.Script = "define V [tombe];\ndefine AGR [ait];\n"
	assert.ElementsMatch(t, []string{"V", "AGR"}, d.RuleNames())
}

func TestDriver_Tests_ParsesHashTestLines(t *testing.T) {
	d := newTestDriver(t, stubRunner{})
	d.Script = "define phonology id;\n#test chien -> chiens\n#test chat -> chats\n"
	tests := d.Tests()
	assert.Equal(t, []string{"chiens"}, tests["chien"])
	assert.Equal(t, []string{"chats"}, tests["chat"])
}
