// Package process runs an external command under a wall-clock deadline,
// capturing combined stdout/stderr to a log file and killing the whole
// process subtree if the deadline expires. Grounded in the teacher's
// internal/git.Provider use of exec.CommandContext, generalized here to own
// the timeout itself (spec.md §4.1) rather than delegate it to a caller
// context, and to kill the process *group* rather than shelling out to ps
// the way the original Python implementation does (Design Note: "host
// platform's process-group API").
package process

import (
	"context"
	"os"
	"os/exec"
	"syscall"
	"time"

	mperrors "github.com/fieldlang/morphoparse/internal/errors"
	"github.com/fieldlang/morphoparse/internal/trace"
)

// Result is the outcome of a Run call.
type Result struct {
	ExitCode int
	Log      string
	TimedOut bool
}

// Runner is the subprocess-invocation seam fst.Driver and lm.LanguageModel
// depend on instead of calling Run directly, so tests can substitute a
// scripted stub and exercise compile/apply/estimate error handling without
// foma, flookup, or estimate-ngram on PATH.
type Runner interface {
	Run(ctx context.Context, argv []string, timeout time.Duration, logPath string) (Result, error)
}

// realRunner is the production Runner, delegating to the package-level Run.
type realRunner struct{}

func (realRunner) Run(ctx context.Context, argv []string, timeout time.Duration, logPath string) (Result, error) {
	return Run(ctx, argv, timeout, logPath)
}

// DefaultRunner is the production Runner every Driver/LanguageModel is
// wired to unless a caller (typically a test) substitutes its own.
var DefaultRunner Runner = realRunner{}

// IsInstalled reports whether name is an executable found on PATH; the
// preflight check named in spec.md §7.
func IsInstalled(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// Run executes argv as a subprocess, writing its combined stdout/stderr to
// logPath. If timeout elapses before the process exits, the entire process
// group rooted at the spawned pid is killed with SIGKILL and Result.TimedOut
// is true. A spawn failure (argv[0] not found, fork/exec error) is returned
// as *errors.SpawnError; a log-file open failure falls back to the null
// device and Run still returns a Result.
func Run(ctx context.Context, argv []string, timeout time.Duration, logPath string) (Result, error) {
	if len(argv) == 0 {
		return Result{}, mperrors.NewSpawnError(argv, context.Canceled)
	}

	logFile, err := os.Create(logPath)
	if err != nil {
		logFile, err = os.OpenFile(os.DevNull, os.O_WRONLY, 0)
		if err != nil {
			return Result{}, err
		}
	}
	defer logFile.Close()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	setProcessGroup(cmd)

	trace.Event("process", "spawning %v (timeout %s)", argv, timeout)

	if err := cmd.Start(); err != nil {
		return Result{}, mperrors.NewSpawnError(argv, err)
	}

	waitErr := cmd.Wait()
	timedOut := runCtx.Err() == context.DeadlineExceeded

	if timedOut {
		killProcessGroup(cmd)
		trace.Event("process", "%v exceeded %s, killed", argv, timeout)
		return Result{ExitCode: -1, Log: readBestEffort(logPath), TimedOut: true},
			mperrors.NewTimeoutError(argv, timeout)
	}

	exitCode := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return Result{}, mperrors.NewSpawnError(argv, waitErr)
		}
	}

	trace.Event("process", "%v exited %d", argv, exitCode)
	return Result{ExitCode: exitCode, Log: readBestEffort(logPath)}, nil
}

func readBestEffort(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

func setProcessGroup(cmd *exec.Cmd) {
	SetProcessGroup(cmd)
}

func killProcessGroup(cmd *exec.Cmd) {
	KillProcessGroup(cmd)
}

// SetProcessGroup configures cmd to run as the leader of its own process
// group, so KillProcessGroup can later signal the whole subtree at once
// instead of enumerating children via ps (Design Note: "host platform's
// process-group API").
func SetProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// KillProcessGroup sends SIGKILL to the process group led by cmd's pid.
func KillProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	// Negative pid signals the whole process group rooted at this pid.
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	_ = cmd.Process.Kill()
}
