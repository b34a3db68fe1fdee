// Package trace is morphoparse's subprocess-activity logger: a package-
// level, mutex-guarded sink that the process runner, FST driver and LM
// write one-line records to. It intentionally mirrors the teacher's
// internal/debug package rather than reaching for log/slog: a toggleable
// writer, nil by default, set once by the CLI entrypoint.
package trace

import (
	"fmt"
	"io"
	"sync"
	"time"
)

var (
	mu     sync.Mutex
	output io.Writer
)

// SetOutput directs trace records to w. Passing nil disables tracing.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
}

// Enabled reports whether a trace sink is currently configured.
func Enabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return output != nil
}

// Event writes one trace line of the form "<time> <component>: <msg>".
// It is a no-op when no sink is configured.
func Event(component, format string, args ...any) {
	mu.Lock()
	w := output
	mu.Unlock()
	if w == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(w, "%s %s: %s\n", time.Now().Format(time.RFC3339Nano), component, msg)
}
