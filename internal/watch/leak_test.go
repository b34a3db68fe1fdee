//go:build leaktests
// +build leaktests

package watch

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/goleak"
)

// TestWatcher_StopLeavesNoGoroutines guards against the loop goroutine
// surviving Stop(), the way the teacher's indexing leak_test.go guards
// MasterIndex.Close().
func TestWatcher_StopLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	scriptPath := filepath.Join(dir, "morphology.script")
	if err := os.WriteFile(scriptPath, []byte("define morphology id;"), 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := New([]string{dir}, func(string) {})
	if err != nil {
		t.Fatal(err)
	}
	w.Start()
	w.Stop()
}
