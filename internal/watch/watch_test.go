package watch

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_OnChange_FiresOnWrite(t *testing.T) {
	dir := t.TempDir()
	scriptPath := filepath.Join(dir, "morphology.script")
	require.NoError(t, os.WriteFile(scriptPath, []byte("define morphology id;"), 0o644))

	var mu sync.Mutex
	var seen []string
	done := make(chan struct{}, 1)

	w, err := New([]string{dir}, func(path string) {
		mu.Lock()
		seen = append(seen, path)
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	require.NoError(t, os.WriteFile(scriptPath, []byte("define morphology cat;"), 0o644))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnChange")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.NotEmpty(t, seen)
}
