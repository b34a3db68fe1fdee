// Package watch triggers recompile/regenerate callbacks when an object's
// script file or corpus directory changes on disk, grounded in the
// teacher's internal/indexing.FileWatcher fsnotify usage (simplified here:
// no debouncer batching, since a single morphophonology recompile is
// already a coarse, infrequent operation).
//
// This is the end-to-end demonstration of dependency replication (spec.md
// §9): edits the watcher observes never retroactively change a Compiled
// parser's behavior until its callback actually re-enters CompileInFlight.
package watch

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/fieldlang/morphoparse/internal/trace"
)

// Watcher watches a fixed set of paths (a script file, a corpus directory)
// and invokes OnChange whenever any of them is written or renamed.
type Watcher struct {
	fsw      *fsnotify.Watcher
	OnChange func(path string)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Watcher and registers watches on every path (files are
// watched directly; directories are watched non-recursively, matching
// spec.md's "corpus directory" scope).
func New(paths []string, onChange func(path string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		if err := fsw.Add(p); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{fsw: fsw, OnChange: onChange, ctx: ctx, cancel: cancel}, nil
}

// Start begins processing fsnotify events on a background goroutine.
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.loop()
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			trace.Event("watch", "%s: %s", event.Op, event.Name)
			if w.OnChange != nil {
				w.OnChange(filepath.Clean(event.Name))
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			trace.Event("watch", "error: %v", err)
		}
	}
}

// Stop cancels event processing and closes the underlying fsnotify watcher.
func (w *Watcher) Stop() {
	w.cancel()
	_ = w.fsw.Close()
	w.wg.Wait()
}
