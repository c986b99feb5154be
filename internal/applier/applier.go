// Package applier implements the Applier (spec.md §2, §4.5): the sole
// writer in the scan-fix-learn loop. It writes a validated candidate
// at-most-once via write-temp-then-rename, falling back to a single
// direct-write retry, serialized per target path.
package applier

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Applier owns the per-path locks guaranteeing at-most-once writes.
type Applier struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New builds an Applier.
func New() *Applier {
	return &Applier{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the per-path lock for path, returning an unlock func.
// Callers hold this lock for the whole analyze-fix-write sequence for
// that path (spec.md §4.5's "serializes concurrent workers processing
// different issues in the same file").
func (a *Applier) Lock(path string) func() {
	a.mu.Lock()
	l, ok := a.locks[path]
	if !ok {
		l = &sync.Mutex{}
		a.locks[path] = l
	}
	a.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Result is the outcome of an Apply call.
type Result struct {
	Applied      bool
	NeedsReview  bool
	Err          error
	WrittenBytes int
}

// Apply writes content to path using a write-temp-then-rename sequence
// on the same filesystem; on failure it retries a direct write once.
// Callers must already hold the path's lock (see Lock).
func (a *Applier) Apply(path string, content []byte) Result {
	if err := writeTempThenRename(path, content); err == nil {
		return Result{Applied: true, WrittenBytes: len(content)}
	}

	if err := os.WriteFile(path, content, 0o644); err != nil {
		return Result{NeedsReview: true, Err: fmt.Errorf("applier: persistent write failure for %s: %w", path, err)}
	}
	return Result{Applied: true, WrittenBytes: len(content)}
}

// writeTempThenRename writes content to a sibling temp file in the
// same directory (so the rename is atomic on the same filesystem) and
// renames it over path.
func writeTempThenRename(path string, content []byte) error {
	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, "."+filepath.Base(path)+"."+uuid.NewString()+".tmp")

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming temp file over target: %w", err)
	}
	return nil
}
