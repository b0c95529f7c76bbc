// Package watch implements the Watch Driver (spec.md §4.M): watches a set
// of glob patterns rooted at the project root, coalesces changes over a
// debounce window, and invokes a callback once per settled batch — adapted
// from the teacher pack's fsnotify watch loop (vjache-cie's
// cmd/cie/watch.go recursively adds directories to an *fsnotify.Watcher and
// debounces with a single timer channel; this package keeps that shape but
// matches against configured glob patterns instead of reindexing
// unconditionally, and falls back to mtime polling when fsnotify is
// unavailable on the platform).
package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// excludedDirs names directories never walked into, per spec.md §4.M:
// ".ralph", ".git", "__pycache__", "node_modules", virtualenvs, dotfiles.
var excludedDirs = map[string]bool{
	".ralph":       true,
	".git":         true,
	"__pycache__":  true,
	"node_modules": true,
	"venv":         true,
	".venv":        true,
}

func isExcludedDir(name string) bool {
	if excludedDirs[name] {
		return true
	}
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}

// Options configures one Run call.
type Options struct {
	Root        string
	Patterns    []string
	Debounce    time.Duration
	PollEvery   time.Duration // used only when fsnotify is unavailable
	ForcePoller bool          // for tests: skip fsnotify entirely
}

// Callback is invoked once per settled debounce window with the set of
// changed paths (relative to Root), deduplicated.
type Callback func(changed []string)

// Run blocks until ctx is cancelled, dispatching cb once per debounce
// window in which at least one matching file changed. It prefers native
// fsnotify; on any setup failure (or when ForcePoller is set) it falls back
// to 1-second mtime polling, per spec.md §4.M's documented implementation
// preference.
func Run(ctx context.Context, opts Options, cb Callback) error {
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	if opts.PollEvery <= 0 {
		opts.PollEvery = time.Second
	}

	if !opts.ForcePoller {
		if watcher, err := newRecursiveWatcher(opts.Root); err == nil {
			return runNotify(ctx, watcher, opts, cb)
		}
	}
	return runPoller(ctx, opts, cb)
}

func newRecursiveWatcher(root string) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	err = filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			if os.IsPermission(walkErr) {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if path != root && isExcludedDir(info.Name()) {
			return filepath.SkipDir
		}
		_ = watcher.Add(path)
		return nil
	})
	if err != nil {
		watcher.Close()
		return nil, err
	}
	return watcher, nil
}

func runNotify(ctx context.Context, watcher *fsnotify.Watcher, opts Options, cb Callback) error {
	defer watcher.Close()

	pending := map[string]struct{}{}
	var debounceTimer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			rel := relOrSelf(opts.Root, event.Name)
			if !matches(rel, opts.Patterns) {
				continue
			}
			pending[rel] = struct{}{}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.NewTimer(opts.Debounce)
			timerCh = debounceTimer.C
		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			// fsnotify errors are non-fatal: keep watching.
		case <-timerCh:
			timerCh = nil
			flush(pending, cb)
		}
	}
}

func runPoller(ctx context.Context, opts Options, cb Callback) error {
	mtimes := map[string]time.Time{}
	scan := func() map[string]struct{} {
		changed := map[string]struct{}{}
		_ = filepath.Walk(opts.Root, func(path string, info os.FileInfo, walkErr error) error {
			if walkErr != nil {
				if os.IsPermission(walkErr) {
					return filepath.SkipDir
				}
				return nil
			}
			if info.IsDir() {
				if path != opts.Root && isExcludedDir(info.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			rel := relOrSelf(opts.Root, path)
			if !matches(rel, opts.Patterns) {
				return nil
			}
			if prev, ok := mtimes[rel]; !ok || !prev.Equal(info.ModTime()) {
				mtimes[rel] = info.ModTime()
				changed[rel] = struct{}{}
			}
			return nil
		})
		return changed
	}
	scan() // prime mtimes without firing on pre-existing files

	ticker := time.NewTicker(opts.PollEvery)
	defer ticker.Stop()

	var pending map[string]struct{}
	var debounceTimer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			changed := scan()
			if len(changed) == 0 {
				continue
			}
			if pending == nil {
				pending = map[string]struct{}{}
			}
			for p := range changed {
				pending[p] = struct{}{}
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.NewTimer(opts.Debounce)
			timerCh = debounceTimer.C
		case <-timerCh:
			timerCh = nil
			flush(pending, cb)
			pending = nil
		}
	}
}

func flush(pending map[string]struct{}, cb Callback) {
	if len(pending) == 0 {
		return
	}
	changed := make([]string, 0, len(pending))
	for p := range pending {
		changed = append(changed, p)
		delete(pending, p)
	}
	cb(changed)
}

func relOrSelf(root, path string) string {
	if rel, err := filepath.Rel(root, path); err == nil {
		return rel
	}
	return path
}

// matches reports whether rel matches any of patterns (filepath.Match
// semantics, applied against the base name and the full relative path, with
// a leading "**/" stripped so "**/*.go" behaves like "*.go"). No dedicated
// glob library is used: a "**" elsewhere in a pattern matches exactly one
// path segment, so "internal/**/*.go" matches "internal/engine/x.go" but
// not "internal/a/b/x.go".
func matches(rel string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	base := filepath.Base(rel)
	for _, p := range patterns {
		p = strings.TrimPrefix(p, "**/")
		if ok, _ := filepath.Match(p, base); ok {
			return true
		}
		if ok, _ := filepath.Match(p, rel); ok {
			return true
		}
	}
	return false
}
