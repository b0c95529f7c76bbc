package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMatchesGlobPatterns(t *testing.T) {
	require.True(t, matches("foo.go", []string{"*.go"}))
	require.True(t, matches("internal/engine/engine.go", []string{"**/*.go"}))
	require.False(t, matches("foo.txt", []string{"*.go"}))
}

func TestIsExcludedDir(t *testing.T) {
	require.True(t, isExcludedDir(".git"))
	require.True(t, isExcludedDir(".ralph"))
	require.True(t, isExcludedDir("node_modules"))
	require.True(t, isExcludedDir(".hidden"))
	require.False(t, isExcludedDir("internal"))
}

func TestRunPollerCoalescesChanges(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package a"), 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var batches [][]string
	done := make(chan struct{})
	go func() {
		_ = Run(ctx, Options{
			Root:        root,
			Patterns:    []string{"*.go"},
			Debounce:    50 * time.Millisecond,
			PollEvery:   20 * time.Millisecond,
			ForcePoller: true,
		}, func(changed []string) {
			batches = append(batches, changed)
			close(done)
		})
	}()

	time.Sleep(40 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package a // changed"), 0o644))

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("timed out waiting for a debounced change batch")
	}
	require.Len(t, batches, 1)
	require.Contains(t, batches[0], "a.go")
}

func TestRunPollerIgnoresNonMatchingFiles(t *testing.T) {
	root := t.TempDir()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	fired := false
	go func() {
		_ = Run(ctx, Options{
			Root:        root,
			Patterns:    []string{"*.go"},
			Debounce:    20 * time.Millisecond,
			PollEvery:   10 * time.Millisecond,
			ForcePoller: true,
		}, func(changed []string) { fired = true })
	}()

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("hi"), 0o644))
	<-ctx.Done()
	require.False(t, fired)
}
