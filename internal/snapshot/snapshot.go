// Package snapshot implements the Snapshot Manager (spec.md §4.N): named
// git-stash-based savepoints plus a state.json backup, built on the same
// exec.CommandContext + timeout idiom as internal/worktree (adapted from
// the teacher's internal/rpi worktree helpers, the closest teacher analogue
// to another git-plumbing-over-subprocess component).
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jscraik/ralph-gold/internal/state"
)

const cmdTimeout = 30 * time.Second

// NamePattern is spec.md §3's snapshot name regex.
var NamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ErrInvalidName is returned by Create when name fails NamePattern.
var ErrInvalidName = errors.New("snapshot: name must match ^[A-Za-z0-9_-]+$")

// ErrDirtyWorkingTree is returned by Rollback when the working tree is
// dirty and force was not requested.
var ErrDirtyWorkingTree = errors.New("snapshot: working tree is dirty, pass force to override")

// ErrNotFound is returned when a named snapshot does not exist in state.
var ErrNotFound = errors.New("snapshot: not found")

func run(ctx context.Context, dir string, argv ...string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, cmdTimeout)
	defer cancel()
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// Create implements the Create operation: push a git stash excluding
// .ralph/, locate the resulting stash ref by scanning `git stash list`,
// copy state.json to .ralph/snapshots/<name>_state.json, and append
// metadata to state.snapshots via the store.
//
// ralphDir is "<root>/.ralph"; store backs .ralph/state.json.
func Create(ctx context.Context, repoRoot, ralphDir, name, description string, store *state.Store) (state.SnapshotMeta, error) {
	if !NamePattern.MatchString(name) {
		return state.SnapshotMeta{}, ErrInvalidName
	}

	commit, err := headCommit(ctx, repoRoot)
	if err != nil {
		return state.SnapshotMeta{}, err
	}

	msg := "ralph-snapshot: " + name
	if description != "" {
		msg += " - " + description
	}
	stashArgv := []string{"git", "stash", "push", "-u", "-m", msg, "--", ".", ":!.ralph/"}
	out, err := run(ctx, repoRoot, stashArgv...)
	if err != nil && !strings.Contains(out, "No local changes to save") {
		return state.SnapshotMeta{}, fmt.Errorf("git stash push: %w (output: %s)", err, strings.TrimSpace(out))
	}

	stashRef, err := findStashRef(ctx, repoRoot, msg)
	if err != nil {
		return state.SnapshotMeta{}, err
	}

	backupPath := fmt.Sprintf("%s/snapshots/%s_state.json", ralphDir, name)
	st, loadErr := store.Load()
	if loadErr != nil {
		return state.SnapshotMeta{}, fmt.Errorf("snapshot: load state for backup: %w", loadErr)
	}
	if err := state.WriteAtomicJSON(backupPath, st); err != nil {
		return state.SnapshotMeta{}, fmt.Errorf("snapshot: write state backup: %w", err)
	}

	meta := state.SnapshotMeta{
		Name:            name,
		Timestamp:       time.Now().UTC(),
		GitStashRef:     stashRef,
		StateBackupPath: backupPath,
		Description:     description,
		GitCommit:       commit,
	}

	_, err = store.Mutate(func(s *state.PersistentState) error {
		s.Snapshots = append(s.Snapshots, meta)
		return nil
	})
	if err != nil {
		return state.SnapshotMeta{}, fmt.Errorf("snapshot: record metadata: %w", err)
	}
	return meta, nil
}

// findStashRef scans `git stash list` for the entry whose message contains
// msg, returning its "stash@{N}" ref. Stashes are listed newest-first, so
// the first match is the one Create just pushed.
func findStashRef(ctx context.Context, repoRoot, msg string) (string, error) {
	out, err := run(ctx, repoRoot, "git", "stash", "list")
	if err != nil {
		return "", fmt.Errorf("git stash list: %w", err)
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, msg) {
			if idx := strings.Index(line, ":"); idx > 0 {
				return line[:idx], nil
			}
		}
	}
	return "", errors.New("snapshot: could not locate pushed stash in git stash list")
}

func headCommit(ctx context.Context, repoRoot string) (string, error) {
	out, err := run(ctx, repoRoot, "git", "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git rev-parse HEAD: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// List implements the List operation: read state.snapshots.
func List(st *state.PersistentState) []state.SnapshotMeta {
	return st.Snapshots
}

// Find returns the named snapshot's metadata, or ErrNotFound.
func Find(st *state.PersistentState, name string) (state.SnapshotMeta, error) {
	for _, m := range st.Snapshots {
		if m.Name == name {
			return m, nil
		}
	}
	return state.SnapshotMeta{}, ErrNotFound
}

// Rollback implements the Rollback operation: refuse if the working tree is
// dirty unless force is set, `git stash apply <ref>`, then restore
// state.json from the backup file.
func Rollback(ctx context.Context, repoRoot string, store *state.Store, meta state.SnapshotMeta, force bool) error {
	if !force {
		clean, err := isClean(ctx, repoRoot)
		if err != nil {
			return err
		}
		if !clean {
			return ErrDirtyWorkingTree
		}
	}

	if out, err := run(ctx, repoRoot, "git", "stash", "apply", meta.GitStashRef); err != nil {
		return fmt.Errorf("git stash apply %s: %w (output: %s)", meta.GitStashRef, err, strings.TrimSpace(out))
	}

	backup, err := loadBackup(meta.StateBackupPath)
	if err != nil {
		return fmt.Errorf("snapshot: load state backup: %w", err)
	}
	if err := store.Save(backup); err != nil {
		return fmt.Errorf("snapshot: restore state.json: %w", err)
	}
	return nil
}

func isClean(ctx context.Context, repoRoot string) (bool, error) {
	out, err := run(ctx, repoRoot, "git", "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("git status: %w", err)
	}
	return strings.TrimSpace(out) == "", nil
}

func loadBackup(path string) (*state.PersistentState, error) {
	return state.LoadFrom(path)
}

// Cleanup implements the Cleanup operation: keep the keepN most recent
// snapshots (by Timestamp desc), dropping their git stash entries and state
// backup files for the rest. Returns the names removed.
func Cleanup(ctx context.Context, repoRoot string, store *state.Store, keepN int) ([]string, error) {
	var removed []string
	_, err := store.Mutate(func(st *state.PersistentState) error {
		if len(st.Snapshots) <= keepN {
			return nil
		}
		sorted := append([]state.SnapshotMeta(nil), st.Snapshots...)
		sortByTimestampDesc(sorted)

		keep := sorted[:keepN]
		drop := sorted[keepN:]

		// Dropping stash@{N} shifts every index above N down by one, so
		// drops must proceed highest-index-first or later refs go stale
		// mid-loop.
		sortByStashIndexDesc(drop)

		for _, m := range drop {
			if err := dropStash(ctx, repoRoot, m.GitStashRef); err != nil {
				return fmt.Errorf("snapshot: drop stash %s: %w", m.GitStashRef, err)
			}
			_ = os.Remove(m.StateBackupPath)
			removed = append(removed, m.Name)
		}
		st.Snapshots = keep
		return nil
	})
	return removed, err
}

func dropStash(ctx context.Context, repoRoot, ref string) error {
	if ref == "" {
		return nil
	}
	_, err := run(ctx, repoRoot, "git", "stash", "drop", ref)
	return err
}

func sortByTimestampDesc(metas []state.SnapshotMeta) {
	for i := 1; i < len(metas); i++ {
		j := i
		for j > 0 && metas[j-1].Timestamp.Before(metas[j].Timestamp) {
			metas[j-1], metas[j] = metas[j], metas[j-1]
			j--
		}
	}
}

// stashIndex extracts the numeric N from "stash@{N}".
func stashIndex(ref string) (int, bool) {
	start := strings.Index(ref, "{")
	end := strings.Index(ref, "}")
	if start < 0 || end < 0 || end <= start {
		return 0, false
	}
	n, err := strconv.Atoi(ref[start+1 : end])
	if err != nil {
		return 0, false
	}
	return n, true
}

func sortByStashIndexDesc(metas []state.SnapshotMeta) {
	for i := 1; i < len(metas); i++ {
		j := i
		for j > 0 && lessStashIndex(metas[j-1], metas[j]) {
			metas[j-1], metas[j] = metas[j], metas[j-1]
			j--
		}
	}
}

// lessStashIndex reports whether a's stash index is lower than b's (so a
// should sort after b in a descending-index ordering); refs that fail to
// parse sort last.
func lessStashIndex(a, b state.SnapshotMeta) bool {
	ai, aok := stashIndex(a.GitStashRef)
	bi, bok := stashIndex(b.GitStashRef)
	if !aok {
		return true
	}
	if !bok {
		return false
	}
	return ai < bi
}
