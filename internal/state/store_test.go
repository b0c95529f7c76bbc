package state

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreLoadMissingReturnsFresh(t *testing.T) {
	st, err := NewStore(t.TempDir()).Load()
	require.NoError(t, err)
	require.Empty(t, st.History)
	require.NotNil(t, st.TaskAttempts)
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	st := New()
	st.AppendHistory(IterationResult{Iteration: 1, Agent: "codex"})
	require.NoError(t, store.Save(st))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Len(t, loaded.History, 1)
	require.Equal(t, 1, loaded.History[0].Iteration)
}

func TestStoreMutateIsAtomic(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	_, err := store.Mutate(func(st *PersistentState) error {
		st.AppendHistory(IterationResult{Iteration: 1})
		return nil
	})
	require.NoError(t, err)

	// No .tmp file should ever be left behind after a successful mutation.
	matches, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	require.Empty(t, matches)

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, 1, loaded.LastIteration())
}

func TestHistoryRingBufferTruncates(t *testing.T) {
	st := New()
	for i := 1; i <= MaxHistory+50; i++ {
		st.AppendHistory(IterationResult{Iteration: i})
	}
	require.Len(t, st.History, MaxHistory)
	require.Equal(t, MaxHistory+50, st.History[len(st.History)-1].Iteration)
	require.Equal(t, 51, st.History[0].Iteration)
}

func TestLastIterationMonotonic(t *testing.T) {
	st := New()
	require.Equal(t, 0, st.LastIteration())
	st.AppendHistory(IterationResult{Iteration: 1})
	require.Equal(t, 1, st.LastIteration())
	next := st.LastIteration() + 1
	st.AppendHistory(IterationResult{Iteration: next})
	require.Equal(t, 2, st.LastIteration())
}

func TestEffectiveExitSignalSafetyOverride(t *testing.T) {
	cases := []struct {
		name   string
		result IterationResult
		want   TriState
	}{
		{"dirty repo forces false", IterationResult{ExitSignal: True, RepoClean: false, GatesOk: True}, False},
		{"failed gates force false", IterationResult{ExitSignal: True, RepoClean: true, GatesOk: False}, False},
		{"clean and passing preserves true", IterationResult{ExitSignal: True, RepoClean: true, GatesOk: True}, True},
		{"absent stays absent", IterationResult{ExitSignal: Absent, RepoClean: true, GatesOk: True}, Absent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.result.EffectiveExitSignal())
		})
	}
}

func TestValidateRejectsNonMonotonicHistory(t *testing.T) {
	st := New()
	st.History = []IterationResult{{Iteration: 2}, {Iteration: 1}}
	require.Error(t, Validate(st))
}

func TestTaskSelectable(t *testing.T) {
	statuses := map[string]TaskStatus{"1": StatusDone, "2": StatusBlocked, "3": StatusOpen}

	open := Task{ID: "a", Status: StatusOpen, DependsOn: []string{"1", "2"}}
	require.True(t, open.Selectable(statuses))

	blockedByOpenDep := Task{ID: "b", Status: StatusOpen, DependsOn: []string{"3"}}
	require.False(t, blockedByOpenDep.Selectable(statuses))

	notOpen := Task{ID: "c", Status: StatusDone}
	require.False(t, notOpen.Selectable(statuses))
}
