package markdown

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jscraik/ralph-gold/internal/state"
)

const samplePRD = `# Example PRD

branch: feature/gold

## Tasks

- [ ] hello
  - print hello world
  - Depends on: 2

- [x] already done

- [ ] blocked-dep task
  - Depends on: 4

- [-] manually blocked

## Notes

- [ ] not a task, outside Tasks section
`

func writePRD(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".ralph"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".ralph", "PRD.md"), []byte(content), 0o644))
	return dir
}

func TestParseTasksAndAcceptance(t *testing.T) {
	dir := writePRD(t, samplePRD)
	tr, err := New(dir)
	require.NoError(t, err)
	mdTracker := tr.(*Tracker)

	tasks := mdTracker.parse()
	require.Len(t, tasks, 4)

	require.Equal(t, "1", tasks[0].ID)
	require.Equal(t, "hello", tasks[0].Title)
	require.Equal(t, state.StatusOpen, tasks[0].Status)
	require.Equal(t, []string{"print hello world", "Depends on: 2"}, tasks[0].Acceptance)
	require.Equal(t, []string{"2"}, tasks[0].DependsOn)

	require.Equal(t, state.StatusDone, tasks[1].Status)
	require.Equal(t, state.StatusBlocked, tasks[3].Status)
}

func TestPeekNextTaskRespectsDependencies(t *testing.T) {
	dir := writePRD(t, samplePRD)
	tr, _ := New(dir)

	task, ok := tr.PeekNextTask(nil)
	require.True(t, ok)
	require.Equal(t, "1", task.ID, "task 1 depends only on task 2 which is done")
}

func TestPeekNextTaskBlockedByOpenDependency(t *testing.T) {
	dir := writePRD(t, `## Tasks

- [ ] a
  - Depends on: 2

- [ ] b
`)
	tr, _ := New(dir)
	task, ok := tr.PeekNextTask(nil)
	require.True(t, ok)
	require.Equal(t, "2", task.ID, "task a depends on open task b, so only b is selectable")
}

func TestExcludeIDsSkipped(t *testing.T) {
	dir := writePRD(t, `## Tasks

- [ ] a
- [ ] b
`)
	tr, _ := New(dir)
	task, ok := tr.PeekNextTask(map[string]struct{}{"1": {}})
	require.True(t, ok)
	require.Equal(t, "2", task.ID)
}

func TestCountsAndAllDone(t *testing.T) {
	dir := writePRD(t, samplePRD)
	tr, _ := New(dir)
	done, total := tr.Counts()
	require.Equal(t, 1, done)
	require.Equal(t, 4, total)
	require.False(t, tr.AllDone())
}

func TestAllBlocked(t *testing.T) {
	dir := writePRD(t, `## Tasks

- [x] done
- [-] blocked
`)
	tr, _ := New(dir)
	require.True(t, tr.AllBlocked())
}

func TestForceTaskOpenAndBlockTask(t *testing.T) {
	dir := writePRD(t, `## Tasks

- [x] done-task
`)
	tr, _ := New(dir)
	require.True(t, tr.ForceTaskOpen("1"))
	require.False(t, tr.IsTaskDone("1"))

	require.True(t, tr.BlockTask("1", "too risky"))
	done, _ := tr.Counts()
	require.Equal(t, 0, done)
}

func TestBranchNameParsed(t *testing.T) {
	dir := writePRD(t, samplePRD)
	tr, _ := New(dir)
	branch, ok := tr.BranchName()
	require.True(t, ok)
	require.Equal(t, "feature/gold", branch)
}

func TestMissingFileNeverFails(t *testing.T) {
	dir := t.TempDir()
	tr, err := New(dir)
	require.NoError(t, err)
	_, ok := tr.PeekNextTask(nil)
	require.False(t, ok)
	done, total := tr.Counts()
	require.Equal(t, 0, done)
	require.Equal(t, 0, total)
}
