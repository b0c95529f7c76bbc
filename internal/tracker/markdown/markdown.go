// Package markdown implements the Markdown PRD Tracker backend (spec.md
// §4.C): tasks live as checkbox list items under a "## Tasks" heading in
// .ralph/PRD.md, in document order.
package markdown

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/jscraik/ralph-gold/internal/state"
	"github.com/jscraik/ralph-gold/internal/tracker"
)

func init() {
	tracker.Register("markdown", New)
}

var (
	headingPattern = regexp.MustCompile(`^(#+)\s*(.*)$`)
	taskPattern    = regexp.MustCompile(`^(\s*)[-*]\s+\[([ xX~!-])\]\s+(.+?)\s*$`)
	bulletPattern  = regexp.MustCompile(`^(\s*)[-*]\s+(.+?)\s*$`)
	dependsPattern = regexp.MustCompile(`(?i)^depends on:\s*(.+)$`)
	fencePattern   = regexp.MustCompile("^\\s*```")
)

// Tracker is the Markdown-backed implementation.
type Tracker struct {
	path string
}

// New constructs a Markdown Tracker rooted at "<projectRoot>/.ralph/PRD.md".
func New(projectRoot string) (tracker.Tracker, error) {
	return &Tracker{path: filepath.Join(projectRoot, ".ralph", "PRD.md")}, nil
}

func markerStatus(marker string) state.TaskStatus {
	switch marker {
	case "x", "X":
		return state.StatusDone
	case "-", "!":
		return state.StatusBlocked
	case "~":
		return state.StatusInProgress
	default:
		return state.StatusOpen
	}
}

func statusMarker(status state.TaskStatus) string {
	switch status {
	case state.StatusDone:
		return "x"
	case state.StatusBlocked:
		return "-"
	case state.StatusInProgress:
		return "~"
	default:
		return " "
	}
}

// parse reads the PRD file and returns tasks in document order. A missing
// file yields an empty task list rather than an error, per the Tracker
// contract's "never fails; returns none/empty on I/O errors" rule.
func (t *Tracker) parse() []state.Task {
	data, err := os.ReadFile(t.path)
	if err != nil {
		return nil
	}
	return parseLines(strings.Split(string(data), "\n"))
}

func parseLines(lines []string) []state.Task {
	var tasks []state.Task
	inTasksSection := false
	inFence := false
	seq := 0

	for i := 0; i < len(lines); i++ {
		line := lines[i]

		if fencePattern.MatchString(line) {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}

		if m := headingPattern.FindStringSubmatch(line); m != nil {
			inTasksSection = strings.EqualFold(strings.TrimSpace(m[2]), "Tasks")
			continue
		}
		if !inTasksSection {
			continue
		}

		tm := taskPattern.FindStringSubmatch(line)
		if tm == nil {
			continue
		}
		seq++
		indent := len(tm[1])
		task := state.Task{
			ID:     strconv.Itoa(seq),
			Title:  tm[3],
			Status: markerStatus(tm[2]),
			Group:  "default",
		}
		task.Acceptance, task.DependsOn = collectAcceptance(lines, i+1, indent)
		tasks = append(tasks, task)
	}
	return tasks
}

// collectAcceptance gathers indented bullet lines immediately following a
// task line, stopping at another heading, a fence, or a line whose indent
// is <= the task's own indent (including another task line), per spec.md
// §4.C.
func collectAcceptance(lines []string, start, taskIndent int) (acceptance, depends []string) {
	for i := start; i < len(lines); i++ {
		line := lines[i]
		if strings.TrimSpace(line) == "" {
			continue
		}
		if headingPattern.MatchString(line) || fencePattern.MatchString(line) {
			break
		}
		bm := bulletPattern.FindStringSubmatch(line)
		if bm == nil {
			break
		}
		indent := len(bm[1])
		if indent <= taskIndent {
			break
		}
		text := bm[2]
		acceptance = append(acceptance, text)
		if dm := dependsPattern.FindStringSubmatch(text); dm != nil {
			for _, tok := range strings.Split(dm[1], ",") {
				tok = strings.TrimSpace(tok)
				if tok != "" {
					depends = append(depends, tok)
				}
			}
		}
	}
	return acceptance, depends
}

func statusIndex(tasks []state.Task) map[string]state.TaskStatus {
	idx := make(map[string]state.TaskStatus, len(tasks))
	for _, t := range tasks {
		idx[t.ID] = t.Status
	}
	return idx
}

// PeekNextTask implements the selection algorithm from spec.md §4.C:
// filter to open tasks (not excluded) whose dependencies are all
// done-or-blocked, then return the first in document order.
func (t *Tracker) PeekNextTask(exclude map[string]struct{}) (state.Task, bool) {
	tasks := t.parse()
	statuses := statusIndex(tasks)
	for _, task := range tasks {
		if _, skip := exclude[task.ID]; skip {
			continue
		}
		if task.Selectable(statuses) {
			return task, true
		}
	}
	return state.Task{}, false
}

// ClaimNextTask is identical to PeekNextTask for the file-based backend:
// there is no remote side to mark in-progress.
func (t *Tracker) ClaimNextTask() (state.Task, bool) {
	return t.PeekNextTask(nil)
}

func (t *Tracker) Counts() (done, total int) {
	tasks := t.parse()
	for _, task := range tasks {
		total++
		if task.Status == state.StatusDone {
			done++
		}
	}
	return done, total
}

func (t *Tracker) AllDone() bool {
	tasks := t.parse()
	if len(tasks) == 0 {
		return false
	}
	for _, task := range tasks {
		if task.Status != state.StatusDone {
			return false
		}
	}
	return true
}

func (t *Tracker) AllBlocked() bool {
	tasks := t.parse()
	if len(tasks) == 0 {
		return false
	}
	any := false
	for _, task := range tasks {
		if task.Status == state.StatusDone {
			continue
		}
		any = true
		if task.Status != state.StatusBlocked {
			return false
		}
	}
	return any
}

func (t *Tracker) IsTaskDone(id string) bool {
	for _, task := range t.parse() {
		if task.ID == id {
			return task.Status == state.StatusDone
		}
	}
	return false
}

func (t *Tracker) ForceTaskOpen(id string) bool {
	return t.setStatus(id, state.StatusOpen)
}

func (t *Tracker) BlockTask(id, reason string) bool {
	_ = reason // the Markdown backend has no field to hold a reason; state.BlockedTasks carries it.
	return t.setStatus(id, state.StatusBlocked)
}

func (t *Tracker) setStatus(id string, status state.TaskStatus) bool {
	data, err := os.ReadFile(t.path)
	if err != nil {
		return false
	}
	lines := strings.Split(string(data), "\n")
	tasks := parseLines(lines)
	var target *state.Task
	for i := range tasks {
		if tasks[i].ID == id {
			target = &tasks[i]
			break
		}
	}
	if target == nil || target.Status == status {
		return false
	}

	changed := false
	seq := 0
	inTasksSection := false
	inFence := false
	for i, line := range lines {
		if fencePattern.MatchString(line) {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if m := headingPattern.FindStringSubmatch(line); m != nil {
			inTasksSection = strings.EqualFold(strings.TrimSpace(m[2]), "Tasks")
			continue
		}
		if !inTasksSection {
			continue
		}
		tm := taskPattern.FindStringSubmatch(line)
		if tm == nil {
			continue
		}
		seq++
		if strconv.Itoa(seq) != id {
			continue
		}
		lines[i] = fmt.Sprintf("%s- [%s] %s", tm[1], statusMarker(status), tm[3])
		changed = true
		break
	}
	if !changed {
		return false
	}
	return os.WriteFile(t.path, []byte(strings.Join(lines, "\n")), 0o644) == nil
}

func (t *Tracker) BranchName() (string, bool) {
	data, err := os.ReadFile(t.path)
	if err != nil {
		return "", false
	}
	branchPattern := regexp.MustCompile(`(?i)^branch:\s*(.+)$`)
	for _, line := range strings.Split(string(data), "\n") {
		if m := branchPattern.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			return strings.TrimSpace(m[1]), true
		}
	}
	return "", false
}

func (t *Tracker) GetParallelGroups() map[string][]state.Task {
	tasks := t.parse()
	if len(tasks) == 0 {
		return map[string][]state.Task{}
	}
	groups := map[string][]state.Task{}
	for _, task := range tasks {
		g := task.EffectiveGroup()
		groups[g] = append(groups[g], task)
	}
	return groups
}
