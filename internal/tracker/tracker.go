// Package tracker defines the Tracker contract (spec.md §4.C): the
// interface the Iteration Engine uses to select, claim, complete, block and
// reopen tasks, independent of whether the backing store is a Markdown PRD,
// a JSON/YAML file, or a remote issue tracker.
package tracker

import "github.com/jscraik/ralph-gold/internal/state"

// Tracker is implemented by every concrete backend. All operations are
// synchronous from the caller's perspective and, per spec.md §4.C, never
// panic or return an error to the engine: I/O failures degrade to "no task"
// / false / empty results so a flaky backend cannot take down a running
// loop.
type Tracker interface {
	// PeekNextTask returns the next selectable task, excluding any ID in
	// exclude, without marking anything claimed.
	PeekNextTask(exclude map[string]struct{}) (task state.Task, ok bool)

	// ClaimNextTask behaves like PeekNextTask but may additionally mark the
	// task in-progress in the backing store (remote trackers only; file
	// trackers leave status untouched until done/blocked).
	ClaimNextTask() (task state.Task, ok bool)

	// Counts returns (done, total) task counts, or (0, 0) on error.
	Counts() (done, total int)

	// AllDone reports whether every task is done.
	AllDone() bool

	// AllBlocked reports whether every non-done task is blocked.
	AllBlocked() bool

	// IsTaskDone reports whether the given task ID is currently done.
	IsTaskDone(id string) bool

	// ForceTaskOpen reopens a task (the gate-failure safety valve in
	// spec.md §4.G step 7), returning whether it actually changed status.
	ForceTaskOpen(id string) bool

	// BlockTask marks a task blocked with a reason, returning whether it
	// succeeded.
	BlockTask(id, reason string) bool

	// BranchName returns a PRD-declared branch name, if any.
	BranchName() (name string, ok bool)

	// GetParallelGroups returns tasks grouped by group name, in the order
	// each group's tasks should run. An empty map means the backend does
	// not support grouping (the Parallel Executor falls back to sequential
	// mode in that case).
	GetParallelGroups() map[string][]state.Task
}

// Factory constructs a Tracker for a project root given the resolved
// configuration. Kept as a function value (not a class hierarchy) per
// spec.md §9's tagged-variant guidance.
type Factory func(projectRoot string) (Tracker, error)

// registry is the compile-time tracker registry spec.md §9 calls for in
// place of the original's "module:callable" runtime plugin loading: out-of-
// tree backends are a build-time registration, not a dynamic string lookup.
var registry = map[string]Factory{}

// Register adds a backend factory under kind. Called from each backend
// sub-package's init().
func Register(kind string, factory Factory) {
	registry[kind] = factory
}

// New constructs the tracker named by kind ("auto" resolves via candidate
// detection against projectRoot's .ralph directory).
func New(kind, projectRoot string) (Tracker, error) {
	if kind == "" || kind == "auto" {
		kind = detectKind(projectRoot)
	}
	factory, ok := registry[kind]
	if !ok {
		return nil, &UnknownKindError{Kind: kind}
	}
	return factory(projectRoot)
}

// UnknownKindError is returned when Config's tracker.kind names a backend
// with no registered factory.
type UnknownKindError struct{ Kind string }

func (e *UnknownKindError) Error() string {
	return "tracker: unknown kind " + e.Kind
}
