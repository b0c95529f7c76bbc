// Package state owns .ralph/state.json: Ralph-Gold's only piece of durable,
// atomically-written process state. Every mutator here follows the
// read-modify-atomic-write discipline described in spec.md §3 and §6: write
// to a sibling ".tmp" file, then rename over the target, so a crash between
// write and rename always leaves the prior file intact.
package state

import "time"

// TaskStatus is the lifecycle state of a tracker-owned Task.
type TaskStatus string

const (
	StatusOpen       TaskStatus = "open"
	StatusInProgress TaskStatus = "in_progress"
	StatusDone       TaskStatus = "done"
	StatusBlocked    TaskStatus = "blocked"
)

// Task is the abstract unit of work a Tracker hands the engine. It is
// owned by the Tracker, not by the state store; the engine only reads it.
type Task struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Kind       string     `json:"kind,omitempty"`
	Acceptance []string   `json:"acceptance,omitempty"`
	DependsOn  []string   `json:"depends_on,omitempty"`
	Group      string     `json:"group,omitempty"`
	Status     TaskStatus `json:"status"`
}

// EffectiveGroup returns the task's group, defaulting to "default" per
// spec.md §3.
func (t Task) EffectiveGroup() string {
	if t.Group == "" {
		return "default"
	}
	return t.Group
}

// Selectable reports whether t may be chosen by peek_next_task: it must be
// open, and every dependency must be done or blocked (spec.md §3 invariant).
func (t Task) Selectable(statusByID map[string]TaskStatus) bool {
	if t.Status != StatusOpen {
		return false
	}
	for _, dep := range t.DependsOn {
		depStatus, ok := statusByID[dep]
		if !ok {
			return false
		}
		if depStatus != StatusDone && depStatus != StatusBlocked {
			return false
		}
	}
	return true
}

// TriState represents spec.md's "absent | true | false" booleans
// (exit_signal, gates_ok, judge_ok, review_ok) as an explicit 3-variant
// enum rather than a nullable bool, per §9 DESIGN NOTES.
type TriState int

const (
	Absent TriState = iota
	False
	True
)

// FromBool lifts a plain bool into a TriState.
func FromBool(b bool) TriState {
	if b {
		return True
	}
	return False
}

// Bool reports the boolean value and whether the state was present at all.
func (t TriState) Bool() (value bool, present bool) {
	switch t {
	case True:
		return true, true
	case False:
		return false, true
	default:
		return false, false
	}
}

// IsTrue reports whether t is exactly True.
func (t TriState) IsTrue() bool { return t == True }

func (t TriState) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "absent"
	}
}

// MarshalJSON encodes TriState as JSON null/true/false so receipts and
// history entries read naturally off disk.
func (t TriState) MarshalJSON() ([]byte, error) {
	switch t {
	case True:
		return []byte("true"), nil
	case False:
		return []byte("false"), nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes JSON null/true/false into a TriState.
func (t *TriState) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "true":
		*t = True
	case "false":
		*t = False
	default:
		*t = Absent
	}
	return nil
}

// IterationResult is the Iteration Engine's record of one iteration,
// shared by value with the Loop Driver and Supervisor.
type IterationResult struct {
	Iteration        int      `json:"iteration"`
	RunID            string   `json:"run_id"`
	Agent            string   `json:"agent"`
	TaskID           string   `json:"task_id,omitempty"`
	ExitSignal       TriState `json:"exit_signal"`
	ReturnCode       int      `json:"return_code"`
	TimedOut         bool     `json:"timed_out"`
	LogPath          string   `json:"log_path"`
	ProgressMade     bool     `json:"progress_made"`
	NoProgressStreak int      `json:"no_progress_streak"`
	GatesOk          TriState `json:"gates_ok"`
	RepoClean        bool     `json:"repo_clean"`
	JudgeOk          TriState `json:"judge_ok"`
	ReviewOk         TriState `json:"review_ok"`
	DurationSeconds  float64  `json:"duration_seconds"`
}

// EffectiveExitSignal applies the engine's safety override (spec.md §4.G
// step 10 / invariant 1): completion can never be claimed unless the repo is
// clean and gates passed.
func (r IterationResult) EffectiveExitSignal() TriState {
	if !r.RepoClean || r.GatesOk == False {
		return False
	}
	return r.ExitSignal
}

// TaskAttempt tracks how many times a task has been attempted.
type TaskAttempt struct {
	Count int `json:"count"`
}

// BlockedTask records why and when a task was blocked.
type BlockedTask struct {
	BlockedAt time.Time `json:"blocked_at"`
	Reason    string    `json:"reason"`
}

// SnapshotMeta is the durable record of one named savepoint (spec.md §3 Snapshot).
type SnapshotMeta struct {
	Name           string    `json:"name"`
	Timestamp      time.Time `json:"timestamp"`
	GitStashRef    string    `json:"git_stash_ref"`
	StateBackupPath string   `json:"state_backup_path"`
	Description    string    `json:"description,omitempty"`
	GitCommit      string    `json:"git_commit"`
}

// UnblockEvent is one entry in the append-only attempt_history log written
// by the Adaptive Timeout & Unblock module.
type UnblockEvent struct {
	TaskID    string    `json:"task_id"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
}

// PersistentState is the JSON document persisted at .ralph/state.json.
type PersistentState struct {
	CreatedAt        time.Time              `json:"createdAt"`
	Invocations      []int64                `json:"invocations"`
	NoProgressStreak int                    `json:"noProgressStreak"`
	History          []IterationResult      `json:"history"`
	TaskAttempts     map[string]TaskAttempt `json:"task_attempts"`
	BlockedTasks     map[string]BlockedTask `json:"blocked_tasks"`
	Snapshots        []SnapshotMeta         `json:"snapshots"`
	AttemptHistory   []UnblockEvent         `json:"attempt_history"`
}

// MaxHistory is the ring-buffer capacity for PersistentState.History.
const MaxHistory = 200

// New returns a freshly initialized PersistentState.
func New() *PersistentState {
	return &PersistentState{
		CreatedAt:    time.Now().UTC(),
		TaskAttempts: map[string]TaskAttempt{},
		BlockedTasks: map[string]BlockedTask{},
	}
}

// AppendHistory appends an entry and truncates to the last MaxHistory
// entries, per spec.md §4.G step 12. Using append+truncate (rather than a
// hand-rolled circular index) keeps JSON encoding a plain ordered slice;
// spec.md §9's ring-buffer guidance is honored by bounding growth here
// instead of growing state.json without limit.
func (s *PersistentState) AppendHistory(r IterationResult) {
	s.History = append(s.History, r)
	if len(s.History) > MaxHistory {
		s.History = s.History[len(s.History)-MaxHistory:]
	}
}

// LastIteration returns the iteration number of the last history entry, or
// 0 if history is empty (so the next iteration number is always
// LastIteration()+1, satisfying the monotonic-numbering invariant).
func (s *PersistentState) LastIteration() int {
	if len(s.History) == 0 {
		return 0
	}
	return s.History[len(s.History)-1].Iteration
}

// WorkerStatus is the lifecycle state of one parallel worker.
type WorkerStatus string

const (
	WorkerQueued  WorkerStatus = "queued"
	WorkerRunning WorkerStatus = "running"
	WorkerSuccess WorkerStatus = "success"
	WorkerFailed  WorkerStatus = "failed"
)

// WorkerState is transient per-parallel-task bookkeeping; it is never
// persisted to state.json (parallel workers write their own state.json
// inside their worktree, per spec.md §5 shared-resource policy).
type WorkerState struct {
	WorkerID      int             `json:"worker_id"`
	Task          Task            `json:"task"`
	WorktreePath  string          `json:"worktree_path"`
	BranchName    string          `json:"branch_name"`
	Status        WorkerStatus    `json:"status"`
	StartedAt     time.Time       `json:"started_at"`
	CompletedAt   time.Time       `json:"completed_at,omitempty"`
	Result        *IterationResult `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
}
