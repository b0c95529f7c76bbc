// Package fileprd holds the Tracker logic shared by the JSON and YAML PRD
// backends: both store an explicit list of task entries with an explicit
// status field, differing only in serialization and in whether entries are
// priority-sorted (spec.md §4.C selection algorithm: "JSON: after stable
// sort by integer priority ascending with default 10000; YAML: document
// order").
package fileprd

import (
	"os"
	"sort"

	"github.com/jscraik/ralph-gold/internal/state"
	"github.com/jscraik/ralph-gold/internal/tracker"
)

// DefaultPriority is used for entries with no explicit priority.
const DefaultPriority = 10000

// Entry is one task as stored on disk.
type Entry struct {
	ID         string   `json:"id" yaml:"id"`
	Title      string   `json:"title" yaml:"title"`
	Kind       string   `json:"kind,omitempty" yaml:"kind,omitempty"`
	Acceptance []string `json:"acceptance,omitempty" yaml:"acceptance,omitempty"`
	DependsOn  []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Group      string   `json:"group,omitempty" yaml:"group,omitempty"`
	Status     string   `json:"status" yaml:"status"`
	Priority   *int     `json:"priority,omitempty" yaml:"priority,omitempty"`
}

func (e Entry) priority() int {
	if e.Priority == nil {
		return DefaultPriority
	}
	return *e.Priority
}

func (e Entry) toTask() state.Task {
	return state.Task{
		ID:         e.ID,
		Title:      e.Title,
		Kind:       e.Kind,
		Acceptance: e.Acceptance,
		DependsOn:  e.DependsOn,
		Group:      e.Group,
		Status:     state.TaskStatus(e.Status),
	}
}

// Document is the top-level file shape: an optional declared branch and the
// task list.
type Document struct {
	Branch string  `json:"branch,omitempty" yaml:"branch,omitempty"`
	Tasks  []Entry `json:"tasks" yaml:"tasks"`
}

// Codec abstracts the JSON/YAML serialization difference.
type Codec interface {
	Unmarshal(data []byte, doc *Document) error
	Marshal(doc Document) ([]byte, error)
}

// Tracker is the shared file-backed Tracker implementation.
type Tracker struct {
	path         string
	codec        Codec
	sortPriority bool
}

// New constructs a Tracker backed by path, using codec for
// serialization. sortPriority enables the JSON backend's
// priority-ascending stable sort; the YAML backend passes false to keep
// document order.
func New(path string, codec Codec, sortPriority bool) tracker.Tracker {
	return &Tracker{path: path, codec: codec, sortPriority: sortPriority}
}

func (t *Tracker) load() Document {
	data, err := os.ReadFile(t.path)
	if err != nil {
		return Document{}
	}
	var doc Document
	if err := t.codec.Unmarshal(data, &doc); err != nil {
		return Document{}
	}
	if t.sortPriority {
		sort.SliceStable(doc.Tasks, func(i, j int) bool {
			return doc.Tasks[i].priority() < doc.Tasks[j].priority()
		})
	}
	return doc
}

func (t *Tracker) save(doc Document) error {
	data, err := t.codec.Marshal(doc)
	if err != nil {
		return err
	}
	return os.WriteFile(t.path, data, 0o644)
}

func statusIndex(doc Document) map[string]state.TaskStatus {
	idx := make(map[string]state.TaskStatus, len(doc.Tasks))
	for _, e := range doc.Tasks {
		idx[e.ID] = state.TaskStatus(e.Status)
	}
	return idx
}

func (t *Tracker) PeekNextTask(exclude map[string]struct{}) (state.Task, bool) {
	doc := t.load()
	statuses := statusIndex(doc)
	for _, e := range doc.Tasks {
		if _, skip := exclude[e.ID]; skip {
			continue
		}
		task := e.toTask()
		if task.Selectable(statuses) {
			return task, true
		}
	}
	return state.Task{}, false
}

func (t *Tracker) ClaimNextTask() (state.Task, bool) {
	return t.PeekNextTask(nil)
}

func (t *Tracker) Counts() (done, total int) {
	doc := t.load()
	for _, e := range doc.Tasks {
		total++
		if state.TaskStatus(e.Status) == state.StatusDone {
			done++
		}
	}
	return done, total
}

func (t *Tracker) AllDone() bool {
	doc := t.load()
	if len(doc.Tasks) == 0 {
		return false
	}
	for _, e := range doc.Tasks {
		if state.TaskStatus(e.Status) != state.StatusDone {
			return false
		}
	}
	return true
}

func (t *Tracker) AllBlocked() bool {
	doc := t.load()
	any := false
	for _, e := range doc.Tasks {
		if state.TaskStatus(e.Status) == state.StatusDone {
			continue
		}
		any = true
		if state.TaskStatus(e.Status) != state.StatusBlocked {
			return false
		}
	}
	return any
}

func (t *Tracker) IsTaskDone(id string) bool {
	doc := t.load()
	for _, e := range doc.Tasks {
		if e.ID == id {
			return state.TaskStatus(e.Status) == state.StatusDone
		}
	}
	return false
}

func (t *Tracker) ForceTaskOpen(id string) bool {
	return t.setStatus(id, state.StatusOpen)
}

func (t *Tracker) BlockTask(id, reason string) bool {
	_ = reason
	return t.setStatus(id, state.StatusBlocked)
}

func (t *Tracker) setStatus(id string, status state.TaskStatus) bool {
	doc := t.load()
	changed := false
	for i := range doc.Tasks {
		if doc.Tasks[i].ID == id {
			if state.TaskStatus(doc.Tasks[i].Status) == status {
				return false
			}
			doc.Tasks[i].Status = string(status)
			changed = true
			break
		}
	}
	if !changed {
		return false
	}
	return t.save(doc) == nil
}

func (t *Tracker) BranchName() (string, bool) {
	doc := t.load()
	if doc.Branch == "" {
		return "", false
	}
	return doc.Branch, true
}

func (t *Tracker) GetParallelGroups() map[string][]state.Task {
	doc := t.load()
	if len(doc.Tasks) == 0 {
		return map[string][]state.Task{}
	}
	groups := map[string][]state.Task{}
	for _, e := range doc.Tasks {
		task := e.toTask()
		g := task.EffectiveGroup()
		groups[g] = append(groups[g], task)
	}
	return groups
}
