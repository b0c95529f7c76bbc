package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// StateFileName is the path, relative to the .ralph directory, of the
// durable state document.
const StateFileName = "state.json"

// Store owns .ralph/state.json. All mutators go through Mutate, which
// guarantees read-modify-atomic-write under a process-local lock; the
// Iteration Engine is the only caller that mutates state on the main loop
// path (spec.md §5 shared-resource policy).
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore opens a Store rooted at "<ralphDir>/state.json". ralphDir is
// typically "<project_root>/.ralph".
func NewStore(ralphDir string) *Store {
	return &Store{path: filepath.Join(ralphDir, StateFileName)}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Load reads and validates state.json, returning a fresh PersistentState if
// the file does not yet exist.
func (s *Store) Load() (*PersistentState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	var st PersistentState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	if st.TaskAttempts == nil {
		st.TaskAttempts = map[string]TaskAttempt{}
	}
	if st.BlockedTasks == nil {
		st.BlockedTasks = map[string]BlockedTask{}
	}
	if err := Validate(&st); err != nil {
		return nil, fmt.Errorf("validate %s: %w", s.path, err)
	}
	return &st, nil
}

// LoadFrom reads and validates a PersistentState from an arbitrary path,
// used by the Snapshot Manager to load a named state backup file
// (.ralph/snapshots/<name>_state.json) independently of any Store's own
// state.json.
func LoadFrom(path string) (*PersistentState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var st PersistentState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if st.TaskAttempts == nil {
		st.TaskAttempts = map[string]TaskAttempt{}
	}
	if st.BlockedTasks == nil {
		st.BlockedTasks = map[string]BlockedTask{}
	}
	if err := Validate(&st); err != nil {
		return nil, fmt.Errorf("validate %s: %w", path, err)
	}
	return &st, nil
}

// Save atomically persists st to state.json.
func (s *Store) Save(st *PersistentState) error {
	return WriteAtomicJSON(s.path, st)
}

// Mutate loads the current state, applies fn, and atomically saves the
// result, all under the store's lock. fn may return an error to abort the
// mutation without writing.
func (s *Store) Mutate(fn func(*PersistentState) error) (*PersistentState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.Load()
	if err != nil {
		return nil, err
	}
	if err := fn(st); err != nil {
		return nil, err
	}
	if err := s.Save(st); err != nil {
		return nil, err
	}
	return st, nil
}
