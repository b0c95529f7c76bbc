// Package beads registers the "beads" tracker kind. spec.md §1 lists Beads
// among the concrete backends whose contract (not implementation) is in
// scope; this package exists so tracker.New("beads", …) fails with a clear,
// typed error instead of UnknownKindError, matching the config enum at
// tracker.kind = "auto|markdown|json|yaml|beads|github_issues".
package beads

import "github.com/jscraik/ralph-gold/internal/tracker"

func init() {
	tracker.Register("beads", New)
}

// UnimplementedError reports that the Beads backend has no concrete
// implementation in this repository.
type UnimplementedError struct{}

func (e *UnimplementedError) Error() string {
	return "tracker: beads backend is not implemented; only its contract is specified"
}

// New always fails: Beads is an external issue tracker with no open Go
// client in the example corpus to ground a concrete wiring on.
func New(projectRoot string) (tracker.Tracker, error) {
	return nil, &UnimplementedError{}
}
