package state

import (
	"fmt"
	"sort"
)

// Validate checks the shape invariants spec.md assumes of state.json:
// invocation timestamps are monotonically non-decreasing, history never
// exceeds MaxHistory, and history iteration numbers are strictly
// increasing. This is the Go port of original_source/state_validation.py
// (see SPEC_FULL.md §5): rather than silently accepting corrupt state, a
// violation is surfaced as an error so the caller can decide whether to
// repair or refuse to start.
func Validate(st *PersistentState) error {
	if len(st.History) > MaxHistory {
		return fmt.Errorf("history has %d entries, exceeds ring capacity %d", len(st.History), MaxHistory)
	}
	for i := 1; i < len(st.History); i++ {
		if st.History[i].Iteration <= st.History[i-1].Iteration {
			return fmt.Errorf("history not monotonic at index %d: %d <= %d",
				i, st.History[i].Iteration, st.History[i-1].Iteration)
		}
	}
	if !sort.SliceIsSorted(st.Invocations, func(i, j int) bool { return st.Invocations[i] < st.Invocations[j] }) {
		return fmt.Errorf("invocations ledger is not sorted ascending")
	}
	return nil
}

// Repair attempts to fix common, non-adversarial corruption: it re-sorts
// invocations and truncates history to the last MaxHistory entries ordered
// by iteration number. It does not attempt to repair history whose
// iteration numbers collide or go backwards out of order beyond a simple
// sort, since that indicates concurrent writers rather than simple drift.
func Repair(st *PersistentState) {
	sort.Slice(st.Invocations, func(i, j int) bool { return st.Invocations[i] < st.Invocations[j] })
	sort.SliceStable(st.History, func(i, j int) bool { return st.History[i].Iteration < st.History[j].Iteration })
	if len(st.History) > MaxHistory {
		st.History = st.History[len(st.History)-MaxHistory:]
	}
}
