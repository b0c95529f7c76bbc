// Package adaptive implements spec.md §4.L: task complexity classification,
// the adaptive timeout formula, and the unblock operation over
// state.blocked_tasks. It also carries the original_source/slo.py
// supplement named in SPEC_FULL.md §5: an SLOTracker consulted when
// adaptive.slo_enabled, whose observed iteration durations can raise a
// computed timeout by adaptive.slo_bump_multiplier.
package adaptive

import (
	"sort"
	"strings"
	"time"

	"github.com/jscraik/ralph-gold/internal/config"
	"github.com/jscraik/ralph-gold/internal/state"
)

// Level is a task complexity classification.
type Level int

const (
	Simple Level = iota
	Medium
	Complex
	UIHeavy
)

func (l Level) String() string {
	switch l {
	case Simple:
		return "SIMPLE"
	case Medium:
		return "MEDIUM"
	case Complex:
		return "COMPLEX"
	case UIHeavy:
		return "UI_HEAVY"
	default:
		return "UNKNOWN"
	}
}

// levelRow is one row of spec.md §4.L's classification table, kept in
// highest-precedence-first order so a tie in hit count is broken toward the
// earlier (simpler) row, per the spec's literal tie-break rule.
type levelRow struct {
	level      Level
	multiplier float64
	baseSecs   int
	keywords   []string
}

var table = []levelRow{
	{Simple, 1.0, 60, []string{"fix", "update", "refactor", "rename"}},
	{Medium, 1.5, 180, []string{"test", "mock", "implement", "basic"}},
	{Complex, 2.0, 300, []string{"cli", "parser", "integration", "middleware"}},
	{UIHeavy, 3.0, 600, []string{"ui", "view", "chart", "dashboard", "component"}},
}

// EstimateComplexity implements estimate_task_complexity: scores
// keyword hits from the task's title and acceptance criteria against the
// table, picks the highest-scoring level (ties broken toward the earlier,
// simpler row), then bumps one level (capped at UI_HEAVY) if the task has
// more than 5 acceptance criteria.
func EstimateComplexity(task state.Task) Level {
	haystack := strings.ToLower(task.Title + " " + strings.Join(task.Acceptance, " "))

	best := Simple
	bestHits := -1
	for _, row := range table {
		hits := 0
		for _, kw := range row.keywords {
			hits += strings.Count(haystack, kw)
		}
		if hits > bestHits {
			bestHits = hits
			best = row.level
		}
	}

	if len(task.Acceptance) > 5 && best < UIHeavy {
		best++
	}
	return best
}

func multiplierFor(level Level) float64 {
	return table[level].multiplier
}

func baseSecondsFor(level Level) int {
	return table[level].baseSecs
}

// Timeout computes calculate_adaptive_timeout. modeTimeoutOverride <= 0
// means "no per-mode override", falling back to cfg.DefaultModeTimeout.
//
// slo, if non-nil and cfg.SLOEnabled, is consulted after the base formula:
// when the level's observed durations are breaching cfg.SLOMarginSeconds of
// the computed timeout (the original_source/slo.py supplement's "timeouts
// are chronically too tight for this class" signal), the timeout is bumped
// by cfg.SLOBumpMultiplier and reclamped. A nil slo (or slo_enabled=false)
// leaves the base formula's result untouched.
func Timeout(cfg config.AdaptiveConfig, level Level, previousFailures int, modeTimeoutOverride int, slo *SLOTracker) time.Duration {
	base := cfg.DefaultModeTimeout
	if modeTimeoutOverride > 0 {
		base = modeTimeoutOverride
	}
	if base <= 0 {
		base = baseSecondsFor(level)
	}

	if !cfg.Enabled {
		return time.Duration(base) * time.Second
	}

	scale := multiplierFor(level)
	if cfg.FailureScaling && previousFailures > 0 {
		mult := cfg.FailureMultiplier
		if mult <= 0 {
			mult = 1
		}
		for i := 0; i < previousFailures; i++ {
			scale *= mult
		}
	}

	seconds := clamp(float64(base)*scale, float64(cfg.MinTimeout), float64(cfg.MaxTimeout))
	timeout := time.Duration(seconds) * time.Second

	if cfg.SLOEnabled && slo != nil && slo.BreachingSLO(level, timeout, cfg.SLOMarginSeconds) {
		bump := cfg.SLOBumpMultiplier
		if bump <= 0 {
			bump = 1
		}
		seconds = clamp(seconds*bump, float64(cfg.MinTimeout), float64(cfg.MaxTimeout))
		timeout = time.Duration(seconds) * time.Second
	}
	return timeout
}

func clamp(v, min, max float64) float64 {
	if max > 0 && v > max {
		v = max
	}
	if v < min {
		v = min
	}
	return v
}

// UnblockReason classifies why a task was blocked, per spec.md §4.L.
type UnblockReason string

const (
	ReasonTimeout      UnblockReason = "timeout"
	ReasonNoFiles      UnblockReason = "no_files"
	ReasonGateFailure  UnblockReason = "gate_failure"
	ReasonAttemptLimit UnblockReason = "attempt_limit"
	ReasonDependency   UnblockReason = "dependency"
	ReasonManual       UnblockReason = "manual"
)

// ClassifyReason infers an UnblockReason from the free-text reason string
// the engine recorded in blocked_tasks, falling back to ReasonManual when
// nothing matches — the engine's own reason strings are the ground truth,
// this is a best-effort label for the unblock report.
func ClassifyReason(reason string) UnblockReason {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out"):
		return ReasonTimeout
	case strings.Contains(lower, "no_files") || strings.Contains(lower, "no files"):
		return ReasonNoFiles
	case strings.Contains(lower, "gate"):
		return ReasonGateFailure
	case strings.Contains(lower, "max_attempts") || strings.Contains(lower, "attempt"):
		return ReasonAttemptLimit
	case strings.Contains(lower, "depend"):
		return ReasonDependency
	default:
		return ReasonManual
	}
}

// BlockedReport is one row of the unblock operation's listing: a blocked
// task joined with its attempt count and classified reason.
type BlockedReport struct {
	TaskID        string
	Reason        string
	Classified    UnblockReason
	AttemptCount  int
	BlockedAt     time.Time
}

// ListBlocked joins state.blocked_tasks with state.task_attempts for
// reporting, sorted by BlockedAt ascending (oldest first).
func ListBlocked(st *state.PersistentState) []BlockedReport {
	reports := make([]BlockedReport, 0, len(st.BlockedTasks))
	for id, b := range st.BlockedTasks {
		reports = append(reports, BlockedReport{
			TaskID:       id,
			Reason:       b.Reason,
			Classified:   ClassifyReason(b.Reason),
			AttemptCount: st.TaskAttempts[id].Count,
			BlockedAt:    b.BlockedAt,
		})
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].BlockedAt.Before(reports[j].BlockedAt) })
	return reports
}

// Unblocker is the narrow tracker capability the unblock operation needs:
// forcing a task back open. Defined here (rather than importing
// internal/tracker's full Tracker interface) to keep this package
// dependency-light and keep the seam easy to fake in tests.
type Unblocker interface {
	ForceTaskOpen(id string) bool
}

// Unblock implements the unblock operation for one task ID: removes it from
// blocked_tasks, resets its attempt count, appends an attempt_history entry,
// and calls tracker.force_task_open. An ID that is not in blocked_tasks is a
// no-op returning false. Batch unblock with a filter is UnblockAll.
func Unblock(st *state.PersistentState, trk Unblocker, taskID string) bool {
	blocked, ok := st.BlockedTasks[taskID]
	if !ok {
		return false
	}
	delete(st.BlockedTasks, taskID)
	delete(st.TaskAttempts, taskID)
	st.AttemptHistory = append(st.AttemptHistory, state.UnblockEvent{
		TaskID:    taskID,
		Timestamp: time.Now().UTC(),
		Reason:    blocked.Reason,
	})
	return trk.ForceTaskOpen(taskID)
}

// UnblockAll applies Unblock to every blocked task ID accepted by filter
// (nil filter accepts everything), returning the IDs actually unblocked.
func UnblockAll(st *state.PersistentState, trk Unblocker, filter func(BlockedReport) bool) []string {
	var unblocked []string
	for _, report := range ListBlocked(st) {
		if filter != nil && !filter(report) {
			continue
		}
		if Unblock(st, trk, report.TaskID) {
			unblocked = append(unblocked, report.TaskID)
		}
	}
	return unblocked
}

// SLOTracker is the original_source/slo.py supplement (SPEC_FULL.md §5): a
// rolling window of observed iteration durations per complexity level,
// consulted when adaptive.slo_enabled to detect a level whose timeouts are
// chronically too tight (observed durations clustering near the ceiling).
type SLOTracker struct {
	window    int
	durations map[Level][]time.Duration
}

// NewSLOTracker builds a tracker retaining the last windowSize observations
// per level.
func NewSLOTracker(windowSize int) *SLOTracker {
	if windowSize <= 0 {
		windowSize = 20
	}
	return &SLOTracker{window: windowSize, durations: map[Level][]time.Duration{}}
}

// Observe records one completed iteration's duration for its task's
// complexity level.
func (s *SLOTracker) Observe(level Level, d time.Duration) {
	entries := append(s.durations[level], d)
	if len(entries) > s.window {
		entries = entries[len(entries)-s.window:]
	}
	s.durations[level] = entries
}

// BreachingSLO reports whether level's observed durations are, on average,
// within marginSeconds of the configured timeout — a signal that the
// timeout is too tight for this complexity class and should be raised.
func (s *SLOTracker) BreachingSLO(level Level, timeout time.Duration, marginSeconds int) bool {
	entries := s.durations[level]
	if len(entries) == 0 {
		return false
	}
	var total time.Duration
	for _, d := range entries {
		total += d
	}
	avg := total / time.Duration(len(entries))
	return timeout-avg <= time.Duration(marginSeconds)*time.Second
}

