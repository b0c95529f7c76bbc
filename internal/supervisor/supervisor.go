// Package supervisor implements the Supervisor (spec.md §4.I): a
// long-running outer loop that layers heartbeats, max-runtime, rate-limit
// policy, no-progress policy, all-blocked detection and notifications on
// top of the Iteration Engine, one iteration at a time (the Loop Driver's
// own bounded Run is not used here — the Supervisor needs to intervene
// between every single iteration, not just at a fixed stop-condition set).
package supervisor

import (
	"context"
	"errors"
	"time"

	"github.com/jscraik/ralph-gold/internal/config"
	"github.com/jscraik/ralph-gold/internal/engine"
	"github.com/jscraik/ralph-gold/internal/notify"
	"github.com/jscraik/ralph-gold/internal/rlog"
	"github.com/jscraik/ralph-gold/internal/state"
	"github.com/jscraik/ralph-gold/internal/tracker"
)

// StopReason names why Run stopped, exposed so the caller can compute the
// process exit code (0=complete, 1=stopped, 2=error) per spec.md §7.
type StopReason string

const (
	StopComplete    StopReason = "complete"
	StopRateLimit   StopReason = "rate_limit"
	StopNoProgress  StopReason = "no_progress"
	StopMaxRuntime  StopReason = "max_runtime"
	StopAllBlocked  StopReason = "all_blocked"
	StopRequested   StopReason = "requested" // external stop event fired
)

// ExitCode maps a StopReason (or a fatal error) to spec.md §7's process
// exit code convention.
func ExitCode(reason StopReason, fatalErr error) int {
	if fatalErr != nil {
		return 2
	}
	if reason == StopComplete {
		return 0
	}
	return 1
}

// Control lets an external caller (a CLI signal handler, a bridge RPC) ask
// a running Supervisor to stop between iterations, per spec.md §5's
// cancellation semantics: an iteration, once begun, always completes or
// times out.
type Control struct {
	stop chan struct{}
}

// NewControl returns a fresh, unstopped Control.
func NewControl() *Control { return &Control{stop: make(chan struct{})} }

// RequestStop signals the Supervisor to stop after the current iteration.
// Safe to call multiple times.
func (c *Control) RequestStop() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
}

func (c *Control) stopped() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

// Supervisor wraps an Engine with the outer-loop policies of spec.md §4.I.
type Supervisor struct {
	Engine    *engine.Engine
	Tracker   tracker.Tracker
	Loop      config.LoopConfig
	Notifier  notify.Notifier
	NotifyOn  map[string]bool
	Logger    *rlog.Logger
	AgentName string
}

// New builds a Supervisor. notifyOn is the loop.notify_on config list
// (e.g. ["complete", "stopped"]); events not named there are silently
// skipped, per spec.md §4.I.
func New(e *engine.Engine, trk tracker.Tracker, loop config.LoopConfig, notifier notify.Notifier, logger *rlog.Logger, agentName string) *Supervisor {
	notifyOn := map[string]bool{}
	for _, name := range loop.NotifyOn {
		notifyOn[name] = true
	}
	return &Supervisor{Engine: e, Tracker: trk, Loop: loop, Notifier: notifier, NotifyOn: notifyOn, Logger: logger, AgentName: agentName}
}

// Run drives iterations until a stop condition fires or the context is
// cancelled. It never returns a non-nil error for an expected stop (rate
// limit treated per policy, no-progress, all-blocked, max-runtime,
// completion); it returns an error for an uncaught engine error (the
// caller maps that to exit code 2 via ExitCode) and, when ctx is cancelled,
// StopRequested together with ctx.Err().
func (s *Supervisor) Run(ctx context.Context, control *Control) (StopReason, error) {
	start := time.Now()
	lastHeartbeat := time.Now()

	for {
		if control != nil && control.stopped() {
			s.notify(notify.Stopped, "ralph-gold stopped", "stop requested between iterations")
			return StopRequested, nil
		}
		if s.Loop.MaxRuntimeSeconds > 0 && time.Since(start) >= time.Duration(s.Loop.MaxRuntimeSeconds)*time.Second {
			s.notify(notify.Stopped, "ralph-gold stopped", "max_runtime exceeded")
			return StopMaxRuntime, nil
		}
		if s.Tracker.AllBlocked() {
			s.notify(notify.Stopped, "ralph-gold stopped", "every remaining task is blocked")
			return StopAllBlocked, nil
		}

		result, err := s.Engine.Run(ctx, s.AgentName, "")
		if err != nil {
			var rateErr *engine.RateLimitExceededError
			if errors.As(err, &rateErr) {
				if s.Loop.RateLimitPolicy == "stop" {
					s.notify(notify.Stopped, "ralph-gold stopped", "rate limit exceeded")
					return StopRateLimit, nil
				}
				select {
				case <-time.After(rateErr.RetryAfter):
					continue
				case <-ctx.Done():
					return StopRequested, ctx.Err()
				}
			}
			s.notify(notify.Error, "ralph-gold error", err.Error())
			return "", err
		}

		if time.Since(lastHeartbeat) >= time.Duration(s.Loop.HeartbeatSeconds)*time.Second {
			s.heartbeat(result)
			lastHeartbeat = time.Now()
		}

		if result.NoProgressStreak >= s.Loop.NoProgressLimit && s.Loop.NoProgressLimit > 0 {
			if s.Loop.NoProgressPolicy == "continue" {
				if _, err := s.Engine.Store.Mutate(func(st *state.PersistentState) error {
					st.NoProgressStreak = 0
					return nil
				}); err != nil && s.Logger != nil {
					s.Logger.Verbosef("reset no_progress_streak: %v", err)
				}
			} else {
				s.notify(notify.Stopped, "ralph-gold stopped", "no progress for too long")
				return StopNoProgress, nil
			}
		}

		if s.Tracker.AllDone() && result.EffectiveExitSignal().IsTrue() {
			s.notify(notify.Complete, "ralph-gold complete", "all tasks done and the agent signaled completion")
			return StopComplete, nil
		}

		select {
		case <-time.After(time.Duration(s.Loop.SleepSecondsBetweenIters) * time.Second):
		case <-ctx.Done():
			return StopRequested, ctx.Err()
		}
	}
}

func (s *Supervisor) heartbeat(result state.IterationResult) {
	if s.Logger == nil {
		return
	}
	done, total := s.Tracker.Counts()
	s.Logger.Status("[heartbeat] %d/%d done | iter=%d task=%s rc=%d gates=%s judge=%s review=%s no_progress=%d",
		done, total, result.Iteration, result.TaskID, result.ReturnCode,
		result.GatesOk, result.JudgeOk, result.ReviewOk, result.NoProgressStreak)
}

func (s *Supervisor) notify(event notify.Event, title, message string) {
	if s.Notifier == nil || !s.NotifyOn[string(event)] {
		return
	}
	if err := s.Notifier.Send(event, title, message); err != nil && s.Logger != nil {
		s.Logger.Verbosef("notify: %v", err)
	}
}
