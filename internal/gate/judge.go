package gate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jscraik/ralph-gold/internal/agent"
	"github.com/jscraik/ralph-gold/internal/config"
	"github.com/jscraik/ralph-gold/internal/state"
)

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

// AgentRunner invokes an agent subprocess for a prompt and returns its
// combined output. Both the LLM judge and the default review backend use
// this seam so tests can fake the subprocess layer.
type AgentRunner func(ctx context.Context, dir, agentName, prompt string) (string, error)

// RunAgent is the production AgentRunner, built on internal/agent and the
// project's configured runner argv templates.
func RunAgent(runners map[string]config.RunnerConfig, runnerTimeoutSeconds int) AgentRunner {
	return func(ctx context.Context, dir, agentName, prompt string) (string, error) {
		runner, ok := runners[agentName]
		if !ok {
			return "", fmt.Errorf("gate: unknown agent %q", agentName)
		}
		inv := agent.BuildInvocation(agent.KindFromName(agentName), prompt, runner.Argv)
		res, err := agent.Run(ctx, dir, inv, secondsToDuration(runnerTimeoutSeconds), nil)
		if err != nil {
			return "", err
		}
		return res.CombinedOutput, nil
	}
}

// Judge runs the optional LLM-judge pass: the judge agent is shown a diff
// (truncated to max_diff_chars) and the judge's prompt template, and its
// verdict is read the same way the engine reads the exit signal — a literal
// JUDGE_OK: true|false line, case-insensitive, last match wins.
func Judge(ctx context.Context, dir string, cfg config.LLMJudgeConfig, diff string, run AgentRunner) (state.TriState, string, error) {
	if !cfg.Enabled {
		return state.Absent, "", nil
	}
	prompt := cfg.Prompt + "\n\n" + truncateChars(diff, cfg.MaxDiffChars)
	output, err := run(ctx, dir, cfg.Agent, prompt)
	if err != nil {
		return state.Absent, "", err
	}
	return parseVerdict(output, "JUDGE_OK"), output, nil
}

func truncateChars(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "\n... (diff truncated)\n"
}

// parseVerdict scans text for the last "<TOKEN>: true|false" line,
// case-insensitive, mirroring the engine's EXIT_SIGNAL parsing convention.
func parseVerdict(text, token string) state.TriState {
	result := state.Absent
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		upper := strings.ToUpper(line)
		prefix := token + ":"
		if !strings.HasPrefix(upper, prefix) {
			continue
		}
		value := strings.ToLower(strings.TrimSpace(line[len(prefix):]))
		switch value {
		case "true":
			result = state.True
		case "false":
			result = state.False
		}
	}
	return result
}
