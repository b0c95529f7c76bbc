package gate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jscraik/ralph-gold/internal/config"
	"github.com/jscraik/ralph-gold/internal/state"
)

func TestRunAllPassing(t *testing.T) {
	report := Run(context.Background(), t.TempDir(), []string{"true", "echo hi"}, false, 0)
	require.True(t, report.Ok)
	require.Len(t, report.Results, 2)
}

func TestRunFailFastStillRunsAllCommands(t *testing.T) {
	report := Run(context.Background(), t.TempDir(), []string{"false", "true", "false"}, true, 0)
	require.False(t, report.Ok)
	require.Len(t, report.Results, 3, "fail_fast must still execute every command per spec")
}

func TestRunRecordsNonZeroExitCode(t *testing.T) {
	report := Run(context.Background(), t.TempDir(), []string{"exit 3"}, false, 0)
	require.False(t, report.Ok)
	require.Equal(t, 3, report.Results[0].ExitCode)
}

func TestSummarizeErrorsOnlyOmitsPassingOutput(t *testing.T) {
	// Every command line is listed in the summary, so the passing command's
	// text must not itself contain the word it prints.
	report := Run(context.Background(), t.TempDir(), []string{"printf 'g%sd' oo", "sh -c 'echo bad 1>&2; exit 1'"}, false, 0)
	out := Summarize(report, "errors_only", 0)
	require.NotContains(t, out, "good")
	require.Contains(t, out, "FAIL")
}

func TestParseVerdictLastMatchWins(t *testing.T) {
	text := "JUDGE_OK: false\nsome other output\nJUDGE_OK: true\n"
	require.Equal(t, state.True, parseVerdict(text, "JUDGE_OK"))
}

func TestParseVerdictAbsentWhenNoToken(t *testing.T) {
	require.Equal(t, state.Absent, parseVerdict("nothing relevant here", "JUDGE_OK"))
}

func TestJudgeDisabledReturnsAbsent(t *testing.T) {
	result, _, err := Judge(context.Background(), ".", config.LLMJudgeConfig{Enabled: false}, "diff", nil)
	require.NoError(t, err)
	require.Equal(t, state.Absent, result)
}

func TestJudgeEnabledCallsRunnerAndParsesVerdict(t *testing.T) {
	fake := func(ctx context.Context, dir, agentName, prompt string) (string, error) {
		require.Equal(t, "claude", agentName)
		require.Contains(t, prompt, "a diff")
		return "JUDGE_OK: true\n", nil
	}
	result, out, err := Judge(context.Background(), ".", config.LLMJudgeConfig{Enabled: true, Agent: "claude", Prompt: "judge this"}, "a diff", fake)
	require.NoError(t, err)
	require.Equal(t, state.True, result)
	require.Contains(t, out, "JUDGE_OK")
}

func TestRunnerReviewBackendParsesReviewOk(t *testing.T) {
	fake := func(ctx context.Context, dir, agentName, prompt string) (string, error) {
		return "REVIEW_OK: false\n", nil
	}
	backend := NewReviewRunner(config.ReviewConfig{Enabled: true, Backend: "runner", Agent: "claude"}, fake)
	result, _, err := backend.Review(context.Background(), ".", "diff")
	require.NoError(t, err)
	require.Equal(t, state.False, result)
}

func TestRunnerReviewRequiredTokenAbsentFailsClosed(t *testing.T) {
	fake := func(ctx context.Context, dir, agentName, prompt string) (string, error) {
		return "no verdict token here", nil
	}
	backend := NewReviewRunner(config.ReviewConfig{Enabled: true, Backend: "runner", RequiredToken: "REVIEW_OK"}, fake)
	result, _, err := backend.Review(context.Background(), ".", "diff")
	require.NoError(t, err)
	require.Equal(t, state.False, result, "a required token that never appears must fail closed, not pass silently")
}

func TestRepoPromptReviewDisabledReturnsAbsent(t *testing.T) {
	backend := NewReviewRunner(config.ReviewConfig{Enabled: false, Backend: "repoprompt"}, nil)
	result, _, err := backend.Review(context.Background(), ".", "diff")
	require.NoError(t, err)
	require.Equal(t, state.Absent, result)
}

func TestRepoPromptReviewUnreachableDegradesToAbsent(t *testing.T) {
	backend := NewReviewRunner(config.ReviewConfig{Enabled: true, Backend: "repoprompt"}, nil)
	result, _, err := backend.Review(context.Background(), ".", "diff")
	require.NoError(t, err, "an unreachable local RepoPrompt tool must degrade, not error out of the engine")
	require.Equal(t, state.Absent, result)
}
