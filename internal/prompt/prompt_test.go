package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jscraik/ralph-gold/internal/config"
	"github.com/jscraik/ralph-gold/internal/state"
)

func TestBuildWithTaskIncludesAcceptanceAndExitProtocol(t *testing.T) {
	cfg := config.Default()
	task := &state.Task{ID: "1", Title: "hello", Acceptance: []string{"does a thing"}}

	out, err := Build(cfg, 3, task)
	require.NoError(t, err)
	require.Contains(t, out, "iteration 3")
	require.Contains(t, out, "ID: 1")
	require.Contains(t, out, "does a thing")
	require.Contains(t, out, "EXIT_SIGNAL: true")
	require.Contains(t, out, "EXIT_SIGNAL: false")
}

func TestBuildWithNoTaskUsesFallback(t *testing.T) {
	cfg := config.Default()
	out, err := Build(cfg, 1, nil)
	require.NoError(t, err)
	require.Contains(t, out, "No task is currently selectable")
}

func TestBuildListsMemoryFilesFromConfig(t *testing.T) {
	cfg := config.Default()
	out, err := Build(cfg, 1, nil)
	require.NoError(t, err)
	for _, f := range []string{cfg.Files.Prompt, cfg.Files.Agents, cfg.Files.PRD, cfg.Files.Progress} {
		require.True(t, strings.Contains(out, f), "expected prompt to mention %s", f)
	}
}
