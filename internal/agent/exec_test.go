package agent

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunCapturesStdoutAndStderr(t *testing.T) {
	inv := Invocation{Argv: []string{"sh", "-c", "echo out; echo err 1>&2"}}
	res, err := Run(context.Background(), t.TempDir(), inv, 0, nil)
	require.NoError(t, err)
	require.Equal(t, 0, res.ReturnCode)
	require.Contains(t, res.CombinedOutput, "out")
	require.Contains(t, res.CombinedOutput, "err")
	require.False(t, res.TimedOut)
}

func TestRunReportsNonZeroExitCode(t *testing.T) {
	inv := Invocation{Argv: []string{"sh", "-c", "exit 7"}}
	res, err := Run(context.Background(), t.TempDir(), inv, 0, nil)
	require.NoError(t, err)
	require.Equal(t, 7, res.ReturnCode)
}

func TestRunFeedsStdin(t *testing.T) {
	inv := Invocation{Argv: []string{"sh", "-c", "cat"}, Stdin: "hello from stdin"}
	res, err := Run(context.Background(), t.TempDir(), inv, 0, nil)
	require.NoError(t, err)
	require.Contains(t, res.CombinedOutput, "hello from stdin")
}

func TestRunTimesOutAndKillsProcess(t *testing.T) {
	inv := Invocation{Argv: []string{"sh", "-c", "sleep 5"}}
	res, err := Run(context.Background(), t.TempDir(), inv, 50*time.Millisecond, nil)
	require.NoError(t, err)
	require.True(t, res.TimedOut)
	require.Equal(t, sentinelTimeoutCode, res.ReturnCode)
}

func TestRunTeesOutputWhileCapturing(t *testing.T) {
	var tee bytes.Buffer
	inv := Invocation{Argv: []string{"sh", "-c", "echo tee-me"}}
	res, err := Run(context.Background(), t.TempDir(), inv, 0, &tee)
	require.NoError(t, err)
	require.Contains(t, tee.String(), "tee-me")
	require.Contains(t, res.CombinedOutput, "tee-me")
}
