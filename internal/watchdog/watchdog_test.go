package watchdog

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/me/zkq/pkg/model"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunSuccess(t *testing.T) {
	res, err := Run(context.Background(), Spec{
		Shell:          "echo hello",
		TimeoutSeconds: -1,
	}, newTestLogger())
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.False(t, res.TimedOut)
}

func TestRunArgv(t *testing.T) {
	res, err := Run(context.Background(), Spec{
		Command:        []string{"echo", "a", "b"},
		TimeoutSeconds: -1,
	}, newTestLogger())
	require.NoError(t, err)
	assert.Equal(t, "a b\n", res.Stdout)
}

func TestRunNonZeroExit(t *testing.T) {
	res, err := Run(context.Background(), Spec{
		Shell:          "echo oops >&2; exit 3",
		TimeoutSeconds: -1,
	}, newTestLogger())
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "oops\n", res.Stderr)
	assert.Equal(t, model.OutcomeFailure, model.ClassifyExit(res.ExitCode))
}

func TestRunMissingBinary(t *testing.T) {
	_, err := Run(context.Background(), Spec{
		Command:        []string{"/no/such/binary"},
		TimeoutSeconds: -1,
	}, newTestLogger())
	require.Error(t, err)
}

func TestRunEnvAndDir(t *testing.T) {
	dir := t.TempDir()
	res, err := Run(context.Background(), Spec{
		Shell:          "echo $ZKQ_TEST_VAR; pwd",
		Dir:            dir,
		Env:            []string{"ZKQ_TEST_VAR=present"},
		TimeoutSeconds: -1,
	}, newTestLogger())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(res.Stdout), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "present", lines[0])
	assert.Equal(t, dir, lines[1])
}

func TestTimeoutReturnsSentinel(t *testing.T) {
	start := time.Now()
	res, err := Run(context.Background(), Spec{
		Shell:          "sleep 30",
		TimeoutSeconds: 1,
	}, newTestLogger())
	require.NoError(t, err)
	assert.Equal(t, model.KilledExitCode, res.ExitCode)
	assert.True(t, res.TimedOut)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, model.OutcomeTimeout, model.ClassifyExit(res.ExitCode))
}

func TestTimeoutKillsWholeTree(t *testing.T) {
	// The shell prints its forked child's pid, then blocks. After the kill
	// no process from the tree may remain alive.
	res, err := Run(context.Background(), Spec{
		Shell:          "sleep 60 & echo $!; wait",
		TimeoutSeconds: 1,
	}, newTestLogger())
	require.NoError(t, err)
	require.Equal(t, model.KilledExitCode, res.ExitCode)

	childPid, err := strconv.Atoi(strings.TrimSpace(res.Stdout))
	require.NoError(t, err, "child pid should be in partial stdout: %q", res.Stdout)

	// Allow the kernel a moment to reap.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if syscall.Kill(childPid, 0) != nil {
			return // gone
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("descendant %d still alive after watchdog kill", childPid)
}

func TestNaturalExitBeatsDeadline(t *testing.T) {
	res, err := Run(context.Background(), Spec{
		Shell:          "echo fast",
		TimeoutSeconds: 30,
	}, newTestLogger())
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.False(t, res.TimedOut)
}

func TestContextCancellationKills(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := Run(ctx, Spec{
		Shell:          "sleep 30",
		TimeoutSeconds: -1,
	}, newTestLogger())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
