package executor

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/me/zkq/pkg/model"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestShellExecuteSuccess(t *testing.T) {
	sh := NewShell(newTestLogger())

	res, err := sh.Execute(context.Background(), &Job{
		App:            "etl/profile",
		JobID:          "20140606_1111_profile",
		Command:        "echo hello",
		TimeoutSeconds: -1,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, model.OutcomeSuccess, model.ClassifyExit(res.ExitCode))
}

func TestShellExecuteAppendsExtraArgs(t *testing.T) {
	sh := NewShell(newTestLogger())

	res, err := sh.Execute(context.Background(), &Job{
		App:            "etl/profile",
		JobID:          "20140606_1111_profile",
		Command:        "echo",
		ExtraArgs:      []string{"arg1", "--arg2"},
		TimeoutSeconds: -1,
	})
	require.NoError(t, err)
	assert.Equal(t, "arg1 --arg2\n", res.Stdout)
}

func TestShellExecuteEmptyCommand(t *testing.T) {
	sh := NewShell(newTestLogger())
	_, err := sh.Execute(context.Background(), &Job{
		App:            "etl/profile",
		JobID:          "20140606_1111_profile",
		TimeoutSeconds: -1,
	})
	require.Error(t, err)
}

func TestShellExecuteTimeout(t *testing.T) {
	sh := NewShell(newTestLogger())

	res, err := sh.Execute(context.Background(), &Job{
		App:            "etl/profile",
		JobID:          "20140606_1111_profile",
		Command:        "sleep 30",
		TimeoutSeconds: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, model.KilledExitCode, res.ExitCode)
	assert.True(t, res.TimedOut)
	assert.Equal(t, model.OutcomeTimeout, model.ClassifyExit(res.ExitCode))
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(newTestLogger())
	sh := NewShell(newTestLogger())
	reg.Register(sh)

	got, err := reg.Get(ShellName)
	require.NoError(t, err)
	assert.Same(t, Executor(sh), got)

	// Empty name selects the shell executor.
	got, err = reg.Get("")
	require.NoError(t, err)
	assert.Same(t, Executor(sh), got)

	_, err = reg.Get("docker")
	require.Error(t, err)
}
