// Package watchdog runs an external job process with an optional wall-clock
// deadline. On expiry it kills the process and every live descendant, so a
// job that shells out or forks cannot leave orphaned work behind, and
// reports the sentinel exit code instead of a genuine process exit.
package watchdog

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/me/zkq/pkg/model"
)

// Spec describes one bounded execution.
type Spec struct {
	// Shell, when non-empty, is run via "sh -c" and Command is ignored.
	Shell string
	// Command is the argv to execute directly.
	Command []string
	// Dir is the working directory; empty means inherit.
	Dir string
	// Env entries are appended to the parent environment when non-empty.
	Env []string
	// TimeoutSeconds arms the deadline; negative disables it.
	TimeoutSeconds int
}

// Result is the captured outcome of a run.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
}

// Run starts the process and waits for it to exit. If the deadline expires
// first, the live descendant set is enumerated at that moment, the whole
// tree receives SIGKILL, and the result carries model.KilledExitCode with
// whatever output was captured. An error return means the process could not
// be started or the context was cancelled, not that the job itself failed.
func Run(ctx context.Context, spec Spec, logger *slog.Logger) (Result, error) {
	var cmd *exec.Cmd
	switch {
	case spec.Shell != "":
		cmd = exec.Command("/bin/sh", "-c", spec.Shell)
	case len(spec.Command) > 0:
		cmd = exec.Command(spec.Command[0], spec.Command[1:]...)
	default:
		return Result{}, fmt.Errorf("watchdog: empty command")
	}

	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	// Own process group, so the group id doubles as a kill handle for the
	// direct tree even before descendants are enumerated.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("watchdog: start: %w", err)
	}
	pid := cmd.Process.Pid

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var deadline <-chan time.Time
	if spec.TimeoutSeconds >= 0 {
		t := time.NewTimer(time.Duration(spec.TimeoutSeconds) * time.Second)
		defer t.Stop()
		deadline = t.C
	}

	select {
	case waitErr := <-done:
		return Result{
			ExitCode: exitCode(waitErr),
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
		}, nil

	case <-deadline:
		logger.Warn("watchdog deadline expired, killing process tree",
			"pid", pid, "timeout_seconds", spec.TimeoutSeconds)
		killTree(pid)
		<-done // reap; exit status is irrelevant past the deadline
		return Result{
			ExitCode: model.KilledExitCode,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			TimedOut: true,
		}, nil

	case <-ctx.Done():
		killTree(pid)
		<-done
		return Result{}, ctx.Err()
	}
}

// killTree sends SIGKILL to pid's process group and to every descendant
// alive at this moment. Killing an already-exited process is an expected
// race and ignored.
func killTree(pid int) {
	pids := append([]int{pid}, descendants(pid)...)
	syscall.Kill(-pid, syscall.SIGKILL)
	for _, p := range pids {
		syscall.Kill(p, syscall.SIGKILL)
	}
}

// descendants walks the process tree below pid via ps. Children that exit
// mid-walk simply drop out of the listing.
func descendants(pid int) []int {
	out, err := exec.Command("ps", "--no-headers", "-o", "pid", "--ppid", strconv.Itoa(pid)).Output()
	if err != nil {
		return nil
	}
	var pids []int
	for _, field := range strings.Fields(string(out)) {
		child, err := strconv.Atoi(field)
		if err != nil {
			continue
		}
		pids = append(pids, child)
		pids = append(pids, descendants(child)...)
	}
	return pids
}

// exitCode extracts the process exit code from cmd.Wait's error.
func exitCode(waitErr error) int {
	if waitErr == nil {
		return 0
	}
	if ee, ok := waitErr.(*exec.ExitError); ok {
		return ee.ExitCode()
	}
	return -1
}
