package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"time"
)

const (
	defaultWaitDelay = 2 * time.Second
	truncatedMarker  = "[output truncated]"
)

// CommandRunner defines an interface for executing system commands.
//
// RunCommand returns the merged stdout and stderr of the command and its exit
// code. A non-nil error means the command could not be run at all.
type CommandRunner interface {
	RunCommand(ctx context.Context, inv Invocation) (output string, exitCode int, err error)
}

// RealCommandRunner implements CommandRunner using actual exec commands
type RealCommandRunner struct {
	// MaxOutputBytes caps the captured output; zero means unlimited.
	MaxOutputBytes int
	// WaitDelay bounds how long Run waits for the output pipe to close
	// after the process was killed; zero means defaultWaitDelay.
	WaitDelay time.Duration
}

// RunCommand executes the invocation with stdout and stderr merged into one stream
func (r RealCommandRunner) RunCommand(ctx context.Context, inv Invocation) (output string, exitCode int, err error) {
	if len(inv.Args) < 1 {
		return "", 0, fmt.Errorf("%w: no command provided", ErrInvalidRequest)
	}

	cmd := exec.CommandContext(ctx, inv.Args[0], inv.Args[1:]...) //nolint:gosec // Running submitted programs is intended functionality
	cmd.Dir = inv.Dir
	if len(inv.Env) > 0 {
		cmd.Env = append(os.Environ(), envList(inv.Env)...)
	}
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = defaultWaitDelay
	}

	// The program and everything it spawns share one process group, which
	// is killed on cancellation and again once the program has exited.
	isolateProcessGroup(cmd)

	// One writer for both streams makes exec use a single pipe, drained
	// concurrently with the process so it never blocks on a full buffer.
	out := newCappedBuffer(r.MaxOutputBytes)
	cmd.Stdout = out
	cmd.Stderr = out

	err = cmd.Run()
	_ = killProcessGroup(cmd)
	if err == nil || errors.Is(err, exec.ErrWaitDelay) {
		return out.String(), 0, nil
	}

	var exitError *exec.ExitError
	if errors.As(err, &exitError) {
		return out.String(), processExitCode(exitError.ProcessState), nil
	}

	return out.String(), 0, err
}

// envList renders env as sorted KEY=VALUE pairs
func envList(env map[string]string) []string {
	list := make([]string, 0, len(env))
	for key, value := range env {
		list = append(list, key+"="+value)
	}
	sort.Strings(list)
	return list
}

// cappedBuffer keeps at most limit bytes but accepts every write, so the
// producer is always drained.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if c.limit <= 0 {
		return c.buf.Write(p)
	}
	remaining := c.limit - c.buf.Len()
	if remaining <= 0 {
		c.truncated = c.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > remaining {
		c.buf.Write(p[:remaining])
		c.truncated = true
		return len(p), nil
	}
	return c.buf.Write(p)
}

func (c *cappedBuffer) String() string {
	if !c.truncated {
		return c.buf.String()
	}
	return withTrailingNewline(c.buf.String()) + truncatedMarker + "\n"
}

func withTrailingNewline(s string) string {
	if s == "" || s[len(s)-1] == '\n' {
		return s
	}
	return s + "\n"
}

func commandName(inv Invocation) string {
	if len(inv.Args) == 0 {
		return "<empty command>"
	}
	return inv.Args[0]
}
