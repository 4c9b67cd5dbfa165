package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ProcessExecutor implements Executor by running every stage as a host
// process. It provides no isolation beyond the workspace and should only be
// used where the host itself is the sandbox.
type ProcessExecutor struct {
	logger    *zap.Logger
	timeout   time.Duration
	cmdRunner CommandRunner
}

// ProcessExecutorOption defines a functional option for ProcessExecutor
type ProcessExecutorOption func(*ProcessExecutor)

// WithProcessCommandRunner sets the CommandRunner for ProcessExecutor
func WithProcessCommandRunner(cmdRunner CommandRunner) ProcessExecutorOption {
	return func(p *ProcessExecutor) {
		p.cmdRunner = cmdRunner
	}
}

// NewProcessExecutor creates a ProcessExecutor. A zero timeout disables the deadline.
func NewProcessExecutor(logger *zap.Logger, timeout time.Duration, maxOutputBytes int, opts ...ProcessExecutorOption) *ProcessExecutor {
	executor := &ProcessExecutor{
		logger:    logger,
		timeout:   timeout,
		cmdRunner: RealCommandRunner{MaxOutputBytes: maxOutputBytes},
	}

	for _, opt := range opts {
		opt(executor)
	}

	return executor
}

// Run executes the stages of spec in order. A failing compile stage stops
// the sequence; a failing run stage keeps its output and gets an exit marker.
func (p *ProcessExecutor) Run(ctx context.Context, _ *Workspace, spec CommandSpec) (Result, error) {
	start := time.Now()
	ctx, cancel := withExecutionDeadline(ctx, p.timeout)
	defer cancel()

	var combined strings.Builder
	for _, inv := range spec.Invocations {
		output, exitCode, err := p.cmdRunner.RunCommand(ctx, inv)

		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			p.logger.Warn("execution timed out",
				zap.String("language", spec.Language),
				zap.String("stage", string(inv.Stage)),
				zap.Duration("timeout", p.timeout))
			return timeoutResult(combined.String()+output, start), nil
		}
		if err == nil && ctx.Err() != nil {
			err = ctx.Err()
		}
		if err != nil {
			err = fmt.Errorf("failed to run %s: %w", commandName(inv), err)
			res := infrastructureResult(err)
			res.Duration = time.Since(start)
			return res, err
		}

		if exitCode != 0 {
			if inv.Stage == StageCompile {
				return Result{
					Output:   output,
					ExitCode: exitCode,
					Failure:  FailureCompile,
					Duration: time.Since(start),
				}, nil
			}
			combined.WriteString(annotateExit(output, exitCode))
			return Result{
				Output:   combined.String(),
				ExitCode: exitCode,
				Failure:  FailureRun,
				Duration: time.Since(start),
			}, nil
		}

		// Successful compile output is not part of the program's output.
		if inv.Stage == StageRun {
			combined.WriteString(output)
		}
	}

	return Result{
		Output:   combined.String(),
		ExitCode: 0,
		Failure:  FailureNone,
		Duration: time.Since(start),
	}, nil
}

func withExecutionDeadline(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// annotateExit appends the non-zero exit marker to a run stage's output
func annotateExit(output string, exitCode int) string {
	return withTrailingNewline(output) + fmt.Sprintf("Process exited with error code: %d\n", exitCode)
}

func timeoutResult(partial string, start time.Time) Result {
	return Result{
		Output:   partial,
		ExitCode: ExitCodeTimeout,
		Failure:  FailureTimeout,
		Duration: time.Since(start),
	}
}
