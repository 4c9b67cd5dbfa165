package sandbox

import (
	"context"
	"errors"
	"time"
)

// Stage identifies one external invocation within an execution
type Stage string

// Stage constants
const (
	StageCompile Stage = "compile"
	StageRun     Stage = "run"
)

// FailureStage classifies how an execution ended
type FailureStage string

// FailureStage constants
const (
	FailureNone           FailureStage = "none"
	FailureCompile        FailureStage = "compile"
	FailureRun            FailureStage = "run"
	FailureInfrastructure FailureStage = "infrastructure"
	FailureTimeout        FailureStage = "timeout"
)

// Mode selects the execution strategy
type Mode string

// Mode constants
const (
	ModeDirect    Mode = "direct"
	ModeContainer Mode = "container"
)

// ExitCodeTimeout is reported when an execution is killed at its deadline,
// matching the convention of the unix timeout command.
const ExitCodeTimeout = 124

// Errors returned by the sandbox. Infrastructure failures wrap one of these.
var (
	ErrConfiguration  = errors.New("configuration error")
	ErrResource       = errors.New("resource error")
	ErrInvalidRequest = errors.New("invalid request")
)

// Invocation is one external command of a CommandSpec
type Invocation struct {
	Stage Stage
	Args  []string
	Dir   string
	Env   map[string]string
}

// CommandSpec is the ordered list of invocations needed to run a program
type CommandSpec struct {
	Language    string
	Image       string
	Invocations []Invocation
}

// Result is produced once per execution
type Result struct {
	Output   string
	ExitCode int
	Failure  FailureStage
	Duration time.Duration
}

// Executor runs a prepared CommandSpec against a workspace.
//
// A non-nil error always means an infrastructure failure; the returned
// Result then carries FailureInfrastructure and the message as Output.
type Executor interface {
	Run(ctx context.Context, ws *Workspace, spec CommandSpec) (Result, error)
}

// Runner materializes source text in a workspace and describes how to run it
type Runner interface {
	Name() string
	Prepare(ws *Workspace, source string) (CommandSpec, error)
}

func infrastructureResult(err error) Result {
	return Result{
		Output:   err.Error(),
		ExitCode: -1,
		Failure:  FailureInfrastructure,
	}
}
