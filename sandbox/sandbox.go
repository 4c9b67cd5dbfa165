package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Response prefixes
const (
	PrefixCompileError = "Compile Error:"
	PrefixError        = "Error:"
	PrefixTimeout      = "Timeout:"
)

// Request is one execution request
type Request struct {
	Code     string
	Language string
	// Mode selects the strategy; empty means the sandbox default.
	Mode Mode
}

// Response is the outcome of one execution
type Response struct {
	// Output is the rendered text returned to callers.
	Output string
	// Language is the runner that actually ran the code.
	Language string
	// Defaulted is true when Language was substituted for an unknown or empty one.
	Defaulted bool
	Result    Result
}

// Sandbox selects a runner and an executor for each request and owns the
// workspace lifecycle.
type Sandbox struct {
	logger      *zap.Logger
	registry    *Registry
	workspaces  *WorkspaceManager
	executors   map[Mode]Executor
	defaultMode Mode
	timeout     time.Duration
}

// Option defines a functional option for Sandbox
type Option func(*Sandbox)

// WithExecutor registers the executor used for mode
func WithExecutor(mode Mode, executor Executor) Option {
	return func(s *Sandbox) {
		s.executors[mode] = executor
	}
}

// WithTimeout sets the deadline reported in timeout responses
func WithTimeout(timeout time.Duration) Option {
	return func(s *Sandbox) {
		s.timeout = timeout
	}
}

// NewSandbox creates a Sandbox
func NewSandbox(logger *zap.Logger, registry *Registry, workspaces *WorkspaceManager, defaultMode Mode, opts ...Option) *Sandbox {
	s := &Sandbox{
		logger:      logger,
		registry:    registry,
		workspaces:  workspaces,
		executors:   make(map[Mode]Executor),
		defaultMode: defaultMode,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// DefaultMode returns the mode used when a request does not name one
func (s *Sandbox) DefaultMode() Mode {
	return s.defaultMode
}

// Languages returns the supported language names
func (s *Sandbox) Languages() []string {
	return s.registry.Languages()
}

// Execute runs source and returns the single formatted output
func (s *Sandbox) Execute(ctx context.Context, source, language string, mode Mode) string {
	return s.Run(ctx, Request{Code: source, Language: language, Mode: mode}).Output
}

// Run executes req. It never fails: infrastructure problems are rendered
// into the response text.
func (s *Sandbox) Run(ctx context.Context, req Request) (resp Response) {
	mode := req.Mode
	if mode == "" {
		mode = s.defaultMode
	}

	runner, defaulted := s.registry.Resolve(req.Language)
	resp.Language = runner.Name()
	resp.Defaulted = defaulted
	switch {
	case defaulted && strings.TrimSpace(req.Language) == "":
		s.logger.Debug("no language given, using default runner", zap.String("language", runner.Name()))
	case defaulted:
		s.logger.Info("language not recognized, using default runner",
			zap.String("requested", req.Language),
			zap.String("language", runner.Name()))
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("execution panicked", zap.Any("panic", r), zap.String("language", resp.Language))
			resp.Result = infrastructureResult(fmt.Errorf("internal error: %v", r))
			resp.Output = s.render(resp.Result)
		}
	}()

	resp.Result = s.run(ctx, runner, mode, req.Code)
	resp.Output = s.render(resp.Result)
	return resp
}

func (s *Sandbox) run(ctx context.Context, runner Runner, mode Mode, code string) Result {
	executor, ok := s.executors[mode]
	if !ok {
		return s.fail(runner, mode, fmt.Errorf("%w: execution mode %q is not available", ErrConfiguration, mode))
	}

	ws, err := s.workspaces.Create(runner.Name() + "_sandbox_")
	if err != nil {
		return s.fail(runner, mode, err)
	}
	defer s.workspaces.Destroy(ws)

	spec, err := runner.Prepare(ws, code)
	if err != nil {
		return s.fail(runner, mode, err)
	}

	result, err := executor.Run(ctx, ws, spec)
	if err != nil {
		return s.fail(runner, mode, err)
	}

	switch result.Failure {
	case FailureCompile:
		s.logger.Debug("compilation failed", zap.String("language", runner.Name()), zap.Int("exit_code", result.ExitCode))
	default:
		s.logger.Info("code execution completed",
			zap.String("language", runner.Name()),
			zap.String("mode", string(mode)),
			zap.String("failure", string(result.Failure)),
			zap.Int("exit_code", result.ExitCode),
			zap.Duration("duration", result.Duration))
	}

	return result
}

func (s *Sandbox) fail(runner Runner, mode Mode, err error) Result {
	s.logger.Error("sandbox execution failed",
		zap.Error(err),
		zap.String("language", runner.Name()),
		zap.String("mode", string(mode)))
	return infrastructureResult(err)
}

func (s *Sandbox) render(result Result) string {
	output := strings.TrimSpace(result.Output)

	switch result.Failure {
	case FailureCompile:
		return PrefixCompileError + "\n" + output
	case FailureInfrastructure:
		return PrefixError + " " + output
	case FailureTimeout:
		msg := PrefixTimeout + " execution exceeded the time limit"
		if s.timeout > 0 {
			msg = fmt.Sprintf("%s execution exceeded %s", PrefixTimeout, s.timeout)
		}
		if output != "" {
			msg += "\n" + output
		}
		return msg
	default:
		return output
	}
}

// Close releases executors that hold resources
func (s *Sandbox) Close() error {
	var errs []error
	for _, executor := range s.executors {
		if closer, ok := executor.(io.Closer); ok {
			errs = append(errs, closer.Close())
		}
	}
	return errors.Join(errs...)
}

// Service is the execution surface consumed by the transports
type Service interface {
	Run(ctx context.Context, req Request) Response
	Languages() []string
}

var _ Service = (*Sandbox)(nil)
