package sandbox

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"
	"go.uber.org/zap"
)

// Marker file prefixes. The in-container script writes them into the
// mounted workspace: the started marker before the first stage, the
// compile-failed marker when a compile stage fails. Each execution appends
// its own random token so a program cannot forge a fixed name.
const (
	startedMarkerPrefix       = ".started-"
	compileFailedMarkerPrefix = ".compile-failed-"
)

// exitCodeRuntimeError is returned by `docker run` / `podman run` when the
// container could not be created or started. A program may exit with it
// too, so it only means a runtime failure without the started marker.
const exitCodeRuntimeError = 125

// containerMarkers names the marker files of one execution, relative to
// the workspace directory
type containerMarkers struct {
	started       string
	compileFailed string
}

func newContainerMarkers() containerMarkers {
	token := xid.New().String()
	return containerMarkers{
		started:       startedMarkerPrefix + token,
		compileFailed: compileFailedMarkerPrefix + token,
	}
}

// ContainerConfig holds configuration shared by the container executors
type ContainerConfig struct {
	Image          string
	MountPath      string
	Shell          string
	User           string
	MemoryMB       int
	PidsLimit      int
	NetworkEnabled bool
	Timeout        time.Duration
	MaxOutputBytes int
}

// containerPlan is everything needed to launch one execution's container
type containerPlan struct {
	name    string
	image   string
	hostDir string
	mount   string
	workdir string
	cmd     []string
	env     []string
	markers containerMarkers
}

func planContainer(translator *PathTranslator, cfg *ContainerConfig, ws *Workspace, spec CommandSpec) (containerPlan, error) {
	if len(spec.Invocations) == 0 {
		return containerPlan{}, fmt.Errorf("%w: no invocations to run", ErrInvalidRequest)
	}

	hostDir, err := translator.ToHostPath(ws.Path)
	if err != nil {
		return containerPlan{}, err
	}

	image := spec.Image
	if image == "" {
		image = cfg.Image
	}

	env := make(map[string]string)
	for _, inv := range spec.Invocations {
		for key, value := range inv.Env {
			env[key] = value
		}
	}

	markers := newContainerMarkers()
	cmd, workdir := containerCommand(spec, ws.Path, cfg.MountPath, cfg.Shell, markers)
	return containerPlan{
		name:    containerName(spec.Language),
		image:   image,
		hostDir: hostDir,
		mount:   cfg.MountPath,
		workdir: workdir,
		cmd:     cmd,
		env:     envList(env),
		markers: markers,
	}, nil
}

// containerName returns a name that is unique per execution
func containerName(language string) string {
	if language == "" {
		language = "code"
	}
	return "sandbox_" + language + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// containerCommand rewrites the invocations to use the in-container mount
// path and chains them in one shell so only one container is started. The
// script first leaves the started marker; a failing compile stage leaves the
// compile-failed marker and exits before any run stage.
func containerCommand(spec CommandSpec, wsPath, mount, shell string, markers containerMarkers) (cmd []string, workdir string) {
	translate := func(s string) string {
		return strings.ReplaceAll(s, wsPath, mount)
	}

	marker := shellQuote(path.Join(mount, markers.compileFailed))
	parts := make([]string, 0, len(spec.Invocations))
	for _, inv := range spec.Invocations {
		quoted := make([]string, 0, len(inv.Args))
		for _, arg := range inv.Args {
			quoted = append(quoted, shellQuote(translate(arg)))
		}
		step := strings.Join(quoted, " ")
		if inv.Dir != "" {
			step = "cd " + shellQuote(translate(inv.Dir)) + " && " + step
		}
		if inv.Stage == StageCompile {
			step = "{ " + step + " || { rc=$?; echo $rc > " + marker + "; exit $rc; }; }"
		}
		parts = append(parts, step)
	}

	// An unwritable mount only loses the marker, never the run.
	started := "{ true > " + shellQuote(path.Join(mount, markers.started)) + "; } 2>/dev/null; "
	return []string{shell, "-c", started + strings.Join(parts, " && ")}, mount
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// classifyContainerExit turns a finished container's output and exit code
// into a Result.
func classifyContainerExit(ws *Workspace, markers containerMarkers, output string, exitCode int, start time.Time) Result {
	res := Result{Output: output, ExitCode: exitCode, Failure: FailureNone, Duration: time.Since(start)}
	switch {
	case exitCode == 0:
	case ws.Exists(markers.compileFailed):
		res.Failure = FailureCompile
	default:
		res.Output = annotateExit(output, exitCode)
		res.Failure = FailureRun
	}
	return res
}

// CLIContainerExecutor implements Executor by invoking `docker run` or
// `podman run` for every execution
type CLIContainerExecutor struct {
	logger     *zap.Logger
	runtime    string
	config     *ContainerConfig
	translator *PathTranslator
	cmdRunner  CommandRunner
}

// CLIContainerExecutorOption defines a functional option for CLIContainerExecutor
type CLIContainerExecutorOption func(*CLIContainerExecutor)

// WithCLICommandRunner sets the CommandRunner for CLIContainerExecutor
func WithCLICommandRunner(cmdRunner CommandRunner) CLIContainerExecutorOption {
	return func(c *CLIContainerExecutor) {
		c.cmdRunner = cmdRunner
	}
}

// NewDockerExecutor creates a CLIContainerExecutor driving the docker CLI
func NewDockerExecutor(logger *zap.Logger, config *ContainerConfig, translator *PathTranslator, opts ...CLIContainerExecutorOption) *CLIContainerExecutor {
	return newCLIContainerExecutor(logger, "docker", config, translator, opts...)
}

// NewPodmanExecutor creates a CLIContainerExecutor driving the podman CLI
func NewPodmanExecutor(logger *zap.Logger, config *ContainerConfig, translator *PathTranslator, opts ...CLIContainerExecutorOption) *CLIContainerExecutor {
	return newCLIContainerExecutor(logger, "podman", config, translator, opts...)
}

func newCLIContainerExecutor(logger *zap.Logger, runtime string, config *ContainerConfig, translator *PathTranslator, opts ...CLIContainerExecutorOption) *CLIContainerExecutor {
	executor := &CLIContainerExecutor{
		logger:     logger,
		runtime:    runtime,
		config:     config,
		translator: translator,
		cmdRunner:  RealCommandRunner{MaxOutputBytes: config.MaxOutputBytes},
	}

	for _, opt := range opts {
		opt(executor)
	}

	return executor
}

// Run executes spec in a fresh auto-removing container
func (c *CLIContainerExecutor) Run(ctx context.Context, ws *Workspace, spec CommandSpec) (Result, error) {
	start := time.Now()

	plan, err := planContainer(c.translator, c.config, ws, spec)
	if err != nil {
		return infrastructureResult(err), err
	}

	args := c.runArgs(plan)
	c.logger.Debug("starting container",
		zap.String("runtime", c.runtime),
		zap.String("container", plan.name),
		zap.String("image", plan.image),
		zap.String("host_dir", plan.hostDir))

	ctxWithTimeout, cancel := withExecutionDeadline(ctx, c.config.Timeout)
	defer cancel()

	output, exitCode, err := c.cmdRunner.RunCommand(ctxWithTimeout, Invocation{Stage: StageRun, Args: args})

	if errors.Is(ctxWithTimeout.Err(), context.DeadlineExceeded) {
		c.kill(plan.name)
		c.logger.Warn("container execution timed out",
			zap.String("container", plan.name),
			zap.Duration("timeout", c.config.Timeout))
		return timeoutResult(output, start), nil
	}
	if err == nil && ctx.Err() != nil {
		c.kill(plan.name)
		err = ctx.Err()
	}
	if err != nil {
		err = fmt.Errorf("failed to execute container: %w", err)
		return infrastructureResult(err), err
	}
	if exitCode == exitCodeRuntimeError && !ws.Exists(plan.markers.started) {
		err = fmt.Errorf("%s could not start container %s: %s", c.runtime, plan.name, strings.TrimSpace(output))
		return infrastructureResult(err), err
	}

	return classifyContainerExit(ws, plan.markers, output, exitCode, start), nil
}

func (c *CLIContainerExecutor) runArgs(plan containerPlan) []string {
	network := "none"
	if c.config.NetworkEnabled {
		network = "bridge"
	}

	args := []string{
		c.runtime, "run",
		"--rm",
		"--name", plan.name,
		"-v", plan.hostDir + ":" + plan.mount,
		"--network", network,
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges:true",
	}
	if c.config.MemoryMB > 0 {
		args = append(args, "--memory", fmt.Sprintf("%dm", c.config.MemoryMB))
	}
	if c.config.PidsLimit > 0 {
		args = append(args, "--pids-limit", fmt.Sprintf("%d", c.config.PidsLimit))
	}
	if c.config.User != "" {
		args = append(args, "--user", c.config.User)
	}
	if plan.workdir != "" {
		args = append(args, "--workdir", plan.workdir)
	}
	for _, kv := range plan.env {
		args = append(args, "-e", kv)
	}

	args = append(args, plan.image)
	return append(args, plan.cmd...)
}

// kill stops a container that outlived its deadline; --rm removes it afterwards.
func (c *CLIContainerExecutor) kill(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, _, err := c.cmdRunner.RunCommand(ctx, Invocation{Args: []string{c.runtime, "kill", name}}); err != nil {
		c.logger.Warn("failed to kill container", zap.String("container", name), zap.Error(err))
	}
}
