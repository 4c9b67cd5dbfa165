package sandbox

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/isdmx/coderunner/config"
)

// New builds the Sandbox described by cfg: the runner registry, the
// workspace manager, the direct executor, and the container executor for
// the configured backend.
func New(logger *zap.Logger, cfg *config.Config) (*Sandbox, error) {
	registry := NewDefaultRegistry(toolchains(cfg))
	workspaces := NewWorkspaceManager(logger, cfg.Workspace.Root)

	direct := NewProcessExecutor(logger, cfg.GetTimeout(), cfg.MaxOutputBytes())

	containerized, err := newContainerExecutor(logger, cfg, workspaces.Root())
	if err != nil {
		return nil, err
	}

	if Mode(cfg.Sandbox.Mode) == ModeContainer && cfg.Container.HostRoot == "" {
		logger.Warn("container.host_root is not set, containerized executions will fail until it is configured")
	}

	return NewSandbox(logger, registry, workspaces, Mode(cfg.Sandbox.Mode),
		WithExecutor(ModeDirect, direct),
		WithExecutor(ModeContainer, containerized),
		WithTimeout(cfg.GetTimeout()),
	), nil
}

func newContainerExecutor(logger *zap.Logger, cfg *config.Config, workspaceRoot string) (Executor, error) {
	containerConfig := &ContainerConfig{
		Image:          cfg.Container.Image,
		MountPath:      cfg.Container.MountPath,
		Shell:          cfg.Container.Shell,
		User:           cfg.Container.User,
		MemoryMB:       cfg.Sandbox.MemoryMB,
		PidsLimit:      cfg.Sandbox.PidsLimit,
		NetworkEnabled: cfg.Sandbox.NetworkEnabled,
		Timeout:        cfg.GetTimeout(),
		MaxOutputBytes: cfg.MaxOutputBytes(),
	}
	translator := NewPathTranslator(workspaceRoot, cfg.Container.HostRoot)

	switch cfg.Sandbox.Backend {
	case "docker":
		return NewDockerExecutor(logger, containerConfig, translator), nil
	case "podman":
		return NewPodmanExecutor(logger, containerConfig, translator), nil
	case "docker-api":
		cli, err := NewDockerClient()
		if err != nil {
			return nil, err
		}
		return NewAPIContainerExecutor(logger, containerConfig, translator, cli), nil
	default:
		return nil, fmt.Errorf("%w: unsupported backend: %s", ErrConfiguration, cfg.Sandbox.Backend)
	}
}

func toolchains(cfg *config.Config) map[string]Toolchain {
	result := make(map[string]Toolchain, len(cfg.Languages))
	for name, lang := range cfg.Languages {
		result[name] = Toolchain{
			Interpreter: lang.Interpreter,
			Compiler:    lang.Compiler,
			Runtime:     lang.Runtime,
			Image:       lang.Image,
			Environment: lang.Env(),
		}
	}
	return result
}
