package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"
)

const cleanupTimeout = 10 * time.Second

// ContainerAPI is the subset of the Docker Engine client used by
// APIContainerExecutor. *client.Client satisfies it.
type ContainerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerAttach(ctx context.Context, containerID string, options container.AttachOptions) (types.HijackedResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	Close() error
}

// APIContainerExecutor implements Executor against the Docker Engine API
type APIContainerExecutor struct {
	logger     *zap.Logger
	config     *ContainerConfig
	translator *PathTranslator
	cli        ContainerAPI
}

// NewDockerClient connects to the Docker daemon described by the environment
func NewDockerClient() (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return cli, nil
}

// NewAPIContainerExecutor creates an APIContainerExecutor using cli
func NewAPIContainerExecutor(logger *zap.Logger, config *ContainerConfig, translator *PathTranslator, cli ContainerAPI) *APIContainerExecutor {
	return &APIContainerExecutor{
		logger:     logger,
		config:     config,
		translator: translator,
		cli:        cli,
	}
}

// Close releases the Docker client
func (a *APIContainerExecutor) Close() error {
	return a.cli.Close()
}

// Run executes spec in a fresh auto-removing container
func (a *APIContainerExecutor) Run(ctx context.Context, ws *Workspace, spec CommandSpec) (Result, error) {
	start := time.Now()

	plan, err := planContainer(a.translator, a.config, ws, spec)
	if err != nil {
		return infrastructureResult(err), err
	}

	ctxWithTimeout, cancel := withExecutionDeadline(ctx, a.config.Timeout)
	defer cancel()

	resp, err := a.cli.ContainerCreate(ctxWithTimeout, a.containerConfig(plan), a.hostConfig(plan), nil, nil, plan.name)
	if err != nil {
		err = fmt.Errorf("failed to create container: %w", err)
		return infrastructureResult(err), err
	}
	a.logger.Debug("container created", zap.String("container", plan.name), zap.String("id", resp.ID))

	attach, err := a.cli.ContainerAttach(ctxWithTimeout, resp.ID, container.AttachOptions{
		Stream: true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		a.remove(resp.ID)
		err = fmt.Errorf("failed to attach to container: %w", err)
		return infrastructureResult(err), err
	}
	defer attach.Close()

	// Register the wait before starting so a fast exit plus auto-removal is not missed.
	waitCh, waitErrCh := a.cli.ContainerWait(ctxWithTimeout, resp.ID, container.WaitConditionNextExit)

	if err := a.cli.ContainerStart(ctxWithTimeout, resp.ID, container.StartOptions{}); err != nil {
		a.remove(resp.ID)
		err = fmt.Errorf("failed to start container: %w", err)
		return infrastructureResult(err), err
	}

	output := newCappedBuffer(a.config.MaxOutputBytes)
	copyDone := make(chan struct{})
	go func() {
		defer close(copyDone)
		// Both streams go to the same buffer, merging stderr into stdout.
		if _, copyErr := stdcopy.StdCopy(output, output, attach.Reader); copyErr != nil && !errors.Is(copyErr, io.EOF) {
			a.logger.Debug("container output stream closed", zap.String("container", plan.name), zap.Error(copyErr))
		}
	}()

	var exitCode int
	select {
	case status := <-waitCh:
		if status.Error != nil && status.Error.Message != "" {
			attach.Close()
			<-copyDone
			err = fmt.Errorf("container wait failed: %s", status.Error.Message)
			return infrastructureResult(err), err
		}
		exitCode = int(status.StatusCode)
	case err = <-waitErrCh:
		if errors.Is(ctxWithTimeout.Err(), context.DeadlineExceeded) {
			return a.timedOut(resp.ID, plan.name, attach, copyDone, output, start), nil
		}
		a.remove(resp.ID)
		attach.Close()
		<-copyDone
		err = fmt.Errorf("failed waiting for container: %w", err)
		return infrastructureResult(err), err
	case <-ctxWithTimeout.Done():
		if errors.Is(ctxWithTimeout.Err(), context.DeadlineExceeded) {
			return a.timedOut(resp.ID, plan.name, attach, copyDone, output, start), nil
		}
		a.remove(resp.ID)
		attach.Close()
		<-copyDone
		err = fmt.Errorf("execution canceled: %w", ctxWithTimeout.Err())
		return infrastructureResult(err), err
	}

	<-copyDone
	return classifyContainerExit(ws, plan.markers, output.String(), exitCode, start), nil
}

func (a *APIContainerExecutor) timedOut(id, name string, attach types.HijackedResponse, copyDone <-chan struct{}, output *cappedBuffer, start time.Time) Result {
	a.logger.Warn("container execution timed out",
		zap.String("container", name),
		zap.Duration("timeout", a.config.Timeout))

	a.remove(id)
	attach.Close()
	<-copyDone
	return timeoutResult(output.String(), start)
}

func (a *APIContainerExecutor) containerConfig(plan containerPlan) *container.Config {
	return &container.Config{
		Image:        plan.image,
		Cmd:          plan.cmd,
		Env:          plan.env,
		WorkingDir:   plan.workdir,
		User:         a.config.User,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          false,
	}
}

func (a *APIContainerExecutor) hostConfig(plan containerPlan) *container.HostConfig {
	networkMode := container.NetworkMode("none")
	if a.config.NetworkEnabled {
		networkMode = container.NetworkMode("bridge")
	}

	hostConfig := &container.HostConfig{
		AutoRemove:  true,
		Binds:       []string{plan.hostDir + ":" + plan.mount},
		NetworkMode: networkMode,
		CapDrop:     []string{"ALL"},
		SecurityOpt: []string{"no-new-privileges:true"},
		Resources: container.Resources{
			Memory: int64(a.config.MemoryMB) * 1024 * 1024,
		},
	}
	if a.config.PidsLimit > 0 {
		pids := int64(a.config.PidsLimit)
		hostConfig.Resources.PidsLimit = &pids
	}
	return hostConfig
}

// remove force-removes a container that will not be auto-removed because
// it never started or was abandoned at its deadline.
func (a *APIContainerExecutor) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if err := a.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		a.logger.Warn("failed to remove container", zap.String("id", id), zap.Error(err))
	}
}
