package sandbox

import (
	"bufio"
	"context"
	"errors"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// mockContainerAPI implements ContainerAPI for testing. On start it writes
// stdout and stderr frames to the attached stream and, unless hang is set,
// reports exitCode once the stream is closed.
type mockContainerAPI struct {
	mu sync.Mutex

	stdout   string
	stderr   string
	exitCode int64
	hang     bool
	onStart  func()

	createErr error
	startErr  error

	config     *container.Config
	hostConfig *container.HostConfig
	name       string
	removed    []string
	closed     bool

	server net.Conn
	waitCh chan container.WaitResponse
	errCh  chan error
}

func (m *mockContainerAPI) ContainerCreate(_ context.Context, config *container.Config, hostConfig *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, name string) (container.CreateResponse, error) {
	if m.createErr != nil {
		return container.CreateResponse{}, m.createErr
	}
	m.config = config
	m.hostConfig = hostConfig
	m.name = name
	return container.CreateResponse{ID: "cid-1"}, nil
}

func (m *mockContainerAPI) ContainerAttach(_ context.Context, _ string, _ container.AttachOptions) (types.HijackedResponse, error) {
	client, server := net.Pipe()
	m.server = server
	return types.HijackedResponse{Conn: client, Reader: bufio.NewReader(client)}, nil
}

func (m *mockContainerAPI) ContainerWait(ctx context.Context, _ string, _ container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	m.waitCh = make(chan container.WaitResponse, 1)
	m.errCh = make(chan error, 1)
	go func() {
		<-ctx.Done()
		m.errCh <- ctx.Err()
	}()
	return m.waitCh, m.errCh
}

func (m *mockContainerAPI) ContainerStart(_ context.Context, _ string, _ container.StartOptions) error {
	if m.startErr != nil {
		return m.startErr
	}
	if m.onStart != nil {
		m.onStart()
	}
	go func() {
		if m.stdout != "" {
			_, _ = stdcopy.NewStdWriter(m.server, stdcopy.Stdout).Write([]byte(m.stdout))
		}
		if m.stderr != "" {
			_, _ = stdcopy.NewStdWriter(m.server, stdcopy.Stderr).Write([]byte(m.stderr))
		}
		if m.hang {
			return
		}
		_ = m.server.Close()
		m.waitCh <- container.WaitResponse{StatusCode: m.exitCode}
	}()
	return nil
}

func (m *mockContainerAPI) ContainerRemove(_ context.Context, id string, _ container.RemoveOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, id)
	return nil
}

func (m *mockContainerAPI) Close() error {
	m.closed = true
	return nil
}

func (m *mockContainerAPI) removedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.removed...)
}

func newAPIExecutor(t *testing.T, api *mockContainerAPI, hostRoot string) *APIContainerExecutor {
	t.Helper()
	return NewAPIContainerExecutor(zaptest.NewLogger(t), testContainerConfig(), NewPathTranslator("/mytemp", hostRoot), api)
}

func TestAPIContainerExecutorRun(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		ws, _ := newMemWorkspace(t)
		api := &mockContainerAPI{stdout: "hi\n"}
		exec := newAPIExecutor(t, api, "/srv/tmp")

		res, err := exec.Run(context.Background(), ws, javaSpec(ws))
		require.NoError(t, err)
		assert.Equal(t, FailureNone, res.Failure)
		assert.Equal(t, "hi\n", res.Output)

		assert.Equal(t, "coderunner-sandbox:latest", api.config.Image)
		assert.Equal(t, "/bin/sh", api.config.Cmd[0])
		assert.Equal(t, "/workspace", api.config.WorkingDir)
		assert.Equal(t, []string{filepath.Join("/srv/tmp", ws.Name) + ":/workspace"}, api.hostConfig.Binds)
		assert.True(t, api.hostConfig.AutoRemove)
		assert.Equal(t, container.NetworkMode("none"), api.hostConfig.NetworkMode)
		assert.Equal(t, []string{"ALL"}, []string(api.hostConfig.CapDrop))
		assert.Equal(t, int64(256*1024*1024), api.hostConfig.Memory)
		require.NotNil(t, api.hostConfig.PidsLimit)
		assert.Equal(t, int64(64), *api.hostConfig.PidsLimit)
		assert.Empty(t, api.removedIDs())
	})

	t.Run("MergesStderr", func(t *testing.T) {
		ws, _ := newMemWorkspace(t)
		api := &mockContainerAPI{stdout: "out\n", stderr: "Traceback\n", exitCode: 1}
		exec := newAPIExecutor(t, api, "/srv/tmp")

		spec := CommandSpec{Language: LanguagePython, Invocations: []Invocation{
			{Stage: StageRun, Args: []string{"python3", ws.Path + "/main.py"}},
		}}
		res, err := exec.Run(context.Background(), ws, spec)
		require.NoError(t, err)
		assert.Equal(t, FailureRun, res.Failure)
		assert.Equal(t, "out\nTraceback\nProcess exited with error code: 1\n", res.Output)
		require.Len(t, api.config.Cmd, 3)
		assert.Equal(t, []string{"/bin/sh", "-c"}, []string(api.config.Cmd[:2]))
		assert.True(t, strings.HasSuffix(api.config.Cmd[2], "; 'python3' '/workspace/main.py'"), api.config.Cmd[2])
	})

	t.Run("CompileFailure", func(t *testing.T) {
		ws, fs := newMemWorkspace(t)
		api := &mockContainerAPI{stderr: "Main.java:1: error\n", exitCode: 1}
		api.onStart = func() {
			writeScriptMarker(t, fs, ws, api.config.Cmd[2], compileFailedMarkerPrefix)
		}
		exec := newAPIExecutor(t, api, "/srv/tmp")

		res, err := exec.Run(context.Background(), ws, javaSpec(ws))
		require.NoError(t, err)
		assert.Equal(t, FailureCompile, res.Failure)
		assert.Equal(t, "Main.java:1: error\n", res.Output)
	})

	t.Run("ForgedCompileMarker", func(t *testing.T) {
		ws, fs := newMemWorkspace(t)
		api := &mockContainerAPI{stderr: "faked\n", exitCode: 1}
		api.onStart = func() {
			_ = afero.WriteFile(fs, filepath.Join(ws.Path, ".compile-failed"), []byte("1\n"), FilePermission)
		}
		exec := newAPIExecutor(t, api, "/srv/tmp")

		res, err := exec.Run(context.Background(), ws, javaSpec(ws))
		require.NoError(t, err)
		assert.Equal(t, FailureRun, res.Failure)
	})

	t.Run("MissingHostRoot", func(t *testing.T) {
		ws, _ := newMemWorkspace(t)
		api := &mockContainerAPI{}
		exec := newAPIExecutor(t, api, "")

		res, err := exec.Run(context.Background(), ws, javaSpec(ws))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrConfiguration)
		assert.Equal(t, FailureInfrastructure, res.Failure)
		assert.Nil(t, api.config, "no container is created")
	})

	t.Run("CreateError", func(t *testing.T) {
		ws, _ := newMemWorkspace(t)
		api := &mockContainerAPI{createErr: errors.New("no such image")}
		exec := newAPIExecutor(t, api, "/srv/tmp")

		res, err := exec.Run(context.Background(), ws, javaSpec(ws))
		require.Error(t, err)
		assert.Equal(t, FailureInfrastructure, res.Failure)
		assert.Contains(t, res.Output, "no such image")
	})

	t.Run("StartErrorRemovesContainer", func(t *testing.T) {
		ws, _ := newMemWorkspace(t)
		api := &mockContainerAPI{startErr: errors.New("mount denied")}
		exec := newAPIExecutor(t, api, "/srv/tmp")

		res, err := exec.Run(context.Background(), ws, javaSpec(ws))
		require.Error(t, err)
		assert.Equal(t, FailureInfrastructure, res.Failure)
		assert.Equal(t, []string{"cid-1"}, api.removedIDs())
	})

	t.Run("Timeout", func(t *testing.T) {
		ws, _ := newMemWorkspace(t)
		api := &mockContainerAPI{stdout: "partial\n", hang: true}
		cfg := testContainerConfig()
		cfg.Timeout = 100 * time.Millisecond
		exec := NewAPIContainerExecutor(zaptest.NewLogger(t), cfg, NewPathTranslator("/mytemp", "/srv/tmp"), api)

		res, err := exec.Run(context.Background(), ws, javaSpec(ws))
		require.NoError(t, err)
		assert.Equal(t, FailureTimeout, res.Failure)
		assert.Equal(t, ExitCodeTimeout, res.ExitCode)
		assert.Equal(t, []string{"cid-1"}, api.removedIDs())
	})
}

func TestAPIContainerExecutorClose(t *testing.T) {
	api := &mockContainerAPI{}
	require.NoError(t, newAPIExecutor(t, api, "/srv/tmp").Close())
	assert.True(t, api.closed)
}
