package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func javaSpec(ws *Workspace) CommandSpec {
	return CommandSpec{
		Language: LanguageJava,
		Invocations: []Invocation{
			{Stage: StageCompile, Args: []string{"javac", ws.Path + "/Main.java"}, Dir: ws.Path},
			{Stage: StageRun, Args: []string{"java", "Main"}, Dir: ws.Path},
		},
	}
}

func TestProcessExecutorRun(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("Success", func(t *testing.T) {
		ws, _ := newMemWorkspace(t)
		mock := &MockCommandRunner{results: map[string]commandResult{
			"javac": {output: "note: compiled\n"},
			"java":  {output: "hi\n"},
		}}
		exec := NewProcessExecutor(logger, time.Second, 0, WithProcessCommandRunner(mock))

		res, err := exec.Run(context.Background(), ws, javaSpec(ws))
		require.NoError(t, err)
		assert.Equal(t, FailureNone, res.Failure)
		assert.Equal(t, 0, res.ExitCode)
		assert.Equal(t, "hi\n", res.Output, "compile output is not part of the program output")
		assert.Equal(t, []string{"javac " + ws.Path + "/Main.java", "java Main"}, mock.commandLines())
	})

	t.Run("CompileFailureSkipsRun", func(t *testing.T) {
		ws, _ := newMemWorkspace(t)
		mock := &MockCommandRunner{results: map[string]commandResult{
			"javac": {output: "Main.java:1: error: ';' expected\n", exitCode: 1},
			"java":  {output: "should not run\n"},
		}}
		exec := NewProcessExecutor(logger, time.Second, 0, WithProcessCommandRunner(mock))

		res, err := exec.Run(context.Background(), ws, javaSpec(ws))
		require.NoError(t, err)
		assert.Equal(t, FailureCompile, res.Failure)
		assert.Equal(t, 1, res.ExitCode)
		assert.Contains(t, res.Output, "error: ';' expected")
		assert.NotContains(t, res.Output, "Process exited with error code")
		assert.Len(t, mock.calls(), 1)
	})

	t.Run("RunFailureIsAnnotated", func(t *testing.T) {
		ws, _ := newMemWorkspace(t)
		mock := &MockCommandRunner{results: map[string]commandResult{
			"python3": {output: "Traceback (most recent call last):\nZeroDivisionError: division by zero", exitCode: 1},
		}}
		exec := NewProcessExecutor(logger, time.Second, 0, WithProcessCommandRunner(mock))

		spec := CommandSpec{Language: LanguagePython, Invocations: []Invocation{
			{Stage: StageRun, Args: []string{"python3", ws.Path + "/main.py"}},
		}}
		res, err := exec.Run(context.Background(), ws, spec)
		require.NoError(t, err)
		assert.Equal(t, FailureRun, res.Failure)
		assert.Equal(t, 1, res.ExitCode)
		assert.Equal(t, "Traceback (most recent call last):\nZeroDivisionError: division by zero\nProcess exited with error code: 1\n", res.Output)
	})

	t.Run("CommandError", func(t *testing.T) {
		ws, _ := newMemWorkspace(t)
		mock := &MockCommandRunner{defaultResult: commandResult{err: errors.New("executable file not found")}}
		exec := NewProcessExecutor(logger, time.Second, 0, WithProcessCommandRunner(mock))

		res, err := exec.Run(context.Background(), ws, javaSpec(ws))
		require.Error(t, err)
		assert.Equal(t, FailureInfrastructure, res.Failure)
		assert.Contains(t, res.Output, "failed to run javac")
		assert.Len(t, mock.calls(), 1)
	})

	t.Run("Timeout", func(t *testing.T) {
		ws, _ := newMemWorkspace(t)
		mock := &MockCommandRunner{block: map[string]bool{"java": true}}
		exec := NewProcessExecutor(logger, 50*time.Millisecond, 0, WithProcessCommandRunner(mock))

		res, err := exec.Run(context.Background(), ws, javaSpec(ws))
		require.NoError(t, err)
		assert.Equal(t, FailureTimeout, res.Failure)
		assert.Equal(t, ExitCodeTimeout, res.ExitCode)
		assert.Equal(t, "partial\n", res.Output)
	})

	t.Run("Canceled", func(t *testing.T) {
		ws, _ := newMemWorkspace(t)
		mock := &MockCommandRunner{}
		exec := NewProcessExecutor(logger, time.Second, 0, WithProcessCommandRunner(mock))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		res, err := exec.Run(ctx, ws, javaSpec(ws))
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, FailureInfrastructure, res.Failure)
	})
}

func TestAnnotateExit(t *testing.T) {
	assert.Equal(t, "boom\nProcess exited with error code: 2\n", annotateExit("boom", 2))
	assert.Equal(t, "boom\nProcess exited with error code: 2\n", annotateExit("boom\n", 2))
	assert.Equal(t, "Process exited with error code: 137\n", annotateExit("", 137))
}
