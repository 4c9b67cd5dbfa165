//go:build !unix

package sandbox

import (
	"os"
	"os/exec"
)

func isolateProcessGroup(*exec.Cmd) {}

func killProcessGroup(*exec.Cmd) error { return nil }

func processExitCode(state *os.ProcessState) int {
	return state.ExitCode()
}
