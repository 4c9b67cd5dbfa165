// Package sandbox provides secure code execution capabilities.
//
// The sandbox package turns a (code, language) pair into an isolated,
// resource-bounded execution whose workspace is always removed when the
// execution ends. Two strategies implement the Executor interface: the
// ProcessExecutor runs stages directly on the host, and the container
// executors (docker or podman CLI, or the Docker Engine API) run every
// execution in a fresh auto-removing container with the workspace
// bind-mounted.
//
// Language support lives in Runner implementations that write the source
// into the workspace and describe the compile and run stages as a
// CommandSpec. The Sandbox facade ties runners, workspaces and executors
// together and renders the single textual response.
//
// Usage:
//
//	sb, err := sandbox.New(logger, cfg)
//	out := sb.Execute(ctx, "print('Hello, World!')", "python", sandbox.ModeContainer)
package sandbox
