package sandbox

import (
	"context"
	"strings"
	"sync"
)

type commandResult struct {
	output   string
	exitCode int
	err      error
}

// MockCommandRunner implements CommandRunner for testing. Results are
// matched by the first argument that equals a key; unmatched commands get
// defaultResult.
type MockCommandRunner struct {
	mu            sync.Mutex
	results       map[string]commandResult
	defaultResult commandResult
	// block makes matching commands wait for the context to end
	block map[string]bool
	// onRun is called with every invocation before a result is chosen
	onRun       func(inv Invocation)
	invocations []Invocation
}

func (m *MockCommandRunner) RunCommand(ctx context.Context, inv Invocation) (string, int, error) {
	m.mu.Lock()
	m.invocations = append(m.invocations, inv)
	m.mu.Unlock()

	if m.onRun != nil {
		m.onRun(inv)
	}
	for _, arg := range inv.Args {
		if m.block[arg] {
			<-ctx.Done()
			return "partial\n", -1, nil
		}
	}
	for _, arg := range inv.Args {
		if result, ok := m.results[arg]; ok {
			return result.output, result.exitCode, result.err
		}
	}
	return m.defaultResult.output, m.defaultResult.exitCode, m.defaultResult.err
}

func (m *MockCommandRunner) calls() []Invocation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Invocation(nil), m.invocations...)
}

func (m *MockCommandRunner) commandLines() []string {
	var lines []string
	for _, inv := range m.calls() {
		lines = append(lines, strings.Join(inv.Args, " "))
	}
	return lines
}

// mockExecutor implements Executor for testing the facade
type mockExecutor struct {
	result Result
	err    error
	seen   *Workspace
	spec   CommandSpec
	// existed records whether the workspace was on disk during Run
	existed bool
	check   func(ws *Workspace) bool
	panics  bool
}

func (m *mockExecutor) Run(_ context.Context, ws *Workspace, spec CommandSpec) (Result, error) {
	m.seen = ws
	m.spec = spec
	if m.check != nil {
		m.existed = m.check(ws)
	}
	if m.panics {
		panic("boom")
	}
	return m.result, m.err
}
