package sandbox

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// LanguageName constants
const (
	LanguagePython     = "python"
	LanguageJava       = "java"
	LanguageJavaScript = "javascript"
	LanguageGo         = "go"
	LanguageCPP        = "cpp"
)

// Filename constants
const (
	FilenamePython     = "main.py"
	FilenameJava       = "Main.java"
	FilenameJavaScript = "main.js"
	FilenameGo         = "main.go"
	FilenameCPP        = "main.cpp"

	// JavaEntryClass is the public class every Java submission must declare
	JavaEntryClass = "Main"

	binaryName = "app"
)

// Toolchain names the binaries and settings one language runner uses.
// Empty fields fall back to the runner's defaults.
type Toolchain struct {
	Interpreter string
	Compiler    string
	Runtime     string
	Image       string
	Environment map[string]string
}

func orDefault(value, def string) string {
	if value == "" {
		return def
	}
	return value
}

// ScriptRunner runs single-file interpreted languages
type ScriptRunner struct {
	name      string
	fileName  string
	toolchain Toolchain
}

// NewPythonRunner creates the Python runner
func NewPythonRunner(tc Toolchain) *ScriptRunner {
	tc.Interpreter = orDefault(tc.Interpreter, "python3")
	return &ScriptRunner{name: LanguagePython, fileName: FilenamePython, toolchain: tc}
}

// NewJavaScriptRunner creates the Node.js runner
func NewJavaScriptRunner(tc Toolchain) *ScriptRunner {
	tc.Interpreter = orDefault(tc.Interpreter, "node")
	return &ScriptRunner{name: LanguageJavaScript, fileName: FilenameJavaScript, toolchain: tc}
}

// Name implements Runner
func (r *ScriptRunner) Name() string { return r.name }

// Prepare implements Runner
func (r *ScriptRunner) Prepare(ws *Workspace, source string) (CommandSpec, error) {
	path, err := ws.WriteFile(r.fileName, []byte(source))
	if err != nil {
		return CommandSpec{}, err
	}

	return CommandSpec{
		Language: r.name,
		Image:    r.toolchain.Image,
		Invocations: []Invocation{
			{Stage: StageRun, Args: []string{r.toolchain.Interpreter, path}, Dir: ws.Path, Env: r.toolchain.Environment},
		},
	}, nil
}

// JavaRunner compiles Main.java and runs the Main class. Submissions must
// declare a single public class named Main with a standard main method.
type JavaRunner struct {
	toolchain Toolchain
}

// NewJavaRunner creates the Java runner
func NewJavaRunner(tc Toolchain) *JavaRunner {
	tc.Compiler = orDefault(tc.Compiler, "javac")
	tc.Runtime = orDefault(tc.Runtime, "java")
	return &JavaRunner{toolchain: tc}
}

// Name implements Runner
func (*JavaRunner) Name() string { return LanguageJava }

// Prepare implements Runner
func (r *JavaRunner) Prepare(ws *Workspace, source string) (CommandSpec, error) {
	path, err := ws.WriteFile(FilenameJava, []byte(source))
	if err != nil {
		return CommandSpec{}, err
	}

	env := r.toolchain.Environment
	return CommandSpec{
		Language: LanguageJava,
		Image:    r.toolchain.Image,
		Invocations: []Invocation{
			{Stage: StageCompile, Args: []string{r.toolchain.Compiler, path}, Dir: ws.Path, Env: env},
			// The run stage must start in the workspace so Main.class is on the default classpath.
			{Stage: StageRun, Args: []string{r.toolchain.Runtime, JavaEntryClass}, Dir: ws.Path, Env: env},
		},
	}, nil
}

// NativeRunner compiles a single source file to a binary and runs it
type NativeRunner struct {
	name         string
	fileName     string
	compileFlags []string
	toolchain    Toolchain
}

// NewGoRunner creates the Go runner
func NewGoRunner(tc Toolchain) *NativeRunner {
	tc.Compiler = orDefault(tc.Compiler, "go")
	return &NativeRunner{name: LanguageGo, fileName: FilenameGo, compileFlags: []string{"build"}, toolchain: tc}
}

// NewCPPRunner creates the C++ runner
func NewCPPRunner(tc Toolchain) *NativeRunner {
	tc.Compiler = orDefault(tc.Compiler, "g++")
	return &NativeRunner{name: LanguageCPP, fileName: FilenameCPP, compileFlags: []string{"-std=c++17", "-O2"}, toolchain: tc}
}

// Name implements Runner
func (r *NativeRunner) Name() string { return r.name }

// Prepare implements Runner
func (r *NativeRunner) Prepare(ws *Workspace, source string) (CommandSpec, error) {
	path, err := ws.WriteFile(r.fileName, []byte(source))
	if err != nil {
		return CommandSpec{}, err
	}

	binary := filepath.Join(ws.Path, binaryName)
	compileArgs := append([]string{r.toolchain.Compiler}, r.compileFlags...)
	compileArgs = append(compileArgs, "-o", binary, path)

	env := r.toolchain.Environment
	return CommandSpec{
		Language: r.name,
		Image:    r.toolchain.Image,
		Invocations: []Invocation{
			{Stage: StageCompile, Args: compileArgs, Dir: ws.Path, Env: env},
			{Stage: StageRun, Args: []string{binary}, Dir: ws.Path, Env: env},
		},
	}, nil
}

// Registry resolves language names to runners. Unknown or empty names
// resolve to the default runner.
type Registry struct {
	runners  map[string]Runner
	aliases  map[string]string
	fallback string
}

// NewRegistry creates a Registry with fallback as the default language.
func NewRegistry(fallback string, runners ...Runner) (*Registry, error) {
	r := &Registry{
		runners:  make(map[string]Runner, len(runners)),
		aliases:  make(map[string]string),
		fallback: fallback,
	}
	for _, runner := range runners {
		r.runners[runner.Name()] = runner
	}
	if _, ok := r.runners[fallback]; !ok {
		return nil, fmt.Errorf("%w: default language %q has no runner", ErrConfiguration, fallback)
	}
	return r, nil
}

// mustRegistry panics on a registry built from a broken runner list
func mustRegistry(r *Registry, err error) *Registry {
	if err != nil {
		panic(err)
	}
	return r
}

// NewDefaultRegistry registers every built-in runner with Python as the
// default. toolchains is keyed by language name.
func NewDefaultRegistry(toolchains map[string]Toolchain) *Registry {
	r := mustRegistry(NewRegistry(LanguagePython,
		NewPythonRunner(toolchains[LanguagePython]),
		NewJavaRunner(toolchains[LanguageJava]),
		NewJavaScriptRunner(toolchains[LanguageJavaScript]),
		NewGoRunner(toolchains[LanguageGo]),
		NewCPPRunner(toolchains[LanguageCPP]),
	))
	r.Alias("py", LanguagePython)
	r.Alias("python3", LanguagePython)
	r.Alias("js", LanguageJavaScript)
	r.Alias("node", LanguageJavaScript)
	r.Alias("nodejs", LanguageJavaScript)
	r.Alias("golang", LanguageGo)
	r.Alias("c++", LanguageCPP)
	return r
}

// Alias makes alias resolve to the runner registered as name
func (r *Registry) Alias(alias, name string) {
	r.aliases[strings.ToLower(alias)] = name
}

// Resolve returns the runner for language, matched case-insensitively.
// The boolean is true when the default runner was substituted.
func (r *Registry) Resolve(language string) (Runner, bool) {
	key := strings.ToLower(strings.TrimSpace(language))
	if name, ok := r.aliases[key]; ok {
		key = name
	}
	if runner, ok := r.runners[key]; ok {
		return runner, false
	}
	return r.runners[r.fallback], true
}

// Languages returns the registered language names, sorted
func (r *Registry) Languages() []string {
	names := make([]string, 0, len(r.runners))
	for name := range r.runners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
