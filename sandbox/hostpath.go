package sandbox

import (
	"fmt"
	"path/filepath"
	"strings"
)

// PathTranslator maps a workspace path as seen by this process to the same
// directory as seen by the container runtime's host. The orchestrator root
// and the host root must name the same physical directory.
type PathTranslator struct {
	orchestratorRoot string
	hostRoot         string
}

// NewPathTranslator creates a PathTranslator. An empty hostRoot is accepted
// here and reported by ToHostPath, so a misconfigured deployment fails per
// request instead of mounting the wrong directory.
func NewPathTranslator(orchestratorRoot, hostRoot string) *PathTranslator {
	return &PathTranslator{
		orchestratorRoot: filepath.Clean(orchestratorRoot),
		hostRoot:         hostRoot,
	}
}

// Configured reports whether a host root was supplied
func (t *PathTranslator) Configured() bool {
	return t.hostRoot != ""
}

// ToHostPath rewrites orchestratorPath from the orchestrator root to the host root
func (t *PathTranslator) ToHostPath(orchestratorPath string) (string, error) {
	if t.hostRoot == "" {
		return "", fmt.Errorf("%w: container host root path is not set (container.host_root / HOST_TEMPFILES_ROOT)", ErrConfiguration)
	}

	rel, err := filepath.Rel(t.orchestratorRoot, filepath.Clean(orchestratorPath))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path %s is not inside workspace root %s", ErrConfiguration, orchestratorPath, t.orchestratorRoot)
	}

	return filepath.Join(t.hostRoot, rel), nil
}
