package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/xid"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// File permission constants
const (
	DirPermission  = 0o755
	FilePermission = 0o644
)

const defaultCreateAttempts = 5

// Workspace is an exclusively owned directory holding one execution's source
// and build artifacts.
type Workspace struct {
	Name string
	Path string
	fs   afero.Fs
}

// WriteFile writes data to name inside the workspace and returns the full path
func (w *Workspace) WriteFile(name string, data []byte) (string, error) {
	path := filepath.Join(w.Path, name)
	if err := afero.WriteFile(w.fs, path, data, FilePermission); err != nil {
		return "", fmt.Errorf("%w: failed to write %s: %v", ErrResource, name, err)
	}
	return path, nil
}

// WorkspaceManager creates and destroys uniquely named workspaces under a root
type WorkspaceManager struct {
	logger   *zap.Logger
	fs       afero.Fs
	root     string
	attempts int
}

// WorkspaceOption defines a functional option for WorkspaceManager
type WorkspaceOption func(*WorkspaceManager)

// WithWorkspaceFileSystem sets the filesystem backing the workspaces
func WithWorkspaceFileSystem(fs afero.Fs) WorkspaceOption {
	return func(m *WorkspaceManager) {
		m.fs = fs
	}
}

// NewWorkspaceManager creates a WorkspaceManager rooted at root; an empty
// root means the system temp directory.
func NewWorkspaceManager(logger *zap.Logger, root string, opts ...WorkspaceOption) *WorkspaceManager {
	if root == "" {
		root = os.TempDir()
	}
	m := &WorkspaceManager{
		logger:   logger,
		fs:       afero.NewOsFs(),
		root:     filepath.Clean(root),
		attempts: defaultCreateAttempts,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Root returns the directory every workspace is created under
func (m *WorkspaceManager) Root() string {
	return m.root
}

// Create allocates a fresh workspace directory named prefix plus a random suffix
func (m *WorkspaceManager) Create(prefix string) (*Workspace, error) {
	if err := m.fs.MkdirAll(m.root, DirPermission); err != nil {
		return nil, fmt.Errorf("%w: workspace root %s is not usable: %v", ErrResource, m.root, err)
	}

	for i := 0; i < m.attempts; i++ {
		name := prefix + xid.New().String()
		path := filepath.Join(m.root, name)

		err := m.fs.Mkdir(path, DirPermission)
		if err == nil {
			m.logger.Debug("workspace created", zap.String("path", path))
			return &Workspace{Name: name, Path: path, fs: m.fs}, nil
		}
		if os.IsExist(err) {
			continue
		}
		return nil, fmt.Errorf("%w: failed to create workspace: %v", ErrResource, err)
	}

	return nil, fmt.Errorf("%w: could not allocate a unique workspace name after %d attempts", ErrResource, m.attempts)
}

// Destroy removes the workspace and everything below it, deepest entries
// first. Entries that are already gone or cannot be removed are logged and
// skipped; leftovers are reported with their count.
func (m *WorkspaceManager) Destroy(ws *Workspace) {
	if ws == nil {
		return
	}

	var paths []string
	walkErr := afero.Walk(m.fs, ws.Path, func(path string, _ os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			m.logger.Warn("failed to inspect workspace entry", zap.String("path", path), zap.Error(err))
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if walkErr != nil {
		m.logger.Warn("failed to walk workspace", zap.String("path", ws.Path), zap.Error(walkErr))
	}

	// Reverse lexical order puts every child before its parent directory.
	sort.Sort(sort.Reverse(sort.StringSlice(paths)))

	remaining := 0
	for _, path := range paths {
		if err := m.fs.Remove(path); err != nil {
			if os.IsNotExist(err) {
				m.logger.Debug("workspace entry already removed", zap.String("path", path))
				continue
			}
			remaining++
			m.logger.Warn("failed to remove workspace entry", zap.String("path", path), zap.Error(err))
		}
	}

	if remaining > 0 {
		m.logger.Warn("workspace partially destroyed", zap.String("path", ws.Path), zap.Int("remaining", remaining))
		return
	}
	m.logger.Debug("workspace destroyed", zap.String("path", ws.Path))
}

// Exists reports whether name exists inside the workspace
func (w *Workspace) Exists(name string) bool {
	ok, err := afero.Exists(w.fs, filepath.Join(w.Path, name))
	return err == nil && ok
}
