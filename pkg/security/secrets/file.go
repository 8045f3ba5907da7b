package secrets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileProvider reads secrets from one file per secret in a directory, the
// layout of mounted Kubernetes secrets.
type FileProvider struct {
	dir string
}

// NewFileProvider creates a provider over dir, which must exist.
func NewFileProvider(dir string) (*FileProvider, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("secrets: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("secrets: %s is not a directory", dir)
	}
	return &FileProvider{dir: dir}, nil
}

// Get implements Provider. Names may not leave the directory, and the file
// must not be accessible to group or others. Surrounding whitespace is
// trimmed.
func (p *FileProvider) Get(_ context.Context, name string) (string, error) {
	if name == "" || !filepath.IsLocal(name) {
		return "", fmt.Errorf("secrets: invalid secret name %q", name)
	}
	path := filepath.Join(p.dir, name)

	// Stat follows symlinks; mounted secrets are symlinks into a data dir.
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return "", fmt.Errorf("secrets: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("secrets: %s is not a regular file", path)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return "", fmt.Errorf("secrets: %s has mode %04o, want no group or other access", path, perm)
	}

	data, err := os.ReadFile(path) // #nosec G304 -- name is checked to be local to dir
	if err != nil {
		return "", fmt.Errorf("secrets: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Name implements Provider.
func (p *FileProvider) Name() string { return "file" }
