package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore writes exports under a directory. Object metadata is not kept;
// the document body already carries it.
type LocalStore struct {
	dir string
}

// NewLocalStore roots a store at dir, creating it when missing.
func NewLocalStore(dir string) (*LocalStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("export directory is required")
	}
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create export directory: %w", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat export directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("export directory %s is not a directory", dir)
	}
	return &LocalStore{dir: dir}, nil
}

// Put replaces the file at obj.Path atomically so readers of a served feed
// never see a half-written document. It returns a file:// URI.
func (s *LocalStore) Put(_ context.Context, obj Object) (string, error) {
	if strings.TrimSpace(obj.Path) == "" {
		return "", errors.New("object path is required")
	}
	target := filepath.Join(s.dir, obj.Path)
	if !strings.HasPrefix(target, s.dir+string(filepath.Separator)) {
		return "", fmt.Errorf("export path %q escapes %s", obj.Path, s.dir)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return "", fmt.Errorf("create export parent: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*")
	if err != nil {
		return "", fmt.Errorf("create temp export: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename
	if _, err := io.Copy(tmp, obj.Body); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close export: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("publish export: %w", err)
	}
	return "file://" + target, nil
}
