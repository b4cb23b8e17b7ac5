package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// LocalFS stores artifacts as files under a base directory, the only shipped
// Store backend — see package doc for why object storage is a seam, not a
// dropped dependency.
type LocalFS struct {
	basePath string
}

// NewLocalFS builds a LocalFS rooted at basePath, creating it if absent.
func NewLocalFS(basePath string) (*LocalFS, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact base path %s: %w", basePath, err)
	}

	return &LocalFS{basePath: basePath}, nil
}

func (s *LocalFS) fullPath(ref Ref) string {
	return filepath.Join(s.basePath, filepath.FromSlash(ref.Path()))
}

// Put writes data, creating every intermediate directory in ref's path.
// Artifacts are immutable once written: the file is created read-only, and a
// second Put for a ref that already exists fails and leaves the first
// artifact untouched.
func (s *LocalFS) Put(ctx context.Context, ref Ref, data []byte) error {
	full := s.fullPath(ref)

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create artifact directory for %s: %w", ref.Path(), err)
	}

	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o444)
	if err != nil {
		return fmt.Errorf("write artifact %s: %w", ref.Path(), err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(full)
		return fmt.Errorf("write artifact %s: %w", ref.Path(), err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("write artifact %s: %w", ref.Path(), err)
	}

	return nil
}

func (s *LocalFS) Get(ctx context.Context, ref Ref) ([]byte, error) {
	data, err := os.ReadFile(s.fullPath(ref))
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", ref.Path(), err)
	}

	return data, nil
}

func (s *LocalFS) Delete(ctx context.Context, ref Ref) error {
	if err := os.Remove(s.fullPath(ref)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete artifact %s: %w", ref.Path(), err)
	}

	return nil
}

func (s *LocalFS) Exists(ctx context.Context, ref Ref) (bool, error) {
	_, err := os.Stat(s.fullPath(ref))
	if err == nil {
		return true, nil
	}

	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}

	return false, fmt.Errorf("stat artifact %s: %w", ref.Path(), err)
}
