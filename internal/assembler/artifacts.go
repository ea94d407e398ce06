package assembler

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/MimeLyc/book-translator/internal/errs"
	"github.com/MimeLyc/book-translator/pkg/file"
)

// ArtifactStore keeps final artifacts addressed by slash separated keys.
type ArtifactStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// FileArtifactStore stores artifacts as files below a root directory.
type FileArtifactStore struct {
	root string
}

func NewFileArtifactStore(root string) (*FileArtifactStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("artifact directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}
	return &FileArtifactStore{root: root}, nil
}

func (s *FileArtifactStore) Put(_ context.Context, key string, data []byte) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	return file.WriteAtomic(path, data, 0o644)
}

func (s *FileArtifactStore) Get(_ context.Context, key string) ([]byte, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errs.Newf(errs.KindNotFound, "artifact %s not found", key)
	}
	return data, err
}

func (s *FileArtifactStore) path(key string) (string, error) {
	if !fs.ValidPath(key) || key == "." {
		return "", errs.Newf(errs.KindValidation, "invalid artifact key %q", key)
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}
