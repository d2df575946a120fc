package blobstore

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// FSStore keeps blobs as files below a root directory.
type FSStore struct {
	fs   afero.Fs
	root string
}

// NewFSStore roots the store at root on the given filesystem.
func NewFSStore(fs afero.Fs, root string) *FSStore {
	return &FSStore{fs: fs, root: root}
}

func (s *FSStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(filepath.Clean("/"+key)))
}

func (s *FSStore) Get(_ context.Context, key string) ([]byte, error) {
	data, err := afero.ReadFile(s.fs, s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNotFound, "file %q", key)
		}
		return nil, errors.Wrapf(err, "read file %q", key)
	}
	return data, nil
}

func (s *FSStore) Put(_ context.Context, key string, data []byte, _ string) error {
	target := s.path(key)
	if err := s.fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errors.Wrapf(err, "create directory for %q", key)
	}
	if err := afero.WriteFile(s.fs, target, data, 0o644); err != nil {
		return errors.Wrapf(err, "write file %q", key)
	}
	return nil
}

func (s *FSStore) Delete(_ context.Context, key string) error {
	err := s.fs.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "remove file %q", key)
	}
	return nil
}
