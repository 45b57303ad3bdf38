package keystore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

const blobSuffix = ".blob"

// FileStore keeps one file per object under Dir, mirroring the object path.
type FileStore struct {
	fs  afero.Fs
	dir string
}

// NewFileStore returns a store rooted at dir. A nil fs means the OS filesystem.
func NewFileStore(fs afero.Fs, dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("keystore: file backend requires a directory")
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if err := fs.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("keystore: create %s: %w", dir, err)
	}
	return &FileStore{fs: fs, dir: dir}, nil
}

func (s *FileStore) location(objectPath string) (string, error) {
	clean, err := cleanPath(objectPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, filepath.FromSlash(clean)), nil
}

func (s *FileStore) Put(_ context.Context, objectPath string, blob []byte) error {
	loc, err := s.location(objectPath)
	if err != nil {
		return err
	}
	if loc == s.dir {
		return fmt.Errorf("keystore: cannot store a blob at the root")
	}
	if err := s.fs.MkdirAll(filepath.Dir(loc), 0o700); err != nil {
		return fmt.Errorf("keystore: mkdir: %w", err)
	}

	tmp := loc + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, blob, 0o600); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("keystore: write %s: %w", objectPath, err)
	}
	if err := s.fs.Rename(tmp, loc+blobSuffix); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("keystore: commit %s: %w", objectPath, err)
	}
	return nil
}

func (s *FileStore) Get(_ context.Context, objectPath string) ([]byte, error) {
	loc, err := s.location(objectPath)
	if err != nil {
		return nil, err
	}
	b, err := afero.ReadFile(s.fs, loc+blobSuffix)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("keystore: read %s: %w", objectPath, err)
	}
	return b, nil
}

func (s *FileStore) Delete(_ context.Context, objectPath string) (int, error) {
	loc, err := s.location(objectPath)
	if err != nil {
		return 0, err
	}

	removed := 0
	if loc != s.dir {
		err := s.fs.Remove(loc + blobSuffix)
		switch {
		case err == nil:
			removed++
		case !os.IsNotExist(err):
			return removed, fmt.Errorf("keystore: delete %s: %w", objectPath, err)
		}
	}

	if ok, _ := afero.DirExists(s.fs, loc); !ok {
		return removed, nil
	}

	var blobs []string
	err = afero.Walk(s.fs, loc, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(p, blobSuffix) {
			blobs = append(blobs, p)
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("keystore: scan %s: %w", objectPath, err)
	}
	for _, b := range blobs {
		if err := s.fs.Remove(b); err != nil {
			return removed, fmt.Errorf("keystore: delete %s: %w", b, err)
		}
		removed++
	}

	if loc == s.dir {
		entries, err := afero.ReadDir(s.fs, s.dir)
		if err != nil {
			return removed, fmt.Errorf("keystore: list %s: %w", s.dir, err)
		}
		for _, e := range entries {
			if err := s.fs.RemoveAll(filepath.Join(s.dir, e.Name())); err != nil {
				return removed, fmt.Errorf("keystore: clear %s: %w", e.Name(), err)
			}
		}
		return removed, nil
	}
	if err := s.fs.RemoveAll(loc); err != nil {
		return removed, fmt.Errorf("keystore: delete %s: %w", objectPath, err)
	}
	return removed, nil
}

func (s *FileStore) Close() error { return nil }
