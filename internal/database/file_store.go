package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore keeps one JSON file per collection under dir. Saves go through a
// temp file in the same directory followed by a rename, so a reader sees
// either the old or the new snapshot and never a partial one.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, storageErr("mkdir", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

func (s *FileStore) Load(ctx context.Context, name string) ([]json.RawMessage, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, storageErr("load", name, err)
	}

	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return []json.RawMessage{}, nil
	}
	if err != nil {
		return nil, storageErr("load", name, err)
	}
	return decodeSnapshot(name, data)
}

func (s *FileStore) Save(ctx context.Context, name string, records []json.RawMessage) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return storageErr("save", name, err)
	}

	data, err := encodeSnapshot(name, records)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return storageErr("save", name, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return storageErr("save", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return storageErr("save", name, err)
	}
	if err := tmp.Close(); err != nil {
		return storageErr("save", name, err)
	}
	if err := os.Rename(tmpName, s.path(name)); err != nil {
		return storageErr("save", name, fmt.Errorf("rename: %w", err))
	}
	committed = true
	return nil
}
