package store

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	auth "github.com/goliatone/go-auth-session"
)

// File stores the session as JSON on disk. Writes go through a temp file
// and a rename so a crash never leaves a half written session.
type File struct {
	path string
	mu   sync.Mutex
}

func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Load(context.Context) (*auth.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, readError(err, "file")
	}
	if len(data) == 0 {
		return nil, nil
	}

	var session auth.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, corruptError(err, "file")
	}
	return &session, nil
}

func (f *File) Save(ctx context.Context, session *auth.Session) error {
	if session == nil {
		return f.Clear(ctx)
	}

	data, err := json.Marshal(session)
	if err != nil {
		return writeError(err, "file")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return writeError(err, "file")
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".session-*")
	if err != nil {
		return writeError(err, "file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return writeError(err, "file")
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return writeError(err, "file")
	}
	if err := tmp.Close(); err != nil {
		return writeError(err, "file")
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return writeError(err, "file")
	}
	return nil
}

func (f *File) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return writeError(err, "file")
	}
	return nil
}
