package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	dbFile    = "session.db"
	credsFile = "creds.json"

	createAttempts = 5
)

// Workspace is the temp directory backing a single linking attempt.
type Workspace struct {
	id  string
	dir string

	removeOnce sync.Once
	removeErr  error
}

// Create makes a fresh, uniquely named directory under root.
func Create(root string) (*Workspace, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to prepare temp root: %w", err)
	}
	for i := 0; i < createAttempts; i++ {
		id := NewID()
		dir := filepath.Join(root, id)
		err := os.Mkdir(dir, 0o700)
		if err == nil {
			return &Workspace{id: id, dir: dir}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to create session dir: %w", err)
		}
	}
	return nil, fmt.Errorf("failed to allocate a unique session dir under %s", root)
}

func (w *Workspace) ID() string        { return w.id }
func (w *Workspace) Dir() string       { return w.dir }
func (w *Workspace) DBPath() string    { return filepath.Join(w.dir, dbFile) }
func (w *Workspace) CredsPath() string { return filepath.Join(w.dir, credsFile) }

// Remove deletes the directory and everything in it. Safe to call more than once.
func (w *Workspace) Remove() error {
	w.removeOnce.Do(func() {
		w.removeErr = os.RemoveAll(w.dir)
	})
	return w.removeErr
}
