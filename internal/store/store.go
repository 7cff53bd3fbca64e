package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/andressade/MFFR-Profit-Tracker/internal/model"
)

// ErrNoState is returned by Load when nothing was persisted yet.
var ErrNoState = errors.New("no persisted state")

// Store persists the tracker state between restarts.
type Store interface {
	Load() (*model.State, error)
	Save(state *model.State) error
}

// FileStore keeps the state as a JSON document on disk.
type FileStore struct {
	Path string
}

// NewFileStore creates a FileStore for path.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Load reads the state file. It returns ErrNoState if the file doesn't exist.
func (f *FileStore) Load() (*model.State, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoState
		}
		return nil, fmt.Errorf("read state: %w", err)
	}
	var state model.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if state.Version > model.StateVersion {
		return nil, fmt.Errorf("state version %d is newer than supported %d", state.Version, model.StateVersion)
	}
	return &state, nil
}

// Save writes the state atomically: a temp file in the same directory is
// synced and renamed over the old one, so a crash leaves either the old or
// the new document.
func (f *FileStore) Save(state *model.State) error {
	state.Version = model.StateVersion
	state.SavedAt = time.Now()
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state: %w", err)
	}
	if err := os.Rename(tmpName, f.Path); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

// MemoryStore is an in-process Store, used when no state file is configured
// and in tests.
type MemoryStore struct {
	data []byte
}

// Load returns a deep copy of the last saved state.
func (m *MemoryStore) Load() (*model.State, error) {
	if m.data == nil {
		return nil, ErrNoState
	}
	var state model.State
	if err := json.Unmarshal(m.data, &state); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &state, nil
}

// Save keeps a serialized copy so later mutations of state are not visible.
func (m *MemoryStore) Save(state *model.State) error {
	state.Version = model.StateVersion
	state.SavedAt = time.Now()
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	m.data = data
	return nil
}
