package identity

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-hostel"
)

// Storage persists the current session between process runs.
type Storage interface {
	// Load returns nil, nil when nothing is stored.
	Load(ctx context.Context) (*hostel.Session, error)
	Save(ctx context.Context, session *hostel.Session) error
	Clear(ctx context.Context) error
}

// MemoryStorage keeps the session for the life of the process.
type MemoryStorage struct {
	mu      sync.Mutex
	session *hostel.Session
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (m *MemoryStorage) Load(context.Context) (*hostel.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneSession(m.session), nil
}

func (m *MemoryStorage) Save(_ context.Context, session *hostel.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = cloneSession(session)
	return nil
}

func (m *MemoryStorage) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	return nil
}

// FileStorage stores the session as JSON at Path, readable only by the
// owner.
type FileStorage struct {
	Path string
	mu   sync.Mutex
}

// NewFileStorage returns a FileStorage writing to path.
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{Path: path}
}

func (f *FileStorage) Load(context.Context) (*hostel.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read session file")
	}

	if len(raw) == 0 {
		return nil, nil
	}

	session := &hostel.Session{}
	if err := json.Unmarshal(raw, session); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to decode session file").
			WithMetadata(map[string]any{"path": f.Path})
	}
	if session.UserID() == "" {
		return nil, nil
	}
	return session, nil
}

func (f *FileStorage) Save(_ context.Context, session *hostel.Session) error {
	if session == nil {
		return f.Clear(context.Background())
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode session")
	}

	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create session directory")
	}

	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create session file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to write session file")
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to chmod session file")
	}
	if err := tmp.Close(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to write session file")
	}

	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to replace session file")
	}
	return nil
}

func (f *FileStorage) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to remove session file")
	}
	return nil
}

func cloneSession(session *hostel.Session) *hostel.Session {
	if session == nil {
		return nil
	}
	cp := *session
	return &cp
}
