// Package state persists the locally-selected workspace and conversation to
// ~/.alcove, so a restart drops the user back where they left off.
//
// Writes are atomic (temp file + rename) and serialized across processes
// with file locking via [github.com/gofrs/flock]. The package also provides
// the single-instance application lock.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/alcovehq/alcove/internal/log"
)

const (
	stateFile = "state.json"
	lockFile  = "state.lock"
	appLock   = "alcove.lock"
)

// ErrAlreadyRunning indicates another process holds the application lock.
var ErrAlreadyRunning = errors.New("another instance is already running")

// State is the locally persisted selection. Both fields may be empty.
type State struct {
	WorkspaceID    string `json:"workspace_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// Store reads and writes the local state file. Safe for concurrent use
// across processes; within a process, callers serialize through the update
// loop.
type Store struct {
	dir    string
	logger log.Logger
}

// NewStore creates a store rooted at dir, creating the directory if needed.
func NewStore(dir string, logger log.Logger) (*Store, error) {
	if logger == nil {
		return nil, errors.New("state.NewStore: logger is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

func (s *Store) path() string     { return filepath.Join(s.dir, stateFile) }
func (s *Store) lockPath() string { return filepath.Join(s.dir, lockFile) }

// Load returns the persisted state. A missing file is a zero State, not an
// error; a corrupt file is discarded with a warning rather than blocking
// startup.
func (s *Store) Load() (State, error) {
	fl := flock.New(s.lockPath())
	if err := fl.RLock(); err != nil {
		return State{}, fmt.Errorf("locking state file: %w", err)
	}
	defer func() { _ = fl.Unlock() }()

	data, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("reading state file: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		s.logger.Warn("discarding corrupt state file", "path", s.path(), "error", err)
		return State{}, nil
	}
	return st, nil
}

// Save persists the state atomically.
func (s *Store) Save(st State) error {
	fl := flock.New(s.lockPath())
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("locking state file: %w", err)
	}
	defer func() { _ = fl.Unlock() }()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, stateFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("closing temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path()); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}

// Clear removes the persisted state. Idempotent.
func (s *Store) Clear() error {
	fl := flock.New(s.lockPath())
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("locking state file: %w", err)
	}
	defer func() { _ = fl.Unlock() }()

	if err := os.Remove(s.path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing state file: %w", err)
	}
	return nil
}

// AcquireAppLock takes the single-instance lock under dir. The returned
// release function must be called on shutdown. Returns ErrAlreadyRunning
// when another process holds it.
func AcquireAppLock(dir string) (release func(), err error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	fl := flock.New(filepath.Join(dir, appLock))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring application lock: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyRunning
	}
	return func() { _ = fl.Unlock() }, nil
}
