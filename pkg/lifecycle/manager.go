// Package lifecycle owns the on-disk footprint of the embedding daemon: the
// socket, state file, log, locks and metrics database inside the semsearch
// directory.
package lifecycle

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/papercomputeco/semsearch/pkg/dotdir"
)

const (
	socketFileName    = "daemon.sock"
	stateFileName     = "daemon.json"
	logFileName       = "daemon.log"
	ownerLockFileName = "daemon.lock"
	spawnLockFileName = "spawn.lock"
	metricsFileName   = "metrics.db"
	stateVersion      = 1
)

// ErrLocked is returned by TryOwn when another process owns the daemon
// endpoint.
var ErrLocked = errors.New("daemon lock held by another process")

// State describes a running daemon.
type State struct {
	Version    int       `json:"version"`
	PID        int       `json:"pid"`
	Socket     string    `json:"socket"`
	ModelID    string    `json:"model_id"`
	Dimensions int       `json:"dimensions"`
	LogPath    string    `json:"log_path"`
	StartedAt  time.Time `json:"started_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Manager struct {
	Dir           string
	SocketPath    string
	StatePath     string
	LogPath       string
	LockPath      string
	SpawnLockPath string
	MetricsPath   string
}

type Lock struct {
	file *os.File
}

func NewManager(configDir string) (*Manager, error) {
	dir, err := dotdir.NewManager().Target(configDir)
	if err != nil {
		return nil, err
	}
	return ForDir(dir), nil
}

// ForDir returns a Manager rooted at dir without resolving dot-directories.
func ForDir(dir string) *Manager {
	return &Manager{
		Dir:           dir,
		SocketPath:    filepath.Join(dir, socketFileName),
		StatePath:     filepath.Join(dir, stateFileName),
		LogPath:       filepath.Join(dir, logFileName),
		LockPath:      filepath.Join(dir, ownerLockFileName),
		SpawnLockPath: filepath.Join(dir, spawnLockFileName),
		MetricsPath:   filepath.Join(dir, metricsFileName),
	}
}

func flock(path string, how int) (*Lock, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	if err := syscall.Flock(int(file.Fd()), how); err != nil {
		file.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("locking %s: %w", filepath.Base(path), err)
	}

	return &Lock{file: file}, nil
}

// Lock blocks until the spawn lock is held. Clients hold it while checking
// for, starting and waiting on a daemon so that only one of them spawns.
func (m *Manager) Lock() (*Lock, error) {
	return flock(m.SpawnLockPath, syscall.LOCK_EX)
}

// TryOwn takes the daemon ownership lock without blocking. A running daemon
// holds it for its whole lifetime.
func (m *Manager) TryOwn() (*Lock, error) {
	return flock(m.LockPath, syscall.LOCK_EX|syscall.LOCK_NB)
}

func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		_ = l.file.Close()
		return fmt.Errorf("unlocking %s: %w", filepath.Base(l.file.Name()), err)
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func (m *Manager) LoadState() (*State, error) {
	data, err := os.ReadFile(m.StatePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading daemon state: %w", err)
	}

	state := &State{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("parsing daemon state: %w", err)
	}

	return state, nil
}

func (m *Manager) SaveState(state *State) error {
	if state == nil {
		return errors.New("cannot save nil state")
	}
	if state.Version == 0 {
		state.Version = stateVersion
	}
	state.UpdatedAt = time.Now()
	if state.LogPath == "" {
		state.LogPath = m.LogPath
	}
	if state.Socket == "" {
		state.Socket = m.SocketPath
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling daemon state: %w", err)
	}

	tmpFile, err := os.CreateTemp(m.Dir, "daemon-state-*.json")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}

	if err := tmpFile.Chmod(0o600); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("chmod temp state file: %w", err)
	}

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("writing temp state file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp state file: %w", err)
	}

	if err := os.Rename(tmpFile.Name(), m.StatePath); err != nil {
		return fmt.Errorf("persisting state file: %w", err)
	}

	return nil
}

func (m *Manager) ClearState() error {
	if err := os.Remove(m.StatePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("removing daemon state: %w", err)
	}
	return nil
}

// RemoveSocket deletes the socket file if present.
func (m *Manager) RemoveSocket() error {
	if err := os.Remove(m.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing socket: %w", err)
	}
	return nil
}

// ProcessAlive reports whether a process with the given pid exists.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
