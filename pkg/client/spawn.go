package client

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// Spawner starts a daemon process. It must return once the process has
// been started; the client waits for readiness itself. The returned
// channel, when not nil, delivers the process's exit error (nil for a clean
// exit) and is then closed.
type Spawner interface {
	Spawn(ctx context.Context) (<-chan error, error)
}

// SpawnFunc adapts a function to Spawner.
type SpawnFunc func(ctx context.Context) (<-chan error, error)

func (f SpawnFunc) Spawn(ctx context.Context) (<-chan error, error) { return f(ctx) }

// ExecSpawner starts the daemon as a detached child in its own session with
// output appended to LogPath.
type ExecSpawner struct {
	Path    string
	Args    []string
	LogPath string
	Env     []string
}

// SelfSpawner re-executes the running binary as "serve --daemon" against
// configDir.
func SelfSpawner(configDir, logPath string) (*ExecSpawner, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locating executable: %w", err)
	}
	return &ExecSpawner{
		Path:    exe,
		Args:    []string{"serve", "--daemon", "--config-dir", configDir},
		LogPath: logPath,
	}, nil
}

func (s *ExecSpawner) Spawn(_ context.Context) (<-chan error, error) {
	// The daemon must outlive the caller, so it is not bound to ctx.
	cmd := exec.Command(s.Path, s.Args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Env = append(os.Environ(), s.Env...)

	if s.LogPath != "" {
		logFile, err := os.OpenFile(s.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("opening daemon log: %w", err)
		}
		defer logFile.Close()
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting daemon: %w", err)
	}

	// Reap the child if it exits while we are still alive.
	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
		close(exited)
	}()
	return exited, nil
}
