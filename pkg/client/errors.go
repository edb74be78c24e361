package client

import "errors"

var (
	// ErrDaemonUnavailable means the daemon could not be reached, started or
	// made ready within the configured bounds.
	ErrDaemonUnavailable = errors.New("embedding daemon unavailable")

	// ErrDaemonExited means a daemon started by this client exited before
	// it became ready, typically because its model failed to load. It
	// always comes wrapped with ErrDaemonUnavailable and is not retried.
	ErrDaemonExited = errors.New("embedding daemon exited during startup")

	// ErrNotRunning is returned by calls that never spawn when no daemon
	// answers.
	ErrNotRunning = errors.New("embedding daemon not running")

	// ErrInvalidRequest means the daemon rejected the request. It is not
	// retried.
	ErrInvalidRequest = errors.New("invalid embedding request")

	// ErrInference means the model failed on the request. It is not retried.
	ErrInference = errors.New("embedding inference failed")
)
