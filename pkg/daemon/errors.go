package daemon

import "errors"

var (
	// ErrAlreadyRunning is returned by Listen when another daemon owns the
	// endpoint.
	ErrAlreadyRunning = errors.New("embedding daemon already running")

	// ErrModelFault is returned when the model runtime cannot be loaded or
	// produces vectors of the wrong shape during the startup warmup.
	ErrModelFault = errors.New("embedding model fault")

	// ErrInference is returned when a loaded model fails on a request.
	ErrInference = errors.New("inference failed")

	// ErrClosed is returned when a stopped server is asked to serve again.
	ErrClosed = errors.New("daemon server closed")
)
