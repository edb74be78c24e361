package ipc

import (
	"errors"
	"fmt"
)

var (
	ErrFrameTooLarge  = errors.New("frame exceeds maximum size")
	ErrEmptyFrame     = errors.New("empty frame")
	ErrMalformed      = errors.New("malformed message")
	ErrInvalidRequest = errors.New("invalid request")
)

// RemoteError is an error reported by the daemon.
type RemoteError struct {
	Kind    ErrorKind
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("daemon %s: %s", e.Kind, e.Message)
}
