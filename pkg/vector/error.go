package vector

import "errors"

var (
	// ErrDimensionMismatch is returned when a vector's length differs from the
	// collection's configured dimensionality.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrInvalidPoint is returned for points without an id.
	ErrInvalidPoint = errors.New("invalid point")

	// ErrStorage wraps failures reported by a backend while reading or writing.
	ErrStorage = errors.New("vector store operation failed")

	// ErrConnection is returned when the vector store connection fails.
	ErrConnection = errors.New("vector store connection failed")
)
