package storage

import "errors"

// Storage error constants
var (
	// ErrInvalidClient is returned when a token operation is attempted with
	// an empty client identifier.
	ErrInvalidClient = errors.New("client cannot be empty")
)
