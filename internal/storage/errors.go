package storage

import "errors"

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a uniqueness constraint would be violated.
var ErrConflict = errors.New("already exists")
