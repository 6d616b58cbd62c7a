package store

import "errors"

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateEmail is returned when a user create collides with an
// existing email. Uniqueness is enforced by the database, not in memory.
var ErrDuplicateEmail = errors.New("email already exists")
