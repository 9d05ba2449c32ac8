package repository

import "errors"

// ErrNotFound is returned when an update targets a row that does not exist.
var ErrNotFound = errors.New("not found")
