package engine

import "errors"

// ErrNotFound means the alert ID is unknown.
var ErrNotFound = errors.New("alert not found")

// ErrConflict means the operation is invalid for the alert's current
// state, e.g. acknowledging a resolved alert.
var ErrConflict = errors.New("operation invalid for alert state")
