// Package export implements the report export request/status service and
// the background generation worker.
package export

import "fmt"

// Error wraps infrastructure failures on the export request path so callers
// see a single typed error instead of store- or queue-specific ones.
// The original cause stays reachable through errors.Unwrap.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("export %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrapErr(op string, err error) error {
	return &Error{Op: op, Err: err}
}
