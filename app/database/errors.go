package database

import (
	"errors"
	"fmt"
)

// ErrPersistence is matched by every PersistenceError.
var ErrPersistence = errors.New("persistence error")

// PersistenceError reports a failed store operation. The store never retries.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error in %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}
