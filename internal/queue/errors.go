package queue

import (
	"errors"
	"fmt"
)

// ErrDuplicateJob is returned by Enqueue when a body already exists for the
// job key, i.e. the same delivery is still outstanding.
var ErrDuplicateJob = errors.New("queue: job already enqueued")

// StoreError wraps a failed round-trip to the backing store. It is fatal to
// the operation that produced it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("queue: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
