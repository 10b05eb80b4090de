package store

import (
	"errors"
	"fmt"
)

var (
	ErrNoSuchMessage = errors.New("no such message")
	ErrNoSuchThread  = errors.New("no such thread")
	ErrNoSuchGroup   = errors.New("no such group")
)

// ConsistencyError reports a broken invariant on the write path. The
// enclosing transaction is rolled back when it is returned.
type ConsistencyError struct {
	Op     string
	Detail string
	Err    error
}

func (e *ConsistencyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("consistency violation in %s: %s: %v", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("consistency violation in %s: %s", e.Op, e.Detail)
}

func (e *ConsistencyError) Unwrap() error { return e.Err }

// IsConsistencyError reports whether err wraps a *ConsistencyError.
func IsConsistencyError(err error) bool {
	var ce *ConsistencyError
	return errors.As(err, &ce)
}
