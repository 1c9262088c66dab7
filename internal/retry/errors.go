package retry

import (
	"errors"
	"fmt"
)

// ErrExhaustedRetries is matched by every ExhaustedError.
var ErrExhaustedRetries = errors.New("retries exhausted")

// ExhaustedError is returned when an operation failed on every attempt.
type ExhaustedError struct {
	Name     string
	Attempts int
	Last     error
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Name, e.Attempts, e.Last)
}

// Unwrap returns the error from the final attempt.
func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Is reports whether target is ErrExhaustedRetries.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrExhaustedRetries
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The executor stops immediately and
// returns err itself.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
