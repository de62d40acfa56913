// Package errors defines the sentinel errors shared by the pipeline stages,
// the execution engine, and the query API, plus a StageError wrapper that
// carries where in the pipeline a failure happened.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrMalformedInput        = errors.New("malformed input record")
	ErrMalformedIntermediate = errors.New("malformed intermediate record")
	ErrInvalidNumber         = errors.New("invalid numeric field")
	ErrZeroTotal             = errors.New("zero document total")
	ErrMissingConfig         = errors.New("missing stage configuration")
	ErrCounterNotFrozen      = errors.New("counter read before stage barrier")
	ErrStageFailed           = errors.New("stage failed")
	ErrJobNotFound           = errors.New("job not found")
	ErrWordNotFound          = errors.New("word not found")
	ErrInvalidInput          = errors.New("invalid input")
	ErrUnavailable           = errors.New("backend unavailable")
)

// StageError records the stage, phase (map, combine, reduce, setup) and key
// that produced err.
type StageError struct {
	Stage string
	Phase string
	Key   string
	Err   error
}

func (e *StageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s/%s: %v", e.Stage, e.Phase, e.Err)
	}
	return fmt.Sprintf("%s/%s key=%q: %v", e.Stage, e.Phase, e.Key, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Errorf wraps sentinel with a formatted detail message so that errors.Is
// still matches the sentinel.
func Errorf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// IsRecoverable reports whether err describes a single bad record that the
// stage skips instead of failing.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrMalformedInput) || errors.Is(err, ErrMalformedIntermediate)
}

func HTTPStatusCode(err error) int {
	switch {
	case errors.Is(err, ErrJobNotFound), errors.Is(err, ErrWordNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
