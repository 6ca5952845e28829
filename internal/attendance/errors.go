package attendance

import (
	"errors"
	"strings"
)

var (
	// ErrConflict is returned when an event already exists for the requested
	// calendar day, or a registration number is already enrolled.
	ErrConflict = errors.New("conflict")
	// ErrEventClosed is returned when checking into a closed event.
	ErrEventClosed = errors.New("event closed for attendance")
	// ErrAlreadyMarked reports an idempotent duplicate check-in. It is informational.
	ErrAlreadyMarked = errors.New("attendance already taken")
	// ErrNoEvent is returned when no event is open today.
	ErrNoEvent = errors.New("no class slated for today")
	// ErrNotFound is returned by lookups that found nothing.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials is returned by admin login on a bad username or password.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// ValidationError lists every problem found in a submitted form.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid input: " + strings.Join(e.Problems, "; ")
}

// StorageError wraps a failed record store operation. The operation left no
// partial writes behind.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return "storage: " + e.Op + ": " + e.Err.Error() }

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
