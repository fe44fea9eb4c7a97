package domain

import (
	"errors"
	"fmt"
)

// ValidationError marks a malformed input row or message. Callers skip and
// count these; they are never fatal to an ingestion loop.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// TransientIOError marks a broker or store failure that was retried with
// backoff until attempts ran out. It propagates as fatal to the process.
type TransientIOError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransientIOError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *TransientIOError) Unwrap() error { return e.Err }

// InsufficientDataError is returned when the classifier has too few labeled
// examples, or examples of only one class, to train on.
type InsufficientDataError struct {
	Need int
	Got  int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient training data: need %d labeled examples of both classes, got %d", e.Need, e.Got)
}

// InsufficientHistoryError is returned when a street has too few ordered
// observations for a forecast fit.
type InsufficientHistoryError struct {
	Street string
	Need   int
	Got    int
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("insufficient history for %q: need %d observations, got %d", e.Street, e.Need, e.Got)
}

// ModelNotReadyError is returned when predict or forecast is called on a
// session that has not reached the ready state. Callers must surface it
// rather than fall back to a default score.
type ModelNotReadyError struct {
	State string
}

func (e *ModelNotReadyError) Error() string {
	return fmt.Sprintf("model not ready: session is %s", e.State)
}

// FatalConfigError marks an unusable connection target or setting. It aborts
// startup; nothing retries it.
type FatalConfigError struct {
	Setting string
	Reason  string
}

func (e *FatalConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Setting, e.Reason)
}
