package timerstore

import (
	"errors"
	"fmt"
)

// ErrTimerNotFound reports that no timer record exists for the requested id.
// It is distinct from both transient store failures and integrity errors so
// callers can tell "doesn't exist yet" apart from "exists but corrupt".
var ErrTimerNotFound = errors.New("timer not found")

// TransientError wraps a store/network failure that is safe to retry on the
// next hydration. It is never folded into "not found".
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("timer store %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IntegrityError reports a row that exists but fails shape validation.
// Retrying or recreating the timer will not help; the record itself is bad.
type IntegrityError struct {
	TimerID string
	Reason  string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("timer %s failed integrity check: %s", e.TimerID, e.Reason)
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
