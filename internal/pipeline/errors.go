package pipeline

import "fmt"

// AbortError cancels the operation. Message is shown to the caller as is.
type AbortError struct {
	Message string
	Class   string
	Err     error
}

func (e *AbortError) Error() string { return e.Message }

func (e *AbortError) Unwrap() error { return e.Err }

// Infrastructure reports whether the abort was caused by a failure to reach
// a decision rather than by a denial.
func (e *AbortError) Infrastructure() bool { return e.Err != nil }

// TypeMismatchError is raised when the target parameter holds a full record
// where a reference was expected.
type TypeMismatchError struct {
	Parameter string
	Want      string
	Got       string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("parameter %s: expected %s, got %s", e.Parameter, e.Want, e.Got)
}

// MalformedEventError describes an event without a usable target.
type MalformedEventError struct {
	Reason string
}

func (e MalformedEventError) Error() string { return "malformed event: " + e.Reason }
