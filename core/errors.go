package core

import (
	"errors"
	"fmt"
)

var (
	// ErrRetriesExhausted is returned when consecutive rejected proposals (format errors,
	// critique rejections, repeats) exceed the retry budget.
	ErrRetriesExhausted = errors.New("retry budget exhausted")

	// ErrIterationLimit is returned when the loop hits its hard iteration ceiling.
	ErrIterationLimit = errors.New("iteration limit reached")

	// ErrStopped is returned when the run was cancelled by an external stop signal.
	ErrStopped = errors.New("run stopped")
)

// FormatError reports a model response that does not match the command grammar.
type FormatError struct {
	Raw    string // The malformed completion text
	Reason string // What was wrong with it
}

func (e *FormatError) Error() string {
	return "invalid response format: " + e.Reason
}

// Feedback is the text handed back to the model on the next attempt.
func (e *FormatError) Feedback() string {
	return fmt.Sprintf("Your previous response could not be parsed (%s). "+
		"Use the correct syntax with the <r> and <c> tags and exactly one command.", e.Reason)
}

// CritiqueRejection reports that the critic vetoed a proposed Action.
type CritiqueRejection struct {
	Action   Action
	Feedback string
}

func (e *CritiqueRejection) Error() string {
	return fmt.Sprintf("critic rejected %s: %s", e.Action.Command, e.Feedback)
}

// EndpointErrorKind separates retryable from non-retryable completion failures.
type EndpointErrorKind int

const (
	EndpointTransient EndpointErrorKind = iota
	EndpointFatal
)

func (k EndpointErrorKind) String() string {
	if k == EndpointFatal {
		return "fatal"
	}
	return "transient"
}

// EndpointError wraps a failure of the completion endpoint.
type EndpointError struct {
	Kind     EndpointErrorKind
	Attempts int
	Err      error
}

func (e *EndpointError) Error() string {
	return fmt.Sprintf("completion endpoint %s error after %d attempt(s): %v", e.Kind, e.Attempts, e.Err)
}

func (e *EndpointError) Unwrap() error { return e.Err }

// RunFailure describes why a run ended without reaching DONE.
type RunFailure struct {
	State           State
	Reason          string
	LastObservation *Observation
	Err             error
}

func (e *RunFailure) Error() string {
	msg := fmt.Sprintf("run %s: %s", e.State, e.Reason)
	if e.LastObservation != nil {
		msg += "; last observation: " + truncate(e.LastObservation.Text(), 200)
	}
	return msg
}

func (e *RunFailure) Unwrap() error { return e.Err }
