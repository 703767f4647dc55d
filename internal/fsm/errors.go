package fsm

import (
	"errors"
	"fmt"
)

// EngineError represents a configuration error or a contract violation.
//
// Configuration errors are raised while a graph is being built and prevent
// it from running. Contract violations are raised while it runs and abort
// the timeline. Neither is ever used for domain failures, which travel as
// KindFailure events.
type EngineError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Node identifies the affected node path, if any.
	Node string

	// Transition identifies the affected transition, if any.
	Transition string
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeInvalidDuration indicates a negative timer duration.
	ErrCodeInvalidDuration ErrorCode = "INVALID_DURATION"

	// ErrCodeInvalidThreshold indicates a join count < 0 or above its source count.
	ErrCodeInvalidThreshold ErrorCode = "INVALID_THRESHOLD"

	// ErrCodeDuplicateName indicates two nodes with one name in the same scope.
	ErrCodeDuplicateName ErrorCode = "DUPLICATE_NAME"

	// ErrCodeParentAlreadySet indicates a node was given a second parent.
	ErrCodeParentAlreadySet ErrorCode = "PARENT_ALREADY_SET"

	// ErrCodeNotSiblings indicates transition endpoints with different parents.
	ErrCodeNotSiblings ErrorCode = "NOT_SIBLINGS"

	// ErrCodeMissingEndpoint indicates a transition without sources or destinations.
	ErrCodeMissingEndpoint ErrorCode = "MISSING_ENDPOINT"

	// ErrCodeContractViolation indicates an event a listener cannot handle.
	ErrCodeContractViolation ErrorCode = "CONTRACT_VIOLATION"
)

// Error implements the error interface.
func (e *EngineError) Error() string {
	switch {
	case e.Transition != "" && e.Node != "":
		return fmt.Sprintf("%s: %s (transition=%s, node=%s)", e.Code, e.Message, e.Transition, e.Node)
	case e.Transition != "":
		return fmt.Sprintf("%s: %s (transition=%s)", e.Code, e.Message, e.Transition)
	case e.Node != "":
		return fmt.Sprintf("%s: %s (node=%s)", e.Code, e.Message, e.Node)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// IsConfigError returns true if err is a graph configuration error.
// Uses errors.As to handle wrapped and joined errors.
func IsConfigError(err error) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code != ErrCodeContractViolation
	}
	return false
}

// IsContractViolation returns true if err reports an event delivered to a
// listener that cannot handle it.
func IsContractViolation(err error) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code == ErrCodeContractViolation
	}
	return false
}

func newContractViolation(t *Transition, ev Event, want string) *EngineError {
	return &EngineError{
		Code:       ErrCodeContractViolation,
		Message:    fmt.Sprintf("%s transition cannot handle %s, expected %s", t.Kind(), ev, want),
		Transition: t.Name(),
	}
}
