package call

import (
	"errors"
	"fmt"
)

var (
	ErrRoomUnresolved   = errors.New("consultation room not resolved")
	ErrCallInProgress   = errors.New("call already in progress")
	ErrNoActiveCall     = errors.New("no active call")
	ErrConnectionExists = errors.New("peer connection already initialized")
	ErrNoConnection     = errors.New("peer connection not initialized")
	ErrMediaUnavailable = errors.New("local media unavailable")
	ErrNoSender         = errors.New("no matching sender on connection")
	ErrControllerClosed = errors.New("call controller closed")
)

type CallError struct {
	Op      string
	Err     error
	Details string
}

func (e *CallError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *CallError {
	return &CallError{Op: op, Err: err}
}

func WrapError(op string, err error, details string) *CallError {
	return &CallError{Op: op, Err: err, Details: details}
}
