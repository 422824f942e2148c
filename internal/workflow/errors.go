package workflow

import (
	"fmt"

	"github.com/rotisserie/eris"
)

var (
	// ErrInvalidTransition is returned when an action does not apply to the current state.
	ErrInvalidTransition = eris.New("transition not allowed in current state")
	// ErrFrozen is returned when the selection is edited outside DRAFT or EDITING.
	ErrFrozen = eris.New("costing is frozen")
	// ErrSaveInFlight is returned when a save is already outstanding for the session.
	ErrSaveInFlight = eris.New("save already in progress")
	// ErrSessionClosed is returned once the session has ended; late results are dropped.
	ErrSessionClosed = eris.New("session closed")
	// ErrRefreshInFlight is returned when a refresh tick overlaps the previous one.
	ErrRefreshInFlight = eris.New("refresh already in progress")
	// ErrRefreshStopped is returned by the tick that stops polling.
	ErrRefreshStopped = eris.New("refresh stopped")
)

// ValidationError blocks a transition because required input is missing or out of bounds.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// PersistenceError wraps a failed save or fetch. The session state is left as it was.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
