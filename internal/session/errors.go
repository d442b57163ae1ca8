package session

import "errors"

var (
	// ErrStartRejected is returned when start is requested while a
	// session is already starting or active. Caller error, no state
	// change.
	ErrStartRejected = errors.New("session already active")

	// ErrStopNotActive is returned when stop is requested with no
	// active session.
	ErrStopNotActive = errors.New("no active session")

	// ErrFatalSession marks the loss of every input source while
	// active. The session is forced back to idle.
	ErrFatalSession = errors.New("all capture sources lost")
)
